// Package mongostore implements queue.Broker on MongoDB using mongo-driver v2.
//
// Every job is one document. Claim is a FindOneAndUpdate over the
// (queue, state, run_at) index, and lock-guarded transitions filter on the
// claim's lock token, so no transaction is needed. Stall recovery uses an
// update pipeline so the waiting-or-failed decision happens on the server.
//
// # Usage
//
//	var cfg mongostore.Config
//	config.MustLoad(&cfg)
//
//	client, err := mongostore.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	broker, err := mongostore.New(ctx, client.Database(cfg.Database).Collection(cfg.Collection))
package mongostore
