// Package jobs is the catalog of background jobs the platform runs: account
// bans and deletions, templated emails, cleanup of stored files and ticket
// notifications.
//
// Each job type is a queue.Kind whose name is the stable wire contract between
// producers and workers (see Types). QueueFor routes every type to one of four
// queues: account, email, cleanup and notifications.
//
// Producers use Producer, which validates payloads and submits to the right
// queue:
//
//	producer, err := jobs.NewProducer(jobs.Queues{Email: emailQ, Account: accountQ, Cleanup: cleanupQ, Notifications: notifyQ})
//	_, err = producer.BanAccount(ctx, jobs.UserRef{ID: id, Email: addr}, 3, "spam")
//
// Workers register the handlers of a Service per queue:
//
//	svc, err := jobs.NewService(jobs.Deps{Accounts: accounts, Sender: sender, Images: images, Files: tmp, Queues: queues})
//	reg := queue.NewRegistry()
//	err = svc.Register(jobs.QueueAccount, reg)
//
// Handlers re-fetch the account by id instead of trusting the payload, treat
// a vanished account as done and submit follow-up jobs under ids derived from
// the running job, so a redelivered job never duplicates its side effects.
package jobs
