// Package email sends template-keyed transactional emails.
//
// Templates live at the provider and are addressed by alias (see Template). A
// Message carries the recipient, the alias and the model the provider renders
// it with. Two senders implement Sender:
//
//   - PostmarkClient delivers through Postmark's templated email API with
//     replies routed to the support address.
//   - DevSender writes an HTML preview and a JSON record per message to a local
//     directory, for development without a provider account.
//
// # Usage
//
//	var cfg email.Config
//	config.MustLoad(&cfg)
//
//	var sender email.Sender = email.NewDevSender(cfg.DevOutputDir, log)
//	if cfg.PostmarkEnabled() {
//		sender = email.MustNewPostmarkClient(cfg)
//	}
//
//	err := sender.Send(ctx, email.Message{
//		To:       "user@example.com",
//		Template: email.TemplateWelcome,
//		Model:    map[string]any{"name": "Ann"},
//	})
//
// # Errors
//
//   - ErrInvalidConfig: missing or malformed Postmark settings.
//   - ErrInvalidMessage: missing or malformed recipient.
//   - ErrUnknownTemplate: template alias not in Templates.
//   - ErrFailedToSendEmail: the provider rejected the message or the write failed.
package email
