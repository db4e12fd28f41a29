package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/backq/pkg/email"
	"github.com/dmitrymomot/backq/pkg/logger"
	"github.com/dmitrymomot/backq/pkg/queue"
)

// Queues holds one submitter per catalog queue.
type Queues struct {
	Email         queue.Submitter
	Account       queue.Submitter
	Cleanup       queue.Submitter
	Notifications queue.Submitter
}

// Validate reports a missing queue.
func (q Queues) Validate() error {
	for name, s := range map[string]queue.Submitter{
		QueueEmail:         q.Email,
		QueueAccount:       q.Account,
		QueueCleanup:       q.Cleanup,
		QueueNotifications: q.Notifications,
	} {
		if s == nil {
			return fmt.Errorf("%w: %s queue", ErrMissingDependency, name)
		}
	}
	return nil
}

// Producer submits catalog jobs to the queue each kind is routed to. Domain
// services call it instead of picking queues themselves.
type Producer struct {
	queues Queues
}

// NewProducer creates a Producer.
func NewProducer(queues Queues) (*Producer, error) {
	if err := queues.Validate(); err != nil {
		return nil, err
	}
	return &Producer{queues: queues}, nil
}

// BanAccount bans the user now and, for a positive number of days, schedules
// the matching unban.
func (p *Producer) BanAccount(ctx context.Context, user UserRef, days int, reason string, opts ...queue.SubmitOption) (*queue.JobHandle, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidPayload)
	}
	if days < 0 {
		return nil, fmt.Errorf("%w: days must not be negative", ErrInvalidPayload)
	}
	return BanAccount.Submit(ctx, p.queues.Account, BanAccountPayload{User: user, Days: days, Reason: reason}, opts...)
}

// UnBanAccount lifts a ban, optionally delayed with queue.WithDelay.
func (p *Producer) UnBanAccount(ctx context.Context, user UserRef, opts ...queue.SubmitOption) (*queue.JobHandle, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidPayload)
	}
	return UnBanAccount.Submit(ctx, p.queues.Account, UnBanAccountPayload{User: user}, opts...)
}

// RequestAccountDeletion emails the user asking to confirm the deletion.
func (p *Producer) RequestAccountDeletion(ctx context.Context, user UserRef, opts ...queue.SubmitOption) (*queue.JobHandle, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidPayload)
	}
	return AccountDeletionRequest.Submit(ctx, p.queues.Account, AccountDeletionRequestPayload{User: user}, opts...)
}

// ConfirmAccountDeletion starts the grace period after which the account is deleted.
func (p *Producer) ConfirmAccountDeletion(ctx context.Context, user UserRef, opts ...queue.SubmitOption) (*queue.JobHandle, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidPayload)
	}
	return AccountDeletionConfirm.Submit(ctx, p.queues.Account, AccountDeletionConfirmPayload{User: user}, opts...)
}

// DeleteAccount removes the account when its scheduled deletion time comes.
func (p *Producer) DeleteAccount(ctx context.Context, user UserRef, opts ...queue.SubmitOption) (*queue.JobHandle, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidPayload)
	}
	return DeleteAccount.Submit(ctx, p.queues.Account, DeleteAccountPayload{User: user}, opts...)
}

// SendEmail sends tpl to the recipient with model.
func (p *Producer) SendEmail(ctx context.Context, tpl email.Template, to string, model map[string]any, opts ...queue.SubmitOption) (*queue.JobHandle, error) {
	msg := email.Message{To: to, Template: tpl, Model: model}
	if err := msg.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	return SendEmail(tpl).Submit(ctx, p.queues.Email, SendEmailPayload{To: to, Model: model}, opts...)
}

// DeleteUploadedImage removes an uploaded image by public id.
func (p *Producer) DeleteUploadedImage(ctx context.Context, publicID string, opts ...queue.SubmitOption) (*queue.JobHandle, error) {
	if publicID == "" {
		return nil, fmt.Errorf("%w: public id is required", ErrInvalidPayload)
	}
	return DeleteUploadedImage.Submit(ctx, p.queues.Cleanup, DeleteUploadedImagePayload{PublicID: publicID}, opts...)
}

// DeleteLocalFile removes a local temporary file.
func (p *Producer) DeleteLocalFile(ctx context.Context, path string, opts ...queue.SubmitOption) (*queue.JobHandle, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidPayload)
	}
	return DeleteLocalFile.Submit(ctx, p.queues.Cleanup, DeleteLocalFilePayload{Path: path}, opts...)
}

// NotifyTicket tells the ticket owner about ticket activity.
func (p *Producer) NotifyTicket(ctx context.Context, ticket TicketRef, user UserRef, event TicketEvent, message string, opts ...queue.SubmitOption) (*queue.JobHandle, error) {
	if _, ok := ticketTemplates[event]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTicketEvent, event)
	}
	if user.ID == "" || ticket.ID == "" {
		return nil, fmt.Errorf("%w: ticket and user ids are required", ErrInvalidPayload)
	}
	return SendTicketNotification.Submit(ctx, p.queues.Notifications, SendTicketNotificationPayload{
		Ticket:  ticket,
		User:    user,
		Event:   event,
		Message: message,
	}, opts...)
}

// submitOnce submits a follow-up job under a deterministic id. The job already
// existing means an earlier delivery of the parent submitted it.
func submitOnce[T any](ctx context.Context, log *slog.Logger, kind queue.Kind[T], q queue.Submitter, id string, payload T, opts ...queue.SubmitOption) error {
	if id != "" {
		opts = append(opts, queue.WithJobID(id))
	}
	handle, err := kind.Submit(ctx, q, payload, opts...)
	switch {
	case errors.Is(err, queue.ErrJobExists):
		log.DebugContext(ctx, "follow-up job already submitted",
			logger.JobID(id), logger.JobType(kind.Name()))
		return nil
	case err != nil:
		return err
	}
	log.DebugContext(ctx, "follow-up job submitted",
		logger.JobID(handle.ID),
		logger.Queue(handle.Queue),
		logger.JobType(handle.Type))
	return nil
}

// childID derives a follow-up job id from the running job, so redelivery of
// the parent resubmits the same child.
func childID(ctx context.Context, kind string) string {
	info, ok := queue.JobFromContext(ctx)
	if !ok || info.ID == "" {
		return ""
	}
	return info.ID + ":" + kind
}
