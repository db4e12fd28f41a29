package jobs

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/backq/pkg/queue"
)

func (s *Service) sendTicketNotification(ctx context.Context, p SendTicketNotificationPayload) error {
	tpl, ok := ticketTemplates[p.Event]
	if !ok {
		return queue.Permanent(fmt.Errorf("%w: %q", ErrUnknownTicketEvent, p.Event))
	}

	acc, err := s.account(ctx, p.User)
	if err != nil || acc == nil {
		return err
	}

	return submitOnce(ctx, s.logger, SendEmail(tpl), s.queues.Email, childID(ctx, "email"), SendEmailPayload{
		To: acc.Email,
		Model: map[string]any{
			"name":           acc.Name,
			"ticket_id":      p.Ticket.ID,
			"ticket_subject": p.Ticket.Subject,
			"message":        p.Message,
		},
	})
}
