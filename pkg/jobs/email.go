package jobs

import (
	"context"
	"errors"

	"github.com/dmitrymomot/backq/pkg/email"
	"github.com/dmitrymomot/backq/pkg/queue"
)

func (s *Service) sendEmail(tpl email.Template) queue.HandlerFunc[SendEmailPayload] {
	return func(ctx context.Context, p SendEmailPayload) error {
		err := s.sender.Send(ctx, email.Message{
			To:       p.To,
			Template: tpl,
			Model:    p.Model,
		})
		if errors.Is(err, email.ErrInvalidMessage) || errors.Is(err, email.ErrUnknownTemplate) {
			return queue.Permanent(err)
		}
		return err
	}
}
