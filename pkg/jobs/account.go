package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/backq/pkg/email"
	"github.com/dmitrymomot/backq/pkg/logger"
	"github.com/dmitrymomot/backq/pkg/queue"
)

// account re-fetches the user. A missing account yields nil, nil: the
// payload's snapshot is stale and there is nothing left to act on.
func (s *Service) account(ctx context.Context, user UserRef) (*Account, error) {
	if user.ID == "" {
		return nil, queue.Permanent(fmt.Errorf("%w: user id is required", ErrInvalidPayload))
	}
	acc, err := s.accounts.Get(ctx, user.ID)
	if errors.Is(err, ErrAccountNotFound) {
		s.logger.InfoContext(ctx, "account no longer exists, skipping", logger.UserID(user.ID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", user.ID, err)
	}
	return acc, nil
}

func (s *Service) banAccount(ctx context.Context, p BanAccountPayload) error {
	acc, err := s.account(ctx, p.User)
	if err != nil || acc == nil {
		return err
	}

	var until *time.Time
	if p.Days > 0 {
		t := s.clock.Now().Add(time.Duration(p.Days) * 24 * time.Hour)
		until = &t
	}
	if err := s.accounts.Ban(ctx, acc.ID, until); err != nil {
		return fmt.Errorf("ban account %s: %w", acc.ID, err)
	}

	model := map[string]any{"name": acc.Name, "reason": p.Reason}
	if until != nil {
		model["days"] = p.Days
		model["until"] = until.Format(time.RFC3339)
	}
	if err := submitOnce(ctx, s.logger, SendEmail(email.TemplateAccountBanned), s.queues.Email, childID(ctx, "email"),
		SendEmailPayload{To: acc.Email, Model: model}); err != nil {
		return err
	}

	if until != nil {
		if err := submitOnce(ctx, s.logger, UnBanAccount, s.queues.Account, childID(ctx, "unban"),
			UnBanAccountPayload{User: UserRef{ID: acc.ID, Email: acc.Email}}, queue.WithRunAt(*until)); err != nil {
			return err
		}
	}

	s.logger.InfoContext(ctx, "account banned", logger.UserID(acc.ID), slog.Int("days", p.Days))
	return nil
}

func (s *Service) unbanAccount(ctx context.Context, p UnBanAccountPayload) error {
	acc, err := s.account(ctx, p.User)
	if err != nil || acc == nil {
		return err
	}

	switch {
	case !acc.Banned:
		return nil
	case acc.BannedUntil == nil:
		s.logger.InfoContext(ctx, "account is banned permanently, keeping ban", logger.UserID(acc.ID))
		return nil
	case acc.BannedUntil.After(s.clock.Now()):
		s.logger.InfoContext(ctx, "ban was extended, keeping ban", logger.UserID(acc.ID))
		return nil
	}

	if err := s.accounts.Unban(ctx, acc.ID); err != nil {
		return fmt.Errorf("unban account %s: %w", acc.ID, err)
	}
	if err := submitOnce(ctx, s.logger, SendEmail(email.TemplateAccountUnbanned), s.queues.Email, childID(ctx, "email"),
		SendEmailPayload{To: acc.Email, Model: map[string]any{"name": acc.Name}}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "account unbanned", logger.UserID(acc.ID))
	return nil
}

func (s *Service) requestAccountDeletion(ctx context.Context, p AccountDeletionRequestPayload) error {
	acc, err := s.account(ctx, p.User)
	if err != nil || acc == nil {
		return err
	}
	return submitOnce(ctx, s.logger, SendEmail(email.TemplateAccountDeletion), s.queues.Email, childID(ctx, "email"),
		SendEmailPayload{To: acc.Email, Model: map[string]any{
			"name":         acc.Name,
			"grace_period": int(s.gracePeriod / (24 * time.Hour)),
		}})
}

func (s *Service) confirmAccountDeletion(ctx context.Context, p AccountDeletionConfirmPayload) error {
	acc, err := s.account(ctx, p.User)
	if err != nil || acc == nil {
		return err
	}

	at := s.clock.Now().Add(s.gracePeriod)
	if acc.DeletionScheduledAt != nil {
		// A redelivered confirmation keeps the first schedule.
		at = *acc.DeletionScheduledAt
	} else if err := s.accounts.ScheduleDeletion(ctx, acc.ID, at); err != nil {
		return fmt.Errorf("schedule deletion of %s: %w", acc.ID, err)
	}

	if err := submitOnce(ctx, s.logger, DeleteAccount, s.queues.Account, childID(ctx, "delete"),
		DeleteAccountPayload{User: UserRef{ID: acc.ID, Email: acc.Email}}, queue.WithRunAt(at)); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "account deletion scheduled", logger.UserID(acc.ID), slog.Time("at", at))
	return nil
}

func (s *Service) deleteAccount(ctx context.Context, p DeleteAccountPayload) error {
	acc, err := s.account(ctx, p.User)
	if err != nil || acc == nil {
		return err
	}

	switch {
	case acc.DeletionScheduledAt == nil:
		s.logger.InfoContext(ctx, "account deletion was cancelled", logger.UserID(acc.ID))
		return nil
	case acc.DeletionScheduledAt.After(s.clock.Now()):
		s.logger.InfoContext(ctx, "account deletion is not due yet", logger.UserID(acc.ID))
		return nil
	}

	// Follow-ups go first: once the account is gone a retry has nothing to read them from.
	if acc.AvatarPublicID != "" {
		if err := submitOnce(ctx, s.logger, DeleteUploadedImage, s.queues.Cleanup, childID(ctx, "avatar"),
			DeleteUploadedImagePayload{PublicID: acc.AvatarPublicID}); err != nil {
			return err
		}
	}
	if err := submitOnce(ctx, s.logger, SendEmail(email.TemplateAccountDeletionDone), s.queues.Email, childID(ctx, "email"),
		SendEmailPayload{To: acc.Email, Model: map[string]any{"name": acc.Name}}); err != nil {
		return err
	}

	if err := s.accounts.Delete(ctx, acc.ID); err != nil {
		return fmt.Errorf("delete account %s: %w", acc.ID, err)
	}

	s.logger.InfoContext(ctx, "account deleted", logger.UserID(acc.ID))
	return nil
}
