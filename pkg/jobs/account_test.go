package jobs_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/email"
	"github.com/dmitrymomot/backq/pkg/jobs"
	"github.com/dmitrymomot/backq/pkg/queue"
)

var user = jobs.UserRef{ID: "u1", Email: "stale@example.com"}

func TestService_BanAccount(t *testing.T) {
	t.Parallel()

	t.Run("temporary ban schedules the unban", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		until := epoch.Add(72 * time.Hour)
		f.accounts.On("Get", mock.Anything, "u1").Return(&jobs.Account{ID: "u1", Email: "u1@example.com", Name: "Ann"}, nil)
		f.accounts.On("Ban", mock.Anything, "u1", mock.MatchedBy(func(got *time.Time) bool {
			return got != nil && got.Equal(until)
		})).Return(nil).Twice()

		payload := jobs.BanAccountPayload{User: user, Days: 3, Reason: "spam"}
		require.NoError(t, f.run(t, jobs.BanAccount.Name(), "ban-1", payload))
		// Redelivery repeats the ban but submits nothing new.
		require.NoError(t, f.run(t, jobs.BanAccount.Name(), "ban-1", payload))

		emails := f.pending(t, jobs.QueueEmail)
		require.Len(t, emails, 1)
		assert.Equal(t, "ban-1:email", emails[0].ID)
		assert.Equal(t, "SendEmail:account-banned", emails[0].Type)
		mail := decode[jobs.SendEmailPayload](t, emails[0])
		assert.Equal(t, "u1@example.com", mail.To, "uses the fetched address, not the snapshot")
		assert.Equal(t, "spam", mail.Model["reason"])

		unbans := f.pending(t, jobs.QueueAccount)
		require.Len(t, unbans, 1)
		assert.Equal(t, "ban-1:unban", unbans[0].ID)
		assert.Equal(t, jobs.UnBanAccount.Name(), unbans[0].Type)
		assert.Equal(t, queue.StateDelayed, unbans[0].State)
		assert.True(t, unbans[0].RunAt.Equal(until))
		assert.Equal(t, "u1", decode[jobs.UnBanAccountPayload](t, unbans[0]).User.ID)
	})

	t.Run("permanent ban", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.accounts.On("Get", mock.Anything, "u1").Return(&jobs.Account{ID: "u1", Email: "u1@example.com"}, nil)
		f.accounts.On("Ban", mock.Anything, "u1", (*time.Time)(nil)).Return(nil)

		require.NoError(t, f.run(t, jobs.BanAccount.Name(), "ban-2", jobs.BanAccountPayload{User: user}))
		assert.Len(t, f.pending(t, jobs.QueueEmail), 1)
		assert.Empty(t, f.pending(t, jobs.QueueAccount))
	})

	t.Run("missing account is a no-op", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.accounts.On("Get", mock.Anything, "u1").Return(nil, jobs.ErrAccountNotFound)

		require.NoError(t, f.run(t, jobs.BanAccount.Name(), "ban-3", jobs.BanAccountPayload{User: user, Days: 1}))
		assert.Empty(t, f.pending(t, jobs.QueueEmail))
	})

	t.Run("store failure is retried", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		storeErr := errors.New("connection reset")
		f.accounts.On("Get", mock.Anything, "u1").Return(nil, storeErr)

		err := f.run(t, jobs.BanAccount.Name(), "ban-4", jobs.BanAccountPayload{User: user})
		assert.ErrorIs(t, err, storeErr)
		assert.False(t, queue.IsPermanent(err))
	})

	t.Run("missing user id fails permanently", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		err := f.run(t, jobs.BanAccount.Name(), "ban-5", jobs.BanAccountPayload{})
		assert.ErrorIs(t, err, jobs.ErrInvalidPayload)
		assert.True(t, queue.IsPermanent(err))
	})
}

func TestService_UnBanAccount(t *testing.T) {
	t.Parallel()

	t.Run("expired ban is lifted", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.accounts.On("Get", mock.Anything, "u1").
			Return(&jobs.Account{ID: "u1", Email: "u1@example.com", Banned: true, BannedUntil: timePtr(epoch)}, nil)
		f.accounts.On("Unban", mock.Anything, "u1").Return(nil).Once()

		require.NoError(t, f.run(t, jobs.UnBanAccount.Name(), "unban-1", jobs.UnBanAccountPayload{User: user}))

		emails := f.pending(t, jobs.QueueEmail)
		require.Len(t, emails, 1)
		assert.Equal(t, jobs.SendEmail(email.TemplateAccountUnbanned).Name(), emails[0].Type)
	})

	tests := []struct {
		name    string
		account jobs.Account
	}{
		{"not banned", jobs.Account{ID: "u1", Email: "u1@example.com"}},
		{"permanent ban", jobs.Account{ID: "u1", Email: "u1@example.com", Banned: true}},
		{"extended ban", jobs.Account{ID: "u1", Email: "u1@example.com", Banned: true, BannedUntil: timePtr(epoch.Add(time.Hour))}},
	}
	for _, tt := range tests {
		t.Run(tt.name+" is kept", func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			acc := tt.account
			f.accounts.On("Get", mock.Anything, "u1").Return(&acc, nil)

			require.NoError(t, f.run(t, jobs.UnBanAccount.Name(), "unban-2", jobs.UnBanAccountPayload{User: user}))
			f.accounts.AssertNotCalled(t, "Unban", mock.Anything, mock.Anything)
			assert.Empty(t, f.pending(t, jobs.QueueEmail))
		})
	}
}

func TestService_AccountDeletion(t *testing.T) {
	t.Parallel()

	t.Run("request sends the confirmation email", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.accounts.On("Get", mock.Anything, "u1").Return(&jobs.Account{ID: "u1", Email: "u1@example.com"}, nil)

		require.NoError(t, f.run(t, jobs.AccountDeletionRequest.Name(), "req-1", jobs.AccountDeletionRequestPayload{User: user}))

		emails := f.pending(t, jobs.QueueEmail)
		require.Len(t, emails, 1)
		assert.Equal(t, jobs.SendEmail(email.TemplateAccountDeletion).Name(), emails[0].Type)
		assert.EqualValues(t, 30, decode[jobs.SendEmailPayload](t, emails[0]).Model["grace_period"])
	})

	t.Run("confirm schedules deletion after the grace period", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		at := epoch.Add(jobs.DeletionGracePeriod)
		f.accounts.On("Get", mock.Anything, "u1").Return(&jobs.Account{ID: "u1", Email: "u1@example.com"}, nil)
		f.accounts.On("ScheduleDeletion", mock.Anything, "u1", at).Return(nil).Once()

		require.NoError(t, f.run(t, jobs.AccountDeletionConfirm.Name(), "confirm-1", jobs.AccountDeletionConfirmPayload{User: user}))

		pending := f.pending(t, jobs.QueueAccount)
		require.Len(t, pending, 1)
		assert.Equal(t, jobs.DeleteAccount.Name(), pending[0].Type)
		assert.True(t, pending[0].RunAt.Equal(at))
	})

	t.Run("confirm keeps an existing schedule", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		at := epoch.Add(10 * 24 * time.Hour)
		f.accounts.On("Get", mock.Anything, "u1").Return(&jobs.Account{ID: "u1", DeletionScheduledAt: &at}, nil)

		require.NoError(t, f.run(t, jobs.AccountDeletionConfirm.Name(), "confirm-2", jobs.AccountDeletionConfirmPayload{User: user}))
		f.accounts.AssertNotCalled(t, "ScheduleDeletion", mock.Anything, mock.Anything, mock.Anything)

		pending := f.pending(t, jobs.QueueAccount)
		require.Len(t, pending, 1)
		assert.True(t, pending[0].RunAt.Equal(at))
	})

	t.Run("due deletion removes the account and its avatar", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.accounts.On("Get", mock.Anything, "u1").Return(&jobs.Account{
			ID:                  "u1",
			Email:               "u1@example.com",
			DeletionScheduledAt: timePtr(epoch.Add(-time.Minute)),
			AvatarPublicID:      "avatars/u1.png",
		}, nil)
		f.accounts.On("Delete", mock.Anything, "u1").Return(nil)

		require.NoError(t, f.run(t, jobs.DeleteAccount.Name(), "del-1", jobs.DeleteAccountPayload{User: user}))

		cleanup := f.pending(t, jobs.QueueCleanup)
		require.Len(t, cleanup, 1)
		assert.Equal(t, "avatars/u1.png", decode[jobs.DeleteUploadedImagePayload](t, cleanup[0]).PublicID)

		emails := f.pending(t, jobs.QueueEmail)
		require.Len(t, emails, 1)
		assert.Equal(t, jobs.SendEmail(email.TemplateAccountDeletionDone).Name(), emails[0].Type)
	})

	t.Run("cancelled or early deletion keeps the account", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.accounts.On("Get", mock.Anything, "u1").Return(&jobs.Account{ID: "u1"}, nil).Once()
		f.accounts.On("Get", mock.Anything, "u1").Return(&jobs.Account{ID: "u1", DeletionScheduledAt: timePtr(epoch.Add(time.Hour))}, nil).Once()

		require.NoError(t, f.run(t, jobs.DeleteAccount.Name(), "del-2", jobs.DeleteAccountPayload{User: user}))
		require.NoError(t, f.run(t, jobs.DeleteAccount.Name(), "del-3", jobs.DeleteAccountPayload{User: user}))
		f.accounts.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("already deleted account is done", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.accounts.On("Get", mock.Anything, "u1").Return(nil, jobs.ErrAccountNotFound)

		require.NoError(t, f.run(t, jobs.DeleteAccount.Name(), "del-4", jobs.DeleteAccountPayload{User: user}))
		assert.Empty(t, f.pending(t, jobs.QueueEmail))
	})
}
