package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/backq/pkg/email"
	"github.com/dmitrymomot/backq/pkg/file"
	"github.com/dmitrymomot/backq/pkg/logger"
	"github.com/dmitrymomot/backq/pkg/queue"
)

// Deps are the collaborators handlers perform side effects through.
type Deps struct {
	Accounts Accounts
	Sender   email.Sender
	Images   file.Remover // uploaded images by public id
	Files    file.Remover // local temporary files by path
	Queues   Queues       // follow-up jobs
}

// Service implements the catalog's handlers.
type Service struct {
	accounts Accounts
	sender   email.Sender
	images   file.Remover
	files    file.Remover
	queues   Queues

	clock       queue.Clock
	gracePeriod time.Duration
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for ban expiry and deletion scheduling.
func WithClock(c queue.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithGracePeriod overrides DeletionGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.gracePeriod = d
		}
	}
}

// WithLogger sets the logger handlers write to.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service. Every dependency is required.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Accounts == nil:
		return nil, fmt.Errorf("%w: accounts", ErrMissingDependency)
	case deps.Sender == nil:
		return nil, fmt.Errorf("%w: email sender", ErrMissingDependency)
	case deps.Images == nil:
		return nil, fmt.Errorf("%w: image remover", ErrMissingDependency)
	case deps.Files == nil:
		return nil, fmt.Errorf("%w: file remover", ErrMissingDependency)
	}
	if err := deps.Queues.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		accounts:    deps.Accounts,
		sender:      deps.Sender,
		images:      deps.Images,
		files:       deps.Files,
		queues:      deps.Queues,
		clock:       queue.SystemClock,
		gracePeriod: DeletionGracePeriod,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("jobs"))
	return s, nil
}

// Handlers returns the handlers processing queueName.
func (s *Service) Handlers(queueName string) ([]queue.Handler, error) {
	switch queueName {
	case QueueAccount:
		return []queue.Handler{
			BanAccount.Handler(s.banAccount),
			UnBanAccount.Handler(s.unbanAccount),
			AccountDeletionRequest.Handler(s.requestAccountDeletion),
			AccountDeletionConfirm.Handler(s.confirmAccountDeletion),
			DeleteAccount.Handler(s.deleteAccount),
		}, nil
	case QueueEmail:
		handlers := make([]queue.Handler, 0, len(email.Templates))
		for _, tpl := range email.Templates {
			handlers = append(handlers, SendEmail(tpl).Handler(s.sendEmail(tpl)))
		}
		return handlers, nil
	case QueueCleanup:
		return []queue.Handler{
			DeleteUploadedImage.Handler(s.deleteUploadedImage),
			DeleteLocalFile.Handler(s.deleteLocalFile),
		}, nil
	case QueueNotifications:
		return []queue.Handler{
			SendTicketNotification.Handler(s.sendTicketNotification),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
}

// Register adds the handlers for queueName to reg.
func (s *Service) Register(queueName string, reg *queue.Registry) error {
	handlers, err := s.Handlers(queueName)
	if err != nil {
		return err
	}
	return reg.Register(handlers...)
}
