package jobs

import (
	"strings"
	"time"

	"github.com/dmitrymomot/backq/pkg/email"
	"github.com/dmitrymomot/backq/pkg/queue"
)

// Queue names.
const (
	QueueEmail         = "email"
	QueueAccount       = "account"
	QueueCleanup       = "cleanup"
	QueueNotifications = "notifications"
)

// QueueNames lists every queue the catalog routes to.
var QueueNames = []string{QueueAccount, QueueCleanup, QueueEmail, QueueNotifications}

// UserRef is the minimal user snapshot carried by account jobs. Handlers
// re-fetch the account by ID; the email is only a fallback for accounts that
// no longer exist.
type UserRef struct {
	ID    string `json:"_id"`
	Email string `json:"email,omitempty"`
}

// TicketRef identifies a support ticket.
type TicketRef struct {
	ID      string `json:"_id"`
	Subject string `json:"subject,omitempty"`
}

type (
	BanAccountPayload struct {
		User   UserRef `json:"user"`
		Days   int     `json:"days,omitempty"` // zero bans permanently
		Reason string  `json:"reason,omitempty"`
	}

	UnBanAccountPayload struct {
		User UserRef `json:"user"`
	}

	AccountDeletionRequestPayload struct {
		User UserRef `json:"user"`
	}

	AccountDeletionConfirmPayload struct {
		User UserRef `json:"user"`
	}

	DeleteAccountPayload struct {
		User UserRef `json:"user"`
	}

	SendEmailPayload struct {
		To    string         `json:"to"`
		Model map[string]any `json:"model,omitempty"`
	}

	DeleteUploadedImagePayload struct {
		PublicID string `json:"public_id"`
	}

	DeleteLocalFilePayload struct {
		Path string `json:"path"`
	}

	SendTicketNotificationPayload struct {
		Ticket  TicketRef   `json:"ticket"`
		User    UserRef     `json:"user"`
		Event   TicketEvent `json:"event"`
		Message string      `json:"message,omitempty"`
	}
)

// TicketEvent is the ticket activity a notification reports.
type TicketEvent string

const (
	TicketCreated        TicketEvent = "created"
	TicketClosed         TicketEvent = "closed"
	TicketReopened       TicketEvent = "reopened"
	TicketAdminResponded TicketEvent = "admin-responded"
)

var ticketTemplates = map[TicketEvent]email.Template{
	TicketCreated:        email.TemplateTicketCreated,
	TicketClosed:         email.TemplateTicketClosed,
	TicketReopened:       email.TemplateTicketReopened,
	TicketAdminResponded: email.TemplateAdminResponded,
}

// Job kinds. The names are the wire contract between producers and workers
// and must never change once jobs with them may be persisted.
var (
	BanAccount             = queue.NewKind[BanAccountPayload]("BanAccount")
	UnBanAccount           = queue.NewKind[UnBanAccountPayload]("UnBanAccount")
	AccountDeletionRequest = queue.NewKind[AccountDeletionRequestPayload]("AccountDeletionRequest")
	AccountDeletionConfirm = queue.NewKind[AccountDeletionConfirmPayload]("AccountDeletionConfirm")
	DeleteAccount          = queue.NewKind[DeleteAccountPayload]("DeleteAccount")
	DeleteUploadedImage    = queue.NewKind[DeleteUploadedImagePayload]("DeleteUploadedImage")
	DeleteLocalFile        = queue.NewKind[DeleteLocalFilePayload]("DeleteLocalFile")
	SendTicketNotification = queue.NewKind[SendTicketNotificationPayload]("SendTicketNotification")
)

const sendEmailPrefix = "SendEmail:"

// SendEmail returns the kind sending tpl, named "SendEmail:<template>".
func SendEmail(tpl email.Template) queue.Kind[SendEmailPayload] {
	return queue.NewKind[SendEmailPayload](sendEmailPrefix + string(tpl))
}

// DeletionGracePeriod is how long a confirmed account deletion waits before
// the account is removed.
const DeletionGracePeriod = 30 * 24 * time.Hour

// QueueFor returns the queue jobs of jobType are routed to, or false for an
// unknown type.
func QueueFor(jobType string) (string, bool) {
	switch jobType {
	case BanAccount.Name(), UnBanAccount.Name(), AccountDeletionRequest.Name(),
		AccountDeletionConfirm.Name(), DeleteAccount.Name():
		return QueueAccount, true
	case DeleteUploadedImage.Name(), DeleteLocalFile.Name():
		return QueueCleanup, true
	case SendTicketNotification.Name():
		return QueueNotifications, true
	}
	if tpl, ok := strings.CutPrefix(jobType, sendEmailPrefix); ok && email.Template(tpl).Valid() {
		return QueueEmail, true
	}
	return "", false
}

// Types returns every job type name in the catalog.
func Types() []string {
	types := []string{
		BanAccount.Name(),
		UnBanAccount.Name(),
		AccountDeletionRequest.Name(),
		AccountDeletionConfirm.Name(),
		DeleteAccount.Name(),
		DeleteUploadedImage.Name(),
		DeleteLocalFile.Name(),
		SendTicketNotification.Name(),
	}
	for _, tpl := range email.Templates {
		types = append(types, SendEmail(tpl).Name())
	}
	return types
}
