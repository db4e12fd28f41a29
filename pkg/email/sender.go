package email

import (
	"context"
	"fmt"
	"net/mail"
	"slices"
)

// Sender delivers template-keyed transactional emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is one templated email. The provider renders Template with Model.
type Message struct {
	To       string         `json:"to"`
	Template Template       `json:"template"`
	Model    map[string]any `json:"model,omitempty"`
	Tag      string         `json:"tag,omitempty"`
}

// Validate checks the recipient address and template name.
func (m Message) Validate() error {
	if m.To == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: invalid recipient %q", ErrInvalidMessage, m.To)
	}
	if !m.Template.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, m.Template)
	}
	return nil
}

// Template is the provider-side template alias.
type Template string

const (
	TemplateTicketCreated       Template = "ticket-created"
	TemplateTicketClosed        Template = "ticket-closed"
	TemplateTicketReopened      Template = "ticket-reopened"
	TemplateAdminResponded      Template = "admin-responded"
	TemplateBlogDeleted         Template = "blog-deleted"
	TemplateBlogRepublished     Template = "blog-republished"
	TemplateBlogUnderReview     Template = "blog-under-review"
	TemplateAccountBanned       Template = "account-banned"
	TemplateAccountUnbanned     Template = "account-unbanned"
	TemplateAccountLocked       Template = "account-locked"
	TemplateAccountUnlocked     Template = "account-unlocked"
	TemplateWelcome             Template = "welcome"
	TemplateAccountDeletion     Template = "account-deletion-requested"
	TemplateAccountDeletionDone Template = "account-deleted"
)

// Templates lists every known template.
var Templates = []Template{
	TemplateTicketCreated,
	TemplateTicketClosed,
	TemplateTicketReopened,
	TemplateAdminResponded,
	TemplateBlogDeleted,
	TemplateBlogRepublished,
	TemplateBlogUnderReview,
	TemplateAccountBanned,
	TemplateAccountUnbanned,
	TemplateAccountLocked,
	TemplateAccountUnlocked,
	TemplateWelcome,
	TemplateAccountDeletion,
	TemplateAccountDeletionDone,
}

// Valid reports whether t is a known template.
func (t Template) Valid() bool {
	return slices.Contains(Templates, t)
}

func validAddress(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
