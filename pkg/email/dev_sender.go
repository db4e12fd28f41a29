package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/backq/pkg/email/templates"
)

// DevSender implements Sender for local development.
// Each message is written to dir as an HTML preview plus a JSON file with the
// full message, instead of going through a provider.
type DevSender struct {
	dir    string
	logger *slog.Logger
}

// NewDevSender creates a development sender. The directory is created on first send.
func NewDevSender(dir string, logger *slog.Logger) *DevSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &DevSender{dir: dir, logger: logger}
}

type devRecord struct {
	Timestamp string `json:"timestamp"`
	Message
}

// Send implements Sender.
func (d *DevSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", ErrFailedToSendEmail, err)
	}

	now := time.Now()
	// Sends of the same template within one second must not overwrite each other.
	base := fmt.Sprintf("%s_%s_%s", now.Format("2006_01_02_150405"), msg.Template, uuid.NewString()[:8])

	html, err := templates.Render(ctx, templates.Preview(string(msg.Template), msg.To, msg.Model))
	if err != nil {
		return fmt.Errorf("%w: failed to render preview: %v", ErrFailedToSendEmail, err)
	}
	if err := os.WriteFile(filepath.Join(d.dir, base+".html"), []byte(html), 0o644); err != nil {
		return fmt.Errorf("%w: failed to write HTML file: %v", ErrFailedToSendEmail, err)
	}

	data, err := json.MarshalIndent(devRecord{Timestamp: now.Format(time.RFC3339), Message: msg}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal message: %v", ErrFailedToSendEmail, err)
	}
	if err := os.WriteFile(filepath.Join(d.dir, base+".json"), data, 0o644); err != nil {
		return fmt.Errorf("%w: failed to write JSON file: %v", ErrFailedToSendEmail, err)
	}

	d.logger.InfoContext(ctx, "email written to disk",
		slog.String("template", string(msg.Template)),
		slog.String("to", msg.To),
		slog.String("file", base))
	return nil
}
