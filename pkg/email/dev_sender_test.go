package email_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/email"
)

func TestDevSender_Send(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "emails")
	sender := email.NewDevSender(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))

	msg := email.Message{
		To:       "user@example.com",
		Template: email.TemplateTicketCreated,
		Model:    map[string]any{"ticket_id": "T-1", "subject": "<b>Help</b>"},
	}
	require.NoError(t, sender.Send(context.Background(), msg))
	require.NoError(t, sender.Send(context.Background(), msg))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 4, "two sends must not overwrite each other")

	var htmlFile, jsonFile string
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".html"):
			htmlFile = e.Name()
		case strings.HasSuffix(e.Name(), ".json"):
			jsonFile = e.Name()
		}
	}
	assert.Contains(t, htmlFile, "ticket-created")

	html, err := os.ReadFile(filepath.Join(dir, htmlFile))
	require.NoError(t, err)
	assert.Contains(t, string(html), "T-1")
	assert.Contains(t, string(html), "&lt;b&gt;Help&lt;/b&gt;")

	raw, err := os.ReadFile(filepath.Join(dir, jsonFile))
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, "user@example.com", record["to"])
	assert.Equal(t, "ticket-created", record["template"])
	assert.NotEmpty(t, record["timestamp"])
}

func TestDevSender_InvalidMessage(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "emails")
	sender := email.NewDevSender(dir, nil)

	err := sender.Send(context.Background(), email.Message{To: "user@example.com", Template: "nope"})
	assert.ErrorIs(t, err, email.ErrUnknownTemplate)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
