package email_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/email"
)

func validConfig() email.Config {
	return email.Config{
		PostmarkServerToken:  "test-server-token",
		PostmarkAccountToken: "test-account-token",
		SenderEmail:          "sender@example.com",
		SupportEmail:         "support@example.com",
	}
}

func TestNewPostmarkClient_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*email.Config)
		errMsg string
	}{
		{"empty server token", func(c *email.Config) { c.PostmarkServerToken = "" }, "PostmarkServerToken is required"},
		{"empty account token", func(c *email.Config) { c.PostmarkAccountToken = "" }, "PostmarkAccountToken is required"},
		{"missing sender email", func(c *email.Config) { c.SenderEmail = "" }, "SenderEmail is required"},
		{"invalid sender email", func(c *email.Config) { c.SenderEmail = "invalid-email" }, "SenderEmail must be a valid email address"},
		{"missing support email", func(c *email.Config) { c.SupportEmail = "" }, "SupportEmail is required"},
		{"invalid support email", func(c *email.Config) { c.SupportEmail = "@invalid.com" }, "SupportEmail must be a valid email address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(&cfg)

			client, err := email.NewPostmarkClient(cfg)
			assert.Nil(t, client)
			assert.ErrorIs(t, err, email.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.Panics(t, func() { email.MustNewPostmarkClient(email.Config{}) })
}

type recordedRequest struct {
	Path  string
	Token string
	Body  map[string]any
}

func postmarkServer(t *testing.T, status int, response string) (*httptest.Server, func() []recordedRequest) {
	t.Helper()

	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		mu.Lock()
		reqs = append(reqs, recordedRequest{Path: r.URL.Path, Token: r.Header.Get("X-Postmark-Server-Token"), Body: body})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func TestPostmarkClient_Send(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("sends template alias and model", func(t *testing.T) {
		t.Parallel()

		srv, requests := postmarkServer(t, http.StatusOK, `{"To":"user@example.com","ErrorCode":0,"Message":"OK","MessageID":"abc"}`)
		client, err := email.NewPostmarkClient(validConfig(), email.WithBaseURL(srv.URL), email.WithHTTPClient(srv.Client()))
		require.NoError(t, err)

		err = client.Send(ctx, email.Message{
			To:       "user@example.com",
			Template: email.TemplateAccountUnbanned,
			Model:    map[string]any{"user_id": "42"},
		})
		require.NoError(t, err)

		reqs := requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "test-server-token", reqs[0].Token)
		assert.Equal(t, "account-unbanned", reqs[0].Body["TemplateAlias"])
		assert.Equal(t, "user@example.com", reqs[0].Body["To"])
		assert.Equal(t, "sender@example.com", reqs[0].Body["From"])
		assert.Equal(t, "support@example.com", reqs[0].Body["ReplyTo"])
		assert.Equal(t, "account-unbanned", reqs[0].Body["Tag"])
		assert.Equal(t, map[string]any{"user_id": "42"}, reqs[0].Body["TemplateModel"])
	})

	t.Run("provider error code", func(t *testing.T) {
		t.Parallel()

		srv, _ := postmarkServer(t, http.StatusUnprocessableEntity, `{"ErrorCode":1101,"Message":"Template not found"}`)
		client, err := email.NewPostmarkClient(validConfig(), email.WithBaseURL(srv.URL), email.WithHTTPClient(srv.Client()))
		require.NoError(t, err)

		err = client.Send(ctx, email.Message{To: "user@example.com", Template: email.TemplateWelcome})
		assert.ErrorIs(t, err, email.ErrFailedToSendEmail)
	})

	t.Run("invalid message is not sent", func(t *testing.T) {
		t.Parallel()

		srv, requests := postmarkServer(t, http.StatusOK, `{}`)
		client, err := email.NewPostmarkClient(validConfig(), email.WithBaseURL(srv.URL))
		require.NoError(t, err)

		err = client.Send(ctx, email.Message{To: "bad", Template: email.TemplateWelcome})
		assert.ErrorIs(t, err, email.ErrInvalidMessage)
		assert.Empty(t, requests())
	})
}
