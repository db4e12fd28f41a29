package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mrz1836/postmark"
)

// PostmarkClient sends templated emails through Postmark.
type PostmarkClient struct {
	client *postmark.Client
	config Config
}

// PostmarkOption configures a PostmarkClient.
type PostmarkOption func(*postmark.Client)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) PostmarkOption {
	return func(c *postmark.Client) {
		c.BaseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) PostmarkOption {
	return func(c *postmark.Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// NewPostmarkClient creates a Postmark-backed sender.
// Both tokens are required at runtime; a partially configured client fails at startup.
func NewPostmarkClient(cfg Config, opts ...PostmarkOption) (*PostmarkClient, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if cfg.PostmarkAccountToken == "" {
		return nil, fmt.Errorf("%w: PostmarkAccountToken is required", ErrInvalidConfig)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: SenderEmail is required", ErrInvalidConfig)
	}
	if !validAddress(cfg.SenderEmail) {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if cfg.SupportEmail == "" {
		return nil, fmt.Errorf("%w: SupportEmail is required", ErrInvalidConfig)
	}
	if !validAddress(cfg.SupportEmail) {
		return nil, fmt.Errorf("%w: SupportEmail must be a valid email address", ErrInvalidConfig)
	}

	client := postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken)
	for _, opt := range opts {
		opt(client)
	}

	return &PostmarkClient{
		client: client,
		config: cfg,
	}, nil
}

// MustNewPostmarkClient is like NewPostmarkClient but panics on invalid config.
func MustNewPostmarkClient(cfg Config, opts ...PostmarkOption) *PostmarkClient {
	client, err := NewPostmarkClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

// Send implements Sender using a Postmark template alias.
// Replies go to the support address.
func (c *PostmarkClient) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	tag := msg.Tag
	if tag == "" {
		tag = string(msg.Template)
	}

	resp, err := c.client.SendTemplatedEmail(ctx, postmark.TemplatedEmail{
		TemplateAlias: string(msg.Template),
		TemplateModel: msg.Model,
		From:          c.config.SenderEmail,
		ReplyTo:       c.config.SupportEmail,
		To:            msg.To,
		Tag:           tag,
		TrackOpens:    true,
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}
