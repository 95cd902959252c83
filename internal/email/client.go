package email

import (
	"context"

	"github.com/resend/resend-go/v2"

	"github.com/subkernel/subkernel/internal/config"
	ierr "github.com/subkernel/subkernel/internal/errors"
)

// Client wraps the Resend API. Disabled when no API key is configured, in
// which case sends are logged and skipped.
type Client struct {
	resend      *resend.Client
	fromAddress string
	enabled     bool
}

// NewClient creates a new email client
func NewClient(cfg *config.Configuration) *Client {
	c := &Client{
		fromAddress: cfg.Email.FromAddress,
		enabled:     cfg.Email.Enabled && cfg.Email.APIKey != "",
	}
	if c.enabled {
		c.resend = resend.NewClient(cfg.Email.APIKey)
	}
	return c
}

// IsEnabled reports whether sends will actually go out
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// GetFromAddress returns the configured sender address
func (c *Client) GetFromAddress() string {
	return c.fromAddress
}

// SendEmail sends a single email and returns the provider message id
func (c *Client) SendEmail(ctx context.Context, from, to, subject, html, text string) (string, error) {
	params := &resend.SendEmailRequest{
		From:    from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
		Text:    text,
	}

	sent, err := c.resend.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to send email").
			Mark(ierr.ErrHTTPClient)
	}
	return sent.Id, nil
}
