package email

import (
	"bytes"
	"context"
	"html/template"

	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/logger"
)

// emailTemplates stores notification templates as string constants
var emailTemplates = map[string]string{
	"dunning-warning.html": `<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; font-size: 14px; line-height: 1.6; color: #333;">
    <p>Hi,</p>
    <p>We couldn't process the latest payment for your subscription (attempt {{.attempt}}).
    Your access is unaffected for now. We'll retry automatically, so please make sure your payment method is up to date.</p>
    <p>Thanks!</p>
</body>
</html>`,
	"dunning-final-notice.html": `<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; font-size: 14px; line-height: 1.6; color: #333;">
    <p>Hi,</p>
    <p>This is the final notice for your subscription: we have been unable to collect payment after {{.attempt}} attempts.
    One more failed attempt will suspend your access. Please update your payment method now.</p>
</body>
</html>`,
	"trial-ending.html": `<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; font-size: 14px; line-height: 1.6; color: #333;">
    <p>Hi,</p>
    <p>Your trial ends in {{.days_remaining}} day(s). Convert now to keep your access without interruption.</p>
</body>
</html>`,
}

// SendEmailRequest is a plain email send
type SendEmailRequest struct {
	ToAddress   string `json:"to_address"`
	FromAddress string `json:"from_address,omitempty"`
	Subject     string `json:"subject"`
	Text        string `json:"text"`
}

// SendTemplateRequest renders one of the built-in templates
type SendTemplateRequest struct {
	ToAddress    string         `json:"to_address"`
	Subject      string         `json:"subject"`
	TemplateName string         `json:"template_name"`
	Data         map[string]any `json:"data,omitempty"`
}

// SendEmailResponse reports the outcome of a send
type SendEmailResponse struct {
	MessageID string `json:"message_id,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Service sends lifecycle notification emails
type Service struct {
	client *Client
	logger *logger.Logger
}

// NewService creates a new email service
func NewService(client *Client, log *logger.Logger) *Service {
	return &Service{
		client: client,
		logger: log,
	}
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(ctx context.Context, req SendEmailRequest) (*SendEmailResponse, error) {
	if !s.client.IsEnabled() {
		s.logger.Warnw("email client is disabled, skipping email send",
			"to", req.ToAddress,
			"subject", req.Subject,
		)
		return &SendEmailResponse{
			Success: false,
			Error:   "email client is disabled",
		}, nil
	}

	fromAddress := s.client.GetFromAddress()
	if fromAddress == "" {
		fromAddress = req.FromAddress
	}

	messageID, err := s.client.SendEmail(ctx, fromAddress, req.ToAddress, req.Subject, "", req.Text)
	if err != nil {
		s.logger.Errorw("failed to send email",
			"error", err,
			"to", req.ToAddress,
			"subject", req.Subject,
		)
		return &SendEmailResponse{
			Success: false,
			Error:   err.Error(),
		}, err
	}

	return &SendEmailResponse{
		MessageID: messageID,
		Success:   true,
	}, nil
}

// SendTemplate renders a built-in template and sends it
func (s *Service) SendTemplate(ctx context.Context, req SendTemplateRequest) (*SendEmailResponse, error) {
	if !s.client.IsEnabled() {
		s.logger.Warnw("email client is disabled, skipping email send",
			"to", req.ToAddress,
			"template", req.TemplateName,
		)
		return &SendEmailResponse{
			Success: false,
			Error:   "email client is disabled",
		}, nil
	}

	html, err := s.renderTemplate(req.TemplateName, req.Data)
	if err != nil {
		return nil, err
	}

	messageID, err := s.client.SendEmail(ctx, s.client.GetFromAddress(), req.ToAddress, req.Subject, html, "")
	if err != nil {
		s.logger.Errorw("failed to send templated email",
			"error", err,
			"to", req.ToAddress,
			"template", req.TemplateName,
		)
		return &SendEmailResponse{
			Success: false,
			Error:   err.Error(),
		}, err
	}

	return &SendEmailResponse{
		MessageID: messageID,
		Success:   true,
	}, nil
}

func (s *Service) renderTemplate(name string, data map[string]any) (string, error) {
	raw, ok := emailTemplates[name]
	if !ok {
		return "", ierr.NewErrorf("unknown email template: %s", name).
			Mark(ierr.ErrNotFound)
	}

	tmpl, err := template.New(name).Parse(raw)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to parse email template").
			Mark(ierr.ErrSystem)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to render email template").
			Mark(ierr.ErrSystem)
	}
	return buf.String(), nil
}
