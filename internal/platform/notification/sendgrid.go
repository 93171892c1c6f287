package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	defaultSendGridURL = "https://api.sendgrid.com"
	mailSendEndpoint   = "/v3/mail/send"
)

// SendGridConfig configures SendGridSender.
type SendGridConfig struct {
	APIKey   string
	BaseURL  string
	From     string
	FromName string
	Timeout  time.Duration
}

// SendGridSender delivers plain-text email through the SendGrid v3 mail
// send API. Retries are left to the Manager.
type SendGridSender struct {
	cfg  SendGridConfig
	from *mail.Email
}

func NewSendGridSender(cfg SendGridConfig) (*SendGridSender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("sendgrid: api key is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("sendgrid: from address is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSendGridURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SendGridSender{cfg: cfg, from: mail.NewEmail(cfg.FromName, cfg.From)}, nil
}

// client returns a send client for one message. The sendgrid client keeps
// the request body on itself, so it is not shared between sends.
func (s *SendGridSender) client() *sendgrid.Client {
	c := sendgrid.NewSendClient(s.cfg.APIKey)
	c.BaseURL = s.cfg.BaseURL + mailSendEndpoint
	return c
}

type sgErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *SendGridSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if !strings.Contains(to, "@") {
		return fmt.Errorf("sendgrid: recipient %q is not an email address", to)
	}
	msg := mail.NewV3MailInit(s.from, subject, mail.NewEmail("", to), mail.NewContent("text/plain", body))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.client().SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var er sgErrorResponse
	if json.Unmarshal([]byte(resp.Body), &er) == nil && len(er.Errors) > 0 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, er.Errors[0].Message)
	}
	return fmt.Errorf("sendgrid: status %d", resp.StatusCode)
}
