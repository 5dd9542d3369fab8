// Package notify delivers escalation notifications. The only transport is
// email sent through a Mailgun-compatible messages endpoint; a logging
// mailer stands in when mail is disabled.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"thermoline/internal/config"
)

// Mailer sends one message. Implementations must not retry internally;
// the escalation scheduler re-dispatches on the next sweep when a send
// fails.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mailgun posts messages to a Mailgun-style HTTP API.
type Mailgun struct {
	http   *resty.Client
	domain string
	sender string
}

func NewMailgun(cfg *config.Config) *Mailgun {
	client := resty.New().
		SetBaseURL(cfg.Mail.APIURL).
		SetTimeout(15 * time.Second).
		SetBasicAuth("api", cfg.Mail.APIKey)
	return &Mailgun{
		http:   client,
		domain: cfg.Mail.Domain,
		sender: cfg.Mail.Sender,
	}
}

func (m *Mailgun) Send(ctx context.Context, to, subject, body string) error {
	res, err := m.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"to":      to,
			"subject": subject,
			"text":    body,
			"from":    m.sender,
		}).
		SetPathParam("domain", m.domain).
		Post("/{domain}/messages")
	if err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	if res.IsError() {
		return fmt.Errorf("send mail to %s: status %d", to, res.StatusCode())
	}
	return nil
}

// LogMailer writes the message to the log instead of delivering it.
type LogMailer struct {
	Log *zap.Logger
}

func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.Log.Info("mail suppressed (mail disabled)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)))
	return nil
}
