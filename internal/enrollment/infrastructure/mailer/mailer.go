// Package mailer sends confirmation and resume-link emails over SMTP.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/gridwise/enrollflow/pkg/logger"
)

// Mailer is the email delivery interface the orchestrator depends on.
type Mailer interface {
	// SendConfirmation sends the completion email. vars fills {placeholder}
	// tokens in subject and body.
	SendConfirmation(ctx context.Context, to, subject, body string, vars map[string]string) error
	// SendResumeLink emails a save-and-continue link.
	SendResumeLink(ctx context.Context, to, resumeURL string) error
}

// Config carries SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// SupportCC receives a copy of every confirmation email.
	SupportCC []string
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	cfg Config
}

// NewSMTPMailer creates the SMTP mailer.
func NewSMTPMailer(cfg Config) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Substitute fills {name} tokens in a template.
func Substitute(template string, vars map[string]string) string {
	out := template
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}

// SendConfirmation implements Mailer.
func (m *SMTPMailer) SendConfirmation(ctx context.Context, to, subject, body string, vars map[string]string) error {
	subject = Substitute(subject, vars)
	body = Substitute(body, vars)

	recipients := append([]string{to}, m.cfg.SupportCC...)
	return m.send(ctx, recipients, to, subject, body)
}

// SendResumeLink implements Mailer.
func (m *SMTPMailer) SendResumeLink(ctx context.Context, to, resumeURL string) error {
	subject := "Continue your enrollment"
	body := "You saved your enrollment in progress. Pick up where you left off:\r\n\r\n" +
		resumeURL + "\r\n\r\nThis link works once and expires in 7 days."
	return m.send(ctx, []string{to}, to, subject, body)
}

func (m *SMTPMailer) send(ctx context.Context, recipients []string, to, subject, body string) error {
	logger.Info(ctx, "Sending email", "to", to, "subject", subject)

	var ccHeader string
	if len(recipients) > 1 {
		ccHeader = "Cc: " + strings.Join(recipients[1:], ", ") + "\r\n"
	}

	msg := []byte("From: " + m.cfg.From + "\r\n" +
		"To: " + to + "\r\n" +
		ccHeader +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n")

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, recipients, msg); err != nil {
		logger.Error(ctx, "Email send failed", "to", to, "error", err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// NoopMailer satisfies Mailer when mail is disabled in config.
type NoopMailer struct{}

// SendConfirmation implements Mailer.
func (NoopMailer) SendConfirmation(ctx context.Context, to, subject, body string, vars map[string]string) error {
	logger.Debug(ctx, "Mailer disabled, skipping confirmation email", "to", to)
	return nil
}

// SendResumeLink implements Mailer.
func (NoopMailer) SendResumeLink(ctx context.Context, to, resumeURL string) error {
	logger.Debug(ctx, "Mailer disabled, skipping resume email", "to", to)
	return nil
}
