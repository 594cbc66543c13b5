// Package mailer delivers transactional auth email: magic-link logins and
// password-reset one-time codes. Delivery is best effort; callers treat a
// failed send as a logging concern, not a flow failure.
package mailer

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// Dispatcher is implemented by all outbound mail backends.
type Dispatcher interface {
	SendMagicLink(ctx context.Context, email, link string) error
	SendResetOTP(ctx context.Context, email, code string) error
}

// SMTPConfig holds the settings for the SMTP backend.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends mail through a plain-auth SMTP relay.
type SMTP struct {
	cfg SMTPConfig
}

var _ Dispatcher = (*SMTP)(nil)

func NewSMTP(cfg SMTPConfig) *SMTP {
	return &SMTP{cfg: cfg}
}

func (m *SMTP) SendMagicLink(ctx context.Context, email, link string) error {
	body := fmt.Sprintf("Sign in to your account:\r\n\r\n%s\r\n\r\nThe link expires shortly. If you did not request it, ignore this email.\r\n", link)
	return m.send(ctx, email, "Your sign-in link", body)
}

func (m *SMTP) SendResetOTP(ctx context.Context, email, code string) error {
	body := fmt.Sprintf("Your password reset code is %s.\r\n\r\nThe code expires shortly. If you did not request it, ignore this email.\r\n", code)
	return m.send(ctx, email, "Your password reset code", body)
}

func (m *SMTP) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// LogOnly writes would-be emails to the process log. Used when no SMTP
// relay is configured (local development, tests).
type LogOnly struct{}

var _ Dispatcher = LogOnly{}

func (LogOnly) SendMagicLink(_ context.Context, email, link string) error {
	log.Printf("mailer: magic link for %s: %s", email, link)
	return nil
}

func (LogOnly) SendResetOTP(_ context.Context, email, code string) error {
	log.Printf("mailer: reset code for %s: %s", email, code)
	return nil
}
