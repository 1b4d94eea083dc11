package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/yksanjo/domain-expiration-monitor/pkg/alert"
)

// Email sends alerts over SMTP.
type Email struct {
	host string
	port int
	user string
	pass string
	from string
	to   string
}

// NewEmail creates the email channel, or nil when SMTP is not
// configured.
func NewEmail(host string, port int, user, pass, from, to string) *Email {
	if host == "" || from == "" || to == "" {
		return nil
	}
	return &Email{host: host, port: port, user: user, pass: pass, from: from, to: to}
}

// Name implements Notifier.
func (e *Email) Name() string { return "email" }

// Send renders the event as a plain-text mail and submits it.
func (e *Email) Send(_ context.Context, ev alert.Event) error {
	auth := smtp.PlainAuth("", e.user, e.pass, e.host)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"\r\n"+
			"%s\r\n",
		e.from,
		e.to,
		Subject(ev),
		Body(ev),
	))

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	if err := smtp.SendMail(addr, auth, e.from, []string{e.to}, msg); err != nil {
		return fmt.Errorf("send mail via %s: %w", addr, err)
	}
	return nil
}
