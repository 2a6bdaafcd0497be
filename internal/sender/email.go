package sender

import (
	"context"
	"fmt"

	"gopkg.in/mail.v2"

	"github.com/eduanalytics/notify-relay/internal/domain"
)

const defaultEmailSubject = "Notification"

// EmailSender delivers over SMTP.
//
// The SMTP dialer enforces its own timeout; the message-level processing
// budget still applies at the worker. Dial and handshake failures are
// transient, the server may simply be busy.
type EmailSender struct {
	dialer *mail.Dialer
	from   string
}

var _ Sender = (*EmailSender)(nil)

func NewEmailSender(host string, port int, username, password, from string) *EmailSender {
	return &EmailSender{
		dialer: mail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *EmailSender) Channel() domain.Channel { return domain.ChannelEmail }

func (s *EmailSender) Send(_ context.Context, msg *domain.Message) (*Receipt, error) {
	subject := msg.Subject
	if subject == "" {
		subject = defaultEmailSubject
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.RecipientAddress)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", bodyOf(msg))

	if err := s.dialer.DialAndSend(m); err != nil {
		return nil, fmt.Errorf("smtp send: %w", err)
	}
	return &Receipt{Code: 250, Detail: "accepted by smtp"}, nil
}
