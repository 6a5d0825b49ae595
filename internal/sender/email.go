package sender

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender relays messages over the provider's SMTP endpoint. The
// Message-Id header we set is the id the provider echoes back in delivery
// webhooks, so it is returned as the provider message id.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
	domain string
}

func NewEmailSender(cfg SMTPConfig) *EmailSender {
	domain := "localhost"
	if at := strings.LastIndex(cfg.From, "@"); at >= 0 {
		domain = cfg.From[at+1:]
	}
	return &EmailSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		domain: domain,
	}
}

func (s *EmailSender) Send(ctx context.Context, msg *Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.domain)

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-Id", messageID)
	m.SetBody("text/html", msg.Body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return messageID, nil
}
