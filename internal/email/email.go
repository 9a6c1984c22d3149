package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"kaiden.app/licensing/internal/logger"
)

var ErrNotConfigured = errors.New("SMTP configuration missing")

type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message to a single recipient.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPSender struct {
	Host string
	Port string
	User string
	Pass string
	From string

	sendMail sendMailFunc
}

func NewSMTPSender(host, port, user, pass, from string) *SMTPSender {
	return &SMTPSender{
		Host:     host,
		Port:     port,
		User:     user,
		Pass:     pass,
		From:     from,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s.Host == "" || s.Port == "" || s.User == "" || s.Pass == "" {
		logger.Error("SMTP configuration missing")
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := s.From
	if from == "" {
		from = s.User
	}

	auth := smtp.PlainAuth("", s.User, s.Pass, s.Host)
	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)
	if err := s.sendMail(addr, auth, from, []string{msg.To}, Compose(from, msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}

	logger.Info("Email sent", map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
	})
	return nil
}

// Compose renders msg as an RFC 5322 message. Header values are stripped of
// line breaks.
func Compose(from string, msg Message) []byte {
	clean := strings.NewReplacer("\r", "", "\n", "")
	return []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n", clean.Replace(from), clean.Replace(msg.To), clean.Replace(msg.Subject), msg.Body))
}

// LicenseMessage is the mail delivering a freshly issued token to a buyer.
func LicenseMessage(to, token, tier string, expiresAt time.Time) Message {
	var b strings.Builder
	b.WriteString("Thanks for upgrading to Kaiden Pro.\n\n")
	b.WriteString("Paste this license token into the app to unlock Pro:\n\n")
	b.WriteString(token)
	b.WriteString("\n\n")
	if tier != "" {
		fmt.Fprintf(&b, "Plan: %s\n", tier)
	}
	fmt.Fprintf(&b, "Valid until: %s\n", expiresAt.UTC().Format("January 2, 2006"))

	return Message{
		To:      to,
		Subject: "Your Kaiden Pro license",
		Body:    b.String(),
	}
}
