package notification

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"

	"finnect-auth/internal/config"
	"finnect-auth/internal/util"
)

// Sender delivers a single email with HTML and plain-text alternatives.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

type SMTPSender struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{
		Host:    cfg.Host,
		Port:    cfg.Port,
		From:    cfg.FromEmail,
		User:    cfg.Username,
		Pass:    cfg.Password,
		TLSMode: "auto",
	}
}

func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	// multipart/alternative, plain text first
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{
		ServerName:         s.Host,
		InsecureSkipVerify: s.InsecureSkipVerify, // dev only
	}

	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.InsecureSkipVerify}
	default:
		// "auto"/"starttls": go-mail negotiates STARTTLS when offered
	}

	if err := d.DialAndSend(m); err != nil {
		util.Error("smtp send failed",
			util.String("to", to),
			util.ErrorField(err),
		)
		return fmt.Errorf("smtp send: %w", err)
	}

	util.Debug("email sent",
		util.String("to", to),
		util.String("subject", subject),
	)
	return nil
}
