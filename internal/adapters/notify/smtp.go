package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

// SMTPChannel delivers alerts as plain-text email.
type SMTPChannel struct {
	addr       string
	auth       smtp.Auth
	from       string
	recipients []string
	sendMail   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// SMTPConfig configures the email channel.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

// NewSMTPChannel creates an email delivery channel.
func NewSMTPChannel(config SMTPConfig) *SMTPChannel {
	if config.Port <= 0 {
		config.Port = 587
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &SMTPChannel{
		addr:       fmt.Sprintf("%s:%d", config.Host, config.Port),
		auth:       auth,
		from:       config.From,
		recipients: config.Recipients,
		sendMail:   smtp.SendMail,
	}
}

func (c *SMTPChannel) Deliver(ctx context.Context, alert *domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := c.formatMessage(alert)
	if err := c.sendMail(c.addr, c.auth, c.from, c.recipients, msg); err != nil {
		return fmt.Errorf("sending alert %s via smtp: %w", alert.ID, err)
	}
	return nil
}

func (c *SMTPChannel) formatMessage(alert *domain.Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.recipients, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(string(alert.Severity)), alert.Title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Severity: %s\n", alert.Severity)
	fmt.Fprintf(&b, "Source: %s\n", alert.Source)
	fmt.Fprintf(&b, "Time: %s\n\n", alert.Timestamp.Format("2006-01-02 15:04:05 MST"))
	b.WriteString(alert.Description)
	b.WriteString("\n")

	if len(alert.Metadata) > 0 {
		b.WriteString("\nDetails:\n")
		for key, value := range alert.Metadata {
			fmt.Fprintf(&b, "  %s: %s\n", key, value)
		}
	}
	return []byte(b.String())
}

func (c *SMTPChannel) Name() string {
	return "smtp"
}
