package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"market-alerts/internal/config"
	"market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// EmailChannel sends notifications via email using SMTP.
type EmailChannel struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       []string
	enabled  bool
	dialer   net.Dialer
}

// NewEmailChannel creates a new EmailChannel. To may hold several comma
// separated addresses.
func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	var to []string
	for _, addr := range strings.Split(cfg.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return &EmailChannel{
		smtpHost: cfg.SMTPHost,
		smtpPort: cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		to:       to,
		enabled:  cfg.Enabled,
	}
}

// Kind returns the channel kind.
func (e *EmailChannel) Kind() models.ChannelKind { return models.ChannelEmail }

// IsEnabled returns whether the channel is enabled.
func (e *EmailChannel) IsEnabled() bool { return e.enabled }

// BuildEmail renders the RFC 5322 message for a trigger.
func BuildEmail(from string, to []string, message string, t models.Trigger) string {
	subject := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(t.Severity)), t.InstrumentID, t.RuleName)

	body := message
	if len(t.Metadata) > 0 {
		dataJSON, _ := json.MarshalIndent(t.Metadata, "", "  ")
		body += "\n\n---\nData:\n" + string(dataJSON)
	}

	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, strings.Join(to, ", "), subject, body)
}

// Send sends the trigger by email. Port 465 uses implicit TLS; other ports
// upgrade with STARTTLS when the server offers it.
func (e *EmailChannel) Send(ctx context.Context, message string, t models.Trigger) error {
	if e.smtpHost == "" || e.from == "" || len(e.to) == 0 {
		return errors.NewChannelError(string(e.Kind()), errors.ErrChannelNotConfigured)
	}

	msg := BuildEmail(e.from, e.to, message, t)
	if err := e.deliver(ctx, msg); err != nil {
		return errors.NewChannelError(string(e.Kind()), err)
	}
	return nil
}

func (e *EmailChannel) deliver(ctx context.Context, msg string) error {
	addr := net.JoinHostPort(e.smtpHost, fmt.Sprint(e.smtpPort))
	tlsConfig := &tls.Config{ServerName: e.smtpHost}

	var conn net.Conn
	var err error
	if e.smtpPort == 465 {
		d := tls.Dialer{NetDialer: &e.dialer, Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = e.dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dialing SMTP server: %w", err)
	}
	defer conn.Close()

	// The SMTP client has no context support; bound it with the deadline.
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if e.smtpPort != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS failed: %w", err)
			}
		}
	}

	if e.username != "" && e.password != "" {
		if err := client.Auth(smtp.PlainAuth("", e.username, e.password, e.smtpHost)); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("SMTP MAIL command failed: %w", err)
	}
	for _, rcpt := range e.to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT command failed: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command failed: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
