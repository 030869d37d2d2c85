// Package email sends notification digests over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EncryptionMode defines the TLS encryption strategy
type EncryptionMode string

const (
	EncryptionStartTLS EncryptionMode = "starttls" // Upgrade a plain connection when offered
	EncryptionTLS      EncryptionMode = "tls"      // Implicit TLS, usually port 465
	EncryptionNone     EncryptionMode = "none"     // Never encrypt
)

var ErrNoRecipients = errors.New("no recipients specified")

const dialTimeout = 30 * time.Second

// Settings contains email-specific configuration
type Settings struct {
	Server     string         `json:"server"`
	Port       int            `json:"port"`
	Encryption EncryptionMode `json:"encryption,omitempty"`
	Username   string         `json:"username,omitempty"`
	Password   string         `json:"password,omitempty"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	UseHTML    bool           `json:"useHtml,omitempty"`
}

// transport delivers an assembled message.
type transport func(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends notifications via SMTP email
type Notifier struct {
	settings Settings
	send     transport
	logger   zerolog.Logger
}

// New creates a new email notifier
func New(settings Settings, logger zerolog.Logger) *Notifier {
	if settings.Port == 0 {
		settings.Port = 587
	}
	switch settings.Encryption {
	case EncryptionStartTLS, EncryptionTLS, EncryptionNone:
	default:
		if settings.Port == 465 {
			settings.Encryption = EncryptionTLS
		} else {
			settings.Encryption = EncryptionStartTLS
		}
	}
	n := &Notifier{
		settings: settings,
		logger:   logger.With().Str("component", "email").Logger(),
	}
	n.send = n.deliver
	return n
}

// Name identifies the notifier in logs and API output.
func (n *Notifier) Name() string {
	return "email"
}

// Test sends a short test message.
func (n *Notifier) Test(ctx context.Context) error {
	return n.Send(ctx, "Machinarr Test Notification", "This is a test notification from Machinarr.")
}

// Send delivers one message to every configured recipient.
func (n *Notifier) Send(ctx context.Context, subject, body string) error {
	recipients := parseAddresses(n.settings.To)
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	msg := n.buildMessage(recipients, "[Machinarr] "+subject, body)
	addr := net.JoinHostPort(n.settings.Server, fmt.Sprint(n.settings.Port))

	var auth smtp.Auth
	if n.settings.Username != "" && n.settings.Password != "" {
		auth = smtp.PlainAuth("", n.settings.Username, n.settings.Password, n.settings.Server)
	}

	if err := n.send(ctx, addr, auth, n.settings.From, recipients, []byte(msg)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	n.logger.Info().Str("subject", subject).Int("recipients", len(recipients)).Msg("Email sent")
	return nil
}

func (n *Notifier) buildMessage(to []string, subject, body string) string {
	contentType := "text/plain; charset=utf-8"
	emailBody := body
	if n.settings.UseHTML {
		contentType = "text/html; charset=utf-8"
		emailBody = toHTML(body)
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", n.settings.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: %s\r\n", contentType))
	msg.WriteString("\r\n")
	msg.WriteString(emailBody)
	return msg.String()
}

func toHTML(plainText string) string {
	escaped := strings.ReplaceAll(plainText, "&", "&amp;")
	escaped = strings.ReplaceAll(escaped, "<", "&lt;")
	escaped = strings.ReplaceAll(escaped, ">", "&gt;")
	escaped = strings.ReplaceAll(escaped, "\n\n", "</p><p>")
	escaped = strings.ReplaceAll(escaped, "\n", "<br>")
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
.content { background: #f9f9f9; padding: 20px; border: 1px solid #ddd; border-radius: 8px; }
p { margin: 0 0 10px 0; }
</style>
</head>
<body>
<div class="content"><p>%s</p></div>
</body>
</html>`, escaped)
}

// deliver opens the SMTP session according to the encryption mode.
func (n *Notifier) deliver(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	client, err := n.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if n.settings.Encryption == EncryptionStartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(n.tlsConfig()); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if err := authenticateAndSetEnvelope(client, auth, from, to); err != nil {
		return err
	}
	return writeMessageData(client, msg)
}

func (n *Notifier) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName: n.settings.Server,
		MinVersion: tls.VersionTLS12,
	}
}

func (n *Notifier) dial(ctx context.Context, addr string) (*smtp.Client, error) {
	var conn net.Conn
	var err error
	if n.settings.Encryption == EncryptionTLS {
		dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: dialTimeout}, Config: n.tlsConfig()}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		dialer := &net.Dialer{Timeout: dialTimeout}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	client, err := smtp.NewClient(conn, n.settings.Server)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

func authenticateAndSetEnvelope(client *smtp.Client, auth smtp.Auth, from string, recipients []string) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}
	return nil
}

func writeMessageData(client *smtp.Client, message []byte) error {
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}

func parseAddresses(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}
