// Package email provides an SMTP-based notifier for the notification subsystem.
package email

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"github.com/Strob0t/LaunchLoop/internal/port/notifier"
)

const providerName = "email"

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
	To       []string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends email notifications via SMTP.
type Notifier struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg, send: smtp.SendMail}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true, Fields: true}
}

// Send mails the notification to every recipient in one message.
func (n *Notifier) Send(_ context.Context, nt notifier.Notification) error {
	if n.cfg.Host == "" || n.cfg.From == "" || len(n.cfg.To) == 0 {
		return notifier.ErrNotConfigured
	}
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}
	if err := n.send(addr, auth, n.cfg.From, n.cfg.To, buildMessage(n.cfg.From, n.cfg.To, nt)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func buildMessage(from string, to []string, nt notifier.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: [LaunchLoop] %s\r\n", from, strings.Join(to, ", "), subjectSafe(nt.Title))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n")

	fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(nt.Title))
	if nt.Message != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(nt.Message))
	}
	if len(nt.Fields) > 0 {
		b.WriteString("<table>\n")
		for _, f := range nt.Fields {
			fmt.Fprintf(&b, "<tr><th align=\"left\">%s</th><td>%s</td></tr>\n", html.EscapeString(f.Label), html.EscapeString(f.Value))
		}
		b.WriteString("</table>\n")
	}
	if nt.Link != "" {
		fmt.Fprintf(&b, "<p><a href=\"%s\">Review</a></p>\n", html.EscapeString(nt.Link))
	}
	return []byte(b.String())
}

// subjectSafe strips line breaks so a title cannot inject headers.
func subjectSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
