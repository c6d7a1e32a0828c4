package integrations

import (
	"context"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Server   string
	Port     int
	From     string
	Password string
}

// Configured reports whether enough settings are present to send mail.
func (c SMTPConfig) Configured() bool {
	return c.Server != "" && c.From != "" && c.Password != ""
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailTransport sends HTML mail over SMTP. smtp.SendMail upgrades to
// STARTTLS when the server offers it.
type EmailTransport struct {
	cfg  SMTPConfig
	send sendMailFunc
	now  func() time.Time
}

// NewEmailTransport creates a transport for cfg.
func NewEmailTransport(cfg SMTPConfig) *EmailTransport {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailTransport{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

func (t *EmailTransport) Name() string { return "email" }

func (t *EmailTransport) Accepts(r Recipient) bool {
	return t.cfg.Configured() && r.Email != ""
}

func (t *EmailTransport) Notify(ctx context.Context, r Recipient, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := net.JoinHostPort(t.cfg.Server, strconv.Itoa(t.cfg.Port))
	auth := smtp.PlainAuth("", t.cfg.From, t.cfg.Password, t.cfg.Server)

	errc := make(chan error, 1)
	go func() {
		errc <- t.send(addr, auth, t.cfg.From, []string{r.Email}, t.buildMessage(r, m))
	}()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("email send failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email send failed: %w", ctx.Err())
	}
}

func (t *EmailTransport) buildMessage(r Recipient, m Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", t.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", r.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(m.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", t.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString("<html><body>")
	b.WriteString(strings.ReplaceAll(html.EscapeString(m.Body), "\n", "<br>"))
	b.WriteString("</body></html>\r\n")
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
