package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"crypto/tls"
	"mime"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

// Email is one rendered message handed to a Mailer.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer sends rendered email. Implementations must return an error on any
// delivery failure; the dispatcher does not retry.
type Mailer interface {
	SendEmail(ctx context.Context, msg Email) error
}

var errNoMailer = errors.New("email transport not configured")

func (d *Dispatcher) sendEmail(ctx context.Context, rec *types.NotificationRecord, s types.ChannelSettings) error {
	if !s.Enabled || s.Address == "" {
		return ErrChannelUnavailable
	}
	if d.mailer == nil {
		return errNoMailer
	}
	body, err := renderEmail(rec)
	if err != nil {
		return fmt.Errorf("render email: %w", err)
	}
	return d.mailer.SendEmail(ctx, Email{
		To:      s.Address,
		Subject: emailSubject(rec),
		HTML:    body,
	})
}

func emailSubject(rec *types.NotificationRecord) string {
	if sev, ok := rec.Data["severity"]; ok {
		return fmt.Sprintf("[%v] %s", sev, rec.Title)
	}
	return rec.Title
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif">
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
{{- if .Fields}}
<table cellpadding="4" style="border-collapse: collapse">
{{- range .Fields}}
<tr><td><strong>{{.Key}}</strong></td><td>{{.Value}}</td></tr>
{{- end}}
</table>
{{- end}}
<p style="color: #888; font-size: small">{{.Type}} &middot; {{.CreatedAt}}</p>
</body>
</html>
`))

type emailField struct {
	Key   string
	Value string
}

func renderEmail(rec *types.NotificationRecord) (string, error) {
	fields := make([]emailField, 0, len(rec.Data))
	for k, v := range rec.Data {
		fields = append(fields, emailField{Key: k, Value: fmt.Sprint(v)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })

	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Title, Message, Type, CreatedAt string
		Fields                          []emailField
	}{
		Title:     rec.Title,
		Message:   rec.Message,
		Type:      rec.Type,
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC1123),
		Fields:    fields,
	})
	return buf.String(), err
}

// DefaultSMTPTimeout bounds one SMTP delivery when SMTPMailer.Timeout is
// zero.
const DefaultSMTPTimeout = 30 * time.Second

// SMTPMailer delivers email through an SMTP relay, upgrading to STARTTLS
// when offered, with optional PLAIN auth.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds the whole exchange from dial to QUIT.
	Timeout time.Duration
}

// SendEmail implements Mailer. The connection deadline is the earlier of
// ctx's deadline and Timeout; cancelling ctx aborts an exchange in flight.
func (m *SMTPMailer) SendEmail(ctx context.Context, msg Email) error {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultSMTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline) //nolint:errcheck
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := m.deliver(conn, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, ctxErr)
		}
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func (m *SMTPMailer) deliver(conn net.Conn, msg Email) error {
	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
			return err
		}
	}
	if m.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.Username, m.Password, m.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(m.From); err != nil {
		return err
	}
	if err := c.Rcpt(msg.To); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(buildMIME(m.From, msg)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMIME(from string, msg Email) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}
