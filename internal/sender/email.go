package sender

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"sync"
)

const defaultSubject = "Bulk Email"

// EmailConfig is the transport target. Sender credentials are supplied per
// batch and never persisted.
type EmailConfig struct {
	Host string // e.g. "smtp.gmail.com"
	Port int    // e.g. 587
}

// Credentials authenticate one batch against the SMTP server.
type Credentials struct {
	Email    string
	Password string
}

// Email sends through a single authenticated SMTP session shared by the
// whole batch. The session is opened by NewEmail, so a bad host or rejected
// credentials fail the batch before any record is attempted.
type Email struct {
	from string

	mu     sync.Mutex // one smtp.Client cannot multiplex commands
	client smtpClient
}

// smtpClient is the slice of *smtp.Client the sender uses; tests substitute
// a fake so no network is involved.
type smtpClient interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Reset() error
	Quit() error
}

// NewEmail dials the SMTP server, negotiates STARTTLS, and authenticates.
// Any failure here is a batch precondition error: zero records attempted.
func NewEmail(cfg EmailConfig, creds Credentials) (*Email, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "smtp.gmail.com"
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return nil, fmt.Errorf("email: sender credentials are required")
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	c, err := smtp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("email: dial %s: %w", addr, err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("email: starttls: %w", err)
		}
	}
	auth := smtp.PlainAuth("", creds.Email, creds.Password, host)
	if err := c.Auth(auth); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("email: auth: %w", err)
	}

	return &Email{from: creds.Email, client: c}, nil
}

// newEmailWithClient wires a pre-built client; used by tests.
func newEmailWithClient(from string, c smtpClient) *Email {
	return &Email{from: from, client: c}
}

func (e *Email) Channel() Channel { return ChannelEmail }

func (e *Email) DeliverOne(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(msg.Body) == "" {
		return ErrEmptyMessage
	}
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = defaultSubject
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.Mail(e.from); err != nil {
		_ = e.client.Reset()
		return fmt.Errorf("mail from: %w", err)
	}
	if err := e.client.Rcpt(msg.Address); err != nil {
		_ = e.client.Reset()
		return fmt.Errorf("invalid recipient: %w", err)
	}
	w, err := e.client.Data()
	if err != nil {
		_ = e.client.Reset()
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(buildMIME(e.from, msg.Address, subject, msg.Body)); err != nil {
		_ = w.Close()
		_ = e.client.Reset()
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = e.client.Reset()
		return fmt.Errorf("finish message: %w", err)
	}
	return nil
}

// Close quits the SMTP session once the batch is done.
func (e *Email) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Quit()
	e.client = nil
	return err
}

func buildMIME(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
