package sender

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type fakeSMTP struct {
	mailErr error
	rcptErr error
	dataErr error

	mailFrom string
	rcptTo   []string
	wrote    bytes.Buffer
	resets   int
	quit     bool
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (f *fakeSMTP) Mail(from string) error {
	f.mailFrom = from
	return f.mailErr
}

func (f *fakeSMTP) Rcpt(to string) error {
	f.rcptTo = append(f.rcptTo, to)
	return f.rcptErr
}

func (f *fakeSMTP) Data() (io.WriteCloser, error) {
	if f.dataErr != nil {
		return nil, f.dataErr
	}
	return nopWriteCloser{&f.wrote}, nil
}

func (f *fakeSMTP) Reset() error { f.resets++; return nil }
func (f *fakeSMTP) Quit() error  { f.quit = true; return nil }

func TestEmailDeliverOne(t *testing.T) {
	f := &fakeSMTP{}
	e := newEmailWithClient("me@x.io", f)

	err := e.DeliverOne(context.Background(), Message{
		Address: "you@y.io",
		Body:    "hello",
		Subject: "Greetings",
	})
	if err != nil {
		t.Fatalf("DeliverOne: %v", err)
	}
	if f.mailFrom != "me@x.io" {
		t.Fatalf("mail from = %q", f.mailFrom)
	}
	if len(f.rcptTo) != 1 || f.rcptTo[0] != "you@y.io" {
		t.Fatalf("rcpt = %v", f.rcptTo)
	}
	got := f.wrote.String()
	for _, want := range []string{"Subject: Greetings\r\n", "To: you@y.io\r\n", "\r\nhello\r\n"} {
		if !strings.Contains(got, want) {
			t.Fatalf("message missing %q:\n%s", want, got)
		}
	}
}

func TestEmailDefaultSubject(t *testing.T) {
	f := &fakeSMTP{}
	e := newEmailWithClient("me@x.io", f)

	if err := e.DeliverOne(context.Background(), Message{Address: "you@y.io", Body: "b"}); err != nil {
		t.Fatalf("DeliverOne: %v", err)
	}
	if !strings.Contains(f.wrote.String(), "Subject: Bulk Email\r\n") {
		t.Fatalf("default subject not applied:\n%s", f.wrote.String())
	}
}

func TestEmailEmptyBody(t *testing.T) {
	f := &fakeSMTP{}
	e := newEmailWithClient("me@x.io", f)

	err := e.DeliverOne(context.Background(), Message{Address: "you@y.io", Body: "   "})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if f.mailFrom != "" {
		t.Fatal("empty body must be rejected before any SMTP command")
	}
}

func TestEmailBadRecipientResetsSession(t *testing.T) {
	f := &fakeSMTP{rcptErr: errors.New("550 no such user")}
	e := newEmailWithClient("me@x.io", f)

	err := e.DeliverOne(context.Background(), Message{Address: "ghost@y.io", Body: "b"})
	if err == nil || !strings.Contains(err.Error(), "invalid recipient") {
		t.Fatalf("err = %v", err)
	}
	if f.resets != 1 {
		t.Fatalf("resets = %d, want 1 (session must stay usable for the next record)", f.resets)
	}

	// Session recovered: the next record goes through.
	f.rcptErr = nil
	if err := e.DeliverOne(context.Background(), Message{Address: "real@y.io", Body: "b"}); err != nil {
		t.Fatalf("DeliverOne after reset: %v", err)
	}
}

func TestEmailClose(t *testing.T) {
	f := &fakeSMTP{}
	e := newEmailWithClient("me@x.io", f)

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !f.quit {
		t.Fatal("Close must quit the SMTP session")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNewEmailRequiresCredentials(t *testing.T) {
	if _, err := NewEmail(EmailConfig{}, Credentials{}); err == nil {
		t.Fatal("want error for missing credentials")
	}
	if _, err := NewEmail(EmailConfig{}, Credentials{Email: "me@x.io"}); err == nil {
		t.Fatal("want error for missing password")
	}
}
