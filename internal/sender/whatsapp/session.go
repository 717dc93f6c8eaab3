package whatsapp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"msgblast/internal/sender"
	"msgblast/pkg/logx"
)

// DOM anchors of the web client. Kept in one place; they are the only
// coupling to the actual page structure.
const (
	DefaultEntryURL = "https://web.whatsapp.com"

	sendButtonSelector = `button[aria-label="Send"]`
	pairingQRSelector  = `[data-testid="qrcode"]`
)

// State is the session lifecycle position.
type State int

const (
	Uninitialized State = iota
	Launching
	AwaitingAuthorization
	Ready
	Unavailable // terminal: the automation client failed to launch
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "NOT_INITIALIZED"
	case Launching:
		return "LAUNCHING"
	case AwaitingAuthorization:
		return "AWAITING_AUTH"
	case Ready:
		return "AUTHORIZED"
	case Unavailable:
		return "UNAVAILABLE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session owns the long-lived automation client. It is initialized once,
// authorized by a human scanning the pairing code, and then shared by every
// WhatsApp dispatch for its lifetime.
//
// All access is serialized on the session mutex: the page holds navigation
// state for exactly one recipient at a time, so two interleaved sends would
// corrupt each other.
type Session struct {
	mu       sync.Mutex
	auto     Automator
	entryURL string
	state    State
	log      logx.Logger
}

func NewSession(auto Automator, entryURL string, log logx.Logger) *Session {
	if strings.TrimSpace(entryURL) == "" {
		entryURL = DefaultEntryURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{auto: auto, entryURL: entryURL, state: Uninitialized, log: log}
}

// State returns the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize launches the client and navigates to the entry point, leaving
// the session waiting for pairing. Calling it again while the session is
// live is a no-op that returns the current state. A launch failure parks
// the session in Unavailable permanently.
func (s *Session) Initialize(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Launching, AwaitingAuthorization, Ready:
		return s.state, nil
	case Unavailable:
		return s.state, sender.ErrSessionUnavailable
	}

	s.state = Launching
	if err := s.auto.Start(ctx); err != nil {
		s.state = Unavailable
		s.log.Error("automation client failed to launch", logx.Err(err))
		return s.state, fmt.Errorf("whatsapp: launch: %w", err)
	}
	if err := s.auto.Navigate(ctx, s.entryURL); err != nil {
		s.state = Unavailable
		s.log.Error("entry navigation failed", logx.Err(err))
		return s.state, fmt.Errorf("whatsapp: open %s: %w", s.entryURL, err)
	}
	s.state = AwaitingAuthorization
	s.log.Info("whatsapp session awaiting authorization")
	return s.state, nil
}

// CheckAuthorization polls the live page for completed pairing: the pairing
// code element disappearing means login finished. It is side-effect-free and
// safe to call repeatedly (the UI polls every couple of seconds).
func (s *Session) CheckAuthorization(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != AwaitingAuthorization {
		return s.state, nil
	}
	pairing, err := s.auto.Exists(ctx, pairingQRSelector)
	if err != nil {
		return s.state, fmt.Errorf("whatsapp: authorization probe: %w", err)
	}
	if !pairing {
		s.state = Ready
		s.log.Info("whatsapp session authorized")
	}
	return s.state, nil
}

// Shutdown stops the automation client and returns the session to
// Uninitialized so it can be relaunched.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.auto.Stop(ctx)
	s.state = Uninitialized
	return err
}

// exclusive runs fn with the session lock held, failing fast when the
// session cannot send. Only one caller is ever inside fn at a time.
func (s *Session) exclusive(fn func(a Automator) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Unavailable:
		return sender.ErrSessionUnavailable
	case Ready:
		return fn(s.auto)
	default:
		return sender.ErrSessionNotReady
	}
}

// composeURL builds the deep link that opens a chat with the message
// pre-filled in the compose box.
func composeURL(entryURL, phone, text string) string {
	return fmt.Sprintf("%s/send?phone=%s&text=%s",
		strings.TrimRight(entryURL, "/"), url.QueryEscape(phone), url.QueryEscape(text))
}
