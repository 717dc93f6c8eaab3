// Package sender defines the per-channel delivery capability and its
// Email and SMS implementations. The WhatsApp implementation lives in the
// whatsapp subpackage because it drags a browser session along.
package sender

import (
	"context"
	"errors"
)

// Channel is one of the three delivery mechanisms.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelSMS, ChannelEmail:
		return true
	}
	return false
}

// Message is one resolved outgoing message for one recipient.
// Subject is only meaningful for email and may be empty.
type Message struct {
	Address string
	Body    string
	Subject string
}

// Sender delivers one message to one recipient.
//
// A nil return is a confirmed (or at least triggered) delivery; any error is
// a classified per-record failure whose text becomes the failure reason.
// Implementations must catch their own internal faults: no panic and no
// unclassified error may cross this boundary mid-batch.
type Sender interface {
	Channel() Channel
	DeliverOne(ctx context.Context, msg Message) error
}

// Closer is implemented by senders that hold a transport session for the
// whole batch (currently only email).
type Closer interface {
	Close() error
}

var (
	// ErrEmptyMessage is reported when a record resolves to an empty body.
	ErrEmptyMessage = errors.New("message is missing or invalid")

	// ErrSessionNotReady short-circuits WhatsApp sends before pairing completes.
	ErrSessionNotReady = errors.New("session not authorized")

	// ErrSessionUnavailable means the automation client failed to launch.
	ErrSessionUnavailable = errors.New("session unavailable")

	// ErrSendTimeout is reported when the compose view never became interactive.
	ErrSendTimeout = errors.New("timeout")
)
