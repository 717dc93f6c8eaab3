package dispatch

import (
	"errors"
	"strings"
	"time"

	"msgblast/internal/recipient"
	"msgblast/internal/sender"
)

// Policy resolves the effective outgoing text for a record: the shared
// message when UseSharedMessage is set, otherwise the record's own message.
type Policy struct {
	UseSharedMessage bool
	SharedMessage    string
}

// ErrMissingMessage marks a record whose policy resolution produced no body.
// It is always a per-record failure, never a batch abort.
var ErrMissingMessage = errors.New("missing message")

// Resolve returns the message body for rec, or ErrMissingMessage.
func (p Policy) Resolve(rec recipient.Record) (string, error) {
	msg := rec.Message
	if p.UseSharedMessage {
		msg = p.SharedMessage
	}
	if strings.TrimSpace(msg) == "" {
		return "", ErrMissingMessage
	}
	return msg, nil
}

// Batch precondition errors: these fail the whole dispatch call before any
// record is attempted. Everything else is absorbed into the BatchResult.
var (
	ErrNoRecords       = errors.New("no records to dispatch")
	ErrNoSharedMessage = errors.New("shared message is empty")
	ErrNilSender       = errors.New("no sender configured")
)

// Failure is one failed record with its classified reason.
type Failure struct {
	Address string `json:"address"`
	Reason  string `json:"error"`
}

// BatchResult is the full outcome of one dispatch. The outcome lists
// partition the input exactly: every record appears in Successes or
// Failures once, in input order.
type BatchResult struct {
	ID      string
	Channel sender.Channel

	TotalProcessed int
	SuccessCount   int
	FailureCount   int

	Successes []string
	Failures  []Failure

	StartedAt  time.Time
	FinishedAt time.Time
}
