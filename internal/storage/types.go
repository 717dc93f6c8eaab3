package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled       = errors.New("storage disabled")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrUserNotFound   = errors.New("user not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl attempts + users snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AttemptSummary is the persisted aggregate record of one batch dispatch.
// It is append-only: created once per batch, never mutated.
type AttemptSummary struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Channel       string    `json:"channel"`
	Timestamp     time.Time `json:"timestamp"`
	TotalAttempts int       `json:"total_attempts"`
	SuccessCount  int       `json:"success_count"`
	FailureCount  int       `json:"failure_count"`
}

// User is an account row. PasswordHash is a bcrypt hash.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Totals are a user's all-time attempt counters.
type Totals struct {
	TotalAttempts int `json:"totalAttempts"`
	TotalSuccess  int `json:"totalSuccess"`
	TotalFailure  int `json:"totalFailure"`
}

// ChannelStats are a user's counters grouped by channel.
type ChannelStats struct {
	Channel  string `json:"channel"`
	Attempts int    `json:"attempts"`
	Success  int    `json:"success"`
	Failure  int    `json:"failure"`
}
