package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"msgblast/pkg/logx"
)

// Store is the persistence API used by the dispatch surface and dashboard.
type Store interface {
	// SaveAttempt appends one immutable attempt summary.
	SaveAttempt(ctx context.Context, a AttemptSummary) error
	// RecentAttempts returns the user's newest summaries, newest first.
	RecentAttempts(ctx context.Context, userID string, limit int) ([]AttemptSummary, error)
	// OverallStats sums the user's counters across all channels and time.
	OverallStats(ctx context.Context, userID string) (Totals, error)
	// StatsByChannel groups the user's counters per channel.
	StatsByChannel(ctx context.Context, userID string) ([]ChannelStats, error)
	// StatsSince groups the user's counters per channel for attempts at or
	// after the given instant.
	StatsSince(ctx context.Context, userID string, since time.Time) ([]ChannelStats, error)
	// PruneAttempts deletes summaries older than the cutoff, returning how
	// many were removed.
	PruneAttempts(ctx context.Context, olderThan time.Time) (int, error)

	CreateUser(ctx context.Context, u User) error
	UserByEmail(ctx context.Context, email string) (User, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
