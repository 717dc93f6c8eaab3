//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"msgblast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveAttempt(ctx context.Context, a AttemptSummary) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_attempts(id, user_id, channel, ts, total, success, failure)
		 VALUES(?,?,?,?,?,?,?)`,
		a.ID, a.UserID, a.Channel, a.Timestamp.UnixMilli(),
		a.TotalAttempts, a.SuccessCount, a.FailureCount,
	)
	return err
}

func (s *sqliteStore) RecentAttempts(ctx context.Context, userID string, limit int) ([]AttemptSummary, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, channel, ts, total, success, failure
		 FROM message_attempts WHERE user_id = ? ORDER BY ts DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptSummary
	for rows.Next() {
		var a AttemptSummary
		var ms int64
		if err := rows.Scan(&a.ID, &a.UserID, &a.Channel, &ms,
			&a.TotalAttempts, &a.SuccessCount, &a.FailureCount); err != nil {
			return nil, err
		}
		a.Timestamp = time.UnixMilli(ms)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) OverallStats(ctx context.Context, userID string) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total),0), COALESCE(SUM(success),0), COALESCE(SUM(failure),0)
		 FROM message_attempts WHERE user_id = ?`,
		userID,
	).Scan(&t.TotalAttempts, &t.TotalSuccess, &t.TotalFailure)
	return t, err
}

func (s *sqliteStore) StatsByChannel(ctx context.Context, userID string) ([]ChannelStats, error) {
	return s.groupedStats(ctx, userID, 0)
}

func (s *sqliteStore) StatsSince(ctx context.Context, userID string, since time.Time) ([]ChannelStats, error) {
	return s.groupedStats(ctx, userID, since.UnixMilli())
}

func (s *sqliteStore) groupedStats(ctx context.Context, userID string, sinceMS int64) ([]ChannelStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, SUM(total), SUM(success), SUM(failure)
		 FROM message_attempts WHERE user_id = ? AND ts >= ?
		 GROUP BY channel ORDER BY channel`,
		userID, sinceMS,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChannelStats
	for rows.Next() {
		var cs ChannelStats
		if err := rows.Scan(&cs.Channel, &cs.Attempts, &cs.Success, &cs.Failure); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneAttempts(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM message_attempts WHERE ts < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) CreateUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, email, password_hash, created_at) VALUES(?,?,?,?)`,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash,
		u.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicateEmail
	}
	return err
}

func (s *sqliteStore) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return u, nil
}
