package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"msgblast/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "msgblast.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func attempt(user, channel string, total, ok int, ts time.Time) AttemptSummary {
	return AttemptSummary{
		ID:            user + "-" + channel + "-" + ts.Format("150405.000"),
		UserID:        user,
		Channel:       channel,
		Timestamp:     ts,
		TotalAttempts: total,
		SuccessCount:  ok,
		FailureCount:  total - ok,
	}
}

func TestFileStoreAttemptsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestStore(t, dir)
	now := time.Now()
	if err := st.SaveAttempt(ctx, attempt("u1", "sms", 10, 8, now)); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}
	if err := st.SaveAttempt(ctx, attempt("u1", "email", 4, 4, now)); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2 := openTestStore(t, dir)
	got, err := st2.OverallStats(ctx, "u1")
	if err != nil {
		t.Fatalf("OverallStats: %v", err)
	}
	if got.TotalAttempts != 14 || got.TotalSuccess != 12 || got.TotalFailure != 2 {
		t.Fatalf("totals after reopen = %+v", got)
	}
}

func TestFileStoreStatsAreScopedToUser(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	now := time.Now()

	_ = st.SaveAttempt(ctx, attempt("alice", "sms", 5, 5, now))
	_ = st.SaveAttempt(ctx, attempt("bob", "sms", 100, 0, now))

	got, err := st.OverallStats(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalAttempts != 5 || got.TotalFailure != 0 {
		t.Fatalf("alice totals leaked bob's rows: %+v", got)
	}
}

func TestFileStoreStatsByChannel(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	now := time.Now()

	_ = st.SaveAttempt(ctx, attempt("u1", "whatsapp", 3, 2, now))
	_ = st.SaveAttempt(ctx, attempt("u1", "whatsapp", 7, 7, now))
	_ = st.SaveAttempt(ctx, attempt("u1", "sms", 2, 1, now))

	stats, err := st.StatsByChannel(ctx, "u1")
	if err != nil {
		t.Fatalf("StatsByChannel: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d channels, want 2", len(stats))
	}
	// Sorted by channel name.
	if stats[0].Channel != "sms" || stats[1].Channel != "whatsapp" {
		t.Fatalf("order = %v", stats)
	}
	if stats[1].Attempts != 10 || stats[1].Success != 9 || stats[1].Failure != 1 {
		t.Fatalf("whatsapp stats = %+v", stats[1])
	}
}

func TestFileStoreStatsSince(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	now := time.Now()

	_ = st.SaveAttempt(ctx, attempt("u1", "sms", 10, 10, now.Add(-48*time.Hour)))
	_ = st.SaveAttempt(ctx, attempt("u1", "sms", 3, 3, now))

	stats, err := st.StatsSince(ctx, "u1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("StatsSince: %v", err)
	}
	if len(stats) != 1 || stats[0].Attempts != 3 {
		t.Fatalf("stats = %+v, want only the recent batch", stats)
	}
}

func TestFileStoreRecentAttempts(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 8; i++ {
		_ = st.SaveAttempt(ctx, attempt("u1", "sms", i+1, i+1, base.Add(time.Duration(i)*time.Minute)))
	}

	recent, err := st.RecentAttempts(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("RecentAttempts: %v", err)
	}
	if len(recent) != 5 {
		t.Fatalf("got %d attempts, want 5", len(recent))
	}
	// Newest first.
	for i := 1; i < len(recent); i++ {
		if recent[i].Timestamp.After(recent[i-1].Timestamp) {
			t.Fatalf("recent attempts not newest-first: %v then %v", recent[i-1].Timestamp, recent[i].Timestamp)
		}
	}
	if recent[0].TotalAttempts != 8 {
		t.Fatalf("newest attempt = %+v", recent[0])
	}
}

func TestFileStorePruneCompacts(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	st := openTestStore(t, dir)
	now := time.Now()

	_ = st.SaveAttempt(ctx, attempt("u1", "sms", 1, 1, now.Add(-72*time.Hour)))
	_ = st.SaveAttempt(ctx, attempt("u1", "sms", 2, 2, now.Add(-50*time.Hour)))
	_ = st.SaveAttempt(ctx, attempt("u1", "sms", 3, 3, now))

	removed, err := st.PruneAttempts(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneAttempts: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	// Appending still works after the compaction swap.
	if err := st.SaveAttempt(ctx, attempt("u1", "sms", 4, 4, now)); err != nil {
		t.Fatalf("SaveAttempt after prune: %v", err)
	}
	_ = st.Close()

	st2 := openTestStore(t, dir)
	got, err := st2.OverallStats(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalAttempts != 7 {
		t.Fatalf("totals after prune+reopen = %+v, want 3+4 only", got)
	}

	if n, err := st2.PruneAttempts(ctx, now.Add(-24*time.Hour)); err != nil || n != 0 {
		t.Fatalf("idle prune = %d, %v", n, err)
	}
}

func TestFileStoreUsers(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	st := openTestStore(t, dir)

	u := User{ID: "id-1", Email: "Ana@Example.com", PasswordHash: "x"}
	if err := st.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	// Lookup is case-insensitive.
	got, err := st.UserByEmail(ctx, "ana@example.COM")
	if err != nil {
		t.Fatalf("UserByEmail: %v", err)
	}
	if got.ID != "id-1" {
		t.Fatalf("user = %+v", got)
	}

	if err := st.CreateUser(ctx, User{ID: "id-2", Email: "ANA@example.com"}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("duplicate email: err = %v", err)
	}
	if _, err := st.UserByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("missing user: err = %v", err)
	}

	// Users survive reopen.
	_ = st.Close()
	st2 := openTestStore(t, dir)
	if _, err := st2.UserByEmail(ctx, "ana@example.com"); err != nil {
		t.Fatalf("UserByEmail after reopen: %v", err)
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: store = %v, err = %v, want nil/nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must error")
	}
}
