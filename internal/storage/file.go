package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"msgblast/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.attempts.jsonl   (append-only JSON Lines)
//   - <prefix>.users.json       (snapshot, rewritten atomically)
//
// Attempts are kept in memory for stats queries and re-read at open;
// PruneAttempts compacts the jsonl through a tmp+rename rewrite.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	attemptsPath string
	attemptsFile *os.File
	attempts     []AttemptSummary

	usersPath string
	users     map[string]User // keyed by lowercased email
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	attemptsPath := prefix + ".attempts.jsonl"
	usersPath := prefix + ".users.json"

	attempts, err := loadAttempts(attemptsPath)
	if err != nil {
		return nil, err
	}
	users, err := loadUsers(usersPath)
	if err != nil {
		return nil, err
	}

	af, err := os.OpenFile(attemptsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		attemptsPath: attemptsPath,
		attemptsFile: af,
		attempts:     attempts,
		usersPath:    usersPath,
		users:        users,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attemptsFile != nil {
		err := s.attemptsFile.Close()
		s.attemptsFile = nil
		return err
	}
	return nil
}

func (s *fileStore) SaveAttempt(ctx context.Context, a AttemptSummary) error {
	_ = ctx
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attemptsFile == nil {
		return errors.New("attempts file closed")
	}
	if err := json.NewEncoder(s.attemptsFile).Encode(a); err != nil {
		return err
	}
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *fileStore) RecentAttempts(ctx context.Context, userID string, limit int) ([]AttemptSummary, error) {
	_ = ctx
	if limit <= 0 {
		limit = 5
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AttemptSummary
	for _, a := range s.attempts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) OverallStats(ctx context.Context, userID string) (Totals, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var t Totals
	for _, a := range s.attempts {
		if a.UserID != userID {
			continue
		}
		t.TotalAttempts += a.TotalAttempts
		t.TotalSuccess += a.SuccessCount
		t.TotalFailure += a.FailureCount
	}
	return t, nil
}

func (s *fileStore) StatsByChannel(ctx context.Context, userID string) ([]ChannelStats, error) {
	return s.statsGrouped(ctx, userID, time.Time{})
}

func (s *fileStore) StatsSince(ctx context.Context, userID string, since time.Time) ([]ChannelStats, error) {
	return s.statsGrouped(ctx, userID, since)
}

func (s *fileStore) statsGrouped(ctx context.Context, userID string, since time.Time) ([]ChannelStats, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	byChannel := map[string]*ChannelStats{}
	for _, a := range s.attempts {
		if a.UserID != userID {
			continue
		}
		if !since.IsZero() && a.Timestamp.Before(since) {
			continue
		}
		cs := byChannel[a.Channel]
		if cs == nil {
			cs = &ChannelStats{Channel: a.Channel}
			byChannel[a.Channel] = cs
		}
		cs.Attempts += a.TotalAttempts
		cs.Success += a.SuccessCount
		cs.Failure += a.FailureCount
	}

	out := make([]ChannelStats, 0, len(byChannel))
	for _, cs := range byChannel {
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

func (s *fileStore) PruneAttempts(ctx context.Context, olderThan time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.attempts[:0:0]
	removed := 0
	for _, a := range s.attempts {
		if a.Timestamp.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	if removed == 0 {
		return 0, nil
	}

	// Compact the jsonl: write kept records to a tmp file and swap it in.
	tmp := s.attemptsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, a := range kept {
		if err := enc.Encode(a); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	if s.attemptsFile != nil {
		_ = s.attemptsFile.Close()
		s.attemptsFile = nil
	}
	if err := os.Rename(tmp, s.attemptsPath); err != nil {
		return 0, err
	}
	af, err := os.OpenFile(s.attemptsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	s.attemptsFile = af
	s.attempts = kept
	return removed, nil
}

func (s *fileStore) CreateUser(ctx context.Context, u User) error {
	_ = ctx
	key := strings.ToLower(strings.TrimSpace(u.Email))
	if key == "" {
		return errors.New("email is required")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[key]; exists {
		return ErrDuplicateEmail
	}
	if s.users == nil {
		s.users = map[string]User{}
	}
	s.users[key] = u
	return s.writeUsersLocked()
}

func (s *fileStore) UserByEmail(ctx context.Context, email string) (User, error) {
	_ = ctx
	key := strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[key]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *fileStore) writeUsersLocked() error {
	tmp := s.usersPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.users); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.usersPath)
}

func loadAttempts(path string) ([]AttemptSummary, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []AttemptSummary
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var a AttemptSummary
		if err := json.Unmarshal([]byte(line), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, sc.Err()
}

func loadUsers(path string) (map[string]User, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]User{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m map[string]User
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]User{}
	}
	return m, nil
}
