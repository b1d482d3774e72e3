package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	DirName = "ratelimit"
	// lockBudget bounds the wait for a key's lock; past it the request is
	// counted without the lock.
	lockBudget = 50 * time.Millisecond
)

type windowState struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"window_start"`
}

// FileLimiter keeps one small JSON file per (client, action), sharded into
// subdirectories by the first byte of the key hash.
type FileLimiter struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewFileLimiter(root string, logger *slog.Logger) *FileLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLimiter{dir: filepath.Join(root, DirName), now: time.Now, logger: logger}
}

func keyHash(client, action string) string {
	sum := sha256.Sum256([]byte(client + "|" + action))
	return hex.EncodeToString(sum[:])
}

func (l *FileLimiter) path(client, action string) string {
	h := keyHash(client, action)
	return filepath.Join(l.dir, h[:2], h+".json")
}

func (l *FileLimiter) Check(ctx context.Context, client, action string, rule Rule) (bool, error) {
	if !rule.valid() {
		return true, nil
	}
	path := l.path(client, action)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, err
	}
	unlock := l.tryLock(ctx, path)
	defer unlock()

	now := l.now()
	st := l.read(path)
	if !inWindow(st, now, rule.Window) {
		st = windowState{WindowStart: now.Unix()}
	}
	if st.Count >= rule.Limit {
		return false, nil
	}
	st.Count++
	if err := l.write(path, st); err != nil {
		return false, err
	}
	return true, nil
}

func (l *FileLimiter) IsLimited(_ context.Context, client, action string, rule Rule) (bool, error) {
	if !rule.valid() {
		return false, nil
	}
	st := l.read(l.path(client, action))
	return inWindow(st, l.now(), rule.Window) && st.Count >= rule.Limit, nil
}

func (l *FileLimiter) Reset(_ context.Context, client, action string) error {
	err := os.Remove(l.path(client, action))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep deletes window files untouched for longer than maxAge and returns
// how many were removed.
func (l *FileLimiter) Sweep(maxAge time.Duration) (int, error) {
	cutoff := l.now().Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// tryLock locks the state file itself. The file is rewritten in place, never
// renamed, so every process locks the same inode.
func (l *FileLimiter) tryLock(ctx context.Context, path string) func() {
	ctx, cancel := context.WithTimeout(ctx, lockBudget)
	defer cancel()
	fl := flock.New(path)
	ok, err := fl.TryLockContext(ctx, 5*time.Millisecond)
	if err != nil || !ok {
		l.logger.Debug("rate limit lock not acquired; counting unlocked", "path", path, "err", err)
		return func() {}
	}
	return func() { _ = fl.Unlock() }
}

// read returns the zero state for missing or unreadable files.
func (l *FileLimiter) read(path string) windowState {
	raw, err := os.ReadFile(path)
	if err != nil || len(raw) == 0 {
		return windowState{}
	}
	var st windowState
	if err := json.Unmarshal(raw, &st); err != nil {
		return windowState{}
	}
	return st
}

func (l *FileLimiter) write(path string, st windowState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func inWindow(st windowState, now time.Time, window time.Duration) bool {
	if st.WindowStart == 0 {
		return false
	}
	return now.Sub(time.Unix(st.WindowStart, 0)) < window
}

var _ Limiter = (*FileLimiter)(nil)
