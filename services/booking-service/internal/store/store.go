// Package store persists one tenant's snapshot in a single JSON document.
//
// Every operation runs under an exclusive advisory lock on a sidecar lock
// file, so concurrent processes (and goroutines) are serialised. Writes copy
// the current bytes into a timestamped backup before atomically replacing the
// document, which gives every overwrite a rollback point.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrLockTimeout = errors.New("store lock timeout")
	ErrCorrupted   = errors.New("store corrupted")
)

const (
	FileName      = "store.json"
	lockSuffix    = ".lock"
	backupDirName = "backups"

	DefaultLockTimeout   = 750 * time.Millisecond
	DefaultRetryInterval = 25 * time.Millisecond
	DefaultRetention     = 30
)

var tracer = otel.Tracer("github.com/md-rashed-zaman/clinicbook/store")

type Options struct {
	LockTimeout   time.Duration
	RetryInterval time.Duration
	// Retention is the number of backups kept; older ones are pruned.
	Retention int
	// Secret enables at-rest encryption when non-empty.
	Secret string
	Now    func() time.Time
	Logger *slog.Logger
}

type Store struct {
	root      string
	path      string
	lockPath  string
	backupDir string
	opts      Options
	codec     *codec
	encrypted atomic.Bool
}

// UpdateFunc receives the current snapshot and returns the snapshot to
// persist. Returning changed=false skips the write.
type UpdateFunc func(current model.Snapshot) (next model.Snapshot, changed bool, err error)

func New(root string, opts Options) (*Store, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c, err := newCodec(opts.Secret)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(root, backupDirName), 0o700); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	path := filepath.Join(root, FileName)
	return &Store{
		root:      root,
		path:      path,
		lockPath:  path + lockSuffix,
		backupDir: filepath.Join(root, backupDirName),
		opts:      opts,
		codec:     c,
	}, nil
}

func (s *Store) Root() string { return s.root }
func (s *Store) Path() string { return s.path }

// Encrypted reports whether the document was encrypted at the last read or write.
func (s *Store) Encrypted() bool { return s.encrypted.Load() }

// EncryptionConfigured reports whether writes will be encrypted.
func (s *Store) EncryptionConfigured() bool { return s.codec.encrypting() }

// Read returns the current snapshot, bootstrapping an empty document when none exists.
func (s *Store) Read(ctx context.Context) (snap model.Snapshot, err error) {
	ctx, span := tracer.Start(ctx, "store.Read")
	defer func() { endSpan(span, err) }()

	unlock, err := s.lock(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	defer unlock()

	return s.load(true)
}

// Write replaces the document with snap. With makeBackup the previous bytes
// are copied to a backup first; a failed backup aborts the write.
func (s *Store) Write(ctx context.Context, snap model.Snapshot, makeBackup bool) (err error) {
	ctx, span := tracer.Start(ctx, "store.Write")
	defer func() { endSpan(span, err) }()

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return s.writeLocked(snap, makeBackup)
}

// Update runs read, fn and write under one lock acquisition, closing the
// check-then-act window between validating a booking and persisting it.
func (s *Store) Update(ctx context.Context, fn UpdateFunc) (err error) {
	ctx, span := tracer.Start(ctx, "store.Update")
	defer func() { endSpan(span, err) }()

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	// The empty document stays in memory here; the first real write then has
	// nothing to back up.
	current, err := s.load(false)
	if err != nil {
		return err
	}
	next, changed, err := fn(current)
	if err != nil || !changed {
		return err
	}
	return s.writeLocked(next, true)
}

type Stats struct {
	Encrypted            bool         `json:"encrypted"`
	EncryptionConfigured bool         `json:"encryption_configured"`
	SizeBytes            int64        `json:"size_bytes"`
	Backups              int          `json:"backups"`
	LatestBackup         string       `json:"latest_backup,omitempty"`
	Counts               model.Counts `json:"counts"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	snap, err := s.Read(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Encrypted:            s.Encrypted(),
		EncryptionConfigured: s.EncryptionConfigured(),
		Counts:               snap.Counts(),
	}
	if info, err := os.Stat(s.path); err == nil {
		st.SizeBytes = info.Size()
	}
	backups, err := s.Backups()
	if err != nil {
		return Stats{}, err
	}
	st.Backups = len(backups)
	if len(backups) > 0 {
		st.LatestBackup = backups[len(backups)-1].Name
	}
	return st, nil
}

// load must be called with the lock held. With persist, an absent document
// is written out as an empty one.
func (s *Store) load(persist bool) (model.Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return model.Snapshot{}, fmt.Errorf("read store: %w", err)
	}
	if len(raw) == 0 {
		snap := model.NewSnapshot()
		if !persist {
			return snap, nil
		}
		if err := s.writeLocked(snap, false); err != nil {
			return model.Snapshot{}, fmt.Errorf("bootstrap store: %w", err)
		}
		return snap, nil
	}
	snap, encrypted, err := s.codec.decode(raw)
	if err != nil {
		s.opts.Logger.Error("store document unreadable", "path", s.path, "err", err)
		return model.Snapshot{}, fmt.Errorf("%w: %s: %v", ErrCorrupted, s.path, err)
	}
	s.encrypted.Store(encrypted)
	return snap, nil
}

// writeLocked must be called with the lock held.
func (s *Store) writeLocked(snap model.Snapshot, makeBackup bool) error {
	snap.Normalize()
	data, err := s.codec.encode(snap)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	backedUp := false
	if makeBackup {
		current, err := os.ReadFile(s.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read store for backup: %w", err)
		}
		if len(current) > 0 {
			if _, err := s.saveBackup(current, ""); err != nil {
				return fmt.Errorf("backup before write: %w", err)
			}
			backedUp = true
		}
	}

	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	s.encrypted.Store(s.codec.encrypting())

	if backedUp {
		if err := s.prune(""); err != nil {
			s.opts.Logger.Warn("backup pruning failed", "dir", s.backupDir, "err", err)
		}
	}
	return nil
}

// writeFileAtomic writes to a temp file in the same directory, syncs it and
// renames it over path, so readers see either the old or the new document.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
