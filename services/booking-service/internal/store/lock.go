package store

import (
	"context"
	"fmt"

	"github.com/gofrs/flock"
)

// lock takes the exclusive store lock, retrying every RetryInterval until
// LockTimeout. A fresh handle per call gives each caller its own open file
// description, so goroutines in one process exclude each other as well.
func (s *Store) lock(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()

	fl := flock.New(s.lockPath)
	ok, err := fl.TryLockContext(ctx, s.opts.RetryInterval)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w after %s", ErrLockTimeout, s.opts.LockTimeout)
		}
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w after %s", ErrLockTimeout, s.opts.LockTimeout)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.opts.Logger.Warn("store unlock failed", "path", s.lockPath, "err", err)
		}
	}, nil
}
