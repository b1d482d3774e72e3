package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
)

var ErrInvalidBackup = errors.New("invalid backup")

type RestoreReport struct {
	Source           string       `json:"source"`
	PreRestoreBackup string       `json:"pre_restore_backup,omitempty"`
	Before           model.Counts `json:"before"`
	After            model.Counts `json:"after"`
	// CurrentUnreadable is set when the replaced document could not be
	// decoded; Before is zero in that case.
	CurrentUnreadable bool `json:"current_unreadable,omitempty"`
}

// Inspect decodes the file at path with the store's key and reports
// structural issues. A decode failure is an error; issues are not.
func (s *Store) Inspect(path string) (model.Snapshot, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Snapshot{}, nil, err
	}
	if len(raw) == 0 {
		return model.Snapshot{}, nil, fmt.Errorf("%w: %s is empty", ErrInvalidBackup, path)
	}
	snap, _, err := s.codec.decode(raw)
	if err != nil {
		return model.Snapshot{}, nil, fmt.Errorf("%w: %s: %v", ErrInvalidBackup, path, err)
	}
	return snap, snap.Validate(), nil
}

// Restore replaces the document with the backup at nameOrPath. The backup
// must decode and validate cleanly. The current bytes are kept as a
// pre-restore backup before the overwrite.
func (s *Store) Restore(ctx context.Context, nameOrPath string) (report RestoreReport, err error) {
	ctx, span := tracer.Start(ctx, "store.Restore")
	defer func() { endSpan(span, err) }()

	source := s.ResolveBackup(nameOrPath)
	snap, issues, err := s.Inspect(source)
	if err != nil {
		return RestoreReport{}, err
	}
	if len(issues) > 0 {
		return RestoreReport{}, fmt.Errorf("%w: %s", ErrInvalidBackup, strings.Join(issues, "; "))
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return RestoreReport{}, err
	}
	defer unlock()

	report = RestoreReport{Source: source}
	current, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return RestoreReport{}, fmt.Errorf("read store: %w", err)
	}
	if len(current) > 0 {
		if before, _, err := s.codec.decode(current); err == nil {
			report.Before = before.Counts()
		} else {
			report.CurrentUnreadable = true
		}
		name, err := s.saveBackup(current, preRestoreSuffix)
		if err != nil {
			return RestoreReport{}, fmt.Errorf("pre-restore backup: %w", err)
		}
		report.PreRestoreBackup = name
		if err := s.prune(name); err != nil {
			s.opts.Logger.Warn("backup pruning failed", "dir", s.backupDir, "err", err)
		}
	}

	if err := s.writeLocked(snap, false); err != nil {
		return RestoreReport{}, err
	}
	report.After = snap.Counts()
	s.opts.Logger.Info("store restored",
		"source", source,
		"pre_restore_backup", report.PreRestoreBackup,
		"appointments_before", report.Before.Appointments,
		"appointments_after", report.After.Appointments,
	)
	return report, nil
}
