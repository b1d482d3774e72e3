package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	backupPrefix      = "store-"
	backupExt         = ".json"
	preRestoreSuffix  = ".prerestore"
	backupStampLayout = "20060102T150405.000000000Z"
)

type BackupInfo struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	TakenAt    time.Time `json:"taken_at"`
	PreRestore bool      `json:"pre_restore"`
}

// backupName embeds a fixed-width UTC stamp, so lexicographic order is
// chronological order.
func backupName(t time.Time, suffix string) string {
	return backupPrefix + t.UTC().Format(backupStampLayout) + suffix + backupExt
}

func parseBackupName(name string) (time.Time, bool, bool) {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupExt) {
		return time.Time{}, false, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupExt)
	pre := strings.HasSuffix(stamp, preRestoreSuffix)
	stamp = strings.TrimSuffix(stamp, preRestoreSuffix)
	t, err := time.Parse(backupStampLayout, stamp)
	if err != nil {
		return time.Time{}, false, false
	}
	return t, pre, true
}

// saveBackup stores data under a fresh timestamped name. The bytes land in a
// temp file first and are hard-linked into place, so a backup is either
// complete or absent and an existing backup is never overwritten.
func (s *Store) saveBackup(data []byte, suffix string) (string, error) {
	tmp, err := os.CreateTemp(s.backupDir, ".backup-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	stamp := s.opts.Now()
	for attempt := 0; attempt < 1000; attempt++ {
		name := backupName(stamp, suffix)
		err := os.Link(tmpName, filepath.Join(s.backupDir, name))
		if err == nil {
			syncDir(s.backupDir)
			return name, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
		stamp = stamp.Add(time.Nanosecond)
	}
	return "", fmt.Errorf("no free backup name near %s", s.opts.Now().UTC().Format(backupStampLayout))
}

// Backups lists backups oldest first.
func (s *Store) Backups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []BackupInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		taken, pre, ok := parseBackupName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{
			Name:       e.Name(),
			Path:       filepath.Join(s.backupDir, e.Name()),
			Size:       info.Size(),
			TakenAt:    taken,
			PreRestore: pre,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// prune removes the oldest backups beyond the retention count.
// prune removes the oldest backups beyond the retention limit. The backup
// named keep, if any, is never removed.
func (s *Store) prune(keep string) error {
	backups, err := s.Backups()
	if err != nil {
		return err
	}
	excess := len(backups) - s.opts.Retention
	for i := 0; i < len(backups) && excess > 0; i++ {
		if backups[i].Name == keep {
			continue
		}
		if err := os.Remove(backups[i].Path); err != nil && !os.IsNotExist(err) {
			return err
		}
		excess--
	}
	return nil
}

// ResolveBackup accepts either a path or a bare backup name from Backups.
func (s *Store) ResolveBackup(nameOrPath string) string {
	if filepath.Base(nameOrPath) == nameOrPath {
		candidate := filepath.Join(s.backupDir, nameOrPath)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return nameOrPath
}
