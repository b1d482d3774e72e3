// Package audit appends one JSON line per security-relevant event to the
// tenant's audit.log.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
)

const FileName = "audit.log"

// Event names written by the booking service.
const (
	EventBookingCreated     = "booking.created"
	EventBookingCancelled   = "booking.cancelled"
	EventBookingRescheduled = "booking.rescheduled"
	EventStatusChanged      = "booking.status_changed"
	EventBookingRejected    = "booking.rejected"
	EventCallbackCreated    = "callback.created"
	EventReviewCreated      = "review.created"
	EventAvailabilitySet    = "availability.updated"
	EventRateLimited        = "ratelimit.rejected"
	EventAdminDenied        = "admin.denied"
	EventStoreRestored      = "store.restored"
	EventStoreError         = "store.error"
)

// Keys dropped from details before they reach disk.
var secretKeys = map[string]bool{
	"token":            true,
	"reschedule_token": true,
	"password":         true,
	"authorization":    true,
}

type Entry struct {
	ID        string         `json:"id"`
	TS        time.Time      `json:"ts"`
	Actor     string         `json:"actor"`
	Subject   string         `json:"subject,omitempty"`
	Event     string         `json:"event"`
	IP        string         `json:"ip,omitempty"`
	Path      string         `json:"path,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type Log struct {
	path   string
	now    func() time.Time
	logger *slog.Logger
	mu     sync.Mutex
}

func New(root string, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{path: filepath.Join(root, FileName), now: time.Now, logger: logger}
}

func (l *Log) Path() string { return l.path }

// Record appends an entry for actor. Each entry is written with a single
// append so concurrent writers never interleave within a line.
func (l *Log) Record(actor model.Actor, event string, details map[string]any) error {
	if actor.Class == "" {
		actor.Class = model.ActorPublic
	}
	e := Entry{
		ID:        uuid.NewString(),
		TS:        l.now().UTC(),
		Actor:     string(actor.Class),
		Subject:   actor.Subject,
		Event:     event,
		IP:        actor.IP,
		Path:      actor.Path,
		RequestID: actor.RequestID,
		Details:   scrub(details),
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Log records the entry and reports failures through slog only. Auditing
// never aborts the operation being audited.
func (l *Log) Log(actor model.Actor, event string, details map[string]any) {
	if l == nil {
		return
	}
	if err := l.Record(actor, event, details); err != nil {
		l.logger.Error("audit write failed", "event", event, "path", l.path, "err", err)
	}
}

// ListRecent returns up to limit entries, newest first. Unparseable lines are skipped.
func (l *Log) ListRecent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	ring := make([]Entry, 0, limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if len(ring) == limit {
			ring = ring[1:]
		}
		ring = append(ring, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]Entry, len(ring))
	for i, e := range ring {
		out[len(ring)-1-i] = e
	}
	return out, nil
}

func scrub(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if secretKeys[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	return out
}
