package audit

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
)

func TestRecordAndListRecent(t *testing.T) {
	l := New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	actor := model.Actor{Class: model.ActorAdmin, Subject: "ops@clinic", IP: "10.0.0.1", Path: "/api/v1/admin/appointments/cancel", RequestID: "req-1"}

	for i := 0; i < 5; i++ {
		if err := l.Record(actor, EventBookingCancelled, map[string]any{"appointment_id": i}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	entries, err := l.ListRecent(3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if got := entries[0].Details["appointment_id"]; got != float64(4) {
		t.Fatalf("expected newest entry first, got %v", got)
	}
	if entries[0].Actor != "admin" || entries[0].Subject != "ops@clinic" || entries[0].ID == "" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestRecordDropsTokens(t *testing.T) {
	l := New(t.TempDir(), nil)
	err := l.Record(model.Actor{}, EventBookingRescheduled, map[string]any{
		"reschedule_token": "abcdef0123456789abcdef",
		"appointment_id":   3,
	})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(l.Path())
	if bytes.Contains(raw, []byte("abcdef0123456789")) {
		t.Fatalf("token written to audit log: %s", raw)
	}
	if !bytes.Contains(raw, []byte(`"actor":"public"`)) {
		t.Fatalf("expected public actor default, got %s", raw)
	}
}

func TestLogSwallowsFailures(t *testing.T) {
	dir := t.TempDir()
	// A directory where the log file should be makes every append fail.
	if err := os.Mkdir(dir+"/"+FileName, 0o700); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	l := New(dir, slog.New(slog.NewTextHandler(&buf, nil)))
	l.Log(model.Actor{}, EventBookingCreated, nil)
	if !strings.Contains(buf.String(), "audit write failed") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
}

func TestConcurrentRecordsKeepLinesIntact(t *testing.T) {
	l := New(t.TempDir(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Log(model.Actor{IP: "127.0.0.1"}, EventBookingCreated, map[string]any{"n": i})
		}(i)
	}
	wg.Wait()
	entries, err := l.ListRecent(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(entries))
	}
}
