package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/clinicbook/libs/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeedBackupRestoreFlow(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--data-dir", dir, "--tenant", "clinic-a"}

	out, err := run(t, append(base, "seed", "--from", "2030-01-07", "--days", "7")...)
	if err != nil {
		t.Fatalf("seed: %v %s", err, out)
	}
	if !strings.Contains(out, "seeded") {
		t.Fatalf("unexpected seed output %q", out)
	}
	if _, err := run(t, append(base, "seed", "--from", "2030-01-14", "--days", "7")...); err != nil {
		t.Fatal(err)
	}

	out, err = run(t, append(base, "backups", "list")...)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "store-") {
		t.Fatalf("expected one backup, got %q", out)
	}
	backup := strings.Fields(lines[1])[0]

	storePath := filepath.Join(dir, "tenants", "clinic-a", "store.json")
	out, err = run(t, append(base, "verify", storePath)...)
	if err != nil || !strings.Contains(out, "ok") {
		t.Fatalf("verify: %v %q", err, out)
	}

	out, err = run(t, append(base, "restore", backup)...)
	if err != nil || !strings.Contains(out, "dry run") {
		t.Fatalf("expected a dry run, got %v %q", err, out)
	}
	out, err = run(t, append(base, "restore", backup, "--yes")...)
	if err != nil {
		t.Fatalf("restore: %v %q", err, out)
	}
	if !strings.Contains(out, "previous store kept as") {
		t.Fatalf("expected pre-restore backup, got %q", out)
	}
}

func TestRestoreRejectsMissingBackup(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "--data-dir", dir, "restore", "store-nope.json", "--yes"); err == nil {
		t.Fatalf("expected restore of a missing backup to fail")
	}
}

func TestRatelimitCommands(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "--data-dir", dir, "ratelimit", "reset", "--ip", "203.0.113.7"); err == nil {
		t.Fatalf("expected missing --action to fail")
	}
	out, err := run(t, "--data-dir", dir, "ratelimit", "reset", "--ip", "203.0.113.7", "--action", "book")
	if err != nil || !strings.Contains(out, "reset book") {
		t.Fatalf("reset: %v %q", err, out)
	}
	out, err = run(t, "--data-dir", dir, "ratelimit", "sweep", "--older-than", "1h")
	if err != nil || !strings.Contains(out, "removed 0") {
		t.Fatalf("sweep: %v %q", err, out)
	}
}

func TestAdminToken(t *testing.T) {
	out, err := run(t, "admin-token", "--secret", "s3cret", "--for-tenant", "clinic-a", "--subject", "maria")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(out), "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "maria" || claims.Tenant != "clinic-a" || claims.Role != auth.RoleAdmin {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := run(t, "admin-token", "--secret", "s3cret", "--for-tenant", "../x"); err == nil {
		t.Fatalf("expected invalid tenant to fail")
	}
}
