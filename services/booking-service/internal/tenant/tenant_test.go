package tenant

import (
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePrecedence(t *testing.T) {
	dir := t.TempDir()
	res := Resolver{DataDir: dir, Override: "pinned", FromHost: true}

	r := httptest.NewRequest("GET", "http://clinica-a.example.com/api", nil)
	r.Header.Set(DefaultHeader, "Clinica-B")
	got, err := res.Resolve(r)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "clinica-b" || got.Root != filepath.Join(dir, "tenants", "clinica-b") {
		t.Fatalf("expected header tenant, got %+v", got)
	}
	if info, err := os.Stat(got.Root); err != nil || !info.IsDir() {
		t.Fatalf("expected tenant root to be created")
	}

	r.Header.Del(DefaultHeader)
	got, _ = res.Resolve(r)
	if got.ID != "pinned" {
		t.Fatalf("expected override tenant, got %+v", got)
	}

	res.Override = ""
	got, _ = res.Resolve(r)
	if got.ID != "clinica-a" {
		t.Fatalf("expected host tenant, got %+v", got)
	}

	r = httptest.NewRequest("GET", "http://localhost:8080/api", nil)
	got, _ = res.Resolve(r)
	if got.ID != DefaultID {
		t.Fatalf("expected default tenant, got %+v", got)
	}
}

func TestResolveLegacyRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "store.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	res := Resolver{DataDir: dir, FromHost: true}
	got, err := res.Resolve(httptest.NewRequest("GET", "http://clinica-a.example.com/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Legacy || got.Root != dir {
		t.Fatalf("expected legacy root, got %+v", got)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(DefaultHeader, "other")
	got, _ = res.Resolve(r)
	if got.Legacy || got.ID != "other" {
		t.Fatalf("expected header to win over legacy root, got %+v", got)
	}

	r.Header.Set(DefaultHeader, "Default")
	got, err = res.Resolve(r)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Legacy || got.Root != dir {
		t.Fatalf("expected the default id to map to the legacy root, got %+v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "tenants", DefaultID)); !os.IsNotExist(err) {
		t.Fatalf("expected no second root for the default tenant, got %v", err)
	}
	all, err := res.All()
	if err != nil {
		t.Fatal(err)
	}
	for _, tn := range all {
		if tn.ID == DefaultID && !tn.Legacy {
			t.Fatalf("default tenant listed twice: %+v", all)
		}
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	res := Resolver{DataDir: t.TempDir()}
	for _, bad := range []string{"../etc", "a/b", ".hidden", "-x", "a b"} {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set(DefaultHeader, bad)
		if _, err := res.Resolve(r); !errors.Is(err, ErrInvalidTenant) {
			t.Fatalf("expected ErrInvalidTenant for %q, got %v", bad, err)
		}
	}
}

func TestAllListsExistingRoots(t *testing.T) {
	dir := t.TempDir()
	res := Resolver{DataDir: dir}

	got, err := res.All()
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no tenants, got %v %v", got, err)
	}
	for _, id := range []string{"zeta", "alpha"} {
		if _, err := res.ForID(id); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "store.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = res.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || !got[0].Legacy || got[1].ID != "alpha" || got[2].ID != "zeta" {
		t.Fatalf("unexpected tenants %+v", got)
	}

	sel, err := res.Select("")
	if err != nil || !sel.Legacy {
		t.Fatalf("expected legacy selection, got %+v %v", sel, err)
	}
}

func TestAllowedTenantsAreClosed(t *testing.T) {
	dir := t.TempDir()
	res := Resolver{DataDir: dir, Allowed: []string{"Clinica-A"}}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(DefaultHeader, "intruder")
	_, err := res.Resolve(r)
	if !errors.Is(err, ErrUnknownTenant) || !errors.Is(err, ErrInvalidTenant) {
		t.Fatalf("expected ErrUnknownTenant, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tenants", "intruder")); !os.IsNotExist(err) {
		t.Fatalf("expected no root for a rejected tenant, got %v", err)
	}

	r.Header.Set(DefaultHeader, "clinica-a")
	if got, err := res.Resolve(r); err != nil || got.ID != "clinica-a" {
		t.Fatalf("expected allowed tenant, got %+v %v", got, err)
	}
	r.Header.Del(DefaultHeader)
	if got, err := res.Resolve(r); err != nil || got.ID != DefaultID {
		t.Fatalf("expected default tenant to stay reachable, got %+v %v", got, err)
	}
}
