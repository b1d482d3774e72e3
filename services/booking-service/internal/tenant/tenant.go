// Package tenant maps a request to the directory holding that clinic's
// store, rate-limit files and audit log.
package tenant

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
)

const (
	DefaultID     = "default"
	DefaultHeader = "X-Tenant-Id"
	tenantsDir    = "tenants"
	legacyFile    = "store.json"
)

var ErrInvalidTenant = errors.New("invalid tenant id")

// ErrUnknownTenant is returned for well-formed ids outside Resolver.Allowed.
var ErrUnknownTenant = fmt.Errorf("%w: not configured", ErrInvalidTenant)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// Hosts that never name a tenant.
var genericLabels = map[string]bool{"www": true, "api": true, "app": true, "localhost": true}

type Tenant struct {
	ID   string
	Root string
	// Legacy is set when the single-tenant layout at the data dir root is in use.
	Legacy bool
}

type Resolver struct {
	DataDir string
	Header  string
	// Override pins every request to one tenant, unless a header names another.
	Override string
	// FromHost derives the tenant from the first label of a multi-label host.
	FromHost bool
	// Allowed, when non-empty, is the closed set of tenant ids; the default
	// tenant is always accepted.
	Allowed []string
}

func ValidID(id string) bool { return idPattern.MatchString(id) }

// Resolve picks the tenant for r. Precedence: tenant header, configured
// override, legacy single-tenant root, host name, then the default tenant.
func (res Resolver) Resolve(r *http.Request) (Tenant, error) {
	header := res.Header
	if header == "" {
		header = DefaultHeader
	}
	if raw := strings.TrimSpace(r.Header.Get(header)); raw != "" {
		return res.ForID(raw)
	}
	if res.Override != "" {
		return res.ForID(res.Override)
	}
	if t, ok := res.legacy(); ok {
		return t, nil
	}
	if res.FromHost {
		if id, ok := idFromHost(r.Host); ok {
			return res.ForID(id)
		}
	}
	return res.ForID(DefaultID)
}

// ForID returns the per-tenant root for id, creating it on first use. The
// default tenant lives at the legacy root when that layout is present.
func (res Resolver) ForID(id string) (Tenant, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if !ValidID(id) {
		return Tenant{}, fmt.Errorf("%w: %q", ErrInvalidTenant, id)
	}
	if id == DefaultID {
		if t, ok := res.legacy(); ok {
			return t, nil
		}
	} else if len(res.Allowed) > 0 && !slices.ContainsFunc(res.Allowed, func(a string) bool {
		return strings.EqualFold(strings.TrimSpace(a), id)
	}) {
		return Tenant{}, fmt.Errorf("%w: %q", ErrUnknownTenant, id)
	}
	root := filepath.Join(res.DataDir, tenantsDir, id)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return Tenant{}, fmt.Errorf("create tenant root: %w", err)
	}
	return Tenant{ID: id, Root: root}, nil
}

// Select picks a tenant for operator tooling: an explicit id wins, then the
// override, the legacy root and the default tenant.
func (res Resolver) Select(id string) (Tenant, error) {
	if strings.TrimSpace(id) != "" {
		return res.ForID(id)
	}
	if res.Override != "" {
		return res.ForID(res.Override)
	}
	if t, ok := res.legacy(); ok {
		return t, nil
	}
	return res.ForID(DefaultID)
}

// All lists the tenants that already have a root on disk, legacy first.
func (res Resolver) All() ([]Tenant, error) {
	var out []Tenant
	legacy, hasLegacy := res.legacy()
	if hasLegacy {
		out = append(out, legacy)
	}
	entries, err := os.ReadDir(filepath.Join(res.DataDir, tenantsDir))
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if hasLegacy && e.Name() == DefaultID {
			continue
		}
		if e.IsDir() && ValidID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, Tenant{ID: id, Root: filepath.Join(res.DataDir, tenantsDir, id)})
	}
	return out, nil
}

// legacy reports the pre-multi-tenant layout, where the data dir itself
// holds store.json. It keeps serving as the default tenant.
func (res Resolver) legacy() (Tenant, bool) {
	info, err := os.Stat(filepath.Join(res.DataDir, legacyFile))
	if err != nil || !info.Mode().IsRegular() {
		return Tenant{}, false
	}
	return Tenant{ID: DefaultID, Root: res.DataDir, Legacy: true}, true
}

func idFromHost(host string) (string, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if net.ParseIP(host) != nil {
		return "", false
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 || genericLabels[labels[0]] {
		return "", false
	}
	if !ValidID(labels[0]) {
		return "", false
	}
	return labels[0], true
}
