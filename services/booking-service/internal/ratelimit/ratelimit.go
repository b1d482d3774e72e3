// Package ratelimit counts requests per (client, action) in fixed windows.
//
// A window opens at the first request seen for a key and lasts Rule.Window;
// once it elapses the count starts over. A request over the limit is refused
// without consuming anything further, so the stored count stays at the limit.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Actions that are rate limited on the public surface.
const (
	ActionBook       = "book"
	ActionReschedule = "reschedule"
	ActionCancel     = "cancel"
	ActionCallback   = "callback"
	ActionReview     = "review"
)

type Limiter interface {
	// Check consumes one unit and reports whether the request is allowed.
	Check(ctx context.Context, client, action string, rule Rule) (bool, error)
	// IsLimited reports whether the next Check would be refused, without consuming.
	IsLimited(ctx context.Context, client, action string, rule Rule) (bool, error)
	Reset(ctx context.Context, client, action string) error
}

type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) String() string { return fmt.Sprintf("%d/%s", r.Limit, r.Window) }

func (r Rule) valid() bool { return r.Limit > 0 && r.Window > 0 }

// ParseRule reads "limit/window", e.g. "10/1h" or "3/30m".
func ParseRule(s string) (Rule, error) {
	limitPart, windowPart, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rule{}, fmt.Errorf("rate limit %q: expected limit/window", s)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitPart))
	if err != nil || limit <= 0 {
		return Rule{}, fmt.Errorf("rate limit %q: invalid limit", s)
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowPart))
	if err != nil || window <= 0 {
		return Rule{}, fmt.Errorf("rate limit %q: invalid window", s)
	}
	return Rule{Limit: limit, Window: window}, nil
}

// DefaultRules are the per-action limits used when none are configured.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ActionBook:       {Limit: 10, Window: time.Hour},
		ActionReschedule: {Limit: 5, Window: time.Hour},
		ActionCancel:     {Limit: 5, Window: time.Hour},
		ActionCallback:   {Limit: 5, Window: time.Hour},
		ActionReview:     {Limit: 3, Window: time.Hour},
	}
}
