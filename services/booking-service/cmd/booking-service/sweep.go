package main

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/ratelimit"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/tenant"
)

// startSweeper schedules removal of stale rate-limit files in every tenant
// root. A state file is stale once it is older than twice the longest window.
func startSweeper(tenants tenant.Resolver, rules map[string]ratelimit.Rule, logger *slog.Logger) (*cron.Cron, error) {
	maxAge := 24 * time.Hour
	for _, r := range rules {
		if 2*r.Window > maxAge {
			maxAge = 2 * r.Window
		}
	}
	maxAge = config.Duration("RATE_LIMIT_SWEEP_MAX_AGE", maxAge)

	c := cron.New()
	_, err := c.AddFunc(config.String("RATE_LIMIT_SWEEP_CRON", "17 * * * *"), func() {
		sweepRateLimits(tenants, maxAge, logger)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func sweepRateLimits(tenants tenant.Resolver, maxAge time.Duration, logger *slog.Logger) {
	all, err := tenants.All()
	if err != nil {
		logger.Error("rate limit sweep failed", "err", err)
		return
	}
	total := 0
	for _, t := range all {
		n, err := ratelimit.NewFileLimiter(t.Root, logger).Sweep(maxAge)
		if err != nil {
			logger.Warn("rate limit sweep incomplete", "tenant", t.ID, "err", err)
		}
		total += n
	}
	if total > 0 {
		logger.Info("rate limit sweep", "removed", total, "tenants", len(all))
	}
}
