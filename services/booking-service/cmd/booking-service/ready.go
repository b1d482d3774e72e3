package main

import (
	"github.com/md-rashed-zaman/clinicbook/libs/kafkax"
	"github.com/md-rashed-zaman/clinicbook/libs/runtime"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/ratelimit"
)

// readyChecks covers only the backends that are configured; without brokers
// events are dropped and without Redis the file limiter is used.
func readyChecks(brokers string, redisLimiter *ratelimit.RedisLimiter) []runtime.ReadyCheck {
	var checks []runtime.ReadyCheck
	if list := kafkax.SplitBrokers(brokers); len(list) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(list)})
	}
	if redisLimiter != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisLimiter.ReadyCheck()})
	}
	return checks
}
