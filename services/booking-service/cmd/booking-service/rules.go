package main

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/clinicbook/libs/config"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/ratelimit"
)

// rulesFromEnv overrides the default rule of each action with
// RATE_LIMIT_<ACTION>, e.g. RATE_LIMIT_BOOK=10/1h. "off" disables an action.
func rulesFromEnv() (map[string]ratelimit.Rule, error) {
	rules := ratelimit.DefaultRules()
	for action := range rules {
		key := "RATE_LIMIT_" + strings.ToUpper(action)
		raw := strings.TrimSpace(config.String(key, ""))
		switch {
		case raw == "":
			continue
		case strings.EqualFold(raw, "off"):
			delete(rules, action)
			continue
		}
		rule, err := ratelimit.ParseRule(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		rules[action] = rule
	}
	return rules, nil
}
