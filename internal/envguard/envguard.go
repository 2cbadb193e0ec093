// Package envguard is the startup pre-flight gate: it refuses to let the
// agent monitor anything while the environment it runs in is itself
// suspect. All violations are collected and returned together so the
// operator sees the full picture at once.
package envguard

import (
	"fmt"
	"strings"

	"github.com/avekseev/fileguard/internal/config"
)

// placeholderSecrets are values that mean "nobody ever configured this".
var placeholderSecrets = []string{
	"changeme",
	"change-me",
	"placeholder",
	"your-secret-here",
	"secret",
	"password",
	"test",
	"xxx",
}

// tuningVars are the process-tuning variables restricted to the allow-list.
// Injecting either one changes runtime behavior underneath the agent.
var tuningVars = []string{"GODEBUG", "GOTRACEBACK"}

// Check inspects the environment through getenv and returns every
// violation found. An empty result means the pre-flight passed.
func Check(getenv func(string) string) []string {
	var violations []string

	secret := strings.TrimSpace(getenv(config.EnvSecret))
	switch {
	case secret == "":
		violations = append(violations, config.EnvSecret+" is not set")
	case isPlaceholder(secret):
		violations = append(violations, config.EnvSecret+" is a placeholder value")
	}

	if isTruthy(getenv(config.EnvDevMode)) && !isTruthy(getenv(config.EnvDevOverride)) {
		violations = append(violations,
			config.EnvDevMode+" is enabled without "+config.EnvDevOverride+" override")
	}

	allowed := parseAllowList(getenv(config.EnvTuningAllow))
	for _, name := range tuningVars {
		value := getenv(name)
		if value == "" {
			continue
		}
		if !allowed[name+"="+value] {
			violations = append(violations,
				fmt.Sprintf("%s=%q is not on the tuning allow-list", name, value))
		}
	}

	return violations
}

func isPlaceholder(secret string) bool {
	lowered := strings.ToLower(secret)
	for _, p := range placeholderSecrets {
		if lowered == p {
			return true
		}
	}
	return false
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// parseAllowList parses a comma-separated list of NAME=value pairs.
func parseAllowList(raw string) map[string]bool {
	allowed := make(map[string]bool)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			allowed[item] = true
		}
	}
	return allowed
}
