package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// getenv returns the environment value for key, or def when unset.
func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBoolSetting(envKey string, defaultValue bool) bool {
	if v := os.Getenv(envKey); v != "" {
		return parseBoolDefault(v, defaultValue)
	}
	return defaultValue
}

func getDurationSetting(envKey string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(envKey))
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// bare integers are minutes
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Minute
	}
	log.Warn("config: ignoring malformed duration", "key", envKey, "value", v)
	return defaultValue
}

func getListSetting(envKey string, defaultValue []string) []string {
	v := strings.TrimSpace(os.Getenv(envKey))
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
