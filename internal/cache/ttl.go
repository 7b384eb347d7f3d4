package cache

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TTL bounds and environment overrides.
const (
	// DefaultTTLSeconds is the default entry lifetime (1 day).
	DefaultTTLSeconds = 86400

	// MinTTLSeconds is the shortest accepted TTL (1 minute).
	MinTTLSeconds = 60

	// MaxTTLSeconds is the longest accepted TTL (30 days).
	MaxTTLSeconds = 2592000

	minutesPerHour = 60
	hoursPerDay    = 24

	// EnvTTLSeconds overrides the configured TTL.
	EnvTTLSeconds = "ALMABATCH_CACHE_TTL_SECONDS"

	// EnvCacheDir overrides the configured cache directory.
	EnvCacheDir = "ALMABATCH_CACHE_DIR"
)

// ErrInvalidTTL is returned when a TTL falls outside the accepted range.
var ErrInvalidTTL = fmt.Errorf("TTL must be between %d and %d seconds", MinTTLSeconds, MaxTTLSeconds)

// GetTTLFromEnv returns the TTL from the environment, or fallback when it is
// unset or invalid.
func GetTTLFromEnv(fallback int) int {
	envVal := os.Getenv(EnvTTLSeconds)
	if envVal == "" {
		return fallback
	}
	ttl, err := ParseTTL(envVal)
	if err != nil {
		return fallback
	}
	return ttl
}

// GetCacheDirFromEnv returns the cache directory override, or "".
func GetCacheDirFromEnv() string {
	return os.Getenv(EnvCacheDir)
}

// ParseTTL parses integer seconds ("3600") or a duration ("1h30m").
func ParseTTL(s string) (int, error) {
	seconds, err := strconv.Atoi(s)
	if err != nil {
		d, durErr := time.ParseDuration(s)
		if durErr != nil {
			return 0, fmt.Errorf("invalid TTL format: %w", durErr)
		}
		seconds = int(d.Seconds())
	}
	if seconds < MinTTLSeconds || seconds > MaxTTLSeconds {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidTTL, seconds)
	}
	return seconds, nil
}

// FormatDuration renders d compactly, e.g. "45s", "30m", "1h30m", "2d".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < hoursPerDay*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % minutesPerHour
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := int(d.Hours()) / hoursPerDay
	hours := int(d.Hours()) % hoursPerDay
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}
