package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses a non-negative duration field. Empty means zero.
func ParseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOr is ParseDuration with def substituted for zero.
func ParseDurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDuration(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
