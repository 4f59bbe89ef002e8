package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields are plain strings in the config ("500ms", "10s", "1m")
// so a raw file stays readable; parsing happens once, at load time.

// ParseDurationField parses one duration-valued config field. Empty means
// unset and yields zero; the caller decides what zero means for that field.
func ParseDurationField(path, raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(trimmed)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative durations are not allowed", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with an unset/zero fallback.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
