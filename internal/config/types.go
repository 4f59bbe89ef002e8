package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the full daemon configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig   `json:"telegram"`
	Logging   LoggingConfig    `json:"logging"`
	Storage   StorageConfig    `json:"storage"`
	Broadcast BroadcastConfig  `json:"broadcast"`
	Retention *RetentionConfig `json:"retention,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Timeout bounds a single Bot API call.
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// BroadcastConfig controls the fan-out dispatcher.
//
// RetryMax is a pointer so we can distinguish "omitted" (default 3) from an
// explicit 0 (no retries).
type BroadcastConfig struct {
	MaxInFlight   int    `json:"max_in_flight,omitempty"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// RetentionConfig controls the out-of-core retention sweep. Disabled unless
// the section is present and enabled: delivery history is kept forever by
// default.
type RetentionConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression; default "0 3 * * *" (03:00 daily).
	Schedule string `json:"schedule,omitempty"`
	MaxAge   string `json:"max_age"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("telegram.timeout", c.Telegram.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("broadcast.retry_base", c.Broadcast.RetryBase); err != nil {
		return err
	}
	if _, err := ParseDurationField("broadcast.retry_max_delay", c.Broadcast.RetryMaxDelay); err != nil {
		return err
	}
	if c.Broadcast.MaxInFlight < 0 {
		return errors.New("broadcast.max_in_flight must be >= 0")
	}
	if c.Broadcast.RatePerSec < 0 {
		return errors.New("broadcast.rate_per_sec must be >= 0")
	}
	if c.Retention != nil && c.Retention.Enabled {
		if d, err := ParseDurationField("retention.max_age", c.Retention.MaxAge); err != nil {
			return err
		} else if d <= 0 {
			return fmt.Errorf("retention.max_age must be > 0 when retention is enabled")
		}
	}
	return nil
}
