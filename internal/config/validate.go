package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/schedule"
	logx "relaybot/pkg/logx"
)

// ErrMissing is wrapped by Validate for every absent required setting.
var ErrMissing = errors.New("required setting missing")

// Validate checks required settings and parses every formatted field so that
// a bad value is rejected at startup (or on hot reload) instead of mid-run.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	required := func(v, name, env string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s (env %s): %w", name, env, ErrMissing))
		}
	}
	required(cfg.Source.BearerToken, "source.bearer_token", EnvBearerToken)
	required(cfg.Telegram.Token, "telegram.token", EnvTelegramKey)
	required(cfg.Telegram.ChatID, "telegram.chat_id", EnvChatID)
	required(cfg.Relay.Users, "relay.users", EnvUsers)

	if strings.TrimSpace(cfg.Telegram.ChatID) != "" {
		if _, err := ParseChatID(cfg.Telegram.ChatID); err != nil {
			errs = append(errs, fmt.Errorf("telegram.chat_id: %w", err))
		}
	}
	if strings.TrimSpace(cfg.Relay.Users) != "" {
		if _, err := ParseHandles(cfg.Relay.Users); err != nil {
			errs = append(errs, fmt.Errorf("relay.users: %w", err))
		}
	}

	durations := []struct{ path, raw string }{
		{"source.timeout", cfg.Source.Timeout},
		{"telegram.retry_base", cfg.Telegram.RetryBase},
		{"relay.rate_limit_cooldown", cfg.Relay.RateLimitCooldown},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if strings.TrimSpace(cfg.Relay.PollInterval) != "" {
		if _, err := schedule.Parse(cfg.Relay.PollInterval); err != nil {
			errs = append(errs, fmt.Errorf("relay.poll_interval: %w", err))
		}
	}

	if ps := cfg.Relay.PageSize; ps != 0 && (ps < 5 || ps > 100) {
		errs = append(errs, fmt.Errorf("relay.page_size must be 0 (default) or within 5..100"))
	}
	if cfg.Telegram.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("telegram.rate_per_sec must be >= 0"))
	}
	if cfg.Telegram.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("telegram.retry_max must be >= 0"))
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if id := strings.TrimSpace(cfg.Logging.Telegram.ChatID); id != "" {
		if _, err := ParseChatID(id); err != nil {
			errs = append(errs, fmt.Errorf("logging.telegram.chat_id: %w", err))
		}
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Debug != nil && cfg.Debug.Enabled {
		for _, d := range []struct{ path, raw string }{
			{"debug.read_timeout", cfg.Debug.ReadTimeout},
			{"debug.write_timeout", cfg.Debug.WriteTimeout},
			{"debug.idle_timeout", cfg.Debug.IdleTimeout},
		} {
			if _, err := ParseDurationField(d.path, d.raw); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// ParseChatID parses a Telegram chat id ("-1001234567890").
func ParseChatID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", raw)
	}
	if id == 0 {
		return 0, fmt.Errorf("chat id must be non-zero")
	}
	return id, nil
}

// ParseHandles splits a comma-separated handle list. Each entry is trimmed and
// a leading '@' is dropped. Empty entries are kept in place so the relay can
// log and skip them; only a list without any handle is an error.
func ParseHandles(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	named := 0
	for _, p := range parts {
		h := strings.TrimPrefix(strings.TrimSpace(p), "@")
		if h != "" {
			named++
		}
		out = append(out, h)
	}
	if named == 0 {
		return nil, fmt.Errorf("no handle in %q: %w", raw, ErrMissing)
	}
	return out, nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
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
