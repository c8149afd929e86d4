package app

import (
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/notifier"
	"relaybot/internal/observability/debug"
	"relaybot/internal/relay"
	"relaybot/internal/schedule"
	"relaybot/internal/source/x"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

// The config was validated by config.Manager, so parse errors below can only
// come from programming mistakes; they are still returned, never ignored.

func mapSourceConfig(cfg *config.Config) (x.Config, error) {
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 30*time.Second)
	if err != nil {
		return x.Config{}, err
	}
	return x.Config{
		BearerToken: cfg.Source.BearerToken,
		BaseURL:     cfg.Source.BaseURL,
		Timeout:     timeout,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{Token: cfg.Telegram.Token, URL: strings.TrimSpace(cfg.Telegram.APIURL)}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	chatID, err := config.ParseChatID(cfg.Telegram.ChatID)
	if err != nil {
		return notifier.Config{}, err
	}
	retryBase, err := config.ParseDurationOrDefault("telegram.retry_base", cfg.Telegram.RetryBase, time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Target:     kit.ChatTarget{ChatID: chatID, ThreadID: cfg.Telegram.ThreadID},
		Options:    kit.SendOptions{DisablePreview: cfg.Telegram.DisablePreview, Silent: cfg.Telegram.Silent},
		RatePerSec: cfg.Telegram.RatePerSec,
		RetryMax:   cfg.Telegram.RetryMax,
		RetryBase:  retryBase,
	}, nil
}

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	handles, err := config.ParseHandles(cfg.Relay.Users)
	if err != nil {
		return relay.Config{}, err
	}
	sched := schedule.Every(relay.DefaultInterval)
	if raw := strings.TrimSpace(cfg.Relay.PollInterval); raw != "" {
		if sched, err = schedule.Parse(raw); err != nil {
			return relay.Config{}, err
		}
	}
	cooldown, err := config.ParseDurationOrDefault("relay.rate_limit_cooldown", cfg.Relay.RateLimitCooldown, relay.DefaultCooldown)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		Handles:        handles,
		Schedule:       sched,
		Cooldown:       cooldown,
		PageSize:       cfg.Relay.PageSize,
		StrictDelivery: cfg.Relay.StrictDelivery,
	}, nil
}

// mapLogConfig routes the Telegram log sink to logging.telegram.chat_id, or
// to the relay chat when that is empty.
func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	out := logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
	raw := strings.TrimSpace(lc.Telegram.ChatID)
	if raw == "" {
		raw = cfg.Telegram.ChatID
	}
	if id, err := config.ParseChatID(raw); err == nil {
		out.Telegram.ChatID = id
	} else {
		out.Telegram.Enabled = false
	}
	return out
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = "./data/relaybot.db"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

func mapDebugConfig(cfg *config.Config) (debug.Config, bool, error) {
	dc := cfg.Debug
	if dc == nil || !dc.Enabled {
		return debug.Config{}, false, nil
	}
	out := debug.Config{
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
		Pprof:         dc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("debug.read_timeout", dc.ReadTimeout); err != nil {
		return debug.Config{}, false, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("debug.write_timeout", dc.WriteTimeout); err != nil {
		return debug.Config{}, false, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("debug.idle_timeout", dc.IdleTimeout); err != nil {
		return debug.Config{}, false, err
	}
	return out, true, nil
}
