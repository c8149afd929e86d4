package config

import (
	"strings"

	logx "relaybot/pkg/logx"
)

// SummarizeChange lists the changed top-level sections and safe log attrs.
// Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 8)

	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs, logx.String("source.base_url", newCfg.Source.BaseURL), logx.Bool("source.token_changed", oldCfg.Source.BearerToken != newCfg.Source.BearerToken))
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.String("telegram.chat_id", newCfg.Telegram.ChatID), logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token))
	}
	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs, logx.String("relay.users", strings.TrimSpace(newCfg.Relay.Users)), logx.String("relay.poll_interval", newCfg.Relay.PollInterval))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level), logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled))
	}
	var oldSt, newSt StorageConfig
	if oldCfg.Storage != nil {
		oldSt = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newSt = *newCfg.Storage
	}
	if oldSt != newSt {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newSt.Driver))
	}
	var oldDbg, newDbg DebugConfig
	if oldCfg.Debug != nil {
		oldDbg = *oldCfg.Debug
	}
	if newCfg.Debug != nil {
		newDbg = *newCfg.Debug
	}
	if oldDbg != newDbg {
		changed = append(changed, "debug")
		attrs = append(attrs, logx.Bool("debug.enabled", newDbg.Enabled), logx.String("debug.addr", newDbg.Addr))
	}
	return changed, attrs
}

// NeedsRestart reports whether any changed section can only take effect on restart.
func NeedsRestart(sections []string) bool {
	for _, s := range sections {
		if s != "logging" {
			return true
		}
	}
	return false
}
