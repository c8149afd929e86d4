package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names. They override values from the config file.
const (
	EnvBearerToken = "TWITTER_BEARER_TOKEN"
	EnvTelegramKey = "TELEGRAM_API_KEY"
	EnvChatID      = "TELEGRAM_CHAT_ID"
	EnvUsers       = "USERS_TO_MONITOR"
	EnvLogLevel    = "LOG_LEVEL"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvBearerToken, &cfg.Source.BearerToken)
	set(EnvTelegramKey, &cfg.Telegram.Token)
	set(EnvChatID, &cfg.Telegram.ChatID)
	set(EnvUsers, &cfg.Relay.Users)
	set(EnvLogLevel, &cfg.Logging.Level)
}
