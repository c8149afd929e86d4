package config

// Config is the full relaybot configuration.
//
// It is decoded from an optional JSON/YAML file and then overlaid with
// environment variables (see env.go). Durations are Go duration strings.
type Config struct {
	Source   SourceConfig   `json:"source"`
	Telegram TelegramConfig `json:"telegram"`
	Relay    RelayConfig    `json:"relay"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Debug    *DebugConfig   `json:"debug,omitempty"`
}

// SourceConfig configures the X (Twitter) API v2 client.
type SourceConfig struct {
	BearerToken string `json:"bearer_token"`
	// BaseURL defaults to https://api.twitter.com.
	BaseURL string `json:"base_url,omitempty"`
	// Timeout bounds each API request (default "30s").
	Timeout string `json:"timeout,omitempty"`
}

// TelegramConfig configures the single message destination.
type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is kept as a string so env values and quoted YAML both decode.
	ChatID   string `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// APIURL points at a self-hosted Bot API server (default api.telegram.org).
	APIURL string `json:"api_url,omitempty"`

	DisablePreview bool `json:"disable_preview,omitempty"`
	// Silent sends relayed posts without a notification sound.
	Silent bool `json:"silent,omitempty"`

	// RatePerSec caps outgoing messages (default 1).
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// RetryMax is the number of extra send attempts (default 0: single attempt).
	RetryMax  int    `json:"retry_max,omitempty"`
	RetryBase string `json:"retry_base,omitempty"`
}

// RelayConfig controls the polling loop.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "2m"
//   - rate_limit_cooldown: "15m"
//   - page_size: 5
//   - strict_delivery: false
type RelayConfig struct {
	// Users is the comma-separated list of handles to monitor.
	Users string `json:"users"`

	// PollInterval accepts a duration ("2m"), HH:MM ("00:02") or a cron
	// expression ("*/2 * * * *").
	PollInterval      string `json:"poll_interval,omitempty"`
	RateLimitCooldown string `json:"rate_limit_cooldown,omitempty"`
	PageSize          int    `json:"page_size,omitempty"`

	// StrictDelivery keeps the cursor at the last successfully delivered post
	// so failed deliveries are retried next cycle. Off by default: a failed
	// delivery still advances the cursor and the post is not relayed again.
	StrictDelivery bool `json:"strict_delivery,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warnings/errors to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional delivery journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/relaybot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DebugConfig enables the operator HTTP endpoint (/healthz, /status,
// /deliveries and optionally /debug/pprof/).
//
// Security: bind to localhost (default) or set a token.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// Default returns the config used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}
