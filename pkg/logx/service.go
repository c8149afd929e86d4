package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "relaybot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig forwards lines at or above MinLevel (default warn) to an
// operator chat.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./relaybot.log"

// Service owns the log sinks and swaps them on Apply. Loggers handed out by
// New keep working across swaps.
type Service struct {
	mu    sync.Mutex
	file  *os.File
	alert *alertSink

	root atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with its root logger. A nil sender
// disables the Telegram sink.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	s := &Service{}
	if sender != nil {
		s.alert = newAlertSink(sender)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the writer set. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if s.alert != nil {
		s.alert.configure(cfg.Telegram)
		if cfg.Telegram.Enabled {
			if cfg.Telegram.ChatID == 0 {
				fmt.Fprintln(os.Stderr, "logx: telegram sink enabled without a chat id")
			}
			writers = append(writers, s.alert)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// AlertsDropped counts Telegram log lines lost to a full queue.
func (s *Service) AlertsDropped() uint64 {
	if s.alert == nil {
		return 0
	}
	return s.alert.dropped.Load()
}

// Close stops the Telegram sink and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if s.alert != nil {
		s.alert.close()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}
