package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "relaybot/internal/transport"
)

const (
	alertMaxText  = 3500
	alertMaxValue = 600
)

// alertSink is a zerolog.LevelWriter that queues lines for a Telegram chat.
// Writes never block: over-rate lines are skipped and a full queue drops.
type alertSink struct {
	sender kit.Sender
	queue  chan alertItem

	mu       sync.Mutex
	target   kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	dropped atomic.Uint64
}

type alertItem struct {
	to   kit.ChatTarget
	text string
}

func newAlertSink(sender kit.Sender) *alertSink {
	return &alertSink{
		sender: sender,
		queue:  make(chan alertItem, 256),
		done:   make(chan struct{}),
	}
}

func (a *alertSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	a.mu.Lock()
	a.target = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	a.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()

	if cfg.Enabled {
		a.startOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			a.cancel = cancel
			go a.run(ctx)
		})
	}
}

func (a *alertSink) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-a.queue:
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, _ = a.sender.SendText(sctx, it.to, it.text, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (a *alertSink) close() {
	a.stopOnce.Do(func() {
		// Waits out a concurrent start; a never-started sink stays stopped.
		a.startOnce.Do(func() {})
		if a.cancel != nil {
			a.cancel()
			<-a.done
		}
	})
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(LevelInfo, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	to, minLevel, lim := a.target, a.minLevel, a.limiter
	a.mu.Unlock()

	if to.ChatID == 0 || level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	text := formatAlert(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case a.queue <- alertItem{to: to, text: text}:
	default:
		a.dropped.Add(1)
	}
	return len(p), nil
}

// formatAlert renders a JSON log line as "[LEVEL] message" followed by one
// "- key=value" line per field, keys sorted.
func formatAlert(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, alertMaxText)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), alertMaxValue))
	}
	return truncate(b.String(), alertMaxText)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
