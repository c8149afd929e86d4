package relay

import (
	"context"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/notifier"
	"relaybot/internal/schedule"
	"relaybot/internal/source"
	logx "relaybot/pkg/logx"
)

const (
	DefaultPageSize = 5
	// MinPageSize is the X API minimum for max_results.
	MinPageSize     = 5
	MaxPageSize     = 100
	DefaultCooldown = 15 * time.Minute
	DefaultInterval = 2 * time.Minute

	// initPageSize fetches only the newest post when taking a baseline.
	initPageSize = 1
)

// Sink delivers one relayed post.
type Sink interface {
	Deliver(ctx context.Context, m notifier.Message) error
}

type Config struct {
	Handles  []string
	Schedule schedule.Spec
	// Cooldown is slept when the source reports a rate limit.
	Cooldown       time.Duration
	PageSize       int
	StrictDelivery bool
}

type Relay struct {
	cfg   Config
	src   source.Client
	sink  Sink
	clock Clock
	log   logx.Logger
	bus   eventbus.Bus

	onCycle func(CycleReport)
	onReady func(StartupReport)

	accounts []source.Account
	cursors  *Cursors
	start    time.Time
}

type Option func(*Relay)

func WithClock(c Clock) Option        { return func(r *Relay) { r.clock = c } }
func WithLogger(l logx.Logger) Option { return func(r *Relay) { r.log = l } }
func WithBus(b eventbus.Bus) Option   { return func(r *Relay) { r.bus = b } }

// WithCycleHook is called after every cycle on the relay goroutine.
func WithCycleHook(fn func(CycleReport)) Option { return func(r *Relay) { r.onCycle = fn } }

// WithReadyHook is called once STARTUP finished.
func WithReadyHook(fn func(StartupReport)) Option { return func(r *Relay) { r.onReady = fn } }

func New(cfg Config, src source.Client, sink Sink, opts ...Option) *Relay {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	cfg.PageSize = min(max(cfg.PageSize, MinPageSize), MaxPageSize)
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Schedule.Kind == schedule.KindInterval && cfg.Schedule.Every <= 0 {
		cfg.Schedule = schedule.Every(DefaultInterval)
	}
	r := &Relay{cfg: cfg, src: src, sink: sink, cursors: NewCursors()}
	for _, o := range opts {
		o(r)
	}
	if r.clock == nil {
		r.clock = SystemClock()
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// Accounts returns the monitored accounts in resolution order.
func (r *Relay) Accounts() []source.Account {
	return append([]source.Account(nil), r.accounts...)
}

func (r *Relay) Cursors() *Cursors { return r.cursors }

// StartTime is the lower time bound applied to every fetch.
func (r *Relay) StartTime() time.Time { return r.start }
