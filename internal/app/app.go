package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/notifier"
	"relaybot/internal/observability/debug"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/sdnotify"
	"relaybot/internal/source"
	"relaybot/internal/source/x"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type Options struct {
	// ConfigPath is an optional JSON/YAML file; empty means env-only.
	ConfigPath string
	// EnvPath is the dotenv file loaded before the config (default ".env").
	EnvPath string
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sd    *sdnotify.Notifier

	adapter  kit.Adapter
	src      source.Client
	notif    *notifier.Service
	relayCfg relay.Config
	clock    relay.Clock

	status     *relayStatus
	relayAlive atomic.Bool
	debugCfg   debug.Config
	debugOn    bool
	// watchdog is WatchdogSec from the unit, 0 outside systemd.
	watchdog time.Duration
}

func NewApp(opts Options) (*App, error) {
	if err := config.LoadDotEnv(opts.EnvPath); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)
	ad, err := telegram.New(mapTelegramConfig(cfg), bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	srcCfg, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	src, err := x.New(srcCfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("delivery journal enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)

	rcfg, err := mapRelayConfig(cfg)
	if err != nil {
		return nil, err
	}

	dcfg, debugOn, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		sd:       sdnotify.New(log.With(logx.String("comp", "sdnotify"))),
		adapter:  ad,
		src:      src,
		notif:    notif,
		relayCfg: rcfg,
		clock:    relay.SystemClock(),
		status:   &relayStatus{},
		watchdog: sdnotify.WatchdogInterval(),
		debugCfg: dcfg,
		debugOn:  debugOn,
	}, nil
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.status.extra = a.runtimeStats

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256, "delivery.")
		a.sup.Go0("journal", func(c context.Context) {
			defer unsub()
			journalLoop(c, events, a.store, a.log.With(logx.String("comp", "journal")))
		})
	}

	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// A restarted relay runs a fresh STARTUP with new cursors.
	a.sup.GoRestart("relay", func(c context.Context) error {
		a.relayAlive.Store(true)
		defer a.relayAlive.Store(false)
		return a.newRelay().Run(c)
	}, supervisor.WithRestartBackoff(time.Second, time.Minute))

	if wd := a.watchdog; wd > 0 {
		a.sup.Go0("sdnotify.watchdog", func(c context.Context) {
			a.sd.KeepAlive(c, wd/2, a.relayAlive.Load)
		})
	}

	if a.debugOn {
		var recent debug.RecentFunc
		if a.store != nil {
			recent = func(ctx context.Context, limit int) (any, error) { return a.store.Recent(ctx, limit) }
		}
		srv := debug.New(a.debugCfg, a.status, recent, a.log.With(logx.String("comp", "debug")))
		// Optional surface: a failing listener is retried, never fatal.
		a.sup.GoRestart("debug.http", srv.Run,
			supervisor.WithRestartBackoff(500*time.Millisecond, 30*time.Second),
			supervisor.WithMaxRestarts(10),
		)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("handles", len(a.relayCfg.Handles)))
	return nil
}

func (a *App) newRelay() *relay.Relay {
	var r *relay.Relay
	r = relay.New(a.relayCfg, a.src, a.notif,
		relay.WithClock(a.clock),
		relay.WithLogger(a.log.With(logx.String("comp", "relay"))),
		relay.WithBus(a.bus),
		relay.WithReadyHook(func(rep relay.StartupReport) {
			a.status.started(rep, r.Accounts(), r.Cursors().Snapshot())
			a.sd.Ready()
			a.sd.Status(fmt.Sprintf("monitoring %d of %d accounts", rep.Resolved, rep.Handles))
		}),
		relay.WithCycleHook(func(rep relay.CycleReport) {
			a.status.cycled(rep, r.Cursors().Snapshot(), a.clock.Now())
		}),
	)
	return r
}

func (a *App) runtimeStats() map[string]any {
	c := a.sup.Counters()
	return map[string]any{
		"goroutines_active":  c.Active,
		"panics":             c.Panics,
		"bus_dropped":        a.bus.Dropped(),
		"log_alerts_dropped": a.logs.AlertsDropped(),
		"deliveries":         a.notif.Stats(),
	}
}

// reloadLoop applies published configs. Only logging changes apply live.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}

			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			a.logs.Apply(mapLogConfig(newCfg))

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			if config.NeedsRestart(sections) {
				a.log.Warn("config changed; restart required for non-logging settings", fields...)
				continue
			}
			a.log.Info("config reloaded", fields...)
		}
	}
}

// Stop cancels everything and waits, bounded by ctx, for shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if err != nil && err == a.sup.Err() {
			// Already reported as the fatal error.
			return nil
		}
		return err
	})
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Uint64("goroutines_started", c.Started), logx.Uint64("panics", c.Panics))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
