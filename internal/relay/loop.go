package relay

import (
	"context"

	logx "relaybot/pkg/logx"
)

// Run executes STARTUP and then cycles on the configured schedule until ctx
// is cancelled. The wait is measured from the end of each cycle.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("relay starting",
		logx.Int("handles", len(r.cfg.Handles)),
		logx.String("schedule", r.cfg.Schedule.String()),
		logx.Bool("strict_delivery", r.cfg.StrictDelivery))

	ready, err := r.Startup(ctx)
	if err != nil {
		return err
	}
	r.log.Info("relay running",
		logx.Int("accounts", ready.Resolved),
		logx.Int("baselines", ready.Baselines),
		logx.Time("start_time", ready.StartTime))
	if r.onReady != nil {
		r.onReady(ready)
	}

	for {
		rep := r.RunCycle(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		r.log.Info("cycle finished",
			logx.Int("polled", rep.Polled),
			logx.Int("relayed", rep.Relayed),
			logx.Int("failed", rep.Failed),
			logx.Int("fetch_errors", rep.FetchErrors),
			logx.Bool("rate_limited", rep.RateLimited),
			logx.Duration("took", rep.Took))
		if r.onCycle != nil {
			r.onCycle(rep)
		}

		wait := r.cfg.Schedule.Wait(r.clock.Now())
		r.log.Debug("sleeping until next cycle", logx.Duration("wait", wait))
		if err := r.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}
