// Package sdnotify reports service state to systemd when running as a
// Type=notify unit. Outside systemd every call is a no-op.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "relaybot/pkg/logx"
)

// Notifier sends sd_notify states.
type Notifier struct {
	log  logx.Logger
	send func(state string) (bool, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log, send: func(state string) (bool, error) {
		return daemon.SdNotify(false, state)
	}}
}

func (n *Notifier) notify(state string) {
	sent, err := n.send(state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *Notifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// Watchdog pings the systemd watchdog once.
func (n *Notifier) Watchdog() { n.notify(daemon.SdNotifyWatchdog) }

// KeepAlive pings the watchdog every interval while alive reports true,
// until ctx is done. It returns at once when interval <= 0. Pings do not
// wait for relay cycles, which can sleep through a rate-limit cooldown.
func (n *Notifier) KeepAlive(ctx context.Context, interval time.Duration, alive func() bool) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if alive == nil || alive() {
				n.Watchdog()
			}
		}
	}
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) { n.notify("STATUS=" + s) }

// WatchdogInterval returns the configured WatchdogSec, or 0 when disabled.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}
