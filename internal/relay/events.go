package relay

import (
	"time"

	"relaybot/internal/eventbus"
)

const (
	EventCycleFinished = "relay.cycle_finished"
	EventRateLimited   = "relay.rate_limited"
	EventStarted       = "relay.started"
)

// CycleReport summarizes one pass over the monitored accounts.
type CycleReport struct {
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`

	// Polled counts accounts whose fetch was attempted.
	Polled      int  `json:"polled"`
	Found       int  `json:"found"`
	Relayed     int  `json:"relayed"`
	Failed      int  `json:"failed"`
	Skipped     int  `json:"skipped"`
	FetchErrors int  `json:"fetch_errors"`
	RateLimited bool `json:"rate_limited"`
}

// StartupReport describes the STARTUP phase.
type StartupReport struct {
	StartTime  time.Time `json:"start_time"`
	Handles    int       `json:"handles"`
	Resolved   int       `json:"resolved"`
	Baselines  int       `json:"baselines"`
	InitErrors int       `json:"init_errors"`
}

func (r *Relay) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.clock.Now(), Data: data})
}
