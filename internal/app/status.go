package app

import (
	"sync"
	"time"

	"relaybot/internal/relay"
	"relaybot/internal/source"
)

// relayStatus is fed from relay hooks, which run on the relay goroutine, and
// read by the debug server.
type relayStatus struct {
	mu       sync.RWMutex
	runs     int
	startup  *relay.StartupReport
	accounts []source.Account
	cursors  map[string]string
	last     *relay.CycleReport
	lastAt   time.Time
	cycles   int

	extra func() map[string]any
}

type statusSnapshot struct {
	Ready     bool                 `json:"ready"`
	Runs      int                  `json:"runs"`
	Startup   *relay.StartupReport `json:"startup,omitempty"`
	Accounts  []source.Account     `json:"accounts"`
	Cursors   map[string]string    `json:"cursors"`
	Cycles    int                  `json:"cycles"`
	LastCycle *relay.CycleReport   `json:"last_cycle,omitempty"`
	LastAt    *time.Time           `json:"last_cycle_at,omitempty"`
	Runtime   map[string]any       `json:"runtime,omitempty"`
}

// started records a fresh STARTUP; a restarted relay resets cycle state.
func (s *relayStatus) started(rep relay.StartupReport, accounts []source.Account, cursors map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.startup = &rep
	s.accounts = accounts
	s.cursors = cursors
	s.last = nil
	s.lastAt = time.Time{}
	s.cycles = 0
}

func (s *relayStatus) cycled(rep relay.CycleReport, cursors map[string]string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &rep
	s.lastAt = at
	s.cursors = cursors
	s.cycles++
}

func (s *relayStatus) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startup != nil
}

func (s *relayStatus) Snapshot() any {
	s.mu.RLock()
	out := statusSnapshot{
		Ready:     s.startup != nil,
		Runs:      s.runs,
		Startup:   s.startup,
		Accounts:  s.accounts,
		Cursors:   s.cursors,
		Cycles:    s.cycles,
		LastCycle: s.last,
	}
	if !s.lastAt.IsZero() {
		at := s.lastAt
		out.LastAt = &at
	}
	extra := s.extra
	s.mu.RUnlock()
	if extra != nil {
		out.Runtime = extra()
	}
	return out
}
