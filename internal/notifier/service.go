package notifier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/eventbus"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

var ErrNoSender = errors.New("notifier has no sender")

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender kit.Sender
	log    logx.Logger
	bus    eventbus.Bus

	sent    atomic.Uint64
	failed  atomic.Uint64
	retries atomic.Uint64
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Deliver sends m to the configured target. It returns the last send error
// when every attempt failed, or ctx.Err() when cancelled while waiting.
func (s *Service) Deliver(ctx context.Context, m Message) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if s.sender == nil {
		return ErrNoSender
	}
	log := s.log.With(logx.String("post_id", m.PostID), logx.String("account_id", m.AccountID))

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		ref, err := s.sender.SendText(callCtx, cfg.Target, m.Text, &cfg.Options)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.publish(EventSent, cfg, m, attempt, ref.MessageID, nil)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		s.retries.Add(1)

		delay := retryDelay(cfg, attempt)
		var ra *kit.RetryAfterError
		if errors.As(err, &ra) && ra.After > delay {
			delay = ra.After
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	s.failed.Add(1)
	s.publish(EventFailed, cfg, m, attempts, 0, lastErr)
	return lastErr
}

func (s *Service) publish(typ string, cfg Config, m Message, attempts, msgID int, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := DeliveryEvent{
		PostID:    m.PostID,
		AccountID: m.AccountID,
		ChatID:    cfg.Target.ChatID,
		ThreadID:  cfg.Target.ThreadID,
		MessageID: msgID,
		Attempts:  attempts,
		At:        now,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// Stats returns delivery counters since the service was created.
func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load(), Retries: s.retries.Load()}
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1) with 0.7..1.3
// jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
