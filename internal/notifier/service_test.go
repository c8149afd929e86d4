package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relaybot/internal/eventbus"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	err   error
	sent  []string
	to    []kit.ChatTarget
	opts  []kit.SendOptions
	calls int
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return kit.MessageRef{}, f.err
	}
	f.sent = append(f.sent, text)
	f.to = append(f.to, to)
	f.opts = append(f.opts, *opt)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.calls}, nil
}

func fastConfig() Config {
	return Config{
		Target:        kit.ChatTarget{ChatID: -1001, ThreadID: 3},
		Options:       kit.SendOptions{DisablePreview: true},
		RatePerSec:    1000,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func TestDeliverSendsToTarget(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, "delivery.")
	defer unsub()
	f := &fakeSender{}
	s := New(fastConfig(), f, logx.Nop(), bus)

	if err := s.Deliver(context.Background(), Message{PostID: "7", AccountID: "42", Text: "hello"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(f.sent) != 1 || f.sent[0] != "hello" {
		t.Fatalf("sent = %v", f.sent)
	}
	if f.to[0].ChatID != -1001 || f.to[0].ThreadID != 3 || !f.opts[0].DisablePreview {
		t.Fatalf("target/options = %+v %+v", f.to[0], f.opts[0])
	}
	e := <-events
	ev, ok := e.Data.(DeliveryEvent)
	if e.Type != EventSent || !ok || ev.PostID != "7" || ev.Attempts != 1 || ev.MessageID != 1 {
		t.Fatalf("event = %+v", e)
	}
	if st := s.Stats(); st != (Stats{Sent: 1}) {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDeliverRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMax = 2
	f := &fakeSender{fails: 2, err: errors.New("transient")}
	s := New(cfg, f, logx.Nop(), nil)

	if err := s.Deliver(context.Background(), Message{PostID: "1", Text: "x"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.calls)
	}
	if st := s.Stats(); st != (Stats{Sent: 1, Retries: 2}) {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDeliverSingleAttemptByDefault(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	boom := errors.New("chat not found")
	f := &fakeSender{fails: 10, err: boom}
	s := New(fastConfig(), f, logx.Nop(), bus)

	err := s.Deliver(context.Background(), Message{PostID: "1", Text: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if f.calls != 1 {
		t.Fatalf("calls = %d, want 1", f.calls)
	}
	if st := s.Stats(); st != (Stats{Failed: 1}) {
		t.Fatalf("stats = %+v", st)
	}
	e := <-events
	if e.Type != EventFailed || e.Data.(DeliveryEvent).Error != boom.Error() {
		t.Fatalf("event = %+v", e)
	}
}

func TestDeliverHonoursRetryAfter(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMax = 1
	f := &fakeSender{fails: 1, err: &kit.RetryAfterError{After: 50 * time.Millisecond, Err: errors.New("flood")}}
	s := New(cfg, f, logx.Nop(), nil)

	start := time.Now()
	if err := s.Deliver(context.Background(), Message{Text: "x"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if el := time.Since(start); el < 50*time.Millisecond {
		t.Fatalf("retried after %v, want >= 50ms", el)
	}
}

func TestDeliverCancelledDuringBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMax = 3
	cfg.RetryBase = time.Hour
	cfg.RetryMaxDelay = time.Hour
	f := &fakeSender{fails: 10, err: errors.New("down")}
	s := New(cfg, f, logx.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Deliver(ctx, Message{Text: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestDeliverWithoutSender(t *testing.T) {
	s := New(fastConfig(), nil, logx.Nop(), nil)
	if err := s.Deliver(context.Background(), Message{}); !errors.Is(err, ErrNoSender) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v outside jitter window", d)
	}
}
