package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/notifier"
	"relaybot/internal/schedule"
	"relaybot/internal/source"
	logx "relaybot/pkg/logx"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeClock advances instantly on Sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type fetchCall struct {
	params source.FetchParams
}

// fakeSource serves posts per account id. Each account holds its full
// timeline; FetchRecent applies since_id/start_time/max_results like the API.
type fakeSource struct {
	accounts  map[string]string // handle -> id
	timelines map[string][]source.Post
	fetchErr  map[string]error
	calls     []fetchCall
	resolved  []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		accounts:  map[string]string{},
		timelines: map[string][]source.Post{},
		fetchErr:  map[string]error{},
	}
}

func (f *fakeSource) Resolve(_ context.Context, handle string) (source.Account, error) {
	f.resolved = append(f.resolved, handle)
	id, ok := f.accounts[handle]
	if !ok {
		return source.Account{}, fmt.Errorf("resolve @%s: %w", handle, source.ErrNotFound)
	}
	if id == "" {
		return source.Account{}, errors.New("lookup failed")
	}
	return source.Account{ID: id, Handle: handle}, nil
}

// post appends a post to an account's timeline (oldest first).
func (f *fakeSource) post(accountID, id string, at time.Time) {
	f.timelines[accountID] = append(f.timelines[accountID], source.Post{ID: id, Text: "text " + id, AuthorID: accountID, CreatedAt: at})
}

func (f *fakeSource) FetchRecent(_ context.Context, p source.FetchParams) ([]source.Post, error) {
	f.calls = append(f.calls, fetchCall{params: p})
	if err := f.fetchErr[p.AccountID]; err != nil {
		return nil, err
	}
	var out []source.Post
	tl := f.timelines[p.AccountID]
	for i := len(tl) - 1; i >= 0 && len(out) < p.MaxResults; i-- {
		post := tl[i]
		if p.SinceID != "" && source.CompareIDs(post.ID, p.SinceID) <= 0 {
			continue
		}
		out = append(out, post)
	}
	return out, nil
}

func (f *fakeSource) fetchedAccounts() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.params.AccountID)
	}
	return out
}

type fakeSink struct {
	sent   []notifier.Message
	failOn map[string]bool
}

func (s *fakeSink) Deliver(_ context.Context, m notifier.Message) error {
	if s.failOn[m.PostID] {
		return errors.New("send failed")
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSink) ids() []string {
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.PostID)
	}
	return out
}

func newTestRelay(src *fakeSource, sink *fakeSink, clock Clock, cfg Config) *Relay {
	return New(cfg, src, sink, WithClock(clock), WithLogger(logx.Nop()))
}

// started runs Startup with an empty source so every cursor is absent, then
// lets the test populate timelines.
func started(t *testing.T, r *Relay) {
	t.Helper()
	if _, err := r.Startup(context.Background()); err != nil {
		t.Fatalf("Startup: %v", err)
	}
}

func join(ids []string) string { return strings.Join(ids, ",") }

func TestEndToEndAbsentCursor(t *testing.T) {
	src := newFakeSource()
	src.accounts["alice"] = "42"
	sink := &fakeSink{}
	r := newTestRelay(src, sink, newFakeClock(t0), Config{Handles: []string{"alice"}})
	started(t, r)
	if _, ok := r.Cursors().Get("42"); ok {
		t.Fatal("cursor should be absent for an account without posts")
	}

	for i, id := range []string{"101", "102", "103"} {
		src.post("42", id, t0.Add(time.Duration(i+1)*time.Minute))
	}
	rep := r.RunCycle(context.Background())

	if got := join(sink.ids()); got != "101,102,103" {
		t.Fatalf("delivered %s, want 101,102,103", got)
	}
	if cur, _ := r.Cursors().Get("42"); cur != "103" {
		t.Fatalf("cursor = %q, want 103", cur)
	}
	if rep.Relayed != 3 || rep.Found != 3 || rep.Polled != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if sink.sent[0].Text != "New post by account 42:\n\ntext 101" || sink.sent[0].AccountID != "42" {
		t.Fatalf("message = %+v", sink.sent[0])
	}
}

func TestNoNewPostsKeepsCursor(t *testing.T) {
	src := newFakeSource()
	src.accounts["alice"] = "42"
	src.post("42", "103", t0.Add(-time.Hour))
	sink := &fakeSink{}
	r := newTestRelay(src, sink, newFakeClock(t0), Config{Handles: []string{"alice"}})
	started(t, r)
	if cur, _ := r.Cursors().Get("42"); cur != "103" {
		t.Fatalf("baseline = %q, want 103", cur)
	}

	r.RunCycle(context.Background())
	if len(sink.sent) != 0 {
		t.Fatalf("unexpected deliveries %v", sink.ids())
	}
	if cur, _ := r.Cursors().Get("42"); cur != "103" {
		t.Fatalf("cursor = %q, want 103", cur)
	}
	last := src.calls[len(src.calls)-1].params
	if last.SinceID != "103" || last.MaxResults != DefaultPageSize || !last.StartTime.Equal(t0) {
		t.Fatalf("fetch params = %+v", last)
	}
}

func TestBaselineIsNotRelayed(t *testing.T) {
	src := newFakeSource()
	src.accounts["alice"] = "42"
	src.post("42", "90", t0.Add(-2*time.Hour))
	src.post("42", "100", t0.Add(-time.Hour))
	sink := &fakeSink{}
	r := newTestRelay(src, sink, newFakeClock(t0), Config{Handles: []string{"alice"}})
	started(t, r)

	if p := src.calls[0].params; p.MaxResults != 1 || p.SinceID != "" || !p.StartTime.IsZero() {
		t.Fatalf("baseline fetch params = %+v", p)
	}
	src.post("42", "110", t0.Add(time.Minute))
	r.RunCycle(context.Background())
	if got := join(sink.ids()); got != "110" {
		t.Fatalf("delivered %s, want 110", got)
	}
}

func TestPostsBeforeStartAreNeverRelayed(t *testing.T) {
	src := newFakeSource()
	src.accounts["alice"] = "42"
	sink := &fakeSink{}
	r := newTestRelay(src, sink, newFakeClock(t0), Config{Handles: []string{"alice"}})
	started(t, r)

	src.post("42", "200", t0.Add(-30*time.Minute))
	src.post("42", "201", t0.Add(-time.Second))
	src.post("42", "202", t0.Add(time.Second))
	rep := r.RunCycle(context.Background())

	if got := join(sink.ids()); got != "202" {
		t.Fatalf("delivered %s, want only 202", got)
	}
	if rep.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2", rep.Skipped)
	}
	if cur, _ := r.Cursors().Get("42"); cur != "202" {
		t.Fatalf("cursor = %q, want 202", cur)
	}
}

func TestDeliveryOrderIsChronological(t *testing.T) {
	src := newFakeSource()
	src.accounts["alice"] = "42"
	sink := &fakeSink{}
	r := newTestRelay(src, sink, newFakeClock(t0), Config{Handles: []string{"alice"}})
	started(t, r)

	// Ids of different length must order numerically.
	for i, id := range []string{"98", "99", "100", "1000", "1001"} {
		src.post("42", id, t0.Add(time.Duration(i+1)*time.Second))
	}
	r.RunCycle(context.Background())
	ids := sink.ids()
	if join(ids) != "98,99,100,1000,1001" {
		t.Fatalf("delivered %s", join(ids))
	}
	for i := 1; i < len(ids); i++ {
		if source.CompareIDs(ids[i-1], ids[i]) >= 0 {
			t.Fatalf("delivery %d out of order: %v", i, ids)
		}
	}
}

func TestCursorAdvancesDespiteDeliveryFailure(t *testing.T) {
	src := newFakeSource()
	src.accounts["alice"] = "42"
	src.post("42", "100", t0.Add(-time.Hour))
	sink := &fakeSink{failOn: map[string]bool{"102": true, "103": true}}
	r := newTestRelay(src, sink, newFakeClock(t0), Config{Handles: []string{"alice"}})
	started(t, r)

	src.post("42", "101", t0.Add(time.Minute))
	src.post("42", "102", t0.Add(2*time.Minute))
	src.post("42", "103", t0.Add(3*time.Minute))
	rep := r.RunCycle(context.Background())

	if cur, _ := r.Cursors().Get("42"); cur != "103" {
		t.Fatalf("cursor = %q, want 103", cur)
	}
	if rep.Failed != 2 || rep.Relayed != 1 {
		t.Fatalf("report = %+v", rep)
	}

	// Failed posts are not retried.
	sink.failOn = nil
	r.RunCycle(context.Background())
	if got := join(sink.ids()); got != "101" {
		t.Fatalf("delivered %s, want 101", got)
	}
}

func TestStrictDeliveryRetriesFailedPost(t *testing.T) {
	src := newFakeSource()
	src.accounts["alice"] = "42"
	src.post("42", "100", t0.Add(-time.Hour))
	sink := &fakeSink{failOn: map[string]bool{"102": true}}
	r := newTestRelay(src, sink, newFakeClock(t0), Config{Handles: []string{"alice"}, StrictDelivery: true})
	started(t, r)

	src.post("42", "101", t0.Add(time.Minute))
	src.post("42", "102", t0.Add(2*time.Minute))
	src.post("42", "103", t0.Add(3*time.Minute))
	r.RunCycle(context.Background())
	if cur, _ := r.Cursors().Get("42"); cur != "101" {
		t.Fatalf("cursor = %q, want 101", cur)
	}
	if got := join(sink.ids()); got != "101" {
		t.Fatalf("delivered %s, want 101", got)
	}

	sink.failOn = nil
	r.RunCycle(context.Background())
	if got := join(sink.ids()); got != "101,102,103" {
		t.Fatalf("delivered %s, want 101,102,103", got)
	}
	if cur, _ := r.Cursors().Get("42"); cur != "103" {
		t.Fatalf("cursor = %q, want 103", cur)
	}
}

func TestSecondCycleIsIdempotent(t *testing.T) {
	src := newFakeSource()
	src.accounts["alice"] = "42"
	src.accounts["bob"] = "77"
	sink := &fakeSink{}
	r := newTestRelay(src, sink, newFakeClock(t0), Config{Handles: []string{"alice", "bob"}})
	started(t, r)

	src.post("42", "101", t0.Add(time.Minute))
	src.post("77", "500", t0.Add(time.Minute))
	r.RunCycle(context.Background())
	first := len(sink.sent)
	if first != 2 {
		t.Fatalf("first cycle delivered %d, want 2", first)
	}
	rep := r.RunCycle(context.Background())
	if len(sink.sent) != first || rep.Relayed != 0 {
		t.Fatalf("second cycle delivered %d more", len(sink.sent)-first)
	}
}

func TestRateLimitPausesAndEndsCycle(t *testing.T) {
	src := newFakeSource()
	src.accounts["a"] = "1"
	src.accounts["b"] = "2"
	src.accounts["c"] = "3"
	clock := newFakeClock(t0)
	sink := &fakeSink{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, EventRateLimited)
	defer unsub()
	r := New(Config{Handles: []string{"a", "b", "c"}, Cooldown: 900 * time.Second}, src, sink,
		WithClock(clock), WithLogger(logx.Nop()), WithBus(bus))
	started(t, r)

	src.post("1", "11", t0.Add(time.Minute))
	src.post("3", "31", t0.Add(time.Minute))
	src.fetchErr["2"] = fmt.Errorf("fetch: %w", &source.RateLimitError{Limit: -1, Remaining: 0})
	src.calls = nil

	rep := r.RunCycle(context.Background())

	if got := join(src.fetchedAccounts()); got != "1,2" {
		t.Fatalf("fetched %s, want 1,2 (c must not be attempted)", got)
	}
	if got := join(sink.ids()); got != "11" {
		t.Fatalf("delivered %s, want 11", got)
	}
	if !rep.RateLimited {
		t.Fatal("report should be rate limited")
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 900*time.Second {
		t.Fatalf("sleeps = %v, want one cooldown of 900s", clock.sleeps)
	}
	if len(events) != 1 {
		t.Fatalf("rate limit events = %d, want 1", len(events))
	}
	if _, ok := r.Cursors().Get("3"); ok {
		t.Fatal("skipped account must keep its cursor")
	}
}

func TestGenericFetchErrorSkipsAccount(t *testing.T) {
	src := newFakeSource()
	src.accounts["a"] = "1"
	src.accounts["b"] = "2"
	clock := newFakeClock(t0)
	sink := &fakeSink{}
	r := newTestRelay(src, sink, clock, Config{Handles: []string{"a", "b"}})
	started(t, r)

	src.fetchErr["1"] = &source.APIError{Op: "fetch", Status: 503, Body: "over capacity"}
	src.post("2", "21", t0.Add(time.Minute))
	rep := r.RunCycle(context.Background())

	if got := join(sink.ids()); got != "21" {
		t.Fatalf("delivered %s, want 21", got)
	}
	if rep.FetchErrors != 1 || rep.RateLimited {
		t.Fatalf("report = %+v", rep)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("generic errors must not pause: %v", clock.sleeps)
	}
}

func TestResolutionSkipsUnknownHandles(t *testing.T) {
	src := newFakeSource()
	src.accounts["alice"] = "42"
	src.accounts["broken"] = ""
	src.accounts["dup"] = "42"
	r := newTestRelay(src, &fakeSink{}, newFakeClock(t0), Config{Handles: []string{" @alice", "ghost", "", "broken", "dup", " "}})
	rep, err := r.Startup(context.Background())
	if err != nil {
		t.Fatalf("Startup: %v", err)
	}
	accs := r.Accounts()
	if len(accs) != 2 || accs[0].ID != "42" || accs[1].ID != "42" {
		t.Fatalf("accounts = %+v", accs)
	}
	if rep.Resolved != 2 || rep.Handles != 6 {
		t.Fatalf("startup report = %+v", rep)
	}
	if join(src.resolved) != "alice,ghost,broken,dup" {
		t.Fatalf("resolved = %v", src.resolved)
	}
}

func TestInitFailureLeavesCursorAbsent(t *testing.T) {
	src := newFakeSource()
	src.accounts["alice"] = "42"
	src.post("42", "100", t0.Add(-time.Hour))
	src.fetchErr["42"] = errors.New("boom")
	sink := &fakeSink{}
	r := newTestRelay(src, sink, newFakeClock(t0), Config{Handles: []string{"alice"}})
	rep, _ := r.Startup(context.Background())
	if rep.InitErrors != 1 || rep.Baselines != 0 {
		t.Fatalf("startup report = %+v", rep)
	}

	// The old post predates start and is not relayed once fetching recovers.
	delete(src.fetchErr, "42")
	r.RunCycle(context.Background())
	if len(sink.sent) != 0 {
		t.Fatalf("delivered %v", sink.ids())
	}
	if cur, _ := r.Cursors().Get("42"); cur != "100" {
		t.Fatalf("cursor = %q, want 100", cur)
	}
}

func TestCursorsNeverMoveBackwards(t *testing.T) {
	t.Parallel()
	c := NewCursors()
	if !c.Advance("1", "100") {
		t.Fatal("first advance should succeed")
	}
	if c.Advance("1", "99") || c.Advance("1", "100") || c.Advance("1", "") {
		t.Fatal("cursor moved backwards or sideways")
	}
	if !c.Advance("1", "1000") {
		t.Fatal("numeric advance should succeed")
	}
	if cur, _ := c.Get("1"); cur != "1000" {
		t.Fatalf("cursor = %q", cur)
	}
	snap := c.Snapshot()
	snap["1"] = "0"
	if cur, _ := c.Get("1"); cur != "1000" {
		t.Fatal("snapshot must be a copy")
	}
}

func TestRunCyclesOnScheduleUntilCancelled(t *testing.T) {
	src := newFakeSource()
	src.accounts["alice"] = "42"
	clock := newFakeClock(t0)
	sink := &fakeSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reports []CycleReport
	ready := false
	r := New(Config{Handles: []string{"alice"}, Schedule: schedule.Every(2 * time.Minute)}, src, sink,
		WithClock(clock),
		WithLogger(logx.Nop()),
		WithReadyHook(func(StartupReport) { ready = true }),
		WithCycleHook(func(rep CycleReport) {
			reports = append(reports, rep)
			switch len(reports) {
			case 1:
				src.post("42", "101", clock.Now().Add(time.Second))
			case 3:
				cancel()
			}
		}))

	err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if !ready {
		t.Fatal("ready hook not called")
	}
	if len(reports) != 3 {
		t.Fatalf("cycles = %d, want 3", len(reports))
	}
	if len(clock.sleeps) != 2 || clock.sleeps[0] != 2*time.Minute {
		t.Fatalf("sleeps = %v", clock.sleeps)
	}
	if got := join(sink.ids()); got != "101" {
		t.Fatalf("delivered %s, want 101", got)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()
	r := New(Config{}, newFakeSource(), &fakeSink{})
	if r.cfg.PageSize != DefaultPageSize || r.cfg.Cooldown != DefaultCooldown || r.cfg.Schedule.Every != DefaultInterval {
		t.Fatalf("defaults not applied: %+v", r.cfg)
	}
	for in, want := range map[int]int{3: MinPageSize, 20: 20, 500: MaxPageSize} {
		if got := New(Config{PageSize: in}, newFakeSource(), &fakeSink{}).cfg.PageSize; got != want {
			t.Fatalf("page size %d -> %d, want %d", in, got, want)
		}
	}
}

func TestSystemClockSleepCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SystemClock().Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep = %v", err)
	}
}
