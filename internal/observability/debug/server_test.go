package debug

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "relaybot/pkg/logx"
)

type fakeStatus struct {
	ready bool
	snap  any
}

func (f fakeStatus) Ready() bool   { return f.ready }
func (f fakeStatus) Snapshot() any { return f.snap }

func get(t *testing.T, h http.Handler, target string, header map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestHealthFollowsReadiness(t *testing.T) {
	st := &fakeStatus{}
	h := New(Config{}, st, nil, logx.Nop()).Handler()

	if code, _ := get(t, h, "/healthz", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("before startup code=%d", code)
	}
	st.ready = true
	h = New(Config{}, st, nil, logx.Nop()).Handler()
	if code, body := get(t, h, "/healthz", nil); code != http.StatusOK || body != "ok" {
		t.Fatalf("after startup code=%d body=%q", code, body)
	}
}

func TestStatusJSON(t *testing.T) {
	st := fakeStatus{ready: true, snap: map[string]int{"cycles": 3}}
	code, body := get(t, New(Config{}, st, nil, logx.Nop()).Handler(), "/status", nil)
	if code != http.StatusOK {
		t.Fatalf("code=%d", code)
	}
	if !strings.Contains(body, `"cycles": 3`) {
		t.Fatalf("body=%s", body)
	}
}

func TestDeliveriesLimit(t *testing.T) {
	var gotLimit int
	recent := func(_ context.Context, limit int) (any, error) {
		gotLimit = limit
		return []string{"a"}, nil
	}
	h := New(Config{}, nil, recent, logx.Nop()).Handler()

	if code, _ := get(t, h, "/deliveries", nil); code != http.StatusOK || gotLimit != 20 {
		t.Fatalf("default code=%d limit=%d", code, gotLimit)
	}
	if code, _ := get(t, h, "/deliveries?limit=9000", nil); code != http.StatusOK || gotLimit != 500 {
		t.Fatalf("capped code=%d limit=%d", code, gotLimit)
	}
	if code, _ := get(t, h, "/deliveries?limit=x", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit code=%d", code)
	}
}

func TestDeliveriesDisabledAndFailing(t *testing.T) {
	if code, _ := get(t, New(Config{}, nil, nil, logx.Nop()).Handler(), "/deliveries", nil); code != http.StatusNotFound {
		t.Fatalf("disabled code=%d", code)
	}
	failing := func(context.Context, int) (any, error) { return nil, errors.New("boom") }
	if code, _ := get(t, New(Config{}, nil, failing, logx.Nop()).Handler(), "/deliveries", nil); code != http.StatusInternalServerError {
		t.Fatalf("failing code=%d", code)
	}
}

func TestTokenAuth(t *testing.T) {
	h := New(Config{Token: "s3cret"}, fakeStatus{ready: true}, nil, logx.Nop()).Handler()

	cases := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{name: "missing", target: "/healthz", want: http.StatusUnauthorized},
		{name: "wrong query", target: "/healthz?token=nope", want: http.StatusUnauthorized},
		{name: "query", target: "/healthz?token=s3cret", want: http.StatusOK},
		{name: "bearer", target: "/healthz", header: map[string]string{"Authorization": "Bearer s3cret"}, want: http.StatusOK},
		{name: "wrong bearer", target: "/healthz", header: map[string]string{"Authorization": "Bearer x"}, want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code, _ := get(t, h, tc.target, tc.header); code != tc.want {
				t.Fatalf("code=%d want %d", code, tc.want)
			}
		})
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	if code, _ := get(t, New(Config{}, nil, nil, logx.Nop()).Handler(), "/debug/pprof/", nil); code != http.StatusNotFound {
		t.Fatalf("disabled code=%d", code)
	}
	if code, _ := get(t, New(Config{Pprof: true}, nil, nil, logx.Nop()).Handler(), "/debug/pprof/", nil); code != http.StatusOK {
		t.Fatalf("enabled code=%d", code)
	}
}

func TestRunRefusesPublicBindWithoutToken(t *testing.T) {
	err := New(Config{Addr: "0.0.0.0:0"}, nil, nil, logx.Nop()).Run(context.Background())
	if !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err=%v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(Config{Addr: "127.0.0.1:0"}, nil, nil, logx.Nop()).Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:6060":     true,
		":6060":          false,
		"10.0.0.1:6060":  false,
		"bogus":          false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q)=%v want %v", addr, got, want)
		}
	}
}
