package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "relaybot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: got (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestDrivers(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data", "relaybot.db")
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()

			ctx := context.Background()
			at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			in := []Delivery{
				{At: at, PostID: "101", AccountID: "42", ChatID: -1001, MessageID: 7, Attempts: 1, OK: true},
				{At: at.Add(time.Second), PostID: "102", AccountID: "42", ChatID: -1001, Attempts: 2, Error: "chat not found"},
				{At: at.Add(2 * time.Second), PostID: "9", AccountID: "77", ChatID: -1001, ThreadID: 3, MessageID: 8, Attempts: 1, OK: true},
			}
			for _, d := range in {
				if err := st.AppendDelivery(ctx, d); err != nil {
					t.Fatalf("AppendDelivery: %v", err)
				}
			}

			got, err := st.Recent(ctx, 2)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("Recent returned %d rows, want 2", len(got))
			}
			if got[0].PostID != "9" || got[0].ThreadID != 3 || !got[0].OK {
				t.Fatalf("newest = %+v", got[0])
			}
			if got[1].PostID != "102" || got[1].OK || got[1].Error != "chat not found" || got[1].Attempts != 2 {
				t.Fatalf("second = %+v", got[1])
			}
			if !got[1].At.Equal(at.Add(time.Second)) {
				t.Fatalf("at = %v", got[1].At)
			}
		})
	}
}

func TestFileStoreClosed(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AppendDelivery(context.Background(), Delivery{PostID: "1"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
