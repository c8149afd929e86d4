package relay

import (
	"context"
	"errors"
	"strings"

	"relaybot/internal/source"
	logx "relaybot/pkg/logx"
)

// Resolve looks up every configured handle. Handles that fail to resolve are
// logged and left out; duplicates are kept.
func (r *Relay) Resolve(ctx context.Context) []source.Account {
	out := make([]source.Account, 0, len(r.cfg.Handles))
	for i, h := range r.cfg.Handles {
		h = strings.TrimPrefix(strings.TrimSpace(h), "@")
		if h == "" {
			r.log.Warn("empty handle entry, skipping", logx.Int("entry", i+1))
			continue
		}
		acc, err := r.src.Resolve(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return out
			}
			if errors.Is(err, source.ErrNotFound) {
				r.log.Error("handle not found, not monitoring it", logx.String("handle", h))
			} else {
				r.log.Error("resolve handle failed, not monitoring it", logx.String("handle", h), logx.Err(err))
			}
			continue
		}
		if acc.Handle == "" {
			acc.Handle = h
		}
		r.log.Info("monitoring account", logx.String("handle", acc.Handle), logx.String("account_id", acc.ID))
		out = append(out, acc)
	}
	return out
}

// InitCursors takes each account's newest post as its baseline. Accounts with
// no posts, or whose fetch failed, stay without a cursor. It returns the
// number of fetch failures.
func (r *Relay) InitCursors(ctx context.Context) int {
	failures := 0
	for _, acc := range r.accounts {
		log := r.log.With(logx.String("handle", acc.Handle), logx.String("account_id", acc.ID))
		posts, err := r.src.FetchRecent(ctx, source.FetchParams{AccountID: acc.ID, MaxResults: initPageSize})
		if err != nil {
			if ctx.Err() != nil {
				return failures
			}
			failures++
			log.Error("baseline fetch failed", diagFields(err)...)
			continue
		}
		if len(posts) == 0 {
			log.Warn("no posts yet, starting without a baseline")
			continue
		}
		r.cursors.Advance(acc.ID, posts[0].ID)
		log.Info("baseline set", logx.String("post_id", posts[0].ID))
	}
	return failures
}

// Startup runs the STARTUP phase: resolve handles, record the start time,
// then take baselines.
func (r *Relay) Startup(ctx context.Context) (StartupReport, error) {
	r.accounts = r.Resolve(ctx)
	if err := ctx.Err(); err != nil {
		return StartupReport{}, err
	}
	r.start = r.clock.Now()
	if len(r.accounts) == 0 {
		r.log.Warn("no handle resolved, cycles will be empty", logx.Int("handles", len(r.cfg.Handles)))
	}
	failures := r.InitCursors(ctx)
	if err := ctx.Err(); err != nil {
		return StartupReport{}, err
	}
	rep := StartupReport{
		StartTime:  r.start,
		Handles:    len(r.cfg.Handles),
		Resolved:   len(r.accounts),
		Baselines:  r.cursors.Len(),
		InitErrors: failures,
	}
	r.publish(EventStarted, rep)
	return rep, nil
}
