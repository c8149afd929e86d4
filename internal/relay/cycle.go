package relay

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"relaybot/internal/notifier"
	"relaybot/internal/source"
	logx "relaybot/pkg/logx"
)

// RunCycle polls every monitored account once, in resolution order.
//
// A rate limit from the source sleeps the cooldown and ends the cycle early;
// any other fetch error only skips that account.
func (r *Relay) RunCycle(ctx context.Context) CycleReport {
	rep := CycleReport{Started: r.clock.Now()}
	defer func() {
		rep.Took = r.clock.Now().Sub(rep.Started)
		r.publish(EventCycleFinished, rep)
	}()

	for _, acc := range r.accounts {
		if ctx.Err() != nil {
			return rep
		}
		rep.Polled++
		if err := r.pollAccount(ctx, acc, &rep); err != nil {
			if !errors.Is(err, source.ErrRateLimited) {
				continue
			}
			rep.RateLimited = true
			r.log.Warn("rate limited, pausing cycle",
				logx.String("handle", acc.Handle),
				logx.Duration("cooldown", r.cfg.Cooldown),
				logx.Err(err))
			r.publish(EventRateLimited, acc.ID)
			_ = r.clock.Sleep(ctx, r.cfg.Cooldown)
			return rep
		}
	}
	return rep
}

// pollAccount returns the fetch error, if any. Delivery errors are handled
// here and never returned.
func (r *Relay) pollAccount(ctx context.Context, acc source.Account, rep *CycleReport) error {
	log := r.log.With(logx.String("handle", acc.Handle), logx.String("account_id", acc.ID))

	since, hadCursor := r.cursors.Get(acc.ID)
	posts, err := r.src.FetchRecent(ctx, source.FetchParams{
		AccountID:  acc.ID,
		SinceID:    since,
		MaxResults: r.cfg.PageSize,
		StartTime:  r.start,
	})
	if err != nil {
		if errors.Is(err, source.ErrRateLimited) || ctx.Err() != nil {
			return err
		}
		rep.FetchErrors++
		log.Error("fetch posts failed", diagFields(err)...)
		return err
	}
	if len(posts) == 0 {
		log.Info("no new posts")
		return nil
	}
	rep.Found += len(posts)
	log.Info("new posts found", logx.Int("count", len(posts)))

	for _, p := range chronological(posts) {
		plog := log.With(logx.String("post_id", p.ID))
		if !hadCursor && !p.CreatedAt.IsZero() && p.CreatedAt.Before(r.start) {
			rep.Skipped++
			r.cursors.Advance(acc.ID, p.ID)
			plog.Debug("post predates start, not relaying", logx.Time("created_at", p.CreatedAt))
			continue
		}

		err := r.sink.Deliver(ctx, notifier.Message{PostID: p.ID, AccountID: acc.ID, Text: FormatMessage(acc, p)})
		if err != nil {
			rep.Failed++
			if r.cfg.StrictDelivery {
				plog.Error("delivery failed, will retry next cycle", logx.Err(err))
				return nil
			}
			plog.Error("delivery failed, post dropped", logx.Err(err))
		} else {
			rep.Relayed++
			plog.Debug("post relayed")
		}
		r.cursors.Advance(acc.ID, p.ID)
	}
	return nil
}

// chronological returns newest-first posts oldest-first. The source already
// orders by id; sorting by id keeps delivery ordered even if it did not.
func chronological(posts []source.Post) []source.Post {
	out := source.Oldest(posts)
	sort.SliceStable(out, func(i, j int) bool { return source.CompareIDs(out[i].ID, out[j].ID) < 0 })
	return out
}

// diagFields expands an API error into status, headers and body.
func diagFields(err error) []logx.Field {
	fields := []logx.Field{logx.Err(err)}
	var apiErr *source.APIError
	if errors.As(err, &apiErr) {
		fields = append(fields,
			logx.Int("status", apiErr.Status),
			logx.String("status_text", http.StatusText(apiErr.Status)),
			logx.String("body", apiErr.Body),
		)
		if len(apiErr.Header) > 0 {
			fields = append(fields, logx.Any("headers", flattenHeader(apiErr.Header)))
		}
	}
	return fields
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if strings.EqualFold(k, "Authorization") || strings.EqualFold(k, "Set-Cookie") {
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}
