package app

import (
	"context"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/notifier"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// journalLoop writes delivery outcomes from the bus to the store until ctx
// is done or the subscription closes.
func journalLoop(ctx context.Context, events <-chan eventbus.Event, st storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev, ok := e.Data.(notifier.DeliveryEvent)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := st.AppendDelivery(wctx, deliveryRecord(e.Type, ev)); err != nil {
				log.Warn("journal write failed", logx.String("post_id", ev.PostID), logx.Err(err))
			}
			cancel()
		}
	}
}

func deliveryRecord(typ string, ev notifier.DeliveryEvent) storage.Delivery {
	return storage.Delivery{
		At:        ev.At,
		PostID:    ev.PostID,
		AccountID: ev.AccountID,
		ChatID:    ev.ChatID,
		ThreadID:  ev.ThreadID,
		MessageID: ev.MessageID,
		Attempts:  ev.Attempts,
		OK:        typ == notifier.EventSent,
		Error:     ev.Error,
	}
}
