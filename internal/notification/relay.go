package notification

import (
	"context"
	"log/slog"
	"time"

	"trendwatch/internal/alert"
	"trendwatch/internal/engine"
)

// SendTimeout bounds a single delivery.
const SendTimeout = 15 * time.Second

// Relay renders and delivers the notifications of every evaluation read from
// in, recording them in history (which may be nil). It returns when in is
// closed or ctx is cancelled.
func Relay(ctx context.Context, n Notifier, in <-chan engine.Evaluation, history *alert.History, log *slog.Logger) {
	log = log.With("component", "relay")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if len(ev.Notifications) == 0 {
				continue
			}
			if history != nil {
				history.Push(ev.Notifications...)
			}
			for _, note := range ev.Notifications {
				sendCtx, cancel := context.WithTimeout(ctx, SendTimeout)
				if err := n.Send(sendCtx, Format(note)); err != nil {
					log.Warn("notification not delivered", "id", note.ID, "kind", note.Kind.String(), "symbol", note.Symbol, "error", err)
				}
				cancel()
			}
		}
	}
}
