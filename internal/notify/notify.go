// Package notify delivers alert events to operators.
package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tgcollect/tgcollect/internal/bus"
)

// Notifier delivers one alert. Implementations are called from the bus
// dispatcher goroutine and should return quickly.
type Notifier interface {
	Notify(ctx context.Context, ev *bus.AlertEvent) error
}

// Attach subscribes a notifier to the bus alert stream. Delivery errors are
// logged, never propagated: a broken notifier must not stall ingestion.
func Attach(ctx context.Context, events *bus.EventBus, n Notifier) {
	events.SubscribeAlerts(func(ev *bus.AlertEvent) {
		if err := n.Notify(ctx, ev); err != nil {
			slog.Error("notify: delivery failed",
				"event_id", ev.EventID, "tenant_id", ev.TenantID, "error", err)
		}
	})
}

// LogNotifier writes alerts to the structured log. The default when no
// external channel is configured.
type LogNotifier struct{}

// Notify logs the alert.
func (LogNotifier) Notify(_ context.Context, ev *bus.AlertEvent) error {
	slog.Info("alert",
		"tenant_id", ev.TenantID,
		"group", ev.GroupTitle,
		"message_id", ev.MessageID,
		"sender", ev.SenderName,
		"keywords", strings.Join(ev.Keywords, ","),
		"excerpt", ev.Excerpt)
	return nil
}
