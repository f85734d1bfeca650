// Package bus provides the async event bus between the collector core and
// its external collaborators (notifier, dashboard, supervisor).
package bus

import (
	"context"
	"sync"
	"time"
)

// AlertEvent is emitted when a message matches tenant alert keywords.
type AlertEvent struct {
	EventID    string    `json:"event_id"`
	TenantID   int64     `json:"tenant_id"`
	GroupID    int64     `json:"group_id"`
	GroupTitle string    `json:"group_title"`
	MessageID  int64     `json:"message_id"`
	SenderName string    `json:"sender_name"`
	Keywords   []string  `json:"matched_keywords"`
	Excerpt    string    `json:"excerpt"`
	Timestamp  time.Time `json:"timestamp"`
}

// TenantEvent signals a tenant status change that the supervisor should
// react to (activation, deactivation, auth revocation).
type TenantEvent struct {
	TenantID  int64     `json:"tenant_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// EventBus decouples the ingestion pipeline and supervisor from their
// subscribers. Publishing never blocks the caller: when a buffer is full
// the event is dropped.
type EventBus struct {
	alerts  chan *AlertEvent
	tenants chan *TenantEvent
	subs    []func(*AlertEvent)
	dropped int
	mu      sync.RWMutex
}

// New creates an event bus with bounded buffers.
func New() *EventBus {
	return &EventBus{
		alerts:  make(chan *AlertEvent, 100),
		tenants: make(chan *TenantEvent, 100),
	}
}

// PublishAlert queues an alert event. Non-blocking.
func (b *EventBus) PublishAlert(ev *AlertEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case b.alerts <- ev:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// PublishTenant queues a tenant status change event. Non-blocking.
func (b *EventBus) PublishTenant(ev *TenantEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case b.tenants <- ev:
	default:
	}
}

// SubscribeAlerts registers a callback invoked for every dispatched alert.
func (b *EventBus) SubscribeAlerts(callback func(*AlertEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, callback)
}

// TenantEvents returns the tenant status change stream. Consumed by the
// supervisor's reconcile loop.
func (b *EventBus) TenantEvents() <-chan *TenantEvent {
	return b.tenants
}

// DispatchAlerts runs the alert dispatcher. This should be run as a goroutine.
func (b *EventBus) DispatchAlerts(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.alerts:
			b.mu.RLock()
			subs := b.subs
			b.mu.RUnlock()
			for _, cb := range subs {
				cb(ev)
			}
		}
	}
}

// Dropped returns the number of alert events dropped due to a full buffer.
func (b *EventBus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// AlertQueueSize returns the number of pending alert events.
func (b *EventBus) AlertQueueSize() int {
	return len(b.alerts)
}
