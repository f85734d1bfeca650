// Package pipeline is the single choke point every raw event passes through
// before becoming a stored message, live and backfilled alike.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tgcollect/tgcollect/internal/bus"
	"github.com/tgcollect/tgcollect/internal/links"
	"github.com/tgcollect/tgcollect/internal/network"
	"github.com/tgcollect/tgcollect/internal/store"
)

// Outcome classifies the result of ingesting one raw event.
type Outcome int

const (
	// OutcomeStored means a new message row was written.
	OutcomeStored Outcome = iota
	// OutcomeDuplicate means the message already existed; idempotent no-op.
	OutcomeDuplicate
	// OutcomeSkipped means the event was malformed and dropped.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Pipeline validates, deduplicates, and enriches inbound events, then
// triggers the non-blocking side effects: link aggregation, keyword alerts,
// and the index hand-off.
type Pipeline struct {
	store        *store.Store
	links        *links.Recorder
	bus          *bus.EventBus
	indexer      Indexer
	alertsOn     bool
	excerptChars int
}

// Options configures a Pipeline.
type Options struct {
	Store         *store.Store
	Links         *links.Recorder
	Bus           *bus.EventBus
	Indexer       Indexer // may be nil
	AlertsEnabled bool
	ExcerptChars  int
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	excerpt := opts.ExcerptChars
	if excerpt <= 0 {
		excerpt = 300
	}
	return &Pipeline{
		store:        opts.Store,
		links:        opts.Links,
		bus:          opts.Bus,
		indexer:      opts.Indexer,
		alertsOn:     opts.AlertsEnabled,
		excerptChars: excerpt,
	}
}

// Ingest processes one raw event for a tenant. Malformed events are logged
// and skipped, never returned as errors: a bad payload must not crash the
// worker. Re-delivery of an already-stored message is a successful no-op.
func (p *Pipeline) Ingest(ctx context.Context, tenantID int64, raw *network.RawEvent) (Outcome, error) {
	if err := validate(raw); err != nil {
		slog.Warn("pipeline: skipping malformed event",
			"tenant_id", tenantID, "group_id", raw.GroupID, "error", err)
		return OutcomeSkipped, nil
	}

	msg := &store.Message{
		TenantID:    tenantID,
		GroupID:     raw.GroupID,
		MsgID:       raw.MsgID,
		SenderID:    raw.SenderID,
		SenderName:  raw.SenderName,
		Text:        raw.Text,
		MediaType:   raw.MediaType,
		Timestamp:   raw.Timestamp,
		ReplyToID:   raw.ReplyToID,
		ForwardFrom: raw.ForwardFrom,
	}

	inserted, err := p.store.InsertMessage(ctx, msg)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("insert message: %w", err)
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}

	if raw.Text != "" {
		groupTitle := p.store.GroupTitle(ctx, tenantID, raw.GroupID)
		p.links.RecordAll(ctx, tenantID, raw.Text, groupTitle, raw.Timestamp)
		p.checkAlerts(ctx, tenantID, msg, groupTitle)
	}

	if p.indexer != nil {
		p.indexer.Index(IndexEntry{
			TenantID:  tenantID,
			GroupID:   raw.GroupID,
			MessageID: raw.MsgID,
			Text:      raw.Text,
		})
	}

	return OutcomeStored, nil
}

func validate(raw *network.RawEvent) error {
	if raw == nil {
		return fmt.Errorf("nil event")
	}
	if raw.Kind != network.EventMessage {
		return fmt.Errorf("not a message event")
	}
	if raw.GroupID == 0 {
		return fmt.Errorf("missing group id")
	}
	if raw.MsgID == 0 {
		return fmt.Errorf("missing message id")
	}
	if raw.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// checkAlerts matches the message text against the tenant's keywords and
// publishes an alert event on a hit. Publishing is non-blocking; the alert
// path must never delay persistence.
func (p *Pipeline) checkAlerts(ctx context.Context, tenantID int64, msg *store.Message, groupTitle string) {
	if !p.alertsOn {
		return
	}
	keywords, err := p.store.AlertKeywords(ctx, tenantID)
	if err != nil || len(keywords) == 0 {
		return
	}

	lower := strings.ToLower(msg.Text)
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	if len(matched) == 0 {
		return
	}

	// Persisted dedup key: a restart must not re-alert on redelivery.
	key := fmt.Sprintf("%d_%d_%d", tenantID, msg.GroupID, msg.MsgID)
	first, err := p.store.MarkAlerted(ctx, key)
	if err != nil {
		slog.Warn("pipeline: alert dedup write failed", "key", key, "error", err)
		return
	}
	if !first {
		return
	}

	excerpt := msg.Text
	if len(excerpt) > p.excerptChars {
		excerpt = excerpt[:p.excerptChars] + "..."
	}
	p.bus.PublishAlert(&bus.AlertEvent{
		EventID:    uuid.NewString(),
		TenantID:   tenantID,
		GroupID:    msg.GroupID,
		GroupTitle: groupTitle,
		MessageID:  msg.MsgID,
		SenderName: msg.SenderName,
		Keywords:   matched,
		Excerpt:    excerpt,
		Timestamp:  msg.Timestamp,
	})
	slog.Info("pipeline: alert", "tenant_id", tenantID, "group", groupTitle, "keywords", matched)
}
