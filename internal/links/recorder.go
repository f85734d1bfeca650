package links

import (
	"context"
	"log/slog"
	"time"

	"github.com/tgcollect/tgcollect/internal/store"
)

// FetchRequest asks the external fetcher collaborator to resolve page
// metadata for one canonical link. The fetcher later writes the result back
// through store.PatchLinkMetadata.
type FetchRequest struct {
	TenantID int64  `json:"tenant_id"`
	Hash     string `json:"hash"`
	URL      string `json:"url"`
}

// FetchQueue hands metadata fetch requests to the external fetcher.
// Implementations must not block the caller on network I/O.
type FetchQueue interface {
	Enqueue(req FetchRequest)
}

// Recorder maintains the Link aggregate set. Metadata enrichment is queued,
// never fetched inline.
type Recorder struct {
	store *store.Store
	queue FetchQueue
}

// NewRecorder creates a Recorder. queue may be nil when metadata enrichment
// is disabled.
func NewRecorder(st *store.Store, queue FetchQueue) *Recorder {
	return &Recorder{store: st, queue: queue}
}

// Record canonicalizes rawURL and folds it into the tenant's aggregates.
// A first sighting also queues a metadata fetch. Unparseable URLs are
// skipped with a debug log; chat text is full of half-pasted garbage.
func (r *Recorder) Record(ctx context.Context, tenantID int64, rawURL, groupTitle string, seen time.Time) error {
	canonical, hash, err := Normalize(rawURL)
	if err != nil {
		slog.Debug("links: skipping unparseable url", "url", rawURL, "error", err)
		return nil
	}

	existing, _ := r.store.GetLink(ctx, tenantID, hash)

	if err := r.store.RecordLink(ctx, tenantID, hash, canonical, groupTitle, seen); err != nil {
		return err
	}

	if existing == nil && r.queue != nil {
		r.queue.Enqueue(FetchRequest{TenantID: tenantID, Hash: hash, URL: canonical})
	}
	return nil
}

// RecordAll extracts every URL from text and records each one.
func (r *Recorder) RecordAll(ctx context.Context, tenantID int64, text, groupTitle string, seen time.Time) {
	for _, raw := range Extract(text) {
		if err := r.Record(ctx, tenantID, raw, groupTitle, seen); err != nil {
			slog.Warn("links: record failed", "tenant_id", tenantID, "url", raw, "error", err)
		}
	}
}
