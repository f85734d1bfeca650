package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tgcollect/tgcollect/internal/network"
	"github.com/tgcollect/tgcollect/internal/pipeline"
)

// backfillAll closes the gap between each monitored group's watermark and
// the network's newest message. Interruption at any point is safe: the
// watermark only moves after a whole batch has been accepted, and the
// pipeline dedups anything refetched on resume.
func (w *Worker) backfillAll(ctx context.Context, sess network.Session) error {
	groups, err := w.store.ListGroups(ctx, w.tenant.ID, true)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := w.backfillGroup(ctx, sess, g.GroupID); err != nil {
			return err
		}
	}
	return nil
}

// backfillGroup fetches the gap for one group in bounded oldest-first
// batches, feeding every message through the same ingestion pipeline as
// live events.
func (w *Worker) backfillGroup(ctx context.Context, sess network.Session, groupID int64) error {
	latest, err := sess.LatestMessageID(ctx, groupID)
	if err != nil {
		return err
	}
	if latest == 0 {
		return nil
	}

	wm, err := w.store.Watermark(ctx, w.tenant.ID, groupID)
	if err != nil {
		return err
	}
	if wm >= latest {
		return nil
	}

	slog.Info("worker: backfilling gap",
		"tenant_id", w.tenant.ID, "group_id", groupID, "from", wm, "to", latest)

	start := time.Now()
	total := 0
	for wm < latest {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.draining() {
			return nil
		}
		batch, err := sess.FetchHistory(ctx, groupID, wm, w.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		highest := int64(0)
		for i := range batch {
			outcome, err := w.pipe.Ingest(ctx, w.tenant.ID, &batch[i])
			if err != nil {
				// Store failure mid-batch: stop without advancing the
				// watermark so the batch is refetched on resume.
				return err
			}
			if outcome == pipeline.OutcomeSkipped {
				continue
			}
			if batch[i].MsgID > highest {
				highest = batch[i].MsgID
			}
			total++
		}

		if highest > wm {
			if err := w.store.AdvanceWatermark(ctx, w.tenant.ID, groupID, highest); err != nil {
				return err
			}
			wm = highest
		} else {
			// Nothing ingestible in the batch; stop rather than spin.
			break
		}
	}

	slog.Info("worker: backfill done",
		"tenant_id", w.tenant.ID, "group_id", groupID,
		"messages", total, "took", time.Since(start).Round(time.Millisecond))
	return nil
}
