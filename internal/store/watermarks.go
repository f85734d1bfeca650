package store

import (
	"context"
	"database/sql"
)

// Watermark returns the last fully-ingested message id for a group, 0 when
// the group has never been ingested.
func (s *Store) Watermark(ctx context.Context, tenantID, groupID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT msg_id FROM watermarks WHERE tenant_id = ? AND group_id = ?`,
		tenantID, groupID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// AdvanceWatermark moves the watermark forward to msgID. Moves backwards are
// silently ignored: the watermark is monotonic, so an out-of-order live event
// or a concurrent backfill can never rewind it.
func (s *Store) AdvanceWatermark(ctx context.Context, tenantID, groupID, msgID int64) error {
	return execRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO watermarks (tenant_id, group_id, msg_id, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(tenant_id, group_id) DO UPDATE SET
				msg_id = excluded.msg_id,
				updated_at = CURRENT_TIMESTAMP
			WHERE excluded.msg_id > watermarks.msg_id`,
			tenantID, groupID, msgID)
		return err
	})
}
