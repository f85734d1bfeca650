package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertMessage inserts one message. Returns false when the message was
// already present: re-delivery of the same (tenant, group, msg_id) is a
// no-op, which is what makes at-least-once delivery safe.
func (s *Store) InsertMessage(ctx context.Context, m *Message) (bool, error) {
	var inserted bool
	err := execRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO messages
			(tenant_id, group_id, msg_id, sender_id, sender_name, text, media_type,
			 timestamp, reply_to_id, forward_from)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.TenantID, m.GroupID, m.MsgID, m.SenderID, m.SenderName, m.Text,
			m.MediaType, m.Timestamp.UTC(), m.ReplyToID, m.ForwardFrom)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// GetMessage returns one stored message.
func (s *Store) GetMessage(ctx context.Context, tenantID, groupID, msgID int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, group_id, msg_id, sender_id, sender_name, text,
		       COALESCE(media_type, ''), timestamp, COALESCE(reply_to_id, 0),
		       COALESCE(forward_from, ''), created_at
		FROM messages WHERE tenant_id = ? AND group_id = ? AND msg_id = ?`,
		tenantID, groupID, msgID)
	return scanMessage(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	m := &Message{}
	var senderID sql.NullInt64
	var senderName, text sql.NullString
	err := row.Scan(&m.TenantID, &m.GroupID, &m.MsgID, &senderID, &senderName,
		&text, &m.MediaType, &m.Timestamp, &m.ReplyToID, &m.ForwardFrom, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message not found")
	}
	if err != nil {
		return nil, err
	}
	m.SenderID = senderID.Int64
	m.SenderName = senderName.String
	m.Text = text.String
	return m, nil
}

// RecentMessages returns the latest messages for a tenant, newest last.
// groupID == 0 means all groups.
func (s *Store) RecentMessages(ctx context.Context, tenantID, groupID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT tenant_id, group_id, msg_id, sender_id, sender_name, text,
		       COALESCE(media_type, ''), timestamp, COALESCE(reply_to_id, 0),
		       COALESCE(forward_from, ''), created_at
		FROM messages WHERE tenant_id = ?`
	args := []any{tenantID}
	if groupID != 0 {
		query += ` AND group_id = ?`
		args = append(args, groupID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Oldest first for display.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MessageCount counts messages for a tenant, optionally one group.
func (s *Store) MessageCount(ctx context.Context, tenantID, groupID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM messages WHERE tenant_id = ?`
	args := []any{tenantID}
	if groupID != 0 {
		query += ` AND group_id = ?`
		args = append(args, groupID)
	}
	var n int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// GroupStats aggregates per-group message counts and distinct senders.
func (s *Store) GroupStats(ctx context.Context, tenantID int64) ([]*GroupStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.group_id, COALESCE(g.title, ''),
		       COUNT(*),
		       COUNT(DISTINCT COALESCE(CAST(m.sender_id AS TEXT), m.sender_name)),
		       MIN(m.timestamp), MAX(m.timestamp)
		FROM messages m
		LEFT JOIN groups g ON g.tenant_id = m.tenant_id AND g.group_id = m.group_id
		WHERE m.tenant_id = ?
		GROUP BY m.group_id
		ORDER BY COUNT(*) DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*GroupStat
	for rows.Next() {
		st := &GroupStat{}
		if err := rows.Scan(&st.GroupID, &st.Title, &st.MessageCount, &st.ActiveUsers, &st.FirstMsg, &st.LastMsg); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpdateMessageText syncs an edit from the network. Returns true when a row
// actually changed.
func (s *Store) UpdateMessageText(ctx context.Context, tenantID, groupID, msgID int64, newText string) (bool, error) {
	var changed bool
	err := execRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE messages SET text = ?
			WHERE tenant_id = ? AND group_id = ? AND msg_id = ? AND text IS NOT ?`,
			newText, tenantID, groupID, msgID, newText)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		changed = n > 0
		return err
	})
	return changed, err
}

// DeleteMessages removes messages deleted on the network. Returns the count
// actually removed.
func (s *Store) DeleteMessages(ctx context.Context, tenantID, groupID int64, msgIDs []int64) (int64, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}
	var deleted int64
	err := execRetry(ctx, func() error {
		args := make([]any, 0, len(msgIDs)+2)
		args = append(args, tenantID, groupID)
		placeholders := ""
		for i, id := range msgIDs {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, id)
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE tenant_id = ? AND group_id = ? AND msg_id IN (`+placeholders+`)`,
			args...)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// PruneMessages deletes messages older than the cutoff. Links are exempt:
// aggregates stay long-lived regardless of message retention.
func (s *Store) PruneMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := execRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE timestamp < ?`, cutoff.UTC())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// ---------------------------------------------------------------------------
// Alert dedup keys
// ---------------------------------------------------------------------------

// MarkAlerted records an alert dedup key. Returns false when the key was
// already present, so a message never alerts twice across restarts.
func (s *Store) MarkAlerted(ctx context.Context, msgKey string) (bool, error) {
	var first bool
	err := execRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO alerted_messages (msg_key) VALUES (?)`, msgKey)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		first = n > 0
		return err
	})
	return first, err
}

// PruneAlerted clears alert dedup keys older than keepHours.
func (s *Store) PruneAlerted(ctx context.Context, keepHours int) (int64, error) {
	if keepHours <= 0 {
		keepHours = 48
	}
	cutoff := time.Now().UTC().Add(-time.Duration(keepHours) * time.Hour)
	var deleted int64
	err := execRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM alerted_messages WHERE alerted_at < ?`, cutoff)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}
