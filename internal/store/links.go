package store

import (
	"context"
	"encoding/json"
	"time"
)

// Bounded sample of contributing group titles per link.
const maxLinkGroupTitles = 8

// RecordLink upserts a canonical link: one row per (tenant, hash), count
// incremented on conflict. The upsert-with-increment happens inside sqlite,
// not read-modify-write in Go, so two workers discovering the same URL
// near-simultaneously cannot lose an update. The contributing-group sample
// is folded in afterwards inside the same transaction.
func (s *Store) RecordLink(ctx context.Context, tenantID int64, hash, url, groupTitle string, seen time.Time) error {
	return execRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		seenUTC := seen.UTC()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO links (tenant_id, hash, url, count, first_seen, last_seen, group_titles)
			VALUES (?, ?, ?, 1, ?, ?, '[]')
			ON CONFLICT(tenant_id, hash) DO UPDATE SET
				count = count + 1,
				last_seen = MAX(last_seen, excluded.last_seen)`,
			tenantID, hash, url, seenUTC, seenUTC); err != nil {
			return err
		}

		if groupTitle != "" {
			var raw string
			if err := tx.QueryRowContext(ctx, `
				SELECT group_titles FROM links WHERE tenant_id = ? AND hash = ?`,
				tenantID, hash).Scan(&raw); err != nil {
				return err
			}
			var titles []string
			_ = json.Unmarshal([]byte(raw), &titles)
			if updated, ok := appendTitle(titles, groupTitle); ok {
				data, err := json.Marshal(updated)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `
					UPDATE links SET group_titles = ? WHERE tenant_id = ? AND hash = ?`,
					string(data), tenantID, hash); err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	})
}

func appendTitle(titles []string, title string) ([]string, bool) {
	for _, t := range titles {
		if t == title {
			return titles, false
		}
	}
	if len(titles) >= maxLinkGroupTitles {
		return titles, false
	}
	return append(titles, title), true
}

// PatchLinkMetadata is the write-back entry point for the async metadata
// fetcher collaborator.
func (s *Store) PatchLinkMetadata(ctx context.Context, hash, title, description, imageURL string) error {
	return execRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE links SET title = ?, description = ?, image_url = ? WHERE hash = ?`,
			title, description, imageURL, hash)
		return err
	})
}

// TagLink sets the optional classification tag on a link.
func (s *Store) TagLink(ctx context.Context, tenantID int64, hash, tag string) error {
	return execRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE links SET tag = ? WHERE tenant_id = ? AND hash = ?`,
			tag, tenantID, hash)
		return err
	})
}

// GetLink returns one link row.
func (s *Store) GetLink(ctx context.Context, tenantID int64, hash string) (*Link, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, hash, url, count, first_seen, last_seen, group_titles,
		       title, description, image_url, tag
		FROM links WHERE tenant_id = ? AND hash = ?`, tenantID, hash)
	return scanLink(row)
}

// TopLinks returns the tenant's most-shared links.
func (s *Store) TopLinks(ctx context.Context, tenantID int64, limit int) ([]*Link, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, hash, url, count, first_seen, last_seen, group_titles,
		       title, description, image_url, tag
		FROM links WHERE tenant_id = ?
		ORDER BY count DESC, last_seen DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLink(row rowScanner) (*Link, error) {
	l := &Link{}
	var titlesJSON string
	err := row.Scan(&l.TenantID, &l.Hash, &l.URL, &l.Count, &l.FirstSeen,
		&l.LastSeen, &titlesJSON, &l.Title, &l.Description, &l.ImageURL, &l.Tag)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(titlesJSON), &l.GroupTitles)
	return l, nil
}
