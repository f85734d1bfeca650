package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AddTenant registers a new tenant in pending-auth state and returns its id.
func (s *Store) AddTenant(ctx context.Context, phone, credentialRef string) (int64, error) {
	var id int64
	err := execRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO tenants (phone, credential_ref, status) VALUES (?, ?, ?)`,
			phone, credentialRef, TenantPendingAuth)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetTenant returns one tenant by id.
func (s *Store) GetTenant(ctx context.Context, tenantID int64) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, phone, credential_ref, status, created_at, updated_at
		FROM tenants WHERE id = ?`, tenantID)
	t := &Tenant{}
	err := row.Scan(&t.ID, &t.Phone, &t.CredentialRef, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %d not found", tenantID)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTenants returns all tenants, optionally filtered to active ones.
func (s *Store) ListTenants(ctx context.Context, activeOnly bool) ([]*Tenant, error) {
	query := `SELECT id, phone, credential_ref, status, created_at, updated_at FROM tenants`
	var args []any
	if activeOnly {
		query += ` WHERE status = ?`
		args = append(args, TenantActive)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		t := &Tenant{}
		if err := rows.Scan(&t.ID, &t.Phone, &t.CredentialRef, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTenantStatus updates a tenant's lifecycle status.
func (s *Store) SetTenantStatus(ctx context.Context, tenantID int64, status string) error {
	switch status {
	case TenantPendingAuth, TenantActive, TenantPaused, TenantRevoked, TenantFailed:
	default:
		return fmt.Errorf("invalid tenant status %q", status)
	}
	return execRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tenants SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			status, tenantID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("tenant %d not found", tenantID)
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Groups
// ---------------------------------------------------------------------------

// UpsertGroup refreshes a monitored group's title. New groups start enabled.
func (s *Store) UpsertGroup(ctx context.Context, tenantID, groupID int64, title string) error {
	return execRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO groups (tenant_id, group_id, title, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(tenant_id, group_id) DO UPDATE SET
				title = excluded.title,
				updated_at = CURRENT_TIMESTAMP`,
			tenantID, groupID, title)
		return err
	})
}

// SetGroupEnabled toggles collection for one group.
func (s *Store) SetGroupEnabled(ctx context.Context, tenantID, groupID int64, enabled bool) error {
	return execRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE groups SET enabled = ?, updated_at = CURRENT_TIMESTAMP
			WHERE tenant_id = ? AND group_id = ?`,
			enabled, tenantID, groupID)
		return err
	})
}

// ListGroups returns a tenant's groups, enabled ones first.
func (s *Store) ListGroups(ctx context.Context, tenantID int64, enabledOnly bool) ([]*Group, error) {
	query := `SELECT tenant_id, group_id, title, enabled, updated_at FROM groups WHERE tenant_id = ?`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY enabled DESC, title`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g := &Group{}
		if err := rows.Scan(&g.TenantID, &g.GroupID, &g.Title, &g.Enabled, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GroupTitle returns the stored title for a group, or the id rendered as text.
func (s *Store) GroupTitle(ctx context.Context, tenantID, groupID int64) string {
	var title string
	err := s.db.QueryRowContext(ctx, `
		SELECT title FROM groups WHERE tenant_id = ? AND group_id = ?`,
		tenantID, groupID).Scan(&title)
	if err != nil || title == "" {
		return fmt.Sprintf("%d", groupID)
	}
	return title
}

// ---------------------------------------------------------------------------
// Alert keywords
// ---------------------------------------------------------------------------

// SetAlertKeywords replaces the tenant's alert keyword set.
func (s *Store) SetAlertKeywords(ctx context.Context, tenantID int64, keywords []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_keywords WHERE tenant_id = ?`, tenantID); err != nil {
		return err
	}
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO alert_keywords (tenant_id, keyword) VALUES (?, ?)`,
			tenantID, kw); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AlertKeywords returns the tenant's configured alert keywords.
func (s *Store) AlertKeywords(ctx context.Context, tenantID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT keyword FROM alert_keywords WHERE tenant_id = ? ORDER BY keyword`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, err
		}
		out = append(out, kw)
	}
	return out, rows.Err()
}
