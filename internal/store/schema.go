package store

import (
	"time"
)

// Tenant is one independently authenticated monitored account.
type Tenant struct {
	ID            int64     `json:"id"`
	Phone         string    `json:"phone"`
	CredentialRef string    `json:"credential_ref"` // opaque handle into the auth portal
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Tenant status values.
const (
	TenantPendingAuth = "pending-auth"
	TenantActive      = "active"
	TenantPaused      = "paused"
	TenantRevoked     = "revoked"
	TenantFailed      = "failed"
)

// Group is a monitored channel or room, scoped to one tenant.
type Group struct {
	TenantID  int64     `json:"tenant_id"`
	GroupID   int64     `json:"group_id"`
	Title     string    `json:"title"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one ingested event. Immutable once stored except for edit sync.
type Message struct {
	TenantID    int64     `json:"tenant_id"`
	GroupID     int64     `json:"group_id"`
	MsgID       int64     `json:"msg_id"`
	SenderID    int64     `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Text        string    `json:"text"` // empty for media-only messages
	MediaType   string    `json:"media_type,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ReplyToID   int64     `json:"reply_to_id,omitempty"`
	ForwardFrom string    `json:"forward_from,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Link is a canonical URL aggregated across messages for one tenant.
type Link struct {
	TenantID    int64     `json:"tenant_id"`
	Hash        string    `json:"hash"`
	URL         string    `json:"url"`
	Count       int64     `json:"count"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	GroupTitles []string  `json:"group_titles"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Tag         string    `json:"tag,omitempty"`
}

// GroupStat holds per-group message statistics for the dashboard.
type GroupStat struct {
	GroupID      int64     `json:"group_id"`
	Title        string    `json:"title"`
	MessageCount int64     `json:"message_count"`
	ActiveUsers  int64     `json:"active_users"`
	FirstMsg     time.Time `json:"first_msg"`
	LastMsg      time.Time `json:"last_msg"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phone TEXT NOT NULL,
	credential_ref TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending-auth',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(status);

CREATE TABLE IF NOT EXISTS groups (
	tenant_id INTEGER NOT NULL,
	group_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	enabled BOOLEAN NOT NULL DEFAULT 1,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (tenant_id, group_id)
);

CREATE TABLE IF NOT EXISTS messages (
	tenant_id INTEGER NOT NULL,
	group_id INTEGER NOT NULL,
	msg_id INTEGER NOT NULL,
	sender_id INTEGER,
	sender_name TEXT,
	text TEXT,
	media_type TEXT,
	timestamp DATETIME NOT NULL,
	reply_to_id INTEGER,
	forward_from TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (tenant_id, group_id, msg_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_time ON messages(tenant_id, group_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(tenant_id, sender_id);

CREATE TABLE IF NOT EXISTS links (
	tenant_id INTEGER NOT NULL,
	hash TEXT NOT NULL,
	url TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 1,
	first_seen DATETIME NOT NULL,
	last_seen DATETIME NOT NULL,
	group_titles TEXT NOT NULL DEFAULT '[]',
	title TEXT DEFAULT '',
	description TEXT DEFAULT '',
	image_url TEXT DEFAULT '',
	tag TEXT DEFAULT '',
	PRIMARY KEY (tenant_id, hash)
);
CREATE INDEX IF NOT EXISTS idx_links_seen ON links(tenant_id, last_seen);

CREATE TABLE IF NOT EXISTS watermarks (
	tenant_id INTEGER NOT NULL,
	group_id INTEGER NOT NULL,
	msg_id INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (tenant_id, group_id)
);

CREATE TABLE IF NOT EXISTS alert_keywords (
	tenant_id INTEGER NOT NULL,
	keyword TEXT NOT NULL,
	PRIMARY KEY (tenant_id, keyword)
);

CREATE TABLE IF NOT EXISTS alerted_messages (
	msg_key TEXT PRIMARY KEY,
	alerted_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at DATETIME
);
`
