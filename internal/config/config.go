// Package config provides configuration types and loading for tgcollect.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Pool, Backfill, Alerts, Indexing, Metadata, Retention, Slack.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Pool      PoolConfig      `json:"pool"`
	Backfill  BackfillConfig  `json:"backfill"`
	Alerts    AlertsConfig    `json:"alerts"`
	Indexing  IndexingConfig  `json:"indexing"`
	Metadata  MetadataConfig  `json:"metadata"`
	Retention RetentionConfig `json:"retention"`
	Slack     SlackConfig     `json:"slack"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
	DBPath  string `json:"dbPath" envconfig:"DB_PATH"`
}

// ---------------------------------------------------------------------------
// Pool – supervisor behaviour
// ---------------------------------------------------------------------------

// PoolConfig groups session pool / supervisor settings.
type PoolConfig struct {
	ReconcileInterval time.Duration `json:"reconcileInterval" envconfig:"RECONCILE_INTERVAL"`
	RestartBase       time.Duration `json:"restartBase" envconfig:"RESTART_BASE"`
	RestartCap        time.Duration `json:"restartCap" envconfig:"RESTART_CAP"`
	FailureThreshold  int           `json:"failureThreshold" envconfig:"FAILURE_THRESHOLD"`
}

// BackfillConfig groups gap-recovery settings.
type BackfillConfig struct {
	BatchSize     int           `json:"batchSize" envconfig:"BACKFILL_BATCH_SIZE"`
	ConnRetries   int           `json:"connRetries" envconfig:"BACKFILL_CONN_RETRIES"`
	ConnRetryBase time.Duration `json:"connRetryBase" envconfig:"BACKFILL_CONN_RETRY_BASE"`
}

// ---------------------------------------------------------------------------
// Alerts – keyword alerting
// ---------------------------------------------------------------------------

// AlertsConfig configures keyword alert matching.
type AlertsConfig struct {
	Enabled       bool `json:"enabled" envconfig:"ALERTS_ENABLED"`
	DedupKeepHrs  int  `json:"dedupKeepHours" envconfig:"ALERTS_DEDUP_KEEP_HOURS"`
	MaxTextChars  int  `json:"maxTextChars" envconfig:"ALERTS_MAX_TEXT_CHARS"`
}

// SlackConfig configures the Slack alert notifier.
type SlackConfig struct {
	Enabled    bool   `json:"enabled" envconfig:"SLACK_ENABLED"`
	WebhookURL string `json:"webhookUrl" envconfig:"SLACK_WEBHOOK_URL"`
	Channel    string `json:"channel" envconfig:"SLACK_CHANNEL"`
}

// ---------------------------------------------------------------------------
// Indexing / metadata – kafka hand-off topics
// ---------------------------------------------------------------------------

// IndexingConfig configures the search index hand-off producer.
type IndexingConfig struct {
	Enabled bool   `json:"enabled" envconfig:"INDEXING_ENABLED"`
	Brokers string `json:"brokers" envconfig:"INDEXING_BROKERS"`
	Topic   string `json:"topic" envconfig:"INDEXING_TOPIC"`
}

// MetadataConfig configures the async link-metadata fetch queue.
type MetadataConfig struct {
	Enabled bool   `json:"enabled" envconfig:"METADATA_ENABLED"`
	Brokers string `json:"brokers" envconfig:"METADATA_BROKERS"`
	Topic   string `json:"topic" envconfig:"METADATA_TOPIC"`
}

// RetentionConfig configures optional message pruning.
// KeepDays == 0 disables pruning entirely.
type RetentionConfig struct {
	KeepDays int `json:"keepDays" envconfig:"RETENTION_KEEP_DAYS"`
}
