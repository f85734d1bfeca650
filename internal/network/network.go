// Package network abstracts one tenant's connection to the messaging
// network: the live event stream, group resolution, and historical fetch.
package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tgcollect/tgcollect/internal/store"
)

// EventKind classifies inbound protocol events.
type EventKind int

const (
	EventMessage EventKind = iota
	EventEdit
	EventDelete
)

// RawEvent is one inbound protocol event before validation. IDs are
// network-assigned: MsgID is unique and monotonically increasing within one
// (tenant, group).
type RawEvent struct {
	Kind        EventKind
	GroupID     int64
	MsgID       int64
	SenderID    int64
	SenderName  string
	Text        string
	MediaType   string
	Timestamp   time.Time
	ReplyToID   int64
	ForwardFrom string
	DeletedIDs  []int64 // EventDelete only
}

// GroupInfo describes one group visible to the session.
type GroupInfo struct {
	GroupID int64
	Title   string
}

// Session is one live connection to the messaging network for one tenant.
type Session interface {
	// Connect establishes the connection. Returns ErrAuthRevoked when the
	// tenant's credentials are no longer valid.
	Connect(ctx context.Context) error
	// Events returns the live event stream. The channel closes when the
	// connection drops.
	Events() <-chan RawEvent
	// Groups resolves the groups this session can see.
	Groups(ctx context.Context) ([]GroupInfo, error)
	// LatestMessageID returns the newest available message id in a group,
	// 0 when the group is empty.
	LatestMessageID(ctx context.Context, groupID int64) (int64, error)
	// FetchHistory returns up to limit messages with id > afterID,
	// oldest first.
	FetchHistory(ctx context.Context, groupID, afterID int64, limit int) ([]RawEvent, error)
	// Close tears the connection down.
	Close() error
}

// Dialer produces sessions. The supervisor injects one so tests can swap in
// fakes.
type Dialer interface {
	Dial(ctx context.Context, tenant *store.Tenant) (Session, error)
}

// ErrAuthRevoked is fatal: the tenant must re-authenticate before its worker
// can run again.
var ErrAuthRevoked = errors.New("network: authentication revoked")

// TransientError wraps connection and protocol failures that are safe to
// retry with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("network: transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError signals the network asked us to slow down.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("network: rate limited, retry after %s", e.RetryAfter)
}

// Transient reports whether err is retryable (transient or rate-limit).
func Transient(err error) bool {
	var te *TransientError
	var rl *RateLimitError
	return errors.As(err, &te) || errors.As(err, &rl)
}

// RetryAfter returns the server-mandated wait for rate-limit errors, or 0.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
