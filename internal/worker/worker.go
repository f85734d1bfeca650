// Package worker runs one tenant's live session: connect, backfill, stream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tgcollect/tgcollect/internal/network"
	"github.com/tgcollect/tgcollect/internal/pipeline"
	"github.com/tgcollect/tgcollect/internal/store"
)

// State is the worker's position in its lifecycle. Transitions:
// Connecting → Connected → (event loop) → Reconnecting → Backfilling →
// Connected … → Stopped.
type State string

const (
	StateStarting     State = "starting"
	StateConnecting   State = "connecting"
	StateBackfilling  State = "backfilling"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
	StateFailed       State = "failed"
)

// Options configures a Worker.
type Options struct {
	Tenant      *store.Tenant
	Dialer      network.Dialer
	Store       *store.Store
	Pipeline    *pipeline.Pipeline
	BatchSize   int
	ConnRetries int
	// ConnRetryBase is the first fast-retry delay inside connect. Doubles
	// per attempt. Defaults to 2s.
	ConnRetryBase time.Duration
	// OnState is invoked on every state transition. Called from the
	// worker goroutine; must not block.
	OnState func(State)
	// Drain, when closed, asks the worker to finish the in-flight event
	// and stop. Cancelling ctx instead aborts immediately.
	Drain <-chan struct{}
}

// Worker owns one tenant's connection. It is run once via Run and never
// reused: the supervisor creates a fresh Worker per (re)start.
type Worker struct {
	tenant      *store.Tenant
	dialer      network.Dialer
	store       *store.Store
	pipe        *pipeline.Pipeline
	batchSize   int
	connRetries int
	retryBase   time.Duration
	onState     func(State)
	drain       <-chan struct{}
}

// New creates a Worker.
func New(opts Options) *Worker {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 200
	}
	retries := opts.ConnRetries
	if retries <= 0 {
		retries = 3
	}
	retryBase := opts.ConnRetryBase
	if retryBase <= 0 {
		retryBase = 2 * time.Second
	}
	return &Worker{
		tenant:      opts.Tenant,
		dialer:      opts.Dialer,
		store:       opts.Store,
		pipe:        opts.Pipeline,
		batchSize:   batch,
		connRetries: retries,
		retryBase:   retryBase,
		onState:     opts.OnState,
		drain:       opts.Drain,
	}
}

func (w *Worker) draining() bool {
	if w.drain == nil {
		return false
	}
	select {
	case <-w.drain:
		return true
	default:
		return false
	}
}

func (w *Worker) setState(st State) {
	if w.onState != nil {
		w.onState(st)
	}
}

// Run drives the session until ctx is cancelled or an error escalates.
// Returns nil on clean shutdown, network.ErrAuthRevoked on credential
// failure, and a transient error when the connection-scoped retry budget is
// exhausted; the supervisor then applies its own backoff before restarting.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateStarting)

	for {
		sess, err := w.connect(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				w.setState(StateStopped)
				return nil
			}
			if errors.Is(err, network.ErrAuthRevoked) {
				w.setState(StateFailed)
				return err
			}
			w.setState(StateFailed)
			return err
		}

		err = w.serve(ctx, sess)
		sess.Close()

		switch {
		case err == nil && (ctx.Err() != nil || w.draining()):
			w.setState(StateStopped)
			return nil
		case err == nil:
			// Connection dropped; reconnect with the fast retry budget.
			w.setState(StateReconnecting)
			slog.Info("worker: connection dropped, reconnecting", "tenant_id", w.tenant.ID)
			continue
		case errors.Is(err, network.ErrAuthRevoked):
			w.setState(StateFailed)
			return err
		default:
			w.setState(StateFailed)
			return err
		}
	}
}

// connect dials with a small number of fast connection-scoped retries
// before escalating to the supervisor's restart policy.
func (w *Worker) connect(ctx context.Context) (network.Session, error) {
	w.setState(StateConnecting)

	var lastErr error
	delay := w.retryBase
	for attempt := 0; attempt <= w.connRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		sess, err := w.dialer.Dial(ctx, w.tenant)
		if err == nil {
			err = sess.Connect(ctx)
			if err == nil {
				return sess, nil
			}
			sess.Close()
		}
		if errors.Is(err, network.ErrAuthRevoked) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		if wait := network.RetryAfter(err); wait > delay {
			delay = wait
		}
		lastErr = err
		slog.Warn("worker: connect attempt failed",
			"tenant_id", w.tenant.ID, "attempt", attempt+1, "error", err)
	}
	return nil, &network.TransientError{Op: "connect", Err: fmt.Errorf("retries exhausted: %w", lastErr)}
}

// serve runs backfill then the live event loop. Returns nil when the event
// stream closes (disconnect) or ctx is cancelled.
func (w *Worker) serve(ctx context.Context, sess network.Session) error {
	if err := w.syncGroups(ctx, sess); err != nil {
		return err
	}

	// Never trust the live stream to be gap-free until backfill has
	// caught every monitored group up to the network's newest message.
	w.setState(StateBackfilling)
	if err := w.backfillAll(ctx, sess); err != nil {
		return err
	}

	w.setState(StateConnected)
	slog.Info("worker: live", "tenant_id", w.tenant.ID)

	for {
		// A nil drain channel blocks forever in the select, which is the
		// behavior we want when no drain was configured.
		select {
		case <-ctx.Done():
			return nil
		case <-w.drain:
			return nil
		case raw, ok := <-sess.Events():
			if !ok {
				return nil
			}
			w.handleEvent(ctx, &raw)
		}
	}
}

// syncGroups refreshes stored group titles from the session.
func (w *Worker) syncGroups(ctx context.Context, sess network.Session) error {
	groups, err := sess.Groups(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := w.store.UpsertGroup(ctx, w.tenant.ID, g.GroupID, g.Title); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) handleEvent(ctx context.Context, raw *network.RawEvent) {
	switch raw.Kind {
	case network.EventMessage:
		outcome, err := w.pipe.Ingest(ctx, w.tenant.ID, raw)
		if err != nil {
			slog.Error("worker: ingest failed",
				"tenant_id", w.tenant.ID, "group_id", raw.GroupID, "msg_id", raw.MsgID, "error", err)
			return
		}
		// The watermark advances only after the pipeline durably
		// accepted the message, never on mere receipt.
		if outcome == pipeline.OutcomeStored || outcome == pipeline.OutcomeDuplicate {
			if err := w.store.AdvanceWatermark(ctx, w.tenant.ID, raw.GroupID, raw.MsgID); err != nil {
				slog.Warn("worker: watermark advance failed",
					"tenant_id", w.tenant.ID, "group_id", raw.GroupID, "error", err)
			}
		}

	case network.EventEdit:
		changed, err := w.store.UpdateMessageText(ctx, w.tenant.ID, raw.GroupID, raw.MsgID, raw.Text)
		if err != nil {
			slog.Warn("worker: edit sync failed", "tenant_id", w.tenant.ID, "msg_id", raw.MsgID, "error", err)
		} else if changed {
			slog.Debug("worker: message edited", "tenant_id", w.tenant.ID, "msg_id", raw.MsgID)
		}

	case network.EventDelete:
		deleted, err := w.store.DeleteMessages(ctx, w.tenant.ID, raw.GroupID, raw.DeletedIDs)
		if err != nil {
			slog.Warn("worker: delete sync failed", "tenant_id", w.tenant.ID, "error", err)
		} else if deleted > 0 {
			slog.Info("worker: deleted messages synced",
				"tenant_id", w.tenant.ID, "group_id", raw.GroupID, "count", deleted)
		}
	}
}
