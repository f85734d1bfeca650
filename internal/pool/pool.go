// Package pool supervises one worker per active tenant: it starts them,
// restarts them with backoff when they exit, and retires tenants whose
// sessions keep failing.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tgcollect/tgcollect/internal/bus"
	"github.com/tgcollect/tgcollect/internal/config"
	"github.com/tgcollect/tgcollect/internal/network"
	"github.com/tgcollect/tgcollect/internal/pipeline"
	"github.com/tgcollect/tgcollect/internal/store"
	"github.com/tgcollect/tgcollect/internal/worker"
)

var (
	// ErrAlreadyRunning is returned by Start when the tenant already has a
	// live worker.
	ErrAlreadyRunning = errors.New("tenant worker already running")
	// ErrNotRunning is returned by Stop when no worker exists.
	ErrNotRunning = errors.New("tenant worker not running")
)

// Health is a point-in-time snapshot of one tenant's worker.
type Health struct {
	TenantID            int64
	State               worker.State
	ConsecutiveFailures int
	LastError           string
	StartedAt           time.Time
}

type entry struct {
	tenantID int64
	cancel   context.CancelFunc
	drain    chan struct{}
	done     chan struct{}

	mu        sync.Mutex
	state     worker.State
	failures  int
	lastErr   string
	startedAt time.Time
	drained   bool
}

func (e *entry) setState(st worker.State) {
	e.mu.Lock()
	e.state = st
	if st == worker.StateConnected {
		// A healthy connection clears the failure streak.
		e.failures = 0
		e.lastErr = ""
	}
	e.mu.Unlock()
}

func (e *entry) snapshot() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Health{
		TenantID:            e.tenantID,
		State:               e.state,
		ConsecutiveFailures: e.failures,
		LastError:           e.lastErr,
		StartedAt:           e.startedAt,
	}
}

// Supervisor owns the per-tenant worker registry. One Supervisor per process.
type Supervisor struct {
	cfg    config.PoolConfig
	bkcfg  config.BackfillConfig
	store  *store.Store
	dialer network.Dialer
	pipe   *pipeline.Pipeline
	events *bus.EventBus

	mu      sync.RWMutex
	workers map[int64]*entry

	wg sync.WaitGroup
}

// New creates a Supervisor. Workers are started by Run's reconcile loop or
// explicitly via Start.
func New(cfg config.PoolConfig, bkcfg config.BackfillConfig, st *store.Store, dialer network.Dialer, pipe *pipeline.Pipeline, events *bus.EventBus) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		bkcfg:   bkcfg,
		store:   st,
		dialer:  dialer,
		pipe:    pipe,
		events:  events,
		workers: make(map[int64]*entry),
	}
}

// Run reconciles the registry against tenant state until ctx is cancelled:
// once at startup, then on every tick and on every tenant status change
// published on the bus. On return all workers have been stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	interval := s.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if err := s.Reconcile(ctx); err != nil {
		slog.Error("pool: initial reconcile failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.StopAll()
			return ctx.Err()
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				slog.Error("pool: reconcile failed", "error", err)
			}
		case ev := <-s.events.TenantEvents():
			slog.Debug("pool: tenant status changed", "tenant_id", ev.TenantID, "status", ev.Status)
			if err := s.Reconcile(ctx); err != nil {
				slog.Error("pool: reconcile failed", "error", err)
			}
		}
	}
}

// Reconcile makes the registry match the store: every active tenant gets a
// worker, every worker whose tenant is no longer active is stopped. Calling
// it twice in a row is a no-op.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	tenants, err := s.store.ListTenants(ctx, false)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	active := make(map[int64]*store.Tenant)
	for _, t := range tenants {
		if t.Status == store.TenantActive {
			active[t.ID] = t
		}
	}

	// Stop workers for tenants that went inactive.
	s.mu.RLock()
	var stale []int64
	for id := range s.workers {
		if _, ok := active[id]; !ok {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()
	for _, id := range stale {
		if err := s.Stop(id, true); err != nil && !errors.Is(err, ErrNotRunning) {
			slog.Warn("pool: stop failed", "tenant_id", id, "error", err)
		}
	}

	// Start workers for active tenants without one.
	for id, t := range active {
		err := s.start(ctx, t)
		if err != nil && !errors.Is(err, ErrAlreadyRunning) {
			slog.Error("pool: start failed", "tenant_id", id, "error", err)
		}
	}
	return nil
}

// Start launches a worker for the tenant. ErrAlreadyRunning when one exists.
func (s *Supervisor) Start(ctx context.Context, tenantID int64) error {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if t.Status != store.TenantActive {
		return fmt.Errorf("tenant %d is %s, not active", tenantID, t.Status)
	}
	return s.start(ctx, t)
}

func (s *Supervisor) start(ctx context.Context, t *store.Tenant) error {
	s.mu.Lock()
	if _, ok := s.workers[t.ID]; ok {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	wctx, cancel := context.WithCancel(ctx)
	e := &entry{
		tenantID:  t.ID,
		cancel:    cancel,
		drain:     make(chan struct{}),
		done:      make(chan struct{}),
		state:     worker.StateStarting,
		startedAt: time.Now(),
	}
	s.workers[t.ID] = e
	s.mu.Unlock()

	slog.Info("pool: starting worker", "tenant_id", t.ID, "phone", t.Phone)
	s.wg.Add(1)
	go s.supervise(wctx, e, t)
	return nil
}

// supervise runs the tenant's worker in a restart loop. One failure of
// tenant A never touches tenant B: everything here is scoped to e.
func (s *Supervisor) supervise(ctx context.Context, e *entry, t *store.Tenant) {
	defer s.wg.Done()
	defer close(e.done)
	defer s.unregister(e.tenantID)

	backoff := Backoff{Base: s.cfg.RestartBase, Cap: s.cfg.RestartCap}
	threshold := s.cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 10
	}

	for {
		w := worker.New(worker.Options{
			Tenant:        t,
			Dialer:        s.dialer,
			Store:         s.store,
			Pipeline:      s.pipe,
			BatchSize:     s.bkcfg.BatchSize,
			ConnRetries:   s.bkcfg.ConnRetries,
			ConnRetryBase: s.bkcfg.ConnRetryBase,
			OnState:       e.setState,
			Drain:         e.drain,
		})

		err := w.Run(ctx)

		if ctx.Err() != nil || e.isDrained() {
			e.setState(worker.StateStopped)
			slog.Info("pool: worker stopped", "tenant_id", t.ID)
			return
		}
		if err == nil {
			e.setState(worker.StateStopped)
			return
		}

		if errors.Is(err, network.ErrAuthRevoked) {
			slog.Error("pool: tenant credentials revoked", "tenant_id", t.ID, "error", err)
			s.retire(t.ID, err)
			return
		}

		failures := e.recordFailure(err)
		if failures >= threshold {
			slog.Error("pool: failure threshold reached, giving up",
				"tenant_id", t.ID, "failures", failures, "error", err)
			s.retire(t.ID, err)
			return
		}

		delay := backoff.Delay(failures)
		slog.Warn("pool: worker exited, restarting",
			"tenant_id", t.ID, "failures", failures, "delay", delay.Round(time.Millisecond), "error", err)
		e.setState(worker.StateReconnecting)

		select {
		case <-ctx.Done():
			e.setState(worker.StateStopped)
			return
		case <-e.drain:
			e.setState(worker.StateStopped)
			return
		case <-time.After(delay):
		}
	}
}

func (e *entry) recordFailure(err error) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	e.lastErr = err.Error()
	return e.failures
}

func (e *entry) isDrained() bool {
	select {
	case <-e.drain:
		return true
	default:
		return false
	}
}

// retire marks the tenant failed in the store and announces it on the bus.
// The status change keeps reconcile from restarting the tenant until an
// operator re-activates it.
func (s *Supervisor) retire(tenantID int64, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.SetTenantStatus(ctx, tenantID, store.TenantFailed); err != nil {
		slog.Error("pool: failed to mark tenant failed", "tenant_id", tenantID, "error", err)
	}
	slog.Error("pool: tenant retired", "tenant_id", tenantID, "cause", cause)
	s.events.PublishTenant(&bus.TenantEvent{
		TenantID:  tenantID,
		Status:    store.TenantFailed,
		Timestamp: time.Now(),
	})
}

func (s *Supervisor) unregister(tenantID int64) {
	s.mu.Lock()
	delete(s.workers, tenantID)
	s.mu.Unlock()
}

// Stop stops one tenant's worker. graceful lets the in-flight event finish
// before the worker exits; otherwise the context is cancelled outright.
// Blocks until the worker has fully stopped.
func (s *Supervisor) Stop(tenantID int64, graceful bool) error {
	s.mu.RLock()
	e, ok := s.workers[tenantID]
	s.mu.RUnlock()
	if !ok {
		return ErrNotRunning
	}

	e.mu.Lock()
	if !e.drained {
		e.drained = true
		close(e.drain)
	}
	e.mu.Unlock()

	if graceful {
		select {
		case <-e.done:
			return nil
		case <-time.After(30 * time.Second):
			slog.Warn("pool: graceful stop timed out, cancelling", "tenant_id", tenantID)
		}
	}
	e.cancel()
	<-e.done
	return nil
}

// StopAll stops every worker and waits for all of them to exit.
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if err := s.Stop(id, true); err != nil && !errors.Is(err, ErrNotRunning) {
			slog.Warn("pool: stop failed", "tenant_id", id, "error", err)
		}
	}
	s.wg.Wait()
}

// Status returns the worker snapshot for one tenant. ok is false when no
// worker is registered.
func (s *Supervisor) Status(tenantID int64) (Health, bool) {
	s.mu.RLock()
	e, ok := s.workers[tenantID]
	s.mu.RUnlock()
	if !ok {
		return Health{TenantID: tenantID, State: worker.StateStopped}, false
	}
	return e.snapshot(), true
}

// StatusAll returns snapshots for every registered worker.
func (s *Supervisor) StatusAll() []Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Health, 0, len(s.workers))
	for _, e := range s.workers {
		out = append(out, e.snapshot())
	}
	return out
}

// Activate marks a tenant active and nudges the supervisor via the bus.
func (s *Supervisor) Activate(ctx context.Context, tenantID int64) error {
	if err := s.store.SetTenantStatus(ctx, tenantID, store.TenantActive); err != nil {
		return err
	}
	s.events.PublishTenant(&bus.TenantEvent{TenantID: tenantID, Status: store.TenantActive, Timestamp: time.Now()})
	return nil
}

// Deactivate pauses a tenant; reconcile then drains its worker.
func (s *Supervisor) Deactivate(ctx context.Context, tenantID int64) error {
	if err := s.store.SetTenantStatus(ctx, tenantID, store.TenantPaused); err != nil {
		return err
	}
	s.events.PublishTenant(&bus.TenantEvent{TenantID: tenantID, Status: store.TenantPaused, Timestamp: time.Now()})
	return nil
}
