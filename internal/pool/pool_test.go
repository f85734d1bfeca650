package pool

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tgcollect/tgcollect/internal/bus"
	"github.com/tgcollect/tgcollect/internal/config"
	"github.com/tgcollect/tgcollect/internal/links"
	"github.com/tgcollect/tgcollect/internal/network"
	"github.com/tgcollect/tgcollect/internal/pipeline"
	"github.com/tgcollect/tgcollect/internal/store"
	"github.com/tgcollect/tgcollect/internal/worker"
)

// hangSession connects successfully and then idles on an open event stream.
type hangSession struct {
	events chan network.RawEvent
}

func newHangSession() *hangSession {
	return &hangSession{events: make(chan network.RawEvent)}
}

func (s *hangSession) Connect(ctx context.Context) error        { return nil }
func (s *hangSession) Events() <-chan network.RawEvent          { return s.events }
func (s *hangSession) Groups(ctx context.Context) ([]network.GroupInfo, error) {
	return nil, nil
}
func (s *hangSession) LatestMessageID(ctx context.Context, groupID int64) (int64, error) {
	return 0, nil
}
func (s *hangSession) FetchHistory(ctx context.Context, groupID, afterID int64, limit int) ([]network.RawEvent, error) {
	return nil, nil
}
func (s *hangSession) Close() error { return nil }

// scriptedDialer fails every dial with a transient error unless the tenant
// has a scripted session or error.
type scriptedDialer struct {
	mu       sync.Mutex
	dials    map[int64]int
	errs     map[int64]error
	sessions map[int64]network.Session
}

func newScriptedDialer() *scriptedDialer {
	return &scriptedDialer{
		dials:    make(map[int64]int),
		errs:     make(map[int64]error),
		sessions: make(map[int64]network.Session),
	}
}

func (d *scriptedDialer) Dial(ctx context.Context, tenant *store.Tenant) (network.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[tenant.ID]++
	if sess, ok := d.sessions[tenant.ID]; ok {
		return sess, nil
	}
	if err, ok := d.errs[tenant.ID]; ok {
		return nil, err
	}
	return nil, &network.TransientError{Op: "dial", Err: errors.New("unreachable")}
}

func (d *scriptedDialer) dialCount(tenantID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[tenantID]
}

type poolEnv struct {
	store  *store.Store
	events *bus.EventBus
	sup    *Supervisor
	dialer *scriptedDialer
}

func newPoolEnv(t *testing.T, threshold int) *poolEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	events := bus.New()
	dialer := newScriptedDialer()
	pipe := pipeline.New(pipeline.Options{
		Store: st,
		Links: links.NewRecorder(st, nil),
		Bus:   events,
	})
	cfg := config.PoolConfig{
		ReconcileInterval: 50 * time.Millisecond,
		RestartBase:       time.Millisecond,
		RestartCap:        5 * time.Millisecond,
		FailureThreshold:  threshold,
	}
	bkcfg := config.BackfillConfig{BatchSize: 10, ConnRetries: 1, ConnRetryBase: time.Millisecond}
	sup := New(cfg, bkcfg, st, dialer, pipe, events)

	t.Cleanup(func() {
		sup.StopAll()
		st.Close()
	})
	return &poolEnv{store: st, events: events, sup: sup, dialer: dialer}
}

func (e *poolEnv) addActiveTenant(t *testing.T, phone string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := e.store.AddTenant(ctx, phone, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.store.SetTenantStatus(ctx, id, store.TenantActive); err != nil {
		t.Fatal(err)
	}
	return id
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestFailureThresholdRetiresTenant(t *testing.T) {
	e := newPoolEnv(t, 3)
	id := e.addActiveTenant(t, "+15550000001")
	ctx := context.Background()

	if err := e.sup.Start(ctx, id); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		tenant, err := e.store.GetTenant(ctx, id)
		return err == nil && tenant.Status == store.TenantFailed
	}, "tenant never marked failed")

	// The worker unregisters itself after retiring.
	waitFor(t, 2*time.Second, func() bool {
		_, ok := e.sup.Status(id)
		return !ok
	}, "worker still registered after retirement")

	// No restarts after the threshold: the dial count must settle.
	settled := e.dialer.dialCount(id)
	time.Sleep(100 * time.Millisecond)
	if got := e.dialer.dialCount(id); got != settled {
		t.Fatalf("dials continued after retirement: %d -> %d", settled, got)
	}
}

func TestTenantIsolation(t *testing.T) {
	e := newPoolEnv(t, 2)
	bad := e.addActiveTenant(t, "+15550000001")
	good := e.addActiveTenant(t, "+15550000002")
	e.dialer.sessions[good] = newHangSession()
	ctx := context.Background()

	if err := e.sup.Start(ctx, bad); err != nil {
		t.Fatal(err)
	}
	if err := e.sup.Start(ctx, good); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		tenant, err := e.store.GetTenant(ctx, bad)
		return err == nil && tenant.Status == store.TenantFailed
	}, "bad tenant never marked failed")

	// The healthy tenant is untouched by its neighbour's retirement.
	tenant, err := e.store.GetTenant(ctx, good)
	if err != nil {
		t.Fatal(err)
	}
	if tenant.Status != store.TenantActive {
		t.Fatalf("good tenant status = %s, want active", tenant.Status)
	}
	h, ok := e.sup.Status(good)
	if !ok {
		t.Fatal("good tenant's worker gone")
	}
	if h.ConsecutiveFailures != 0 {
		t.Fatalf("good tenant failures = %d, want 0", h.ConsecutiveFailures)
	}
}

func TestStartAlreadyRunning(t *testing.T) {
	e := newPoolEnv(t, 1000)
	id := e.addActiveTenant(t, "+15550000001")
	ctx := context.Background()

	if err := e.sup.Start(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := e.sup.Start(ctx, id); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartRequiresActiveTenant(t *testing.T) {
	e := newPoolEnv(t, 1000)
	ctx := context.Background()
	id, err := e.store.AddTenant(ctx, "+15550000001", "")
	if err != nil {
		t.Fatal(err)
	}
	// Still pending-auth.
	if err := e.sup.Start(ctx, id); err == nil {
		t.Fatal("Start accepted a pending-auth tenant")
	}
}

func TestAuthRevokedRetiresWithoutRestart(t *testing.T) {
	e := newPoolEnv(t, 1000)
	id := e.addActiveTenant(t, "+15550000001")
	e.dialer.errs[id] = network.ErrAuthRevoked
	ctx := context.Background()

	if err := e.sup.Start(ctx, id); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, func() bool {
		tenant, err := e.store.GetTenant(ctx, id)
		return err == nil && tenant.Status == store.TenantFailed
	}, "revoked tenant never marked failed")

	if got := e.dialer.dialCount(id); got != 1 {
		t.Fatalf("dials = %d, want exactly 1 (no restart on revocation)", got)
	}
}

func TestReconcileStartsAndStops(t *testing.T) {
	e := newPoolEnv(t, 100000)
	id := e.addActiveTenant(t, "+15550000001")
	e.dialer.sessions[id] = newHangSession()
	ctx := context.Background()

	if err := e.sup.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.sup.Status(id); !ok {
		t.Fatal("reconcile did not start the active tenant")
	}
	// Idempotent.
	if err := e.sup.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(e.sup.StatusAll()); got != 1 {
		t.Fatalf("workers = %d, want 1", got)
	}

	if err := e.store.SetTenantStatus(ctx, id, store.TenantPaused); err != nil {
		t.Fatal(err)
	}
	if err := e.sup.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.sup.Status(id); ok {
		t.Fatal("paused tenant's worker not stopped")
	}
}

func TestStopNotRunning(t *testing.T) {
	e := newPoolEnv(t, 10)
	if err := e.sup.Stop(42, true); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop = %v, want ErrNotRunning", err)
	}
}

func TestStatusSnapshot(t *testing.T) {
	e := newPoolEnv(t, 100000)
	id := e.addActiveTenant(t, "+15550000001")
	ctx := context.Background()

	if err := e.sup.Start(ctx, id); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, func() bool {
		h, ok := e.sup.Status(id)
		return ok && h.ConsecutiveFailures > 0 && h.LastError != ""
	}, "failure count never surfaced in status")

	h, _ := e.sup.Status(id)
	if h.TenantID != id {
		t.Fatalf("snapshot tenant = %d, want %d", h.TenantID, id)
	}
	if h.State == worker.StateConnected {
		t.Fatal("state connected for a dialer that always fails")
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Cap: 5 * time.Minute}
	for failures := 1; failures <= 12; failures++ {
		d := b.Delay(failures)
		if d < 0 {
			t.Fatalf("failures=%d: negative delay %s", failures, d)
		}
		// Cap plus jitter headroom.
		if d > 6*time.Minute {
			t.Fatalf("failures=%d: delay %s above cap", failures, d)
		}
	}

	// Early failures stay near base, late ones reach the cap region.
	if d := b.Delay(1); d > 7*time.Second {
		t.Fatalf("first delay %s too large", d)
	}
	if d := b.Delay(10); d < 3*time.Minute {
		t.Fatalf("tenth delay %s too small", d)
	}
}

func TestActivateDeactivatePublish(t *testing.T) {
	e := newPoolEnv(t, 10)
	ctx := context.Background()
	id, err := e.store.AddTenant(ctx, "+15550000001", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := e.sup.Activate(ctx, id); err != nil {
		t.Fatal(err)
	}
	tenant, _ := e.store.GetTenant(ctx, id)
	if tenant.Status != store.TenantActive {
		t.Fatalf("status = %s, want active", tenant.Status)
	}
	select {
	case ev := <-e.events.TenantEvents():
		if ev.TenantID != id || ev.Status != store.TenantActive {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("no tenant event published")
	}

	if err := e.sup.Deactivate(ctx, id); err != nil {
		t.Fatal(err)
	}
	tenant, _ = e.store.GetTenant(ctx, id)
	if tenant.Status != store.TenantPaused {
		t.Fatalf("status = %s, want paused", tenant.Status)
	}
}
