package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobRunsOnFirstTick(t *testing.T) {
	s := New(10 * time.Millisecond)
	var runs atomic.Int32
	s.Register(&Job{
		Name:  "counter",
		Every: time.Hour,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	// Every=1h means exactly one run in this window.
	time.Sleep(30 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}

func TestJobRepeats(t *testing.T) {
	s := New(5 * time.Millisecond)
	var runs atomic.Int32
	s.Register(&Job{
		Name:  "fast",
		Every: time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("runs = %d, want at least 3", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestJobNeverOverlaps(t *testing.T) {
	s := New(time.Millisecond)
	var inFlight atomic.Int32
	var maxSeen atomic.Int32
	release := make(chan struct{})
	s.Register(&Job{
		Name:  "slow",
		Every: time.Millisecond,
		Run: func(ctx context.Context) error {
			n := inFlight.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			<-release
			inFlight.Add(-1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	close(release)

	if maxSeen.Load() > 1 {
		t.Fatalf("max concurrent runs = %d, want 1", maxSeen.Load())
	}
}

func TestFailingJobKeepsScheduling(t *testing.T) {
	s := New(5 * time.Millisecond)
	var runs atomic.Int32
	s.Register(&Job{
		Name:  "broken",
		Every: time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("failing job was not rescheduled")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestUnregister(t *testing.T) {
	s := New(time.Millisecond)
	var runs atomic.Int32
	s.Register(&Job{Name: "gone", Every: time.Millisecond, Run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})
	s.Unregister("gone")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("unregistered job ran %d times", runs.Load())
	}
}
