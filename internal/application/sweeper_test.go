package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type sweepStoreStub struct {
	mu     sync.Mutex
	calls  []time.Time
	result int64
	err    error
}

func (s *sweepStoreStub) MarkDueLive(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.calls = append(s.calls, now)
	return s.result, nil
}

func (s *sweepStoreStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestSweeper_RunOnce(t *testing.T) {
	t.Run("passes the injected clock to the store", func(t *testing.T) {
		store := &sweepStoreStub{result: 3}
		sweeper := NewSweeper(store, time.Minute, fixedClock(testNow), nil)

		moved, err := sweeper.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
		if moved != 3 {
			t.Fatalf("moved: got %d, want 3", moved)
		}
		if len(store.calls) != 1 || !store.calls[0].Equal(testNow) {
			t.Fatalf("store called with %v, want %v", store.calls, testNow)
		}
	})

	t.Run("repeated runs with a frozen clock converge", func(t *testing.T) {
		store := &sweepStoreStub{result: 2}
		sweeper := NewSweeper(store, time.Minute, fixedClock(testNow), nil)

		if _, err := sweeper.RunOnce(context.Background()); err != nil {
			t.Fatalf("first RunOnce failed: %v", err)
		}

		// The batched update matches nothing the second time around.
		store.result = 0
		moved, err := sweeper.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("second RunOnce failed: %v", err)
		}
		if moved != 0 {
			t.Fatalf("second sweep moved %d consultations", moved)
		}
		if len(store.calls) != 2 || !store.calls[1].Equal(store.calls[0]) {
			t.Fatalf("expected both sweeps to observe the same instant, got %v", store.calls)
		}
	})

	t.Run("surfaces store errors", func(t *testing.T) {
		boom := errors.New("storage offline")
		sweeper := NewSweeper(&sweepStoreStub{err: boom}, time.Minute, fixedClock(testNow), nil)

		if _, err := sweeper.RunOnce(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("expected the store error, got %v", err)
		}
	})
}

func TestSweeper_StartStop(t *testing.T) {
	store := &sweepStoreStub{}
	sweeper := NewSweeper(store, 5*time.Millisecond, fixedClock(testNow), nil)

	sweeper.Start(context.Background())
	// Starting twice must not spawn a second loop.
	sweeper.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for store.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sweeper.Stop()
	settled := store.callCount()
	time.Sleep(25 * time.Millisecond)
	if store.callCount() != settled {
		t.Fatal("sweeper kept running after Stop")
	}

	// Stop on an already stopped sweeper is a no-op.
	sweeper.Stop()
}
