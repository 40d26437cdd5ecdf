package application

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweepStore is the single batched operation the sweeper drives.
type SweepStore interface {
	MarkDueLive(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically advances due consultations from scheduled to live.
// The underlying update is conditional and batched, so overlapping runs and
// concurrent explicit starts converge on the same state instead of
// conflicting.
type Sweeper struct {
	store    SweepStore
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// NewSweeper configures a sweeper without starting it.
func NewSweeper(store SweepStore, interval time.Duration, now func() time.Time, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		now:      now,
		logger:   defaultLogger(logger),
	}
}

// RunOnce executes a single sweep with the injected clock and returns how
// many consultations went live.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if s == nil || s.store == nil {
		return 0, nil
	}

	moved, err := s.store.MarkDueLive(ctx, s.now())
	if err != nil {
		serviceLogger(ctx, s.logger, "sweeper", "run").ErrorContext(ctx, "sweep failed", "error", err)
		return 0, err
	}
	if moved > 0 {
		serviceLogger(ctx, s.logger, "sweeper", "run").InfoContext(ctx, "consultations went live", "count", moved)
	}
	return moved, nil
}

// Start launches the background loop. Starting an already running sweeper
// is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil || s.store == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	s.stop = stop
	s.stopped = stopped

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight sweep to finish. Stopping
// a sweeper that never started is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stop, stopped := s.stop, s.stopped
	s.stop, s.stopped = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}
