// Package sweeper runs the periodic expiry sweep that auto-rejects permits
// stuck in the instructor's queue.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"exeat/internal/permit/service"
)

// PermitExpirer is the slice of the permit service the sweeper drives.
type PermitExpirer interface {
	ExpireStale(ctx context.Context, now time.Time, timeout time.Duration) (service.SweepResult, error)
}

// Worker ticks on an interval and invokes the expiry sweep. Safety under
// overlap lives in the state machine's optimistic check, not here; the
// worker itself never runs two sweeps at once.
type Worker struct {
	permits  PermitExpirer
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Worker.
type Option func(*Worker)

// WithInterval sets the time between sweeps.
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithTimeout sets how long a permit may wait for the instructor before the
// sweep rejects it.
func WithTimeout(timeout time.Duration) Option {
	return func(w *Worker) {
		if timeout > 0 {
			w.timeout = timeout
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// New creates a new expiry sweep worker.
func New(permits PermitExpirer, logger *slog.Logger, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		permits:  permits,
		interval: 5 * time.Minute,
		timeout:  1 * time.Hour,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the sweep loop in a background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Worker) sweep() {
	result, err := w.permits.ExpireStale(w.ctx, w.now(), w.timeout)
	if err != nil {
		w.logger.Error("expiry sweep failed", "error", err)
		return
	}
	if result.Found > 0 {
		w.logger.Info("expiry sweep run",
			"found", result.Found,
			"expired", result.Expired,
			"skipped", result.Skipped,
		)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
