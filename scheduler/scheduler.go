// Package scheduler provides the periodic-task and parallel-fan-out
// primitives shared by the offline bucket engines (C4, C6) and the
// group control plane's re-publisher (C5/C9): a ticker-driven
// scheduler for polling/cleanup/re-publish sweeps, a bounded-fan-out
// helper for per-peer DHT gets/puts with first-error propagation, and
// a request collapser so concurrent reads of the same bucket key
// share one DHT round trip.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kiyeovo/kiyeovo/internal/logger"
)

// Task is a named periodic job. Run is invoked on every tick; a
// non-nil error is logged but does not stop the schedule.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs a set of Tasks on independent tickers until Stop is
// called, mirroring the background-sweep pattern the session manager
// uses for its own idle-session cleanup.
type Scheduler struct {
	log logger.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{log: logger.GetDefaultLogger()}
}

// Start launches one goroutine per task, each ticking at its own
// interval until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context, tasks ...Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	for _, task := range tasks {
		s.wg.Add(1)
		go s.run(runCtx, task)
	}
}

func (s *Scheduler) run(ctx context.Context, task Task) {
	defer s.wg.Done()
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := task.Run(ctx); err != nil {
				s.log.Warn("scheduled task failed", logger.String("task", task.Name), logger.Error(err))
			}
		}
	}
}

// Stop cancels all running tasks and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	s.wg.Wait()
}
