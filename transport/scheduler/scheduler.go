// Package scheduler forces a node-pool re-sniff on a cron schedule, as a
// complement to the pipeline's sniffLifespan staleness check — useful for
// clusters that rotate nodes on a known maintenance window rather than
// only on connection failure. It is a thin wrapper around gronx's cron
// expression evaluator.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Scheduler evaluates a cron expression once per tick interval and calls
// fn whenever the expression is due.
type Scheduler struct {
	expr string
	gron gronx.Gronx
	tick time.Duration
	fn   func(ctx context.Context) error

	onError func(error)

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a Scheduler for expr, returning an error if expr is not a
// valid cron expression. fn is invoked every time expr becomes due; a
// tick interval of one minute is used by default since cron expressions
// are minute-granular.
func New(expr string, fn func(ctx context.Context) error) (*Scheduler, error) {
	g := gronx.New()
	if !g.IsValid(expr) {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q", expr)
	}
	return &Scheduler{expr: expr, gron: g, tick: time.Minute, fn: fn}, nil
}

// WithTickInterval overrides the default one-minute poll interval.
func (s *Scheduler) WithTickInterval(d time.Duration) *Scheduler {
	s.tick = d
	return s
}

// WithErrorHandler registers a callback for errors from evaluating the
// expression or from fn itself. Without one, such errors are dropped.
func (s *Scheduler) WithErrorHandler(onError func(error)) *Scheduler {
	s.onError = onError
	return s
}

// DueAt reports whether expr is due at t, for testing without waiting on
// the wall clock.
func (s *Scheduler) DueAt(t time.Time) (bool, error) {
	return s.gron.IsDue(s.expr, t)
}

// Start runs the scheduling loop in a background goroutine until Stop is
// called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop ends the scheduling loop started by Start. Safe to call more than
// once or before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := s.gron.IsDue(s.expr, now)
			if err != nil {
				s.reportError(err)
				continue
			}
			if !due {
				continue
			}
			if err := s.fn(ctx); err != nil {
				s.reportError(err)
			}
		}
	}
}

func (s *Scheduler) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}
