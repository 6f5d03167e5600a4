// Package worker runs disposal of retired recalls off the audio path.
package worker

import (
	"context"
	"time"

	"github.com/dudk/sequencer/log"
)

type (
	// Worker calls collect function each time it's notified. With positive
	// interval it also collects on ticker.
	Worker struct {
		collect  CollectFunc
		interval time.Duration
		wake     chan struct{}
		logger   log.Logger
	}

	// CollectFunc disposes retired units and returns their number.
	CollectFunc func() int

	// Option configures worker.
	Option func(*Worker)
)

// New creates a worker for provided collect function.
func New(fn CollectFunc, options ...Option) *Worker {
	w := &Worker{
		collect: fn,
		wake:    make(chan struct{}, 1),
		logger:  log.Silent(),
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// WithInterval makes worker collect on ticker.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		w.interval = d
	}
}

// WithLogger sets worker logger.
func WithLogger(l log.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

// Notify wakes the worker up. It never blocks: pending notification
// absorbs the new one.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run starts the worker goroutine. Returned channel is closed when worker
// is done. Retired units left after cancel are collected before return.
func (w *Worker) Run(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	var tick <-chan time.Time
	var ticker *time.Ticker
	if w.interval > 0 {
		ticker = time.NewTicker(w.interval)
		tick = ticker.C
	}
	go func() {
		defer close(done)
		if ticker != nil {
			defer ticker.Stop()
		}
		for {
			select {
			case <-w.wake:
			case <-tick:
			case <-ctx.Done():
				if n := w.collect(); n > 0 {
					w.logger.Debug("collected on stop: ", n)
				}
				return
			}
			if n := w.collect(); n > 0 {
				w.logger.Debug("collected: ", n)
			}
		}
	}()
	return done
}
