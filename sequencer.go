package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dudk/sequencer/audio"
	"github.com/dudk/sequencer/config"
	"github.com/dudk/sequencer/identity"
	"github.com/dudk/sequencer/internal/worker"
	"github.com/dudk/sequencer/log"
	"github.com/dudk/sequencer/metric"
	"github.com/dudk/sequencer/recall"
)

// ErrInvalidState is returned if engine method cannot be executed at this
// moment.
var ErrInvalidState = errors.New("invalid state")

type (
	// Engine holds the recycling context tree, the recall registry and
	// the worker which disposes retired recalls.
	Engine struct {
		settings  *config.Settings
		logger    log.Logger
		metrics   *metric.Metrics
		tree      *identity.Tree
		registry  *recall.Registry
		container *recall.Container
		worker    *worker.Worker

		mu     sync.Mutex
		cancel context.CancelFunc
		done   <-chan struct{}
	}

	// Option configures engine.
	Option func(*Engine)
)

// WithSettings sets engine settings. Defaults are used otherwise.
func WithSettings(s *config.Settings) Option {
	return func(e *Engine) {
		e.settings = s
	}
}

// WithLogger sets engine logger.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics makes engine measure recall lifecycle.
func WithMetrics(m *metric.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an engine. Settings are validated.
func New(options ...Option) (*Engine, error) {
	e := &Engine{
		logger: log.Silent(),
		tree:   identity.NewTree(),
	}
	for _, option := range options {
		option(e)
	}
	if e.settings == nil {
		e.settings = config.Default()
	}
	if err := e.settings.Validate(); err != nil {
		return nil, err
	}
	e.logger = log.SetDebug(e.logger, e.settings.Debug)

	e.registry = recall.NewRegistry(e.tree,
		recall.WithMetrics(e.metrics),
		recall.WithRegistryLogger(log.With(e.logger, map[string]interface{}{"component": "registry"})),
	)
	e.container = recall.NewContainer(e.registry)

	workerOptions := []worker.Option{
		worker.WithLogger(log.With(e.logger, map[string]interface{}{"component": "worker"})),
	}
	if e.settings.Performance() {
		workerOptions = append(workerOptions, worker.WithInterval(e.settings.Engine.CollectInterval))
	}
	e.worker = worker.New(e.registry.Collect, workerOptions...)
	if !e.settings.Performance() {
		e.registry.OnRetire(e.worker.Notify)
	}
	return e, nil
}

// Start runs the disposal worker until Close is called or provided context
// is done.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return fmt.Errorf("start: %w", ErrInvalidState)
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = e.worker.Run(ctx)
	e.logger.Info("engine started in ", e.settings.Engine.Mode, " mode")
	return nil
}

// Close stops the worker and waits until retired recalls are collected.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return fmt.Errorf("close: %w", ErrInvalidState)
	}
	e.cancel()
	<-e.done
	e.cancel, e.done = nil, nil
	e.logger.Info("engine stopped")
	return nil
}

// Settings returns engine settings.
func (e *Engine) Settings() *config.Settings {
	return e.settings
}

// Tree returns recycling context tree.
func (e *Engine) Tree() *identity.Tree {
	return e.tree
}

// Registry returns recall registry.
func (e *Engine) Registry() *recall.Registry {
	return e.registry
}

// Container returns recall container.
func (e *Engine) Container() *recall.Container {
	return e.container
}

// Metrics returns engine metrics. It's nil unless WithMetrics was used.
func (e *Engine) Metrics() *metric.Metrics {
	return e.metrics
}

// Logger returns engine logger.
func (e *Engine) Logger() log.Logger {
	return e.logger
}

// NewContext creates a recycling context with provided parent.
func (e *Engine) NewContext(parent identity.Context) (identity.Context, error) {
	return e.tree.New(parent)
}

// ReleaseContext tears down recalls instantiated for the context and
// removes it from the tree.
func (e *Engine) ReleaseContext(ctx identity.Context) error {
	if n := e.container.Teardown(ctx); n > 0 {
		e.logger.Debug("teardown ", ctx, ": ", n)
	}
	return e.tree.Release(ctx)
}

// NewSignal creates audio signal with soundcard format.
func (e *Engine) NewSignal(id *identity.RecallID, options ...audio.SignalOption) *audio.Signal {
	options = append([]audio.SignalOption{
		audio.WithFormat(e.settings.Soundcard.SampleRate, e.settings.Soundcard.BufferSize),
	}, options...)
	return audio.NewSignal(id, options...)
}

// NewRecycling creates recall recycling with engine policies applied.
// Provided options take precedence.
func (e *Engine) NewRecycling(kind string, id *identity.RecallID, options ...recall.Option) *recall.Recycling {
	options = append([]recall.Option{
		recall.WithMapChildSource(e.settings.Recall.MapChildSource),
		recall.WithLogger(log.With(e.logger, map[string]interface{}{"recall": kind})),
	}, options...)
	return recall.NewRecycling(e.registry, kind, id, options...)
}
