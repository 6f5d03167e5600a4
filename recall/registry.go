package recall

import (
	"sync"

	"github.com/dudk/sequencer/identity"
	"github.com/dudk/sequencer/internal/arena"
	"github.com/dudk/sequencer/log"
	"github.com/dudk/sequencer/metric"
)

type (
	// Registry owns recall units. Units are referenced by handles, so
	// parent links never keep disposed units alive. Units which are done
	// wait in the retirement queue until Collect disposes them.
	Registry struct {
		tree    *identity.Tree
		units   arena.Table[Unit]
		metrics *metric.Metrics
		logger  log.Logger

		mu       sync.Mutex
		retired  []arena.Handle
		onRetire func()
		meters   map[string]*metric.Meter
	}

	// RegistryOption configures registry.
	RegistryOption func(*Registry)

	// disposer is notified when its child is disposed.
	disposer interface {
		childDisposed(Unit)
	}
)

// NewRegistry returns registry which resolves recycling contexts with
// provided tree.
func NewRegistry(tree *identity.Tree, options ...RegistryOption) *Registry {
	r := &Registry{
		tree:   tree,
		logger: log.Silent(),
		meters: make(map[string]*metric.Meter),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// WithMetrics makes registry measure recall lifecycle.
func WithMetrics(m *metric.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithRegistryLogger sets registry logger.
func WithRegistryLogger(l log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// Tree returns recycling context tree.
func (r *Registry) Tree() *identity.Tree {
	return r.tree
}

// Len returns number of registered units.
func (r *Registry) Len() int {
	return r.units.Len()
}

// Pending returns number of units waiting for disposal.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retired)
}

// OnRetire installs function which is called each time a unit is queued
// for disposal. It's called on the retiring goroutine, possibly the audio
// one, and must not block.
func (r *Registry) OnRetire(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRetire = fn
}

func (r *Registry) register(u Unit) {
	b := u.Base()
	b.reg = r
	b.handle = r.units.Insert(u)
}

func (r *Registry) lookup(h arena.Handle) (Unit, bool) {
	return r.units.Get(h)
}

// Contains returns true if unit wasn't disposed.
func (r *Registry) Contains(u Unit) bool {
	return r.units.Contains(u.Base().handle)
}

func (r *Registry) meter(kind string) *metric.Meter {
	if r.metrics == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meters[kind]
	if !ok {
		m = r.metrics.Meter(kind)
		r.meters[kind] = m
	}
	return m
}

// attach makes child a part of parent. Children inherit propagate-done
// flag, other than audio signal children also inherit persistence.
func (r *Registry) attach(parent, child Unit, meter *metric.Meter) {
	p, c := parent.Base(), child.Base()
	mask := PropagateDone
	if _, ok := child.(*AudioSignal); !ok {
		mask |= persistentFlags
	}

	p.mu.Lock()
	inherited := p.flags & mask
	p.children = append(p.children, c.handle)
	p.mu.Unlock()

	c.mu.Lock()
	c.parent = p.handle
	c.flags |= inherited
	c.meter = meter
	c.mu.Unlock()
}

// Done marks unit done and queues it for disposal. Templates and
// persistent units ignore done. False is returned if unit wasn't marked.
func (r *Registry) Done(u Unit) bool {
	b := u.Base()
	b.mu.Lock()
	if b.flags&Template != 0 || b.persistent() {
		b.mu.Unlock()
		return false
	}
	meter := b.meter
	b.mu.Unlock()

	if !b.retire() {
		return false
	}
	meter.Retired()

	r.mu.Lock()
	r.retired = append(r.retired, b.handle)
	hook := r.onRetire
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return true
}

// Cancel marks unit children and then the unit itself done. Unit stops
// being persistent. Templates can't be cancelled.
func (r *Registry) Cancel(u Unit) {
	b := u.Base()
	if b.HasFlags(Template) {
		return
	}
	for _, child := range b.Children() {
		r.Cancel(child)
	}
	b.mu.Lock()
	b.flags &^= persistentFlags
	b.mu.Unlock()
	r.Done(u)
}

// Collect disposes queued units and returns their number. It must not be
// called on the audio goroutine: dispose hooks run here.
func (r *Registry) Collect() int {
	n := 0
	for {
		r.mu.Lock()
		retired := r.retired
		r.retired = nil
		r.mu.Unlock()
		if len(retired) == 0 {
			break
		}
		for _, h := range retired {
			if r.dispose(h) {
				n++
			}
		}
	}
	if n > 0 {
		r.logger.Debug("disposed recalls: ", n)
	}
	return n
}

func (r *Registry) dispose(h arena.Handle) bool {
	u, ok := r.units.Remove(h)
	if !ok {
		return false
	}
	b := u.Base()
	b.mu.Lock()
	parent := b.parent
	children := b.children
	b.parent = arena.Handle{}
	b.children = nil
	fn := b.dispose
	meter := b.meter
	b.mu.Unlock()

	// children of disposed unit become toplevel.
	for _, ch := range children {
		if c, ok := r.lookup(ch); ok {
			cb := c.Base()
			cb.mu.Lock()
			if cb.parent == h {
				cb.parent = arena.Handle{}
			}
			cb.mu.Unlock()
		}
	}
	if fn != nil {
		fn()
	}
	b.state.Store(int32(Disposed))
	meter.Disposed()

	p, ok := r.lookup(parent)
	if !ok {
		return true
	}
	pb := p.Base()
	pb.mu.Lock()
	for i := range pb.children {
		if pb.children[i] == h {
			pb.children = append(pb.children[:i], pb.children[i+1:]...)
			break
		}
	}
	propagate := pb.flags&PropagateDone != 0 && len(pb.children) == 0
	pb.mu.Unlock()

	if d, ok := p.(disposer); ok {
		d.childDisposed(u)
	}
	if propagate {
		r.Done(p)
	}
	return true
}
