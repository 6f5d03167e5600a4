// Package mock provides test doubles for recall children and channels.
package mock

import (
	"errors"
	"sync"

	goaudio "github.com/go-audio/audio"

	"github.com/dudk/sequencer/identity"
	"github.com/dudk/sequencer/recall"
)

// ErrAllocation is returned by Factory when it's set to fail.
var ErrAllocation = errors.New("mock allocation error")

type (
	// Factory counts children it builds. It builds audio signal children
	// with provided kernel.
	Factory struct {
		Kernel recall.Kernel
		// Fail makes factory return ErrAllocation.
		Fail bool

		mu    sync.Mutex
		specs []recall.ChildSpec
	}

	// Kernel counts processed buffers and multiplies samples by Gain.
	Kernel struct {
		Gain float64

		mu        sync.Mutex
		processed int
	}

	// Target is a destination channel with settable recall ids.
	Target struct {
		mu  sync.Mutex
		ids []*identity.RecallID
	}
)

// Build implements recall.ChildFactory.
func (f *Factory) Build(spec recall.ChildSpec) (recall.Unit, error) {
	f.mu.Lock()
	fail := f.Fail
	if !fail {
		f.specs = append(f.specs, spec)
	}
	f.mu.Unlock()
	if fail {
		return nil, ErrAllocation
	}
	return recall.NewAudioSignal(spec, f.Kernel), nil
}

// SetFail switches factory failures.
func (f *Factory) SetFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fail = fail
}

// Built returns number of built children.
func (f *Factory) Built() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

// Specs returns specs of built children.
func (f *Factory) Specs() []recall.ChildSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	specs := make([]recall.ChildSpec, len(f.specs))
	copy(specs, f.specs)
	return specs
}

// Process implements recall.Kernel.
func (k *Kernel) Process(_ int, buf *goaudio.FloatBuffer) error {
	k.mu.Lock()
	k.processed++
	k.mu.Unlock()
	for i := range buf.Data {
		buf.Data[i] *= k.Gain
	}
	return nil
}

// Processed returns number of processed buffers.
func (k *Kernel) Processed() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.processed
}

// Add makes target hold provided id.
func (t *Target) Add(id *identity.RecallID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = append(t.ids, id)
}

// FindRecallID implements recall.Target.
func (t *Target) FindRecallID(ctx identity.Context) *identity.RecallID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return identity.FindContext(t.ids, ctx)
}
