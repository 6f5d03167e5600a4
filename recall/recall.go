package recall

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/dudk/sequencer/identity"
	"github.com/dudk/sequencer/internal/arena"
	"github.com/dudk/sequencer/metric"
)

// Flags of recall.
type Flags uint16

const (
	// Template recalls are blueprints. They never run and never retire.
	Template Flags = 1 << iota
	// Persistent recalls ignore done.
	Persistent
	// PersistentPlayback recalls ignore done in playback scope.
	PersistentPlayback
	// PersistentSequencer recalls ignore done in sequencer scope.
	PersistentSequencer
	// PersistentNotation recalls ignore done in notation scope.
	PersistentNotation
	// PropagateDone recalls are done when their last child is disposed.
	PropagateDone
)

const persistentFlags = Persistent | PersistentPlayback | PersistentSequencer | PersistentNotation

var flagNames = []string{
	"template",
	"persistent",
	"persistent-playback",
	"persistent-sequencer",
	"persistent-notation",
	"propagate-done",
}

func (f Flags) String() string {
	var names []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// State of recall lifecycle. State only moves forward.
type State int32

// Lifecycle states.
const (
	Created State = iota
	Running
	Done
	Disposed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Done:
		return "done"
	case Disposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Unit is any recall owned by registry.
type Unit interface {
	Base() *Recall
}

// Recall is the base of every recall. It must be embedded and initialized
// with Registry.register.
type Recall struct {
	reg    *Registry
	handle arena.Handle
	uid    string
	kind   string
	state  atomic.Int32

	mu       sync.Mutex
	flags    Flags
	scopes   identity.ScopeSet
	id       *identity.RecallID
	parent   arena.Handle
	children []arena.Handle
	// meter counts lifecycle of spawned children.
	meter   *metric.Meter
	dispose func()
}

// init must be called before the recall is registered.
func (r *Recall) init(kind string, flags Flags, scopes identity.ScopeSet, id *identity.RecallID) {
	r.uid = xid.New().String()
	r.kind = kind
	r.flags = flags
	r.scopes = scopes
	r.id = id
}

// Base returns the recall itself.
func (r *Recall) Base() *Recall {
	return r
}

// UID returns unique id of the recall.
func (r *Recall) UID() string {
	return r.uid
}

// Kind returns name of the recall kind.
func (r *Recall) Kind() string {
	return r.kind
}

func (r *Recall) String() string {
	return fmt.Sprintf("%s(%s)", r.kind, r.uid)
}

// Registry returns registry which owns the recall.
func (r *Recall) Registry() *Registry {
	return r.reg
}

// Flags returns recall flags.
func (r *Recall) Flags() Flags {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags
}

// HasFlags returns true if all provided flags are set.
func (r *Recall) HasFlags(f Flags) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags&f == f
}

// SetFlags sets provided flags.
func (r *Recall) SetFlags(f Flags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags |= f
}

// Scopes returns sound scopes accepted by the recall.
func (r *Recall) Scopes() identity.ScopeSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scopes
}

// RecallID returns id of the recall. Templates have no id.
func (r *Recall) RecallID() *identity.RecallID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// State returns lifecycle state.
func (r *Recall) State() State {
	return State(r.state.Load())
}

// IsDone returns true if recall is done or disposed.
func (r *Recall) IsDone() bool {
	return r.State() >= Done
}

// Done marks the recall done.
func (r *Recall) Done() bool {
	return r.reg.Done(r)
}

// OnDispose sets function which is called when recall is disposed.
func (r *Recall) OnDispose(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispose = fn
}

// Parent returns parent unit. False is returned for toplevel recalls.
func (r *Recall) Parent() (Unit, bool) {
	r.mu.Lock()
	h := r.parent
	r.mu.Unlock()
	if h.IsZero() {
		return nil, false
	}
	return r.reg.lookup(h)
}

// Children returns attached children, including done ones which aren't
// disposed yet.
func (r *Recall) Children() []Unit {
	r.mu.Lock()
	handles := make([]arena.Handle, len(r.children))
	copy(handles, r.children)
	r.mu.Unlock()

	children := make([]Unit, 0, len(handles))
	for _, h := range handles {
		if u, ok := r.reg.lookup(h); ok {
			children = append(children, u)
		}
	}
	return children
}

// start moves recall from created to running state.
func (r *Recall) start() {
	r.state.CompareAndSwap(int32(Created), int32(Running))
}

// retire moves recall into done state. False is returned if recall was
// already done.
func (r *Recall) retire() bool {
	for {
		s := r.state.Load()
		if State(s) >= Done {
			return false
		}
		if r.state.CompareAndSwap(s, int32(Done)) {
			return true
		}
	}
}

// persistent must be called with lock held.
func (r *Recall) persistent() bool {
	if r.flags&Persistent != 0 {
		return true
	}
	switch r.id.Scope() {
	case identity.Playback:
		return r.flags&PersistentPlayback != 0
	case identity.Sequencer:
		return r.flags&PersistentSequencer != 0
	case identity.Notation:
		return r.flags&PersistentNotation != 0
	}
	return false
}
