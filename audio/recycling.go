package audio

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

type (
	// Owner is a channel which holds recyclings.
	Owner interface {
		AudioChannel() int
	}

	// Listener receives notifications about signals entering and leaving a
	// recycling. Notifications are delivered on the goroutine which mutates
	// the recycling, after the recycling lock is released.
	Listener interface {
		SignalAdded(*Signal) error
		SignalRemoved(*Signal) error
	}

	// Subscription identifies subscribed listener.
	Subscription struct {
		id uint64
	}

	// Recycling is a set of audio signals of one channel stage. Recyclings
	// of a channel are linked into chain.
	Recycling struct {
		uid   string
		owner Owner

		mu      sync.Mutex
		signals []*Signal
		next    *Recycling
		prev    *Recycling

		// subMu serializes writers of subscribers.
		subMu       sync.Mutex
		subscribers atomic.Pointer[[]subscriber]
		lastID      uint64
	}

	subscriber struct {
		id       uint64
		listener Listener
	}
)

// NewRecycling returns empty recycling owned by provided channel.
func NewRecycling(owner Owner) *Recycling {
	return &Recycling{
		uid:   xid.New().String(),
		owner: owner,
	}
}

// UID returns unique id of the recycling.
func (r *Recycling) UID() string {
	return r.uid
}

// Owner returns channel which holds the recycling.
func (r *Recycling) Owner() Owner {
	return r.owner
}

func (r *Recycling) String() string {
	return fmt.Sprintf("recycling(%s)", r.uid)
}

// Subscribe adds listener to the recycling. Listener subscribed twice
// receives notifications twice.
func (r *Recycling) Subscribe(l Listener) Subscription {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.lastID++
	var subs []subscriber
	if current := r.subscribers.Load(); current != nil {
		subs = make([]subscriber, len(*current), len(*current)+1)
		copy(subs, *current)
	}
	subs = append(subs, subscriber{id: r.lastID, listener: l})
	r.subscribers.Store(&subs)
	return Subscription{id: r.lastID}
}

// Unsubscribe removes subscription from the recycling. False is returned
// if subscription wasn't found.
func (r *Recycling) Unsubscribe(s Subscription) bool {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	current := r.subscribers.Load()
	if current == nil {
		return false
	}
	subs := make([]subscriber, 0, len(*current))
	for _, sub := range *current {
		if sub.id != s.id {
			subs = append(subs, sub)
		}
	}
	if len(subs) == len(*current) {
		return false
	}
	r.subscribers.Store(&subs)
	return true
}

// Subscribers returns number of subscribed listeners.
func (r *Recycling) Subscribers() int {
	if current := r.subscribers.Load(); current != nil {
		return len(*current)
	}
	return 0
}

// Add puts signal into the recycling and notifies listeners. Adding a
// template replaces the previous template, which is removed with
// notification. Adding a signal which is already present does nothing.
func (r *Recycling) Add(s *Signal) error {
	var replaced *Signal
	r.mu.Lock()
	for _, v := range r.signals {
		if v == s {
			r.mu.Unlock()
			return nil
		}
	}
	if s.IsTemplate() {
		for i, v := range r.signals {
			if v.IsTemplate() {
				replaced = v
				r.signals = append(r.signals[:i], r.signals[i+1:]...)
				break
			}
		}
	}
	r.signals = append(r.signals, s)
	r.mu.Unlock()

	var errs listenerErrors
	if replaced != nil {
		replaced.setRecycling(nil)
		errs = r.notify(replaced, Listener.SignalRemoved, errs)
	}
	s.setRecycling(r)
	errs = r.notify(s, Listener.SignalAdded, errs)
	return errs.ret()
}

// Remove takes signal out of the recycling and notifies listeners. False is
// returned if signal wasn't present, listeners aren't notified then.
func (r *Recycling) Remove(s *Signal) (bool, error) {
	r.mu.Lock()
	found := false
	for i, v := range r.signals {
		if v == s {
			r.signals = append(r.signals[:i], r.signals[i+1:]...)
			found = true
			break
		}
	}
	r.mu.Unlock()
	if !found {
		return false, nil
	}

	s.setRecycling(nil)
	var errs listenerErrors
	errs = r.notify(s, Listener.SignalRemoved, errs)
	return true, errs.ret()
}

// notify delivers notification to the snapshot of listeners.
func (r *Recycling) notify(s *Signal, fn func(Listener, *Signal) error, errs listenerErrors) listenerErrors {
	current := r.subscribers.Load()
	if current == nil {
		return errs
	}
	for _, sub := range *current {
		if err := fn(sub.listener, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Contains returns true if signal is present in the recycling.
func (r *Recycling) Contains(s *Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.signals {
		if v == s {
			return true
		}
	}
	return false
}

// Signals returns a copy of recycling signals.
func (r *Recycling) Signals() []*Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	signals := make([]*Signal, len(r.signals))
	copy(signals, r.signals)
	return signals
}

// Len returns number of signals in the recycling.
func (r *Recycling) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

// Template returns template signal of the recycling.
func (r *Recycling) Template() *Signal {
	return FindTemplate(r.Signals())
}

// CreateSignalWithDefaults prepares signal with the format and length of
// recycling template. Signal without template keeps its format and gets a
// single buffer.
func (r *Recycling) CreateSignalWithDefaults(s *Signal, delay float64, attack int) {
	length := 1
	var format *Signal
	if t := r.Template(); t != nil && t != s {
		format = t
		length = t.Length()
		if length == 0 {
			length = 1
		}
	}

	var sampleRate, bufferSize int
	if format != nil {
		sampleRate, bufferSize = format.Format().SampleRate, format.BufferSize()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if format != nil {
		s.format.SampleRate = sampleRate
		s.bufferSize = bufferSize
		s.stream = nil
	}
	s.delay = delay
	s.attack = attack
	if s.bufferSize > 0 {
		s.lastFrame = (int(delay*float64(s.bufferSize)) + attack) % s.bufferSize
	}
	s.resize(length)
}

// Next returns next recycling in the chain.
func (r *Recycling) Next() *Recycling {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Prev returns previous recycling in the chain.
func (r *Recycling) Prev() *Recycling {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prev
}

// Link chains two recyclings. Any of them can be nil.
func Link(prev, next *Recycling) {
	if prev != nil {
		prev.mu.Lock()
		prev.next = next
		prev.mu.Unlock()
	}
	if next != nil {
		next.mu.Lock()
		next.prev = prev
		next.mu.Unlock()
	}
}

// Position returns index of r in the chain from start until end. End is
// excluded and nil end means the end of chain. If r isn't found, -1 is
// returned.
func Position(start, end, r *Recycling) int {
	for i, current := 0, start; current != nil && current != end; i, current = i+1, current.Next() {
		if current == r {
			return i
		}
	}
	return -1
}

// listenerErrors wraps errors that might occur when multiple listeners
// are failing.
type listenerErrors []error

func (e listenerErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

// Unwrap allows errors.Is to match any of listener errors.
func (e listenerErrors) Unwrap() []error {
	return e
}

// ret returns untyped nil if error list is empty.
func (e listenerErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
