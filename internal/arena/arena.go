/*
Package arena provides a table that owns values by handle.

Handles carry a generation counter. When a slot is removed its generation
is bumped, so a handle that outlived its value never resolves to the value
that reuses the slot later.
*/
package arena

import "sync"

// Handle is a non-owning reference into a Table. Zero value is a handle
// to nothing.
type Handle struct {
	index uint32
	gen   uint32
}

type slot[T any] struct {
	gen   uint32
	live  bool
	value T
}

// Table owns values of type T. It's safe for concurrent use, all methods
// hold the lock only for the duration of the slot access.
type Table[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
	live  int
}

// IsZero returns true if handle doesn't reference anything.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

// Insert puts the value into the table and returns its handle.
func (t *Table[T]) Insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots == nil {
		// slot 0 is reserved so the zero handle never resolves.
		t.slots = make([]slot[T], 1, 16)
	}
	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot[T]{})
		index = uint32(len(t.slots) - 1)
	}
	s := &t.slots[index]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.live = true
	s.value = v
	t.live++
	return Handle{index: index, gen: s.gen}
}

// Get returns the value referenced by handle.
func (t *Table[T]) Get(h Handle) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.lookup(h); ok {
		return s.value, true
	}
	var zero T
	return zero, false
}

// Update calls fn with a pointer to the value referenced by handle. Table
// is locked for writing while fn runs, so fn must be short and must not
// call back into the table.
func (t *Table[T]) Update(h Handle, fn func(*T)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.lookup(h)
	if !ok {
		return false
	}
	fn(&s.value)
	return true
}

// Remove deletes the value from the table and returns it.
func (t *Table[T]) Remove(h Handle) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero T
	s, ok := t.lookup(h)
	if !ok {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.live = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	t.free = append(t.free, h.index)
	t.live--
	return v, true
}

// Contains returns true if handle references a live value.
func (t *Table[T]) Contains(h Handle) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.lookup(h)
	return ok
}

// Len returns number of live values.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// lookup must be called with lock held.
func (t *Table[T]) lookup(h Handle) (*slot[T], bool) {
	if h.IsZero() || int(h.index) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return s, true
}
