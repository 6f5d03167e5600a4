package identity

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dudk/sequencer/internal/arena"
)

// ErrStaleContext is returned when operation refers to released context.
var ErrStaleContext = errors.New("stale recycling context")

// Context is a recycling context: one nested run of the audio graph. It's
// a handle into the Tree that created it. Two contexts are the same run if
// and only if they are equal.
type Context struct {
	h arena.Handle
}

// NoContext is the absent context.
var NoContext = Context{}

// IsZero returns true for NoContext.
func (c Context) IsZero() bool {
	return c.h.IsZero()
}

func (c Context) String() string {
	if c.IsZero() {
		return "context(none)"
	}
	return fmt.Sprintf("context(%v)", c.h)
}

type node struct {
	parent   Context
	children []Context
}

// Tree owns all recycling contexts. Parent and child links are handles,
// so releasing a context never leaves a dangling reference.
type Tree struct {
	mu    sync.RWMutex
	nodes arena.Table[node]
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

// New creates a context nested into parent. NoContext parent creates a
// toplevel context.
func (t *Tree) New(parent Context) (Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !parent.IsZero() && !t.nodes.Contains(parent.h) {
		return NoContext, fmt.Errorf("new context: %w", ErrStaleContext)
	}
	c := Context{h: t.nodes.Insert(node{parent: parent})}
	if !parent.IsZero() {
		t.nodes.Update(parent.h, func(n *node) {
			n.children = append(n.children, c)
		})
	}
	return c, nil
}

// Parent returns parent of the context. NoContext is returned for
// toplevel, orphaned and released contexts.
func (t *Tree) Parent(c Context) Context {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes.Get(c.h)
	if !ok {
		return NoContext
	}
	return n.parent
}

// Children returns a copy of the context children.
func (t *Tree) Children(c Context) []Context {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes.Get(c.h)
	if !ok || len(n.children) == 0 {
		return nil
	}
	children := make([]Context, len(n.children))
	copy(children, n.children)
	return children
}

// Toplevel climbs the tree up to the root of the context.
func (t *Tree) Toplevel(c Context) Context {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.nodes.Contains(c.h) {
		return NoContext
	}
	for {
		n, _ := t.nodes.Get(c.h)
		if n.parent.IsZero() {
			return c
		}
		c = n.parent
	}
}

// Alive returns true if context wasn't released.
func (t *Tree) Alive(c Context) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes.Contains(c.h)
}

// Release removes the context from the tree. Its children become
// toplevel contexts, parent links are non-owning.
func (t *Tree) Release(c Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes.Remove(c.h)
	if !ok {
		return fmt.Errorf("release %v: %w", c, ErrStaleContext)
	}
	if !n.parent.IsZero() {
		t.nodes.Update(n.parent.h, func(p *node) {
			for i := range p.children {
				if p.children[i] == c {
					p.children = append(p.children[:i], p.children[i+1:]...)
					break
				}
			}
		})
	}
	for _, child := range n.children {
		t.nodes.Update(child.h, func(n *node) {
			n.parent = NoContext
		})
	}
	return nil
}

// Len returns number of live contexts.
func (t *Tree) Len() int {
	return t.nodes.Len()
}
