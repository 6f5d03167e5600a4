// Package identity provides recycling contexts and recall ids.
package identity

import (
	"errors"
	"fmt"

	"github.com/rs/xid"
)

var (
	// ErrNoContext is used to cause a panic when recall id is created
	// without recycling context.
	ErrNoContext = errors.New("recall id without recycling context")
	// ErrInvalidScope is used to cause a panic when recall id is created
	// with undefined sound scope.
	ErrInvalidScope = errors.New("invalid sound scope")
)

// RecallID binds recall instances to one recycling context and one sound
// scope. Ids are compared by pointer.
type RecallID struct {
	uid     string
	context Context
	scope   Scope
}

// NewRecallID returns a new recall id. Zero context or invalid scope is a
// programming error and causes a panic.
func NewRecallID(c Context, s Scope) *RecallID {
	if c.IsZero() {
		panic(ErrNoContext)
	}
	if !s.Valid() {
		panic(ErrInvalidScope)
	}
	return &RecallID{
		uid:     xid.New().String(),
		context: c,
		scope:   s,
	}
}

// UID returns unique id value.
func (id *RecallID) UID() string {
	if id == nil {
		return ""
	}
	return id.uid
}

// Context returns bound recycling context. Nil id has no context.
func (id *RecallID) Context() Context {
	if id == nil {
		return NoContext
	}
	return id.context
}

// Scope returns sound scope of the id.
func (id *RecallID) Scope() Scope {
	if id == nil {
		return 0
	}
	return id.scope
}

func (id *RecallID) String() string {
	if id == nil {
		return "recall-id(nil)"
	}
	return fmt.Sprintf("recall-id(%s %v %v)", id.uid, id.scope, id.context)
}

// FindContext returns the first id bound to provided context.
func FindContext(ids []*RecallID, c Context) *RecallID {
	if c.IsZero() {
		return nil
	}
	for _, id := range ids {
		if id != nil && id.context == c {
			return id
		}
	}
	return nil
}
