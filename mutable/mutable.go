// Package mutable hands mutations from control goroutines to the producer
// goroutine, which applies them between production cycles.
package mutable

import (
	"fmt"
	"strings"

	"github.com/rs/xid"
)

// zero value for context is immutable.
var immutable = Context{}

type (
	// Context can be embedded to make structure mutable.
	Context xid.ID

	// Mutation is mutator function associated with a certain mutable
	// context.
	Mutation struct {
		Context
		mutator MutatorFunc
	}

	// Mutations is a set of mutations mapped to their contexts.
	Mutations map[Context][]MutatorFunc

	// MutatorFunc mutates the object.
	MutatorFunc func() error
)

// Mutable returns new mutable context.
func Mutable() Context {
	return Context(xid.New())
}

// Immutable returns immutable context.
func Immutable() Context {
	return immutable
}

// Mutate associates provided mutator with context and returns mutation.
func (c Context) Mutate(m MutatorFunc) Mutation {
	if c == immutable {
		panic("mutate immutable")
	}
	return Mutation{
		Context: c,
		mutator: m,
	}
}

// IsMutable returns true if object is mutable.
func (c Context) IsMutable() bool {
	return c != immutable
}

func (c Context) String() string {
	return xid.ID(c).String()
}

// Apply mutator function.
func (m Mutation) Apply() error {
	return m.mutator()
}

// Put mutation to the set.
func (ms Mutations) Put(m Mutation) Mutations {
	if m.Context == immutable {
		return ms
	}
	if ms == nil {
		ms = make(Mutations)
	}
	ms[m.Context] = append(ms[m.Context], m.mutator)
	return ms
}

// ApplyTo applies mutations of provided context and removes them from the
// set. All mutators are applied, errors are returned together.
func (ms Mutations) ApplyTo(c Context) error {
	if ms == nil || c == immutable {
		return nil
	}
	fns, ok := ms[c]
	if !ok {
		return nil
	}
	delete(ms, c)
	var errs mutationErrors
	for _, fn := range fns {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("error mutating %v: %w", c, errs)
	}
	return nil
}

// Append another set to this one.
func (ms Mutations) Append(source Mutations) Mutations {
	if ms == nil {
		ms = make(Mutations)
	}
	for c, fns := range source {
		ms[c] = append(ms[c], fns...)
	}
	return ms
}

// Detach mutations of provided context into a new set.
func (ms Mutations) Detach(c Context) Mutations {
	if ms == nil {
		return nil
	}
	if v, ok := ms[c]; ok {
		delete(ms, c)
		return Mutations{c: v}
	}
	return nil
}

// mutationErrors wraps errors of multiple mutators.
type mutationErrors []error

func (e mutationErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

func (e mutationErrors) Unwrap() []error {
	return e
}
