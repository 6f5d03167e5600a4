package mutable

import (
	"context"
	"errors"
)

// ErrUnknownContext is returned when mutation has no destination.
var ErrUnknownContext = errors.New("unknown mutable context")

type (
	// Pusher collects mutations and pushes them to destinations of their
	// contexts. Pusher is used by a single control goroutine.
	Pusher struct {
		destinations map[Context]Destination
		mutations    map[Destination]Mutations
	}

	// Destination is a channel the producer receives mutations from.
	Destination chan Mutations
)

// NewPusher creates new pusher.
func NewPusher() Pusher {
	return Pusher{
		destinations: make(map[Context]Destination),
		mutations:    make(map[Destination]Mutations),
	}
}

// NewDestination returns destination which holds one pending set.
func NewDestination() Destination {
	return make(chan Mutations, 1)
}

// AddDestination maps context to destination.
func (p Pusher) AddDestination(c Context, d Destination) {
	p.destinations[c] = d
}

// Put mutations to the pusher.
func (p Pusher) Put(mutations ...Mutation) error {
	for _, m := range mutations {
		d, ok := p.destinations[m.Context]
		if !ok {
			return ErrUnknownContext
		}
		p.mutations[d] = p.mutations[d].Put(m)
	}
	return nil
}

// Push mutations to their destinations. It blocks until every destination
// accepts its set or context is done.
func (p Pusher) Push(ctx context.Context) error {
	for d, m := range p.mutations {
		if m == nil {
			continue
		}
		select {
		case d <- m:
			p.mutations[d] = nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Receive returns pending mutations of destination without blocking.
func (d Destination) Receive() Mutations {
	select {
	case m := <-d:
		return m
	default:
		return nil
	}
}
