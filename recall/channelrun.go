package recall

import (
	"fmt"
	"sync"

	"github.com/dudk/sequencer/audio"
	"github.com/dudk/sequencer/identity"
)

type (
	// Channel provides recyclings of one audio channel and recall ids the
	// channel runs with.
	Channel interface {
		AudioChannel() int
		Recyclings() []*audio.Recycling
		FindRecallID(identity.Context) *identity.RecallID
	}

	// ChannelRun is the parent of recyclings which route one source
	// channel into one destination channel. It spawns a recycling from its
	// child template for each recycling of source channel.
	ChannelRun struct {
		Recall
		source      Channel
		destination Channel
		template    *Recycling

		mu               sync.Mutex
		mapped           map[*audio.Recycling]*Recycling
		order            []*Recycling
		childDestination *audio.Signal
	}
)

// NewChannelRun creates channel run and registers it within registry.
// Destination can be nil. Template channel runs have nil id.
func NewChannelRun(reg *Registry, kind string, id *identity.RecallID, source, destination Channel, template *Recycling, flags Flags) *ChannelRun {
	scopes := identity.AllScopes
	if template != nil {
		scopes = template.Scopes()
	}
	c := &ChannelRun{
		source:      source,
		destination: destination,
		template:    template,
		mapped:      make(map[*audio.Recycling]*Recycling),
	}
	c.init(kind, flags, scopes, id)
	reg.register(c)
	return c
}

// Source returns source channel.
func (c *ChannelRun) Source() Channel {
	return c.source
}

// Destination returns destination channel.
func (c *ChannelRun) Destination() Channel {
	return c.destination
}

// MapRecyclings duplicates child template for each recycling of source
// channel which isn't mapped yet, and returns all mapped recyclings.
// Templates don't map.
func (c *ChannelRun) MapRecyclings() []*Recycling {
	if c.HasFlags(Template) || c.template == nil {
		return nil
	}
	id := c.RecallID()
	var destination *audio.Recycling
	if c.destination != nil {
		if recyclings := c.destination.Recyclings(); len(recyclings) > 0 {
			destination = recyclings[0]
		}
	}

	c.mu.Lock()
	childDestination := c.childDestination
	var missing []*audio.Recycling
	for _, source := range c.source.Recyclings() {
		if _, ok := c.mapped[source]; !ok {
			missing = append(missing, source)
		}
	}
	c.mu.Unlock()

	for _, source := range missing {
		child := c.template.Duplicate(id).(*Recycling)
		child.SetSource(source)
		child.SetDestination(destination)
		child.SetChildDestination(childDestination)
		child.ioMu.Lock()
		child.audioChannel = c.source.AudioChannel()
		child.ioMu.Unlock()
		if c.destination != nil {
			child.SetTarget(c.destination)
		}
		c.reg.attach(c, child, nil)

		c.mu.Lock()
		c.mapped[source] = child
		c.order = append(c.order, child)
		c.mu.Unlock()
	}
	return c.Recyclings()
}

// Recyclings returns mapped recyclings.
func (c *ChannelRun) Recyclings() []*Recycling {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return nil
	}
	recyclings := make([]*Recycling, len(c.order))
	copy(recyclings, c.order)
	return recyclings
}

// SetChildDestination replaces signal children of mapped recyclings write
// into.
func (c *ChannelRun) SetChildDestination(s *audio.Signal) {
	c.mu.Lock()
	c.childDestination = s
	c.mu.Unlock()
	for _, r := range c.Recyclings() {
		r.SetChildDestination(s)
	}
}

// Connect connects all mapped recyclings. False is returned if none was
// connected.
func (c *ChannelRun) Connect() bool {
	connected := false
	for _, r := range c.Recyclings() {
		connected = r.Connect() || connected
	}
	return connected
}

// Disconnect disconnects all mapped recyclings.
func (c *ChannelRun) Disconnect() bool {
	disconnected := false
	for _, r := range c.Recyclings() {
		disconnected = r.Disconnect() || disconnected
	}
	return disconnected
}

// Teardown disconnects the run and cancels it with all children.
func (c *ChannelRun) Teardown() {
	c.Disconnect()
	c.reg.Cancel(c)
}

// Duplicate returns a new channel run bound to provided id.
func (c *ChannelRun) Duplicate(id *identity.RecallID) Unit {
	return NewChannelRun(c.reg, c.kind, id, c.source, c.destination, c.template, c.Flags()&^Template)
}

// Run runs children of mapped recyclings once.
func (c *ChannelRun) Run() (bool, error) {
	ran := false
	for _, r := range c.Recyclings() {
		more, err := r.Run()
		if err != nil {
			return ran, fmt.Errorf("error running %s: %w", c, err)
		}
		ran = ran || more
	}
	return ran, nil
}

func (c *ChannelRun) childDisposed(u Unit) {
	r, ok := u.(*Recycling)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, v := range c.order {
		if v == r {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	for source, v := range c.mapped {
		if v == r {
			delete(c.mapped, source)
			break
		}
	}
}
