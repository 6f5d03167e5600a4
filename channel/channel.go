// Package channel provides audio channels which hold recycling chains.
package channel

import (
	"fmt"
	"sync"

	"github.com/dudk/sequencer/audio"
	"github.com/dudk/sequencer/identity"
)

// Channel is one line of audio. It holds a chain of recyclings and recall
// ids it currently runs with.
type Channel struct {
	pad          int
	line         int
	audioChannel int

	mu        sync.Mutex
	link      *Channel
	recallIDs []*identity.RecallID
	first     *audio.Recycling
	last      *audio.Recycling
}

// New returns channel with empty recycling chain.
func New(pad, line, audioChannel int) *Channel {
	return &Channel{
		pad:          pad,
		line:         line,
		audioChannel: audioChannel,
	}
}

func (c *Channel) String() string {
	return fmt.Sprintf("channel(pad %d line %d)", c.pad, c.line)
}

// Pad returns pad index.
func (c *Channel) Pad() int {
	return c.pad
}

// Line returns line index.
func (c *Channel) Line() int {
	return c.line
}

// AudioChannel returns audio channel index within the pad.
func (c *Channel) AudioChannel() int {
	return c.audioChannel
}

// Link returns linked channel.
func (c *Channel) Link() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

// SetLink links two channels together. Previous links of both are
// dropped. Nil other unlinks the channel.
func (c *Channel) SetLink(other *Channel) {
	if old := c.Link(); old != nil && old != other {
		old.setLink(nil)
	}
	c.setLink(other)
	if other != nil {
		if old := other.Link(); old != nil && old != c {
			old.setLink(nil)
		}
		other.setLink(c)
	}
}

func (c *Channel) setLink(other *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = other
}

// AddRecallID makes channel run with provided id. Adding present id does
// nothing.
func (c *Channel) AddRecallID(id *identity.RecallID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.recallIDs {
		if v == id {
			return
		}
	}
	c.recallIDs = append(c.recallIDs, id)
}

// RemoveRecallID removes id from the channel.
func (c *Channel) RemoveRecallID(id *identity.RecallID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, v := range c.recallIDs {
		if v == id {
			c.recallIDs = append(c.recallIDs[:i], c.recallIDs[i+1:]...)
			return true
		}
	}
	return false
}

// RecallIDs returns a copy of channel recall ids.
func (c *Channel) RecallIDs() []*identity.RecallID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]*identity.RecallID, len(c.recallIDs))
	copy(ids, c.recallIDs)
	return ids
}

// FindRecallID returns id bound to provided context.
func (c *Channel) FindRecallID(ctx identity.Context) *identity.RecallID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return identity.FindContext(c.recallIDs, ctx)
}

// AppendRecycling adds a new recycling to the end of chain.
func (c *Channel) AppendRecycling() *audio.Recycling {
	r := audio.NewRecycling(c)
	c.mu.Lock()
	last := c.last
	if c.first == nil {
		c.first = r
	}
	c.last = r
	c.mu.Unlock()
	audio.Link(last, r)
	return r
}

// First returns the first recycling of the chain.
func (c *Channel) First() *audio.Recycling {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.first
}

// Last returns the last recycling of the chain.
func (c *Channel) Last() *audio.Recycling {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Recyclings returns recyclings of the chain in order.
func (c *Channel) Recyclings() []*audio.Recycling {
	c.mu.Lock()
	first, last := c.first, c.last
	c.mu.Unlock()
	if first == nil {
		return nil
	}
	var recyclings []*audio.Recycling
	for r := first; r != nil; r = r.Next() {
		recyclings = append(recyclings, r)
		if r == last {
			break
		}
	}
	return recyclings
}
