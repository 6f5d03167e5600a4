package recall

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dudk/sequencer/identity"
)

// ErrNotTemplate is returned when container gets a template which isn't
// flagged as such.
var ErrNotTemplate = errors.New("recall is not a template")

type (
	// Duplicator is a template which produces instances for recall ids.
	Duplicator interface {
		Unit
		Duplicate(*identity.RecallID) Unit
	}

	connector interface {
		Connect() bool
		Disconnect() bool
	}

	mapper interface {
		MapRecyclings() []*Recycling
	}

	teardowner interface {
		Teardown()
	}

	// Container holds recall templates and their instances.
	Container struct {
		reg *Registry

		mu        sync.Mutex
		templates []Duplicator
		instances []Unit
	}
)

// NewContainer returns empty container.
func NewContainer(reg *Registry) *Container {
	return &Container{
		reg: reg,
	}
}

// AddTemplate adds template to the container.
func (c *Container) AddTemplate(t Duplicator) error {
	if !t.Base().HasFlags(Template) {
		return fmt.Errorf("add %s: %w", t.Base(), ErrNotTemplate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates = append(c.templates, t)
	return nil
}

// Templates returns a copy of templates.
func (c *Container) Templates() []Duplicator {
	c.mu.Lock()
	defer c.mu.Unlock()
	templates := make([]Duplicator, len(c.templates))
	copy(templates, c.templates)
	return templates
}

// FindTemplate returns the first template of provided kind.
func (c *Container) FindTemplate(kind string) (Duplicator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.templates {
		if t.Base().Kind() == kind {
			return t, true
		}
	}
	return nil, false
}

// Find returns instances of kind which run in provided context. Empty
// kind matches any instance.
func (c *Container) Find(kind string, ctx identity.Context) []Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []Unit
	for _, u := range c.instances {
		b := u.Base()
		if (kind == "" || b.Kind() == kind) && b.RecallID().Context() == ctx {
			result = append(result, u)
		}
	}
	return result
}

// Instantiate duplicates every template for provided id, maps and connects
// new instances.
func (c *Container) Instantiate(id *identity.RecallID) []Unit {
	templates := c.Templates()
	instances := make([]Unit, 0, len(templates))
	for _, t := range templates {
		u := t.Duplicate(id)
		if m, ok := u.(mapper); ok {
			m.MapRecyclings()
		}
		if cn, ok := u.(connector); ok {
			cn.Connect()
		}
		instances = append(instances, u)
	}
	c.mu.Lock()
	c.instances = append(c.instances, instances...)
	c.mu.Unlock()
	return instances
}

// Teardown disconnects and cancels all instances which run in provided
// context and returns their number.
func (c *Container) Teardown(ctx identity.Context) int {
	c.mu.Lock()
	var removed []Unit
	kept := c.instances[:0]
	for _, u := range c.instances {
		if u.Base().RecallID().Context() == ctx {
			removed = append(removed, u)
			continue
		}
		kept = append(kept, u)
	}
	for i := len(kept); i < len(c.instances); i++ {
		c.instances[i] = nil
	}
	c.instances = kept
	c.mu.Unlock()

	for _, u := range removed {
		switch v := u.(type) {
		case teardowner:
			v.Teardown()
		case connector:
			v.Disconnect()
			c.reg.Cancel(u)
		default:
			c.reg.Cancel(u)
		}
	}
	return len(removed)
}

// Instances returns number of instances.
func (c *Container) Instances() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instances)
}
