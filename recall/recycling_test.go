package recall_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dudk/sequencer/audio"
	"github.com/dudk/sequencer/identity"
	"github.com/dudk/sequencer/metric"
	"github.com/dudk/sequencer/mock"
	"github.com/dudk/sequencer/recall"
)

type owner int

func (o owner) AudioChannel() int { return int(o) }

type fixture struct {
	tree    *identity.Tree
	reg     *recall.Registry
	source  *audio.Recycling
	factory *mock.Factory
	parent  identity.Context
	ctx     identity.Context
	id      *identity.RecallID
}

// newFixture creates a recall id bound to context nested into parent
// context.
func newFixture(t *testing.T, options ...recall.RegistryOption) *fixture {
	t.Helper()
	tree := identity.NewTree()
	parent, err := tree.New(identity.NoContext)
	require.NoError(t, err)
	ctx, err := tree.New(parent)
	require.NoError(t, err)
	return &fixture{
		tree:    tree,
		reg:     recall.NewRegistry(tree, options...),
		source:  audio.NewRecycling(owner(0)),
		factory: &mock.Factory{},
		parent:  parent,
		ctx:     ctx,
		id:      identity.NewRecallID(ctx, identity.Playback),
	}
}

func (f *fixture) recycling(options ...recall.Option) *recall.Recycling {
	options = append([]recall.Option{
		recall.WithSource(f.source),
		recall.WithChildFactory(f.factory.Build),
	}, options...)
	return recall.NewRecycling(f.reg, "volume", f.id, options...)
}

func (f *fixture) signal(t *testing.T, ctx identity.Context, scope identity.Scope, options ...audio.SignalOption) *audio.Signal {
	t.Helper()
	return audio.NewSignal(identity.NewRecallID(ctx, scope), options...)
}

func TestSpawnMatchingSignal(t *testing.T) {
	f := newFixture(t)
	r := f.recycling(recall.WithAudioChannel(1))
	s := f.signal(t, f.ctx, identity.Playback)

	require.NoError(t, r.SignalAdded(s))
	assert.Equal(t, 1, f.factory.Built())
	assert.Equal(t, 1, r.LiveChildren())
	assert.Equal(t, []*audio.Signal{s}, r.ChildSource())

	spec := f.factory.Specs()[0]
	assert.Equal(t, s, spec.Source)
	assert.Equal(t, s.RecallID(), spec.RecallID)
	assert.Equal(t, 1, spec.AudioChannel)
	assert.Equal(t, identity.AllScopes, spec.Scopes)

	child, ok := r.Child(s)
	require.True(t, ok)
	parent, ok := child.Base().Parent()
	require.True(t, ok)
	assert.Equal(t, r, parent)
	assert.Equal(t, []recall.Unit{child}, r.Children())
}

func TestTemplateSignalIgnored(t *testing.T) {
	f := newFixture(t)
	r := f.recycling()

	require.NoError(t, r.SignalAdded(f.signal(t, f.ctx, identity.Playback, audio.AsTemplate())))
	require.NoError(t, r.SignalAdded(f.signal(t, f.ctx, identity.Playback, audio.AsRTTemplate())))
	assert.Equal(t, 0, f.factory.Built())
	assert.Equal(t, 0, r.LiveChildren())
	assert.Nil(t, r.ChildSource())
}

func TestDestinationReadiness(t *testing.T) {
	f := newFixture(t)
	target := &mock.Target{}
	r := f.recycling(recall.WithTarget(target))
	s := f.signal(t, f.ctx, identity.Playback)

	require.NoError(t, r.SignalAdded(s))
	assert.Equal(t, 0, f.factory.Built())

	// id bound to own context isn't enough.
	target.Add(f.id)
	require.NoError(t, r.SignalAdded(s))
	assert.Equal(t, 0, f.factory.Built())

	target.Add(identity.NewRecallID(f.parent, identity.Playback))
	require.NoError(t, r.SignalAdded(s))
	assert.Equal(t, 1, f.factory.Built())
	assert.Equal(t, 1, r.LiveChildren())
}

func TestDestinationReadinessToplevel(t *testing.T) {
	f := newFixture(t)
	id := identity.NewRecallID(f.parent, identity.Playback)
	target := &mock.Target{}
	r := recall.NewRecycling(f.reg, "volume", id,
		recall.WithChildFactory(f.factory.Build),
		recall.WithTarget(target),
	)
	// no parent context, destination can't get ready.
	target.Add(id)
	require.NoError(t, r.SignalAdded(f.signal(t, f.parent, identity.Playback)))
	assert.Equal(t, 0, f.factory.Built())

	// without target toplevel recall spawns.
	r.SetTarget(nil)
	require.NoError(t, r.SignalAdded(f.signal(t, f.parent, identity.Playback)))
	assert.Equal(t, 1, f.factory.Built())
}

func TestAddRemoveAdd(t *testing.T) {
	f := newFixture(t)
	r := f.recycling()
	s := f.signal(t, f.ctx, identity.Playback)

	require.NoError(t, r.SignalAdded(s))
	first, ok := r.Child(s)
	require.True(t, ok)

	require.NoError(t, r.SignalRemoved(s))
	assert.Equal(t, 0, r.LiveChildren())
	assert.True(t, first.Base().IsDone())
	assert.Nil(t, r.ChildSource())

	require.NoError(t, r.SignalAdded(s))
	assert.Equal(t, 2, f.factory.Built())
	assert.Equal(t, 1, r.LiveChildren())
	second, ok := r.Child(s)
	require.True(t, ok)
	assert.NotEqual(t, first, second)
}

func TestContextMatching(t *testing.T) {
	f := newFixture(t)
	r := f.recycling()
	nested, err := f.tree.New(f.ctx)
	require.NoError(t, err)
	deep, err := f.tree.New(nested)
	require.NoError(t, err)
	sibling, err := f.tree.New(f.parent)
	require.NoError(t, err)

	var tests = []struct {
		name     string
		ctx      identity.Context
		expected int
	}{
		{name: "sibling", ctx: sibling, expected: 0},
		{name: "parent", ctx: f.parent, expected: 0},
		{name: "two levels down", ctx: deep, expected: 0},
		{name: "one level down", ctx: nested, expected: 1},
		{name: "same", ctx: f.ctx, expected: 1},
	}
	for _, c := range tests {
		t.Run(c.name, func(t *testing.T) {
			before := f.factory.Built()
			require.NoError(t, r.SignalAdded(f.signal(t, c.ctx, identity.Playback)))
			assert.Equal(t, c.expected, f.factory.Built()-before)
		})
	}
}

func TestMissingRecallID(t *testing.T) {
	f := newFixture(t)
	r := f.recycling()
	require.NoError(t, r.SignalAdded(audio.NewSignal(nil)))

	orphan := recall.NewRecycling(f.reg, "volume", nil, recall.WithChildFactory(f.factory.Build))
	require.NoError(t, orphan.SignalAdded(f.signal(t, f.ctx, identity.Playback)))
	assert.Equal(t, 0, f.factory.Built())
}

func TestScopes(t *testing.T) {
	f := newFixture(t)
	r := f.recycling(recall.WithScopes(identity.Scopes(identity.Playback, identity.Notation)))

	require.NoError(t, r.SignalAdded(f.signal(t, f.ctx, identity.Sequencer)))
	assert.Equal(t, 0, f.factory.Built())
	s := f.signal(t, f.ctx, identity.Notation)
	require.NoError(t, r.SignalAdded(s))
	assert.Equal(t, 1, f.factory.Built())
	assert.Equal(t, identity.Scopes(identity.Playback, identity.Notation), f.factory.Specs()[0].Scopes)

	// signal of rejected scope isn't removed either.
	other := f.signal(t, f.ctx, identity.Sequencer)
	require.NoError(t, r.SignalRemoved(other))
	assert.Equal(t, 1, r.LiveChildren())
}

func TestRemoveContextMismatch(t *testing.T) {
	f := newFixture(t)
	r := f.recycling()
	s := f.signal(t, f.ctx, identity.Playback)
	require.NoError(t, r.SignalAdded(s))
	child, ok := r.Child(s)
	require.True(t, ok)

	sibling, err := f.tree.New(f.parent)
	require.NoError(t, err)
	// same signal rebound to a sibling context doesn't belong to recycling.
	s.SetRecallID(identity.NewRecallID(sibling, identity.Playback))
	require.NoError(t, r.SignalRemoved(s))
	assert.Equal(t, 1, r.LiveChildren())
	assert.False(t, child.Base().IsDone())
	assert.Equal(t, []*audio.Signal{s}, r.ChildSource())

	require.NoError(t, r.SignalRemoved(f.signal(t, sibling, identity.Playback)))
	assert.Equal(t, 1, r.LiveChildren())
}

func TestPersistentChild(t *testing.T) {
	f := newFixture(t)
	built := 0
	r := f.recycling(recall.WithChildFactory(func(spec recall.ChildSpec) (recall.Unit, error) {
		built++
		c := recall.NewAudioSignal(spec, nil)
		c.SetFlags(recall.Persistent)
		return c, nil
	}))
	s := f.signal(t, f.ctx, identity.Playback)

	require.NoError(t, r.SignalAdded(s))
	first, ok := r.Child(s)
	require.True(t, ok)
	require.NoError(t, r.SignalRemoved(s))
	require.NoError(t, r.SignalAdded(s))

	assert.Equal(t, 1, built)
	assert.Equal(t, 1, r.LiveChildren())
	assert.Len(t, r.Children(), 1)
	child, ok := r.Child(s)
	require.True(t, ok)
	assert.Equal(t, first, child)

	// cancel retires persistent children too.
	f.reg.Cancel(r)
	assert.True(t, first.Base().IsDone())
	assert.Equal(t, 2, f.reg.Collect())
}

func TestAtMostOneChild(t *testing.T) {
	f := newFixture(t)
	r := f.recycling()
	s := f.signal(t, f.ctx, identity.Playback)

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			return r.SignalAdded(s)
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, f.factory.Built())
	assert.Equal(t, 1, r.LiveChildren())
	assert.Len(t, r.Children(), 1)
	assert.Equal(t, []*audio.Signal{s}, r.ChildSource())
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	r := f.recycling()
	require.True(t, r.Connect())
	s := f.signal(t, f.ctx, identity.Playback)

	require.NoError(t, f.source.Add(s))
	assert.Equal(t, 1, r.LiveChildren())
	removed, err := f.source.Remove(s)
	require.NoError(t, err)
	require.True(t, removed)

	assert.Nil(t, r.ChildSource())
	assert.Equal(t, 0, r.LiveChildren())
	assert.Equal(t, 1, f.reg.Pending())
	assert.Equal(t, 1, f.reg.Collect())
	assert.Empty(t, r.Children())
	assert.Equal(t, 1, f.reg.Len())
	_, ok := r.Child(s)
	assert.False(t, ok)
}

func TestReconnect(t *testing.T) {
	spawn := func(t *testing.T, f *fixture) int {
		before := f.factory.Built()
		s := f.signal(t, f.ctx, identity.Playback)
		require.NoError(t, f.source.Add(s))
		return f.factory.Built() - before
	}

	fresh := newFixture(t)
	r := fresh.recycling()
	require.True(t, r.Connect())
	expected := spawn(t, fresh)

	f := newFixture(t)
	r = f.recycling()
	assert.True(t, r.Connect())
	assert.False(t, r.Connect())
	assert.True(t, r.Disconnect())
	assert.False(t, r.Disconnect())
	assert.Equal(t, 0, spawn(t, f))
	assert.True(t, r.Connect())
	assert.Equal(t, expected, spawn(t, f))
	assert.Equal(t, 1, f.source.Subscribers())
}

func TestConnect(t *testing.T) {
	f := newFixture(t)
	template := recall.NewRecycling(f.reg, "volume", nil, recall.AsTemplate(), recall.WithSource(f.source))
	assert.False(t, template.Connect())
	noSource := recall.NewRecycling(f.reg, "volume", f.id)
	assert.False(t, noSource.Connect())

	r := f.recycling()
	require.True(t, r.Connect())
	s := f.signal(t, f.ctx, identity.Playback)
	require.NoError(t, f.source.Add(s))
	assert.True(t, r.Disconnect())
	// disconnect keeps children.
	assert.Equal(t, 1, r.LiveChildren())
	assert.False(t, r.IsConnected())
}

func TestSetSource(t *testing.T) {
	f := newFixture(t)
	r := f.recycling()
	require.True(t, r.Connect())
	next := audio.NewRecycling(owner(0))
	r.SetSource(next)
	assert.Equal(t, next, r.Source())
	assert.Equal(t, 0, f.source.Subscribers())
	assert.Equal(t, 1, next.Subscribers())

	require.NoError(t, next.Add(f.signal(t, f.ctx, identity.Playback)))
	assert.Equal(t, 1, r.LiveChildren())
}

func TestAllocationFailure(t *testing.T) {
	f := newFixture(t)
	r := f.recycling()
	require.True(t, r.Connect())
	s := f.signal(t, f.ctx, identity.Playback)

	f.factory.SetFail(true)
	err := f.source.Add(s)
	assert.ErrorIs(t, err, recall.ErrChildAllocation)
	assert.ErrorIs(t, err, mock.ErrAllocation)
	assert.Equal(t, 0, r.LiveChildren())
	assert.Nil(t, r.ChildSource())

	// no reservation is left behind.
	f.factory.SetFail(false)
	require.NoError(t, r.SignalAdded(s))
	assert.Equal(t, 1, r.LiveChildren())
}

func TestMapChildSource(t *testing.T) {
	f := newFixture(t)
	r := f.recycling(recall.WithMapChildSource(false))
	require.NoError(t, r.SignalAdded(f.signal(t, f.ctx, identity.Playback)))
	assert.Equal(t, 1, r.LiveChildren())
	assert.Nil(t, r.ChildSource())
}

func TestPanics(t *testing.T) {
	f := newFixture(t)
	template := recall.NewRecycling(f.reg, "volume", f.id,
		recall.AsTemplate(),
		recall.WithChildFactory(f.factory.Build),
	)
	assert.PanicsWithValue(t, recall.ErrTemplateSpawn, func() {
		_ = template.SignalAdded(f.signal(t, f.ctx, identity.Playback))
	})

	r := f.recycling()
	s := f.signal(t, f.ctx, identity.Playback)
	require.NoError(t, r.SignalAdded(s))
	child := recall.NewAudioSignal(recall.ChildSpec{Registry: f.reg, Source: s}, nil)
	assert.PanicsWithValue(t, recall.ErrDuplicateChild, func() {
		r.AddChild(s, child)
	})

	// done child can be replaced.
	require.NoError(t, r.SignalRemoved(s))
	assert.NotPanics(t, func() {
		r.AddChild(s, child)
	})
	assert.Equal(t, 1, r.LiveChildren())
}

func TestDuplicate(t *testing.T) {
	f := newFixture(t)
	target := &mock.Target{}
	destination := audio.NewRecycling(owner(1))
	childDestination := audio.NewSignal(f.id)
	template := recall.NewRecycling(f.reg, "volume", nil,
		recall.AsTemplate(),
		recall.WithFlags(recall.PropagateDone),
		recall.WithAudioChannel(2),
		recall.WithSource(f.source),
		recall.WithDestination(destination),
		recall.WithChildDestination(childDestination),
		recall.WithTarget(target),
		recall.WithScopes(identity.Scopes(identity.Playback)),
		recall.WithChildFactory(f.factory.Build),
	)

	r := template.Duplicate(f.id).(*recall.Recycling)
	assert.False(t, r.HasFlags(recall.Template))
	assert.True(t, r.HasFlags(recall.PropagateDone))
	assert.Equal(t, f.id, r.RecallID())
	assert.Equal(t, "volume", r.Kind())
	assert.Equal(t, 2, r.AudioChannel())
	assert.Equal(t, f.source, r.Source())
	assert.Equal(t, destination, r.Destination())
	assert.Equal(t, childDestination, r.ChildDestination())
	assert.Equal(t, recall.Target(target), r.Target())
	assert.Equal(t, identity.Scopes(identity.Playback), r.Scopes())
	assert.False(t, r.IsConnected())

	target.Add(identity.NewRecallID(f.parent, identity.Playback))
	require.True(t, r.Connect())
	require.NoError(t, f.source.Add(f.signal(t, f.ctx, identity.Playback)))
	assert.Equal(t, 1, f.factory.Built())
	assert.Equal(t, childDestination, f.factory.Specs()[0].Destination)
}

func TestFilterMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := metric.New(registry)
	require.NoError(t, err)
	f := newFixture(t, recall.WithMetrics(m))
	r := f.recycling(
		recall.WithScopes(identity.Scopes(identity.Playback)),
		recall.WithTarget(&mock.Target{}),
	)
	unrelated, err := f.tree.New(identity.NoContext)
	require.NoError(t, err)

	signals := []*audio.Signal{
		f.signal(t, f.ctx, identity.Playback, audio.AsTemplate()),
		audio.NewSignal(nil),
		f.signal(t, unrelated, identity.Playback),
		f.signal(t, f.ctx, identity.Playback),
	}
	for _, s := range signals {
		require.NoError(t, r.SignalAdded(s))
	}
	for reason, expected := range map[string]float64{
		metric.ReasonTemplate:           1,
		metric.ReasonSignalNoRecallID:   1,
		metric.ReasonContextMismatch:    1,
		metric.ReasonDestinationPending: 1,
		metric.ReasonScopeMismatch:      0,
	} {
		assert.Equal(t, expected, gathered(t, registry, "sequencer_recall_signals_filtered_total", "reason", reason), reason)
	}
	assert.Equal(t, float64(0), gathered(t, registry, "sequencer_recall_children_spawned_total", "kind", "volume"))
}

func TestConcurrentRouting(t *testing.T) {
	f := newFixture(t)
	r := f.recycling()
	require.True(t, r.Connect())

	signals := make([]*audio.Signal, 16)
	for i := range signals {
		signals[i] = f.signal(t, f.ctx, identity.Playback)
	}

	var g errgroup.Group
	for _, s := range signals {
		s := s
		g.Go(func() error {
			for i := 0; i < 20; i++ {
				if err := f.source.Add(s); err != nil {
					return err
				}
				if _, err := f.source.Remove(s); err != nil {
					return err
				}
			}
			return f.source.Add(s)
		})
	}
	g.Go(func() error {
		for i := 0; i < 20; i++ {
			f.reg.Collect()
		}
		return nil
	})
	require.NoError(t, g.Wait())
	f.reg.Collect()

	assert.Equal(t, len(signals), r.LiveChildren())
	assert.Len(t, r.Children(), len(signals))
	assert.Len(t, r.ChildSource(), len(signals))
	for _, s := range signals {
		_, ok := r.Child(s)
		assert.True(t, ok)
	}
}

func TestNoFactory(t *testing.T) {
	f := newFixture(t)
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	r := recall.NewRecycling(f.reg, "volume", f.id, recall.WithLogger(logger))

	require.NoError(t, r.SignalAdded(f.signal(t, f.ctx, identity.Playback)))
	assert.Equal(t, 0, r.LiveChildren())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "no child factory")
}
