package sequencer_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dudk/sequencer"
	"github.com/dudk/sequencer/audio"
	"github.com/dudk/sequencer/config"
	"github.com/dudk/sequencer/identity"
	"github.com/dudk/sequencer/metric"
	"github.com/dudk/sequencer/recall"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type engineFixture struct {
	engine *sequencer.Engine
	ctx    identity.Context
	id     *identity.RecallID
	source *audio.Recycling
	recall *recall.Recycling
}

func newEngine(t *testing.T, options ...sequencer.Option) *engineFixture {
	t.Helper()
	e, err := sequencer.New(options...)
	require.NoError(t, err)
	ctx, err := e.NewContext(identity.NoContext)
	require.NoError(t, err)
	id := identity.NewRecallID(ctx, identity.Playback)
	source := audio.NewRecycling(nil)
	r := e.NewRecycling("volume", id,
		recall.WithSource(source),
		recall.WithChildFactory(recall.AudioSignalFactory(recall.Gain(1))),
	)
	require.True(t, r.Connect())
	return &engineFixture{
		engine: e,
		ctx:    ctx,
		id:     id,
		source: source,
		recall: r,
	}
}

func TestStartClose(t *testing.T) {
	f := newEngine(t)
	assert.ErrorIs(t, f.engine.Close(), sequencer.ErrInvalidState)
	require.NoError(t, f.engine.Start(context.Background()))
	assert.ErrorIs(t, f.engine.Start(context.Background()), sequencer.ErrInvalidState)
	require.NoError(t, f.engine.Close())
	// engine can be restarted.
	require.NoError(t, f.engine.Start(context.Background()))
	require.NoError(t, f.engine.Close())
}

func TestCollectOnNotify(t *testing.T) {
	f := newEngine(t)
	require.NoError(t, f.engine.Start(context.Background()))
	defer f.engine.Close()

	s := f.engine.NewSignal(f.id)
	require.NoError(t, f.source.Add(s))
	require.Equal(t, 1, f.recall.LiveChildren())
	child, ok := f.recall.Child(s)
	require.True(t, ok)

	_, err := f.source.Remove(s)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return !f.engine.Registry().Contains(child)
	}, time.Second, time.Millisecond)
	assert.Empty(t, f.recall.Children())
}

func TestCollectOnInterval(t *testing.T) {
	settings := config.Default()
	settings.Engine.Mode = config.ModePerformance
	settings.Engine.CollectInterval = time.Millisecond
	f := newEngine(t, sequencer.WithSettings(settings))
	require.NoError(t, f.engine.Start(context.Background()))

	s := f.engine.NewSignal(f.id)
	require.NoError(t, f.source.Add(s))
	_, err := f.source.Remove(s)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return f.engine.Registry().Pending() == 0
	}, time.Second, time.Millisecond)
	require.NoError(t, f.engine.Close())
}

func TestCollectOnClose(t *testing.T) {
	settings := config.Default()
	settings.Engine.Mode = config.ModePerformance
	settings.Engine.CollectInterval = time.Hour
	f := newEngine(t, sequencer.WithSettings(settings))
	require.NoError(t, f.engine.Start(context.Background()))

	f.recall.Done()
	require.Equal(t, 1, f.engine.Registry().Pending())
	require.NoError(t, f.engine.Close())
	assert.Equal(t, 0, f.engine.Registry().Pending())
	assert.False(t, f.recall.IsConnected())
}

func TestInvalidSettings(t *testing.T) {
	settings := config.Default()
	settings.Engine.Mode = "turbo"
	_, err := sequencer.New(sequencer.WithSettings(settings))
	assert.ErrorIs(t, err, config.ErrInvalidSettings)
}

func TestNewSignal(t *testing.T) {
	settings := config.Default()
	settings.Soundcard.SampleRate = 48000
	settings.Soundcard.BufferSize = 128
	f := newEngine(t, sequencer.WithSettings(settings))

	s := f.engine.NewSignal(f.id, audio.WithLength(2))
	assert.Equal(t, 48000, s.Format().SampleRate)
	assert.Equal(t, 128, s.BufferSize())
	assert.Len(t, s.Buffer(1).Data, 128)
	// explicit format wins.
	s = f.engine.NewSignal(nil, audio.WithFormat(22050, 64))
	assert.Equal(t, 64, s.BufferSize())
}

func TestReleaseContext(t *testing.T) {
	f := newEngine(t)
	c := f.engine.Container()
	require.NoError(t, c.AddTemplate(f.engine.NewRecycling("pan", nil,
		recall.AsTemplate(),
		recall.WithSource(f.source),
		recall.WithChildFactory(recall.AudioSignalFactory(recall.Gain(1))),
	)))
	instances := c.Instantiate(f.id)
	require.Len(t, instances, 1)

	require.NoError(t, f.source.Add(f.engine.NewSignal(f.id)))
	assert.Equal(t, 1, instances[0].(*recall.Recycling).LiveChildren())

	require.NoError(t, f.engine.ReleaseContext(f.ctx))
	assert.False(t, f.engine.Tree().Alive(f.ctx))
	assert.True(t, instances[0].Base().IsDone())
	assert.Equal(t, 0, c.Instances())
	assert.ErrorIs(t, f.engine.ReleaseContext(f.ctx), identity.ErrStaleContext)
}

func TestEngineMetrics(t *testing.T) {
	m, err := metric.New(prometheus.NewRegistry())
	require.NoError(t, err)
	f := newEngine(t, sequencer.WithMetrics(m))
	assert.Equal(t, m, f.engine.Metrics())

	require.NoError(t, f.source.Add(f.engine.NewSignal(f.id)))
	require.NoError(t, f.source.Add(f.engine.NewSignal(nil)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Meter("volume").Live()))
}
