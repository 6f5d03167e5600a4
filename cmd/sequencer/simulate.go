package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dudk/sequencer"
	"github.com/dudk/sequencer/audio"
	"github.com/dudk/sequencer/channel"
	"github.com/dudk/sequencer/identity"
	"github.com/dudk/sequencer/metric"
	"github.com/dudk/sequencer/mutable"
	"github.com/dudk/sequencer/recall"
)

type simulateOptions struct {
	cycles     int
	length     int
	recyclings int
	gain       float64
	dump       bool
}

func newSimulateCommand(a *app) *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Feed signals through a channel run and print recall metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(cmd.Context(), a, opts, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.cycles, "cycles", 64, "number of production cycles")
	flags.IntVar(&opts.length, "length", 4, "number of buffers per signal")
	flags.IntVar(&opts.recyclings, "recyclings", 2, "number of recyclings in source channel")
	flags.Float64Var(&opts.gain, "gain", 1, "initial gain")
	flags.BoolVar(&opts.dump, "dump", false, "print recall tree after the run")
	return cmd
}

// gain is changed by control goroutine through mutations and used by the
// producer.
type gain struct {
	mutable.Context
	value float64
}

func (g *gain) Process(_ int, buf *goaudio.FloatBuffer) error {
	for i := range buf.Data {
		buf.Data[i] *= g.value
	}
	return nil
}

func (g *gain) set(v float64) mutable.Mutation {
	return g.Mutate(func() error {
		g.value = v
		return nil
	})
}

// pending is a signal fed to the source channel.
type pending struct {
	signal    *audio.Signal
	recycling *audio.Recycling
	cycle     int
}

func simulate(ctx context.Context, a *app, opts simulateOptions, out io.Writer) error {
	if opts.cycles <= 0 || opts.length <= 0 || opts.recyclings <= 0 {
		return errors.New("cycles, length and recyclings must be positive")
	}
	registry := prometheus.NewRegistry()
	m, err := metric.New(registry)
	if err != nil {
		return err
	}
	e, err := sequencer.New(
		sequencer.WithSettings(a.settings),
		sequencer.WithLogger(a.logger),
		sequencer.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		return err
	}

	parent, err := e.NewContext(identity.NoContext)
	if err != nil {
		return err
	}
	child, err := e.NewContext(parent)
	if err != nil {
		return err
	}
	id := identity.NewRecallID(child, identity.Playback)

	source := channel.New(0, 0, 0)
	for i := 0; i < opts.recyclings; i++ {
		source.AppendRecycling()
	}
	destination := channel.New(1, 0, 0)
	destination.AppendRecycling()

	kernel := &gain{Context: mutable.Mutable(), value: opts.gain}
	template := e.NewRecycling("volume", nil,
		recall.AsTemplate(),
		recall.WithChildFactory(recall.AudioSignalFactory(kernel)),
	)
	if err := e.Container().AddTemplate(recall.NewChannelRun(e.Registry(), "volume-channel-run", nil, source, destination, template, recall.Template)); err != nil {
		return err
	}
	instances := e.Container().Instantiate(id)
	run := instances[0].(*recall.ChannelRun)
	output := e.NewSignal(id)
	run.SetChildDestination(output)

	// destination becomes ready when control goroutine says so. Signals
	// fed before are filtered.
	ready := mutable.Mutable()
	d := mutable.NewDestination()
	p := mutable.NewPusher()
	p.AddDestination(kernel.Context, d)
	p.AddDestination(ready, d)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		var fed []pending
		for cycle := 0; cycle < opts.cycles; cycle++ {
			if err := gctx.Err(); err != nil {
				return err
			}
			if ms := d.Receive(); ms != nil {
				if err := ms.ApplyTo(ready); err != nil {
					return err
				}
				if err := ms.ApplyTo(kernel.Context); err != nil {
					return err
				}
			}
			r := source.Recyclings()[cycle%opts.recyclings]
			s := e.NewSignal(id, audio.WithLength(opts.length))
			tone(s, cycle)
			if err := r.Add(s); err != nil {
				return err
			}
			fed = append(fed, pending{signal: s, recycling: r, cycle: cycle})

			if _, err := run.Run(); err != nil {
				return err
			}
			for len(fed) > 0 && cycle-fed[0].cycle >= opts.length {
				if _, err := fed[0].recycling.Remove(fed[0].signal); err != nil {
					return err
				}
				fed = fed[1:]
			}
		}
		for _, f := range fed {
			if _, err := f.recycling.Remove(f.signal); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		if err := p.Put(ready.Mutate(func() error {
			destination.AddRecallID(identity.NewRecallID(parent, identity.Playback))
			return nil
		})); err != nil {
			return err
		}
		for i := 0; ; i++ {
			if err := p.Push(gctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			if err := p.Put(kernel.set(opts.gain / float64(i%4+1))); err != nil {
				return err
			}
		}
	})
	err = g.Wait()
	cancel()

	if opts.dump {
		fmt.Fprintln(out, recall.Dump(run))
	}
	if n := e.Container().Teardown(child); n > 0 {
		a.logger.Debug("teardown: ", n)
	}
	if closeErr := e.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "output buffers: %d\n", output.Length())
	return printMetrics(registry, out)
}

// tone fills signal with a sine wave which differs per cycle.
func tone(s *audio.Signal, cycle int) {
	rate := float64(s.Format().SampleRate)
	frequency := 220 * float64(cycle%8+1)
	frame := 0
	for i := 0; i < s.Length(); i++ {
		b := s.Buffer(i)
		for j := range b.Data {
			b.Data[j] = 0.1 * math.Sin(2*math.Pi*frequency*float64(frame)/rate)
			frame++
		}
	}
}

func printMetrics(g prometheus.Gatherer, out io.Writer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			}
			fmt.Fprintf(out, "%s{%s} %v\n", f.GetName(), strings.Join(labels, ","), value)
		}
	}
	return nil
}
