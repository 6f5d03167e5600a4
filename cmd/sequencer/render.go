package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dudk/sequencer"
	"github.com/dudk/sequencer/audio"
	"github.com/dudk/sequencer/identity"
	"github.com/dudk/sequencer/recall"
	"github.com/dudk/sequencer/wav"
)

const bitDepth = 16

type renderOptions struct {
	input  string
	output string
	gain   float64
	length int
}

func newRenderCommand(a *app) *cobra.Command {
	var opts renderOptions
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render signals through volume recalls into a wav file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(a, opts, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.input, "input", "", "wav file to render, a tone is generated if empty")
	flags.StringVarP(&opts.output, "output", "o", "", "output wav file")
	flags.Float64Var(&opts.gain, "gain", 1, "gain of volume recall")
	flags.IntVar(&opts.length, "length", 100, "number of buffers of generated tone")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func render(a *app, opts renderOptions, out io.Writer) error {
	e, err := sequencer.New(
		sequencer.WithSettings(a.settings),
		sequencer.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	ctx, err := e.NewContext(identity.NoContext)
	if err != nil {
		return err
	}
	id := identity.NewRecallID(ctx, identity.Playback)

	var signals []*audio.Signal
	if opts.input != "" {
		if signals, err = wav.Read(opts.input, id, a.settings.Soundcard.BufferSize); err != nil {
			return err
		}
		if len(signals) == 0 {
			return fmt.Errorf("%s has no channels", opts.input)
		}
	} else {
		if opts.length <= 0 {
			return errors.New("length must be positive")
		}
		s := e.NewSignal(id, audio.WithLength(opts.length))
		tone(s, 1)
		signals = []*audio.Signal{s}
	}

	outputs := make([]*audio.Signal, len(signals))
	recyclings := make([]*recall.Recycling, len(signals))
	for i, s := range signals {
		format := s.Format()
		outputs[i] = audio.NewSignal(id, audio.WithFormat(format.SampleRate, s.BufferSize()))
		source := audio.NewRecycling(nil)
		recyclings[i] = e.NewRecycling("volume", id,
			recall.WithAudioChannel(i),
			recall.WithSource(source),
			recall.WithChildDestination(outputs[i]),
			recall.WithChildFactory(recall.AudioSignalFactory(recall.Gain(opts.gain))),
		)
		recyclings[i].Connect()
		if err := source.Add(s); err != nil {
			return err
		}
	}
	for _, r := range recyclings {
		for {
			ok, err := r.Run()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
		}
	}

	sink, err := wav.NewSink(opts.output, outputs[0].Format().SampleRate, len(outputs), bitDepth)
	if err != nil {
		return err
	}
	if err := sink.Write(outputs...); err != nil {
		sink.Close()
		return err
	}
	if err := sink.Close(); err != nil {
		return err
	}
	for _, r := range recyclings {
		e.Registry().Cancel(r)
	}
	a.logger.Debug("disposed: ", e.Registry().Collect())
	if err := e.ReleaseContext(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "rendered %d buffers of %d channels to %s\n", outputs[0].Length(), len(outputs), opts.output)
	return nil
}
