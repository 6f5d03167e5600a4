// Package wav exports audio signals to wav files and reads them back.
package wav

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/dudk/sequencer/audio"
	"github.com/dudk/sequencer/identity"
)

// PCM wav audio format.
const formatPCM = 1

var (
	// ErrNumChannels is used when number of signals doesn't match number
	// of wav channels.
	ErrNumChannels = errors.New("number of signals doesn't match number of channels")
	// ErrInvalidFile is used when file isn't a valid wav.
	ErrInvalidFile = errors.New("wav is not valid")
)

type (
	// Sink saves mono signals to a wav file, one signal per channel.
	Sink struct {
		file        *os.File
		encoder     *wav.Encoder
		numChannels int
		ib          *goaudio.IntBuffer
	}
)

// NewSink creates new wav sink.
func NewSink(path string, sampleRate, numChannels, bitDepth int) (*Sink, error) {
	if numChannels <= 0 {
		return nil, ErrNumChannels
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Sink{
		file:        f,
		encoder:     wav.NewEncoder(f, sampleRate, bitDepth, numChannels, formatPCM),
		numChannels: numChannels,
		ib: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: numChannels,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// Write interleaves signal streams and encodes them. Shorter streams are
// padded with silence.
func (s *Sink) Write(signals ...*audio.Signal) error {
	if len(signals) != s.numChannels {
		return fmt.Errorf("%w: %d signals for %d channels", ErrNumChannels, len(signals), s.numChannels)
	}
	length := 0
	for _, sig := range signals {
		if l := sig.Length(); l > length {
			length = l
		}
	}
	for i := 0; i < length; i++ {
		buffers := make([]*goaudio.FloatBuffer, len(signals))
		for j, sig := range signals {
			buffers[j] = sig.Buffer(i)
		}
		AsBuffer(s.ib, buffers)
		if err := s.encoder.Write(s.ib); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes wav headers and closes the file.
func (s *Sink) Close() error {
	if err := s.encoder.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// Read decodes wav file at path into mono signals bound to recall id, one
// per channel.
func Read(path string, id *identity.RecallID, bufferSize int) ([]*audio.Signal, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidFile
	}
	format := decoder.Format()
	signals := make([]*audio.Signal, format.NumChannels)
	for i := range signals {
		signals[i] = audio.NewSignal(id, audio.WithFormat(format.SampleRate, bufferSize))
	}
	ib := &goaudio.IntBuffer{
		Format:         format,
		Data:           make([]int, bufferSize*format.NumChannels),
		SourceBitDepth: int(decoder.BitDepth),
	}
	for {
		n, err := decoder.PCMBuffer(ib)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return signals, nil
		}
		buffers := make([]*goaudio.FloatBuffer, len(signals))
		for i, s := range signals {
			buffers[i] = s.AddBuffer()
		}
		AsSamples(ib.Data[:n], int(decoder.BitDepth), buffers)
	}
}

// AsBuffer interleaves mono buffers into int buffer. Nil buffers are
// silent.
func AsBuffer(ib *goaudio.IntBuffer, buffers []*goaudio.FloatBuffer) {
	frames := 0
	for _, b := range buffers {
		if b != nil && len(b.Data) > frames {
			frames = len(b.Data)
		}
	}
	max := maxValue(ib.SourceBitDepth)
	ib.Data = ib.Data[:0]
	for i := 0; i < frames; i++ {
		for _, b := range buffers {
			v := 0.0
			if b != nil && i < len(b.Data) {
				v = clamp(b.Data[i])
			}
			ib.Data = append(ib.Data, int(v*max))
		}
	}
}

// AsSamples deinterleaves int samples into mono buffers.
func AsSamples(data []int, bitDepth int, buffers []*goaudio.FloatBuffer) {
	numChannels := len(buffers)
	max := maxValue(bitDepth) + 1
	for i, v := range data {
		b := buffers[i%numChannels]
		if frame := i / numChannels; frame < len(b.Data) {
			b.Data[frame] = float64(v) / max
		}
	}
}

func maxValue(bitDepth int) float64 {
	switch bitDepth {
	case 8:
		return 0x7f
	case 24:
		return 0x7fffff
	case 32:
		return 0x7fffffff
	default:
		return 0x7fff
	}
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
