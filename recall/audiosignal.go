package recall

import (
	"sync"

	goaudio "github.com/go-audio/audio"

	"github.com/dudk/sequencer/audio"
)

// AudioSignalKind is the kind of audio signal children.
const AudioSignalKind = "audio-signal"

type (
	// Kernel processes one buffer of audio channel in place.
	Kernel interface {
		Process(channel int, buf *goaudio.FloatBuffer) error
	}

	// KernelFunc allows to use ordinary functions as kernels.
	KernelFunc func(channel int, buf *goaudio.FloatBuffer) error

	// AudioSignal is a child which runs kernel over its source signal and
	// mixes the result into destination.
	AudioSignal struct {
		Recall
		audioChannel int
		source       *audio.Signal
		destination  *audio.Signal
		kernel       Kernel

		// runMu serializes runs.
		runMu    sync.Mutex
		position int
	}
)

// Process calls fn(channel, buf).
func (fn KernelFunc) Process(channel int, buf *goaudio.FloatBuffer) error {
	return fn(channel, buf)
}

// Gain returns kernel which multiplies samples by provided value.
func Gain(value float64) KernelFunc {
	return func(_ int, buf *goaudio.FloatBuffer) error {
		for i := range buf.Data {
			buf.Data[i] *= value
		}
		return nil
	}
}

// AudioSignalFactory returns factory of audio signal children which run
// provided kernel. Nil kernel only mixes.
func AudioSignalFactory(kernel Kernel) ChildFactory {
	return func(spec ChildSpec) (Unit, error) {
		return NewAudioSignal(spec, kernel), nil
	}
}

// NewAudioSignal creates audio signal child and registers it within spec
// registry.
func NewAudioSignal(spec ChildSpec, kernel Kernel) *AudioSignal {
	a := &AudioSignal{
		audioChannel: spec.AudioChannel,
		source:       spec.Source,
		destination:  spec.Destination,
		kernel:       kernel,
	}
	a.init(AudioSignalKind, 0, spec.Scopes, spec.RecallID)
	spec.Registry.register(a)
	return a
}

// Source returns signal the child reads.
func (a *AudioSignal) Source() *audio.Signal {
	return a.source
}

// Destination returns signal the child writes into.
func (a *AudioSignal) Destination() *audio.Signal {
	return a.destination
}

// AudioChannel returns audio channel index.
func (a *AudioSignal) AudioChannel() int {
	return a.audioChannel
}

// Position returns index of the next buffer.
func (a *AudioSignal) Position() int {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.position
}

// Run processes the next buffer of source stream. False is returned when
// child is done. Child marks itself done at the end of stream.
func (a *AudioSignal) Run() (bool, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.IsDone() {
		return false, nil
	}
	a.start()

	buf := a.source.Buffer(a.position)
	if buf == nil {
		a.reg.Done(a)
		return false, nil
	}
	if a.kernel != nil {
		if err := a.kernel.Process(a.audioChannel, buf); err != nil {
			return false, err
		}
	}
	if a.destination != nil {
		if a.destination.Length() <= a.position {
			a.destination.Resize(a.position + 1)
		}
		mix(a.destination.Buffer(a.position), buf)
	}
	a.position++
	return true, nil
}

func mix(dst, src *goaudio.FloatBuffer) {
	n := len(src.Data)
	if len(dst.Data) < n {
		n = len(dst.Data)
	}
	for i := 0; i < n; i++ {
		dst.Data[i] += src.Data[i]
	}
}
