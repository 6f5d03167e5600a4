// Package audio provides audio signals and recyclings which hold them.
package audio

import (
	"fmt"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/rs/xid"

	"github.com/dudk/sequencer/identity"
)

// Default signal format.
const (
	DefaultSampleRate = 44100
	DefaultBufferSize = 512
)

// Flags of audio signal.
type Flags uint8

const (
	// Template signal is a blueprint for runtime signals.
	Template Flags = 1 << iota
	// RTTemplate signal is a blueprint for signals created on the audio
	// path.
	RTTemplate
)

type (
	// Signal is a chain of sample buffers for one audio channel. It's
	// either a template or a live runtime stream.
	Signal struct {
		mu         sync.Mutex
		uid        string
		flags      Flags
		recallID   *identity.RecallID
		recycling  *Recycling
		format     goaudio.Format
		bufferSize int
		stream     []*goaudio.FloatBuffer
		delay      float64
		attack     int
		lastFrame  int
	}

	// SignalOption configures signal at construction.
	SignalOption func(*Signal)
)

// NewSignal creates a mono audio signal bound to recall id. Template
// signals usually have nil id.
func NewSignal(id *identity.RecallID, options ...SignalOption) *Signal {
	s := &Signal{
		uid:      xid.New().String(),
		recallID: id,
		format: goaudio.Format{
			NumChannels: 1,
			SampleRate:  DefaultSampleRate,
		},
		bufferSize: DefaultBufferSize,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// AsTemplate flags signal as template.
func AsTemplate() SignalOption {
	return func(s *Signal) {
		s.flags |= Template
	}
}

// AsRTTemplate flags signal as real-time template.
func AsRTTemplate() SignalOption {
	return func(s *Signal) {
		s.flags |= RTTemplate
	}
}

// WithFormat sets sample rate and buffer size.
func WithFormat(sampleRate, bufferSize int) SignalOption {
	return func(s *Signal) {
		s.format.SampleRate = sampleRate
		s.bufferSize = bufferSize
	}
}

// WithLength allocates stream of n buffers.
func WithLength(n int) SignalOption {
	return func(s *Signal) {
		s.resize(n)
	}
}

// UID returns unique id of the signal.
func (s *Signal) UID() string {
	return s.uid
}

func (s *Signal) String() string {
	return fmt.Sprintf("signal(%s)", s.uid)
}

// IsTemplate returns true for template signals. Flags are fixed at
// construction.
func (s *Signal) IsTemplate() bool {
	return s.flags&Template != 0
}

// IsRTTemplate returns true for real-time template signals.
func (s *Signal) IsRTTemplate() bool {
	return s.flags&RTTemplate != 0
}

// RecallID returns recall id the signal belongs to.
func (s *Signal) RecallID() *identity.RecallID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recallID
}

// SetRecallID binds the signal to recall id.
func (s *Signal) SetRecallID(id *identity.RecallID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recallID = id
}

// Recycling returns recycling which holds the signal.
func (s *Signal) Recycling() *Recycling {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recycling
}

func (s *Signal) setRecycling(r *Recycling) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recycling = r
}

// Format returns a copy of the signal format.
func (s *Signal) Format() goaudio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// BufferSize returns number of frames per buffer.
func (s *Signal) BufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferSize
}

// Length returns number of buffers in the stream.
func (s *Signal) Length() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stream)
}

// Buffer returns the buffer at position i or nil if it's out of stream.
func (s *Signal) Buffer(i int) *goaudio.FloatBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.stream) {
		return nil
	}
	return s.stream[i]
}

// AddBuffer appends an empty buffer to the stream and returns it.
func (s *Signal) AddBuffer() *goaudio.FloatBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.newBuffer()
	s.stream = append(s.stream, b)
	return b
}

// Resize grows or truncates the stream to n buffers. New buffers are
// silent.
func (s *Signal) Resize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resize(n)
}

// Delay returns delay and attack of the signal.
func (s *Signal) Delay() (float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay, s.attack
}

// LastFrame returns the frame where signal ends within its last buffer.
func (s *Signal) LastFrame() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}

// DuplicateStream replaces the stream with a copy of template stream and
// adopts its format.
func (s *Signal) DuplicateStream(template *Signal) {
	if template == nil || template == s {
		return
	}
	template.mu.Lock()
	format, bufferSize := template.format, template.bufferSize
	stream := make([]*goaudio.FloatBuffer, len(template.stream))
	for i, b := range template.stream {
		stream[i] = copyBuffer(b)
	}
	template.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = format
	s.bufferSize = bufferSize
	s.stream = stream
	for _, b := range s.stream {
		b.Format = &s.format
	}
}

// resize must be called with lock held.
func (s *Signal) resize(n int) {
	if n < 0 {
		n = 0
	}
	if n <= len(s.stream) {
		for i := n; i < len(s.stream); i++ {
			s.stream[i] = nil
		}
		s.stream = s.stream[:n]
		return
	}
	for len(s.stream) < n {
		s.stream = append(s.stream, s.newBuffer())
	}
}

func (s *Signal) newBuffer() *goaudio.FloatBuffer {
	return &goaudio.FloatBuffer{
		Format: &s.format,
		Data:   make([]float64, s.bufferSize*s.format.NumChannels),
	}
}

func copyBuffer(b *goaudio.FloatBuffer) *goaudio.FloatBuffer {
	data := make([]float64, len(b.Data))
	copy(data, b.Data)
	return &goaudio.FloatBuffer{
		Format: b.Format,
		Data:   data,
	}
}

// FindTemplate returns the first template signal.
func FindTemplate(signals []*Signal) *Signal {
	for _, s := range signals {
		if s.IsTemplate() {
			return s
		}
	}
	return nil
}

// FindByRecallID returns the first signal bound to recall id.
func FindByRecallID(signals []*Signal, id *identity.RecallID) *Signal {
	if id == nil {
		return nil
	}
	for _, s := range signals {
		if s.RecallID() == id {
			return s
		}
	}
	return nil
}
