// Package mock provides an in-memory [audio.Device] for unit tests.
//
// The mock never spawns goroutines. Tests drive chunk delivery explicitly via
// [Stream.Emit] or [Stream.EmitSilence], which invoke the capture callback on
// the calling goroutine exactly as a real device would on its own.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	c := audio.NewCapture(dev)
//	_ = c.Start()
//	dev.Last().EmitSilence(44100 * 2)
//	u, _ := c.Stop()
package mock

import (
	"sync"

	"github.com/MrWong99/sflow/pkg/audio"
)

// Device is a mock implementation of [audio.Device].
// Set the Err fields before use; inspect Streams and OpenCalls after.
type Device struct {
	mu sync.Mutex

	// OpenErr is returned by Open.
	OpenErr error

	// StartErr, StopErr and CloseErr are copied into every opened stream.
	StartErr error
	StopErr  error
	CloseErr error

	// OpenCalls counts Open invocations.
	OpenCalls int

	// Streams records every stream opened, in order.
	Streams []*Stream
}

var _ audio.Device = (*Device)(nil)

// Open implements [audio.Device].
func (d *Device) Open(f audio.Format, onChunk func([]int16)) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.OpenCalls++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := &Stream{
		format:   f,
		onChunk:  onChunk,
		startErr: d.StartErr,
		stopErr:  d.StopErr,
		closeErr: d.CloseErr,
	}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// Last returns the most recently opened stream or nil.
func (d *Device) Last() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mu       sync.Mutex
	format   audio.Format
	onChunk  func([]int16)
	startErr error
	stopErr  error
	closeErr error

	running bool

	// Call counters.
	StartCalls int
	StopCalls  int
	CloseCalls int
}

var _ audio.Stream = (*Stream)(nil)

// Start implements [audio.Stream].
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.startErr != nil {
		return s.startErr
	}
	s.running = true
	return nil
}

// Stop implements [audio.Stream].
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	s.running = false
	return s.stopErr
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.running = false
	return s.closeErr
}

// Closed reports whether Close has been called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls > 0
}

// Emit delivers samples to the capture callback. Deliveries after Stop or
// Close are dropped, matching real device behaviour.
func (s *Stream) Emit(samples []int16) {
	s.mu.Lock()
	running := s.running
	cb := s.onChunk
	s.mu.Unlock()
	if running && cb != nil {
		cb(samples)
	}
}

// EmitSilence delivers frames of zero samples in FramesPerBuffer-sized
// chunks, rounding up to a whole chunk.
func (s *Stream) EmitSilence(frames int) {
	per := s.format.FramesPerBuffer
	if per <= 0 {
		per = 1024
	}
	ch := s.format.Channels
	if ch <= 0 {
		ch = 1
	}
	buf := make([]int16, per*ch)
	for sent := 0; sent < frames; sent += per {
		s.Emit(buf)
	}
}
