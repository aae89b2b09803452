package audio

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithFormat sets the stream format. The default is [DefaultFormat].
func WithFormat(f Format) CaptureOption {
	return func(c *Capture) {
		c.format = f
	}
}

// WithTempDir sets the directory for finalized WAV files. The default is
// [os.TempDir].
func WithTempDir(dir string) CaptureOption {
	return func(c *Capture) {
		if dir != "" {
			c.dir = dir
		}
	}
}

// Capture records from a single [Device]. Only one recording can be active at
// a time. All methods are safe for concurrent use.
type Capture struct {
	dev    Device
	format Format
	dir    string

	mu        sync.Mutex
	stream    Stream
	recording bool
	started   time.Time
	seq       uint64

	fifo chunkQueue
}

// NewCapture returns a Capture reading from dev.
func NewCapture(dev Device, opts ...CaptureOption) *Capture {
	c := &Capture{
		dev:    dev,
		format: DefaultFormat(),
		dir:    os.TempDir(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Format returns the configured stream format.
func (c *Capture) Format() Format { return c.format }

// Recording reports whether a capture session is active.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Start opens and starts an input stream. It returns [ErrAlreadyRecording]
// when a session is active and an error wrapping [ErrDevice] when the device
// cannot be opened or started; in that case nothing is left open.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording {
		return ErrAlreadyRecording
	}

	c.fifo.reset()
	s, err := c.dev.Open(c.format, c.fifo.push)
	if err != nil {
		return fmt.Errorf("%w: open stream: %w", ErrDevice, err)
	}
	if err := s.Start(); err != nil {
		if cerr := s.Close(); cerr != nil {
			slog.Warn("audio: close after failed start", "err", cerr)
		}
		return fmt.Errorf("%w: start stream: %w", ErrDevice, err)
	}

	c.stream = s
	c.recording = true
	c.started = time.Now()
	slog.Debug("audio: recording started",
		"sample_rate", c.format.SampleRate,
		"channels", c.format.Channels,
	)
	return nil
}

// Stop ends the active session and returns the finalized utterance. It
// returns (nil, nil) when no session is active or when no audio was captured.
// The device is released before the buffer is drained, on every path.
func (c *Capture) Stop() (*Utterance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

// Discard ends the active session and drops whatever was recorded.
func (c *Capture) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := c.stopLocked()
	if err != nil {
		slog.Warn("audio: discard", "err", err)
	}
	if err := u.Release(); err != nil {
		slog.Warn("audio: discard", "err", err)
	}
}

func (c *Capture) stopLocked() (*Utterance, error) {
	if !c.recording {
		return nil, nil
	}
	s := c.stream
	c.stream = nil
	c.recording = false
	elapsed := time.Since(c.started)

	releaseStream(s)

	samples := c.fifo.drain()
	frames := len(samples) / c.format.Channels
	if frames == 0 {
		slog.Warn("audio: no audio captured", "elapsed", elapsed)
		return nil, nil
	}

	path, err := writeWAV(c.dir, samples[:frames*c.format.Channels], c.format)
	if err != nil {
		return nil, err
	}

	c.seq++
	u := &Utterance{
		seq:      c.seq,
		path:     path,
		format:   c.format,
		frames:   frames,
		duration: framesToDuration(frames, c.format.SampleRate),
		owned:    true,
	}
	slog.Debug("audio: recording finalized",
		"seq", u.seq,
		"frames", frames,
		"duration", u.duration,
		"elapsed", elapsed,
	)
	return u, nil
}

// releaseStream stops and closes s, logging failures. It never returns early
// so that Close always runs.
func releaseStream(s Stream) {
	if err := s.Stop(); err != nil {
		slog.Warn("audio: stop stream", "err", err)
	}
	if err := s.Close(); err != nil {
		slog.Warn("audio: close stream", "err", err)
	}
}

// chunkQueue is the FIFO between the device callback and Stop.
type chunkQueue struct {
	mu     sync.Mutex
	chunks [][]int16
	n      int
}

func (q *chunkQueue) push(samples []int16) {
	if len(samples) == 0 {
		return
	}
	chunk := make([]int16, len(samples))
	copy(chunk, samples)

	q.mu.Lock()
	q.chunks = append(q.chunks, chunk)
	q.n += len(chunk)
	q.mu.Unlock()
}

// drain returns every queued sample in arrival order and empties the queue.
func (q *chunkQueue) drain() []int16 {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]int16, 0, q.n)
	for _, c := range q.chunks {
		out = append(out, c...)
	}
	q.chunks = nil
	q.n = 0
	return out
}

func (q *chunkQueue) reset() {
	q.mu.Lock()
	q.chunks = nil
	q.n = 0
	q.mu.Unlock()
}
