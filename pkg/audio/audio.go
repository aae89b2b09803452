// Package audio captures microphone input and turns it into finalized
// utterances ready for upload.
//
// The two device abstractions are:
//
//   - [Device] opens an input [Stream] that delivers fixed-size chunks of
//     signed 16-bit PCM to a callback on the device's own goroutine.
//   - [Stream] is started once, stopped once and closed once.
//
// [Capture] owns one device and enforces a single active recording. Stopping a
// recording drains the buffered chunks into a WAV temp file and returns an
// [Utterance]. Device implementations live in sub-packages (audio/portaudio
// for real hardware, audio/mock for tests).
package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRecording is returned by [Capture.Start] while a recording is active.
	ErrAlreadyRecording = errors.New("audio: already recording")

	// ErrDevice wraps every failure to open or start an input stream.
	ErrDevice = errors.New("audio: input device error")
)

// Format describes the PCM layout of a capture session.
type Format struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int

	// FramesPerBuffer is the number of frames delivered per callback.
	FramesPerBuffer int
}

// DefaultFormat is 44.1 kHz mono delivered in 1024-frame chunks.
func DefaultFormat() Format {
	return Format{SampleRate: 44100, Channels: 1, FramesPerBuffer: 1024}
}

// Validate reports whether f describes a usable stream.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be > 0", f.SampleRate))
	}
	if f.Channels < 1 || f.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels %d must be 1 or 2", f.Channels))
	}
	if f.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("frames_per_buffer %d must be > 0", f.FramesPerBuffer))
	}
	return errors.Join(errs...)
}

// Device opens input streams.
//
// onChunk is invoked on the device's callback goroutine with interleaved
// samples. The slice may be reused by the device after onChunk returns, so
// implementations of onChunk must copy what they keep.
type Device interface {
	Open(f Format, onChunk func(samples []int16)) (Stream, error)
}

// Stream is an open input stream.
type Stream interface {
	// Start begins chunk delivery.
	Start() error

	// Stop halts chunk delivery. No callback runs after Stop returns.
	Stop() error

	// Close releases the underlying device.
	Close() error
}
