package audio

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Utterance is one finalized recording stored as a WAV file. It is immutable
// once created. Call [Utterance.Release] when the consumer is done with it.
type Utterance struct {
	seq      uint64
	path     string
	format   Format
	frames   int
	duration time.Duration

	// owned marks temp files created by Capture; Release deletes them.
	owned       bool
	releaseOnce sync.Once
	releaseErr  error
}

// NewUtterance describes an existing WAV file. The file is not deleted by
// Release. Used for one-shot transcription of user-provided recordings.
func NewUtterance(seq uint64, path string, f Format, frames int) *Utterance {
	return &Utterance{
		seq:      seq,
		path:     path,
		format:   f,
		frames:   frames,
		duration: framesToDuration(frames, f.SampleRate),
	}
}

// Seq is the capture sequence number, strictly increasing per [Capture].
func (u *Utterance) Seq() uint64 { return u.seq }

// Path is the location of the WAV file.
func (u *Utterance) Path() string { return u.path }

// Format is the PCM layout of the recording.
func (u *Utterance) Format() Format { return u.format }

// Frames is the number of sample frames recorded.
func (u *Utterance) Frames() int { return u.frames }

// Duration is Frames / SampleRate.
func (u *Utterance) Duration() time.Duration { return u.duration }

// Seconds is Duration in fractional seconds.
func (u *Utterance) Seconds() float64 { return u.duration.Seconds() }

// Open opens the WAV file for reading. Each call returns a fresh handle.
func (u *Utterance) Open() (*os.File, error) {
	f, err := os.Open(u.path)
	if err != nil {
		return nil, fmt.Errorf("audio: open utterance %d: %w", u.seq, err)
	}
	return f, nil
}

// Release deletes the temp file backing u. It is safe to call more than once
// and from multiple goroutines; only the first call has an effect.
func (u *Utterance) Release() error {
	if u == nil {
		return nil
	}
	u.releaseOnce.Do(func() {
		if !u.owned {
			return
		}
		if err := os.Remove(u.path); err != nil && !os.IsNotExist(err) {
			u.releaseErr = fmt.Errorf("audio: release utterance %d: %w", u.seq, err)
		}
	})
	return u.releaseErr
}

func framesToDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}
