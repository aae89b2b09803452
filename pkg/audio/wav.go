package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// TempPrefix starts the name of every temp file written by [Capture].
const TempPrefix = "sflow-"

const bitDepth = 16

// ErrNotWAV is returned by [OpenUtterance] for files that are not PCM WAV.
var ErrNotWAV = errors.New("audio: not a PCM WAV file")

// writeWAV encodes interleaved samples as a 16-bit PCM WAV file in dir and
// returns its path.
func writeWAV(dir string, samples []int16, f Format) (string, error) {
	path := filepath.Join(dir, TempPrefix+uuid.NewString()+".wav")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("audio: create wav: %w", err)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	enc := wav.NewEncoder(out, f.SampleRate, bitDepth, f.Channels, 1)
	if err := enc.Write(buf); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("audio: finalize wav: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("audio: close wav: %w", err)
	}
	return path, nil
}

// OpenUtterance inspects a WAV file on disk and wraps it in an [Utterance]
// with sequence number 0. The file is never deleted by Release.
func OpenUtterance(path string) (*Utterance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %q", ErrNotWAV, path)
	}
	dur, err := dec.Duration()
	if err != nil {
		return nil, fmt.Errorf("audio: read duration of %q: %w", path, err)
	}

	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	frames := int(dur.Seconds()*float64(format.SampleRate) + 0.5)
	u := NewUtterance(0, path, format, frames)
	u.duration = dur
	return u, nil
}

// SweepTemp removes leftover capture files older than maxAge from dir. It
// returns the number of files removed. Files still in use by a running
// process are younger than any sensible maxAge.
func SweepTemp(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("audio: sweep %q: %w", dir, err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, TempPrefix) || !strings.HasSuffix(name, ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
