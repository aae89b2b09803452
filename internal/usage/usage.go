// Package usage keeps running totals of billable API usage in a small JSON
// file and turns them into a cost estimate.
package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/sflow/pkg/types"
)

// FileName is the default name of the totals file.
const FileName = "stats.json"

// Totals are the accumulated usage since LastReset.
type Totals struct {
	AudioSeconds     float64   `json:"total_seconds"`
	PromptTokens     int       `json:"total_prompt_tokens"`
	CompletionTokens int       `json:"total_completion_tokens"`
	Utterances       int       `json:"utterances"`
	LastReset        time.Time `json:"last_reset"`
}

// legacyResetLayout is the naive local timestamp written by earlier
// stats.json producers.
const legacyResetLayout = "2006-01-02 15:04:05"

// UnmarshalJSON accepts last_reset as RFC 3339 or as a naive local
// "2006-01-02 15:04:05" timestamp.
func (t *Totals) UnmarshalJSON(data []byte) error {
	type plain Totals
	var aux struct {
		plain
		LastReset string `json:"last_reset"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = Totals(aux.plain)
	if aux.LastReset == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, aux.LastReset)
	if err != nil {
		if ts, err = time.ParseInLocation(legacyResetLayout, aux.LastReset, time.Local); err != nil {
			return fmt.Errorf("usage: last_reset: %w", err)
		}
	}
	t.LastReset = ts
	return nil
}

// Pricing holds USD prices used for the cost estimate.
type Pricing struct {
	TranscriptionPerMinute float64 `yaml:"transcription_per_minute"`
	InputPerMillion        float64 `yaml:"input_per_million"`
	OutputPerMillion       float64 `yaml:"output_per_million"`
}

// DefaultPricing returns list prices for whisper-1 and gpt-4o-mini.
func DefaultPricing() Pricing {
	return Pricing{
		TranscriptionPerMinute: 0.006,
		InputPerMillion:        0.15,
		OutputPerMillion:       0.60,
	}
}

// Costs is a cost estimate in USD.
type Costs struct {
	Transcription float64
	Input         float64
	Output        float64
}

// Total is the sum of all cost components.
func (c Costs) Total() float64 {
	return c.Transcription + c.Input + c.Output
}

// Costs prices t with p.
func (t Totals) Costs(p Pricing) Costs {
	return Costs{
		Transcription: t.AudioSeconds / 60 * p.TranscriptionPerMinute,
		Input:         float64(t.PromptTokens) / 1e6 * p.InputPerMillion,
		Output:        float64(t.CompletionTokens) / 1e6 * p.OutputPerMillion,
	}
}

// Tracker accumulates usage and persists it after every change.
// Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	path   string
	totals Totals
	now    func() time.Time
}

// DefaultPath returns <user config dir>/sflow/stats.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("usage: locate config dir: %w", err)
	}
	return filepath.Join(dir, "sflow", FileName), nil
}

// Open loads the totals stored at path. A missing file starts fresh totals;
// an unreadable or corrupt file is logged and replaced on the next write.
func Open(path string) (*Tracker, error) {
	if path == "" {
		return nil, errors.New("usage: path must not be empty")
	}
	t := &Tracker{path: path, now: time.Now}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		t.totals.LastReset = t.now().UTC()
		return t, nil
	case err != nil:
		return nil, fmt.Errorf("usage: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &t.totals); err != nil {
		slog.Warn("usage: totals file is corrupt, starting fresh", "path", path, "err", err)
		t.totals = Totals{LastReset: t.now().UTC()}
	}
	if t.totals.LastReset.IsZero() {
		t.totals.LastReset = t.now().UTC()
	}
	return t, nil
}

// Path returns the totals file location.
func (t *Tracker) Path() string { return t.path }

// Record adds u to the totals and persists them. Zero usage is ignored.
// Each call counts as one utterance when it carries audio.
func (t *Tracker) Record(u types.Usage) error {
	if u.IsZero() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals.AudioSeconds += u.AudioSeconds
	t.totals.PromptTokens += u.PromptTokens
	t.totals.CompletionTokens += u.CompletionTokens
	if u.AudioSeconds > 0 {
		t.totals.Utterances++
	}
	return t.saveLocked()
}

// Snapshot returns a copy of the current totals.
func (t *Tracker) Snapshot() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}

// Reset zeroes the totals, stamps LastReset and persists.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals = Totals{LastReset: t.now().UTC()}
	return t.saveLocked()
}

// saveLocked writes the totals atomically via a temp file and rename.
func (t *Tracker) saveLocked() error {
	data, err := json.MarshalIndent(t.totals, "", "  ")
	if err != nil {
		return fmt.Errorf("usage: marshal: %w", err)
	}
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("usage: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".stats-*.json")
	if err != nil {
		return fmt.Errorf("usage: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("usage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("usage: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("usage: replace %s: %w", t.path, err)
	}
	return nil
}
