package dictation

import (
	"github.com/MrWong99/sflow/pkg/fault"
	"github.com/MrWong99/sflow/pkg/types"
)

// State is the pipeline's position in the dictation cycle.
type State int

const (
	Idle State = iota
	Recording
	Transcribing
	Correcting
	Done
	Cancelled
	Failed
)

var stateNames = [...]string{
	Idle:         "idle",
	Recording:    "recording",
	Transcribing: "transcribing",
	Correcting:   "correcting",
	Done:         "done",
	Cancelled:    "cancelled",
	Failed:       "failed",
}

// String returns the lower-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s ends an utterance.
func (s State) Terminal() bool {
	return s == Done || s == Cancelled || s == Failed
}

// Outcome reports how one utterance ended. Exactly one Outcome is emitted per
// utterance.
type Outcome struct {
	// Seq is the utterance sequence number, or zero when the failure happened
	// before any audio was finalized.
	Seq uint64

	// Gen is the pipeline generation the utterance was dispatched under.
	Gen uint64

	// Mode is the mode latched when capture started.
	Mode types.Mode

	// State is Done, Cancelled or Failed.
	State State

	// Kind is the failure reason for Failed, or [fault.CorrectionFailed] on a
	// Done outcome whose text is the uncorrected transcript.
	Kind fault.Kind

	// Text is what was handed to the paster. Empty when nothing was pasted.
	Text string

	// Err is the classified error behind Kind, or the paste error.
	Err error

	// Usage is the quota consumed by this utterance.
	Usage types.Usage
}

// Warning reports whether the utterance completed in degraded form.
func (o Outcome) Warning() bool {
	return o.State == Done && o.Kind != ""
}
