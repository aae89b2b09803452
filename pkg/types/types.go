// Package types defines the shared value types used across S-Flow packages.
//
// These types are passed between the capture, prompt, remote and dictation
// layers. Each package keeps its own domain types; only data structures that
// cross package boundaries live here to avoid circular imports.
package types

// Mode selects what the remote completion step does with a transcript.
type Mode string

const (
	// ModeCorrection fixes recognition errors and punctuation.
	ModeCorrection Mode = "correction"

	// ModeTranslation translates RU<->EN and returns only the translation.
	ModeTranslation Mode = "translation"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeCorrection || m == ModeTranslation
}

// Turn is one accepted entry of the conversation history. Only the accepted
// output of a correction or translation call is ever recorded, so IsBot is
// true for every turn appended by the dictation pipeline.
type Turn struct {
	// Text is the corrected or translated text.
	Text string

	// IsBot marks text produced by the completion model.
	IsBot bool
}

// Usage holds the billable quantities consumed by one remote operation.
type Usage struct {
	// AudioSeconds is the duration of audio sent for transcription.
	AudioSeconds float64

	// PromptTokens is the number of input tokens billed by the completion call.
	PromptTokens int

	// CompletionTokens is the number of generated tokens.
	CompletionTokens int
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		AudioSeconds:     u.AudioSeconds + o.AudioSeconds,
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

// IsZero reports whether no usage was recorded.
func (u Usage) IsZero() bool {
	return u == Usage{}
}
