// Package stt defines the Provider interface for batch speech-to-text backends.
//
// A provider uploads one finished recording and returns its transcript. There
// is no streaming: audio is fully captured before any request begins.
//
// Implementations must be safe for concurrent use and must not retry on their
// own; retry policy belongs to the caller. Failures should be returned as
// classified [fault.Error] values where the provider can tell the cause
// (credentials, rate limits, service errors), so that the caller's retry
// predicate sees the right kind.
package stt

import (
	"context"
	"io"
)

// Request describes one transcription call.
type Request struct {
	// Audio is the encoded recording. The provider reads it once.
	Audio io.Reader

	// Filename is the name reported for the upload, including the extension
	// that identifies the container (e.g. "audio.wav").
	Filename string

	// Model overrides the provider's default model when non-empty.
	Model string

	// Language is an ISO-639-1 hint (e.g. "ru"). Empty lets the provider
	// auto-detect.
	Language string

	// Prompt is optional text that biases recognition toward expected
	// vocabulary.
	Prompt string

	// APIKey overrides the provider's configured credential for this call
	// when non-empty.
	APIKey string
}

// Result is the outcome of a transcription call.
type Result struct {
	// Text is the recognised speech.
	Text string

	// Language is the language reported by the provider, if any.
	Language string
}

// Provider transcribes finished recordings.
type Provider interface {
	// Transcribe uploads req.Audio and returns the recognised text.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
