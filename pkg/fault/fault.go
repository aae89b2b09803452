// Package fault defines the error taxonomy shared by the capture, remote and
// dictation layers.
//
// Errors are classified by [Kind], not by Go type. Every classified error is a
// [*Error] carrying its kind, the failing operation and the underlying cause,
// so callers can branch with errors.Is against the package sentinels:
//
//	if errors.Is(err, fault.ErrRateLimited) { ... }
//
// Only [RateLimited] and [ConnectionFailed] are transient; everything else is
// reported to the user on first occurrence.
package fault

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
)

// Kind names a class of failure.
type Kind string

const (
	InvalidCredential   Kind = "invalid_credential"
	RateLimited         Kind = "rate_limited"
	ConnectionFailed    Kind = "connection_failed"
	RemoteServiceError  Kind = "remote_service_error"
	TranscriptionFailed Kind = "transcription_failed"
	CorrectionFailed    Kind = "correction_failed"
	AudioDeviceError    Kind = "audio_device_error"
	NoAudioCaptured     Kind = "no_audio_captured"
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{
	InvalidCredential, RateLimited, ConnectionFailed, RemoteServiceError,
	TranscriptionFailed, CorrectionFailed, AudioDeviceError, NoAudioCaptured,
}

// IsValid reports whether k is a recognised kind.
func (k Kind) IsValid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Transient reports whether failures of this kind are eligible for retry.
func (k Kind) Transient() bool {
	return k == RateLimited || k == ConnectionFailed
}

// Sentinels for use with errors.Is. They match any [*Error] of the same kind.
var (
	ErrInvalidCredential   = &Error{Kind: InvalidCredential}
	ErrRateLimited         = &Error{Kind: RateLimited}
	ErrConnectionFailed    = &Error{Kind: ConnectionFailed}
	ErrRemoteServiceError  = &Error{Kind: RemoteServiceError}
	ErrTranscriptionFailed = &Error{Kind: TranscriptionFailed}
	ErrCorrectionFailed    = &Error{Kind: CorrectionFailed}
	ErrAudioDeviceError    = &Error{Kind: AudioDeviceError}
	ErrNoAudioCaptured     = &Error{Kind: NoAudioCaptured}
)

// Error is a classified failure.
type Error struct {
	// Kind is the taxonomy class.
	Kind Kind

	// Op names the failing operation (e.g. "transcribe", "correct").
	Op string

	// Err is the underlying cause. May be nil.
	Err error
}

// New returns an [*Error] of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a kind sentinel (an *Error with no Op and no
// cause) of the same kind as e.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first [*Error] in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// IsTransient reports whether err is classified as retry-eligible.
func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k.Transient()
}

// Classify maps err onto the taxonomy for operation op. Already classified
// errors and cancellations of the caller's own context are returned
// unchanged. Transport-level failures, timeouts included, become
// [ConnectionFailed]; anything else becomes fallback.
func Classify(op string, err error, fallback Kind) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isConnectionError(err) {
		return New(ConnectionFailed, op, err)
	}
	return New(fallback, op, err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
