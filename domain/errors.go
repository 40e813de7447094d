package domain

import (
	"context"
	"errors"
)

// Turn pipeline error kinds. Adapters and services wrap these with
// fmt.Errorf("...: %w", ...) so callers can match with errors.Is.
var (
	// ErrInvalidState is a protocol misuse, such as buffering audio while no
	// turn is recording.
	ErrInvalidState = errors.New("invalid state")

	// ErrEmptyAudio means the turn had no audio or no detectable speech.
	// It is benign: the turn is dropped without telling the user.
	ErrEmptyAudio = errors.New("empty audio")

	ErrTranscriptionUnavailable = errors.New("transcription unavailable")
	ErrGenerationUnavailable    = errors.New("generation unavailable")
	ErrSynthesisUnavailable     = errors.New("synthesis unavailable")

	// ErrContextTooLong is reported by language model adapters when the
	// request exceeds the model's input limit.
	ErrContextTooLong = errors.New("context too long")

	// ErrTurnTooLong is raised when a recording exceeds the maximum turn
	// duration. It forces a turn boundary.
	ErrTurnTooLong = errors.New("turn too long")

	// ErrInvalidThreshold is returned for silence thresholds outside [-100, 0] dB.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrBadRequest marks a malformed or out-of-range client message.
	ErrBadRequest = errors.New("bad request")

	// ErrSessionClosed is returned when an operation targets a terminated session.
	ErrSessionClosed = errors.New("session closed")
)

// Wire reasons carried by error statuses.
const (
	ReasonInvalidState             = "invalid_state"
	ReasonEmptyAudio               = "empty_audio"
	ReasonTranscriptionUnavailable = "transcription_unavailable"
	ReasonGenerationUnavailable    = "generation_unavailable"
	ReasonSynthesisUnavailable     = "synthesis_unavailable"
	ReasonContextTooLong           = "context_too_long"
	ReasonTurnTooLong              = "turn_too_long"
	ReasonInvalidThreshold         = "invalid_threshold"
	ReasonBadRequest               = "bad_request"
	ReasonInternal                 = "internal"
)

// ErrorReason maps an error onto the reason string sent to clients.
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrContextTooLong):
		return ReasonContextTooLong
	case errors.Is(err, ErrTranscriptionUnavailable):
		return ReasonTranscriptionUnavailable
	case errors.Is(err, ErrGenerationUnavailable):
		return ReasonGenerationUnavailable
	case errors.Is(err, ErrSynthesisUnavailable):
		return ReasonSynthesisUnavailable
	case errors.Is(err, ErrTurnTooLong):
		return ReasonTurnTooLong
	case errors.Is(err, ErrEmptyAudio):
		return ReasonEmptyAudio
	case errors.Is(err, ErrInvalidThreshold):
		return ReasonInvalidThreshold
	case errors.Is(err, ErrInvalidState):
		return ReasonInvalidState
	case errors.Is(err, ErrBadRequest):
		return ReasonBadRequest
	default:
		return ReasonInternal
	}
}

// IsCancellation reports whether err came from a cancelled context rather
// than a failing dependency.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
