package triage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// UserFacing is implemented by every pipeline error. UserMessage is safe to
// show to a patient or operator and never contains backend detail.
type UserFacing interface {
	error
	UserMessage() string
}

// ErrEmptyInput is returned when there is nothing to assess.
var ErrEmptyInput = errors.New("no symptom description was provided")

// BackendError describes a failed call to an external model backend.
type BackendError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s backend error: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// RetryableStatus reports whether an HTTP status from a backend is transient.
func RetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusConflict, code == http.StatusTooManyRequests:
		return true
	case code == 529: // overloaded
		return true
	case code >= 500:
		return true
	}
	return false
}

// IsRetryable reports whether err is worth another attempt. Cancellation
// of the caller's context is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// CaptureError means the audio could not be acquired.
type CaptureError struct {
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio capture failed: %s: %v", e.Reason, e.Err)
	}
	return "audio capture failed: " + e.Reason
}

func (e *CaptureError) Unwrap() error { return e.Err }

func (e *CaptureError) UserMessage() string {
	return "We could not record any audio. Check that a microphone is connected and try again, or type your symptoms instead."
}

// TranscriptionError means audio was captured but could not be turned into text.
type TranscriptionError struct {
	Empty bool
	Err   error
}

func (e *TranscriptionError) Error() string {
	if e.Empty {
		return "transcription produced no text"
	}
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

func (e *TranscriptionError) UserMessage() string {
	if e.Empty {
		return "We could not hear any speech in the recording. Please speak clearly and try again, or type your symptoms."
	}
	return "The speech service is unavailable right now. Please try again shortly or type your symptoms."
}

// RelevanceCheckError is logged when the relevance gate degrades to pass-through.
type RelevanceCheckError struct {
	Err error
}

func (e *RelevanceCheckError) Error() string { return fmt.Sprintf("relevance check failed: %v", e.Err) }
func (e *RelevanceCheckError) Unwrap() error { return e.Err }

func (e *RelevanceCheckError) UserMessage() string {
	return "We could not confirm that the description is medical; it will be assessed anyway."
}

// TriageGenerationError means no valid assessment could be produced.
type TriageGenerationError struct {
	Attempts int
	Err      error
}

func (e *TriageGenerationError) Error() string {
	return fmt.Sprintf("triage generation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TriageGenerationError) Unwrap() error { return e.Err }

func (e *TriageGenerationError) UserMessage() string {
	return "We could not complete the assessment. If symptoms are severe, call emergency services (112 or 108) now; otherwise please try again."
}

// FacilityLookupError means the location given for a facility search was unusable.
type FacilityLookupError struct {
	Location  string
	Malformed bool
	Err       error
}

func (e *FacilityLookupError) Error() string {
	if e.Malformed {
		return fmt.Sprintf("malformed location %q: %v", e.Location, e.Err)
	}
	return fmt.Sprintf("facility lookup for %q failed: %v", e.Location, e.Err)
}

func (e *FacilityLookupError) Unwrap() error { return e.Err }

func (e *FacilityLookupError) UserMessage() string {
	if e.Malformed {
		return "The location could not be understood. Enter a city or area name, or coordinates as \"lat,lon\"."
	}
	return "Nearby facilities could not be looked up right now."
}
