package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a trigger was ignored or an analysis failed.
type ErrorKind string

const (
	KindNoTargetSelected  ErrorKind = "no_target_selected"
	KindRequestInProgress ErrorKind = "request_in_progress"
	KindTimeout           ErrorKind = "timeout"
	KindTransportFailure  ErrorKind = "transport_failure"
	KindRemoteRejected    ErrorKind = "remote_rejected"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// Messages shown when the failure carries nothing more specific.
const (
	FallbackErrorMessage  = "Failed to analyze crop coverage. Please try again."
	TimeoutErrorMessage   = "The analysis request timed out. Please try again."
	MalformedErrorMessage = "Invalid response from the analysis service."
)

var (
	// ErrNoTargetSelected is returned when a trigger arrives before any point was picked.
	ErrNoTargetSelected = &AnalysisError{Kind: KindNoTargetSelected, Message: "no point selected"}
	// ErrRequestInProgress is returned when a trigger arrives while a request is in flight.
	ErrRequestInProgress = &AnalysisError{Kind: KindRequestInProgress, Message: "analysis already in progress"}

	ErrSessionNotFound = errors.New("session not found")
	ErrNoResult        = errors.New("session has no analysis result")
	ErrUnknownSeason   = errors.New("season must be summer or winter")
)

// AnalysisError is a classified analysis failure. Message is what the user sees.
type AnalysisError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Is matches any AnalysisError of the same kind, so errors.Is(err, ErrRequestInProgress) works
// on wrapped copies.
func (e *AnalysisError) Is(target error) bool {
	t, ok := target.(*AnalysisError)
	return ok && t.Kind == e.Kind
}

// UserMessage returns the banner text, falling back to the generic literal.
func (e *AnalysisError) UserMessage() string {
	if e == nil || e.Message == "" {
		return FallbackErrorMessage
	}
	return e.Message
}

// NewRemoteRejected wraps a message supplied by the analysis service in an error body.
func NewRemoteRejected(status int, message string) *AnalysisError {
	return &AnalysisError{
		Kind:    KindRemoteRejected,
		Message: message,
		Err:     fmt.Errorf("status %d", status),
	}
}

// NewTransportFailure wraps a network-level failure; its text becomes the message.
func NewTransportFailure(err error) *AnalysisError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &AnalysisError{Kind: KindTransportFailure, Message: msg, Err: err}
}

// NewTimeout reports that the request outlived its deadline.
func NewTimeout(err error) *AnalysisError {
	return &AnalysisError{Kind: KindTimeout, Message: TimeoutErrorMessage, Err: err}
}

// NewMalformedResponse reports a 2xx response that could not be used.
func NewMalformedResponse(err error) *AnalysisError {
	return &AnalysisError{Kind: KindMalformedResponse, Message: MalformedErrorMessage, Err: err}
}
