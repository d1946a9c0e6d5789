package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/vrct-tts/connector/internal/protocol"
	"github.com/vrct-tts/connector/internal/settings"
	"github.com/vrct-tts/connector/internal/tts/engines"
)

// Kind classifies a failure for the client.
type Kind int

const (
	// KindInternal is an unexpected failure anywhere in the pipeline
	KindInternal Kind = iota

	// KindProtocol is a malformed envelope
	KindProtocol

	// KindValidation is missing or invalid text, language, voice or setting
	KindValidation

	// KindSynthesis is an adapter failure after any retry
	KindSynthesis
)

// Wire codes of each kind.
const (
	CodeSynthesis  = 1000
	CodeValidation = 1001
	CodeProtocol   = 1002
	CodeInternal   = 500
)

// Code returns the stable numeric code sent to clients.
func (k Kind) Code() int {
	switch k {
	case KindProtocol:
		return CodeProtocol
	case KindValidation:
		return CodeValidation
	case KindSynthesis:
		return CodeSynthesis
	default:
		return CodeInternal
	}
}

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	case KindSynthesis:
		return "synthesis"
	default:
		return "internal"
	}
}

// Error is a classified dispatcher failure with additional context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns the wire code of the error's kind.
func (e *Error) Code() int { return e.Kind.Code() }

// NewError creates a classified error.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	e.Context[key] = value
	return e
}

func validationError(format string, args ...any) *Error {
	return NewError(KindValidation, fmt.Sprintf(format, args...), nil)
}

// Classify converts any error into a classified one. Errors that are
// already classified pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrUnknownCommand):
		return NewError(KindProtocol, "malformed request", err)
	case errors.Is(err, protocol.ErrInvalidField), errors.Is(err, protocol.ErrMissingText),
		errors.Is(err, settings.ErrInvalid):
		return NewError(KindValidation, "invalid request", err)
	case errors.Is(err, engines.ErrEmptyText), errors.Is(err, engines.ErrUnsupportedLanguage),
		errors.Is(err, engines.ErrInvalidVoice):
		return NewError(KindValidation, "request rejected by engine", err)
	}

	var engineErr *engines.Error
	if errors.As(err, &engineErr) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindSynthesis, "synthesis failed", err)
	}

	return NewError(KindInternal, "internal error", err)
}
