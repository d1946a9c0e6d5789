package engines

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/vrct-tts/connector/internal/ttypes"
)

// Common adapter errors. Callers classify with errors.Is.
var (
	// ErrEmptyText indicates there is nothing to synthesize
	ErrEmptyText = errors.New("text is empty")

	// ErrUnsupportedLanguage indicates the engine cannot speak the language
	ErrUnsupportedLanguage = errors.New("language not supported by engine")

	// ErrInvalidVoice indicates the voice selector is not valid for the engine
	ErrInvalidVoice = errors.New("voice not valid for engine")

	// ErrUnavailable indicates the engine could not be reached
	ErrUnavailable = errors.New("engine unavailable")
)

// Error describes a failed backend call.
type Error struct {
	Engine     ttypes.EngineKind
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Engine, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Engine, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth one more attempt.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// transportError wraps a failed round trip. Network failures and
// per-attempt deadlines are retryable; cancellation by the caller is not.
func transportError(kind ttypes.EngineKind, op string, err error) *Error {
	retryable := false
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		retryable = true
	}
	return &Error{Engine: kind, Op: op, Retryable: retryable, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
}

// statusError builds an Error from a non-2xx response. 429 and 5xx are
// retryable.
func statusError(kind ttypes.EngineKind, op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &Error{
		Engine:     kind,
		Op:         op,
		StatusCode: resp.StatusCode,
		Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		Err:        errors.New(strings.TrimSpace(string(body))),
	}
}
