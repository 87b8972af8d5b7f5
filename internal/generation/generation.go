// Package generation wraps the text-generation model behind a small
// interface and adds retry with exponential backoff on transient failures.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
)

// Schema constrains a generation call to produce JSON matching Properties.
type Schema struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Request is a single generation call.
type Request struct {
	System string
	Prompt string
	Schema *Schema
}

// Response is the model output of one call.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Client issues one generation call with no retry.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ErrGeneration matches every *Error via errors.Is.
var ErrGeneration = errors.New("generation failed")

// ErrEmptyResponse is returned when the model produced no usable content.
var ErrEmptyResponse = errors.New("empty response from model")

// Error is the terminal failure of a generation call after retries.
type Error struct {
	Attempts  int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrGeneration.
func (e *Error) Is(target error) bool { return target == ErrGeneration }

// IsTransient classifies err as worth retrying. Rate limiting, overload,
// server errors and network failures are transient; request rejections
// and cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return isTransientStatus(apiErr.StatusCode)
	}
	var status *StatusError
	if errors.As(err, &status) {
		return isTransientStatus(status.StatusCode)
	}
	// Transport failures have no status and are retried.
	return true
}

func isTransientStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusConflict, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// StatusError carries an HTTP status from a non-SDK client.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model API returned %d: %s", e.StatusCode, e.Message)
}
