package distribution

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by a Provider or the Service unwraps
// to exactly one of these, so callers can branch with errors.Is.
var (
	// ErrInvalidInput is a caller error. Not retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrModelUnavailable means the local model is not loaded yet. Retry after backoff.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInference is a local computation fault. Not retried.
	ErrInference = errors.New("inference error")
	// ErrUpstreamUnreachable means the remote endpoint refused or dropped the connection.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	// ErrUpstreamTimeout means the remote endpoint did not answer in time.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamError means the remote endpoint answered with a non-2xx status.
	ErrUpstreamError = errors.New("upstream error")
)

// Error carries a human-readable message, its class and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Err  error

	// Status is the upstream HTTP status for ErrUpstreamError, zero otherwise.
	Status int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func InvalidInput(format string, args ...any) error {
	return &Error{Kind: ErrInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

func ModelUnavailable(msg string) error {
	return &Error{Kind: ErrModelUnavailable, Msg: msg}
}

func Inference(msg string, cause error) error {
	return &Error{Kind: ErrInference, Msg: msg, Err: cause}
}

func UpstreamUnreachable(target string, cause error) error {
	return &Error{Kind: ErrUpstreamUnreachable, Msg: "cannot connect to " + target, Err: cause}
}

func UpstreamTimeout(target string, cause error) error {
	return &Error{Kind: ErrUpstreamTimeout, Msg: "timed out waiting for " + target, Err: cause}
}

// UpstreamError keeps the upstream body verbatim in the message.
func UpstreamError(status int, body string) error {
	msg := fmt.Sprintf("upstream returned HTTP %d", status)
	if body != "" {
		msg += ": " + body
	}
	return &Error{Kind: ErrUpstreamError, Msg: msg, Status: status}
}

// UpstreamMalformed reports a 2xx upstream answer that could not be decoded.
func UpstreamMalformed(cause error) error {
	return &Error{Kind: ErrUpstreamError, Msg: "malformed upstream response", Err: cause}
}
