// Package errs defines the error taxonomy shared by the step-execution runtime
// and the classification used by the flow runner to decide between retrying a
// step and failing the execution.
package errs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Kind identifies the taxonomy bucket of an error as recorded on an execution step.
type Kind string

const (
	KindAuth                     Kind = "auth"
	KindReauthenticationRequired Kind = "reauthentication_required"
	KindHTTP                     Kind = "http"
	KindUnresolvedVariable       Kind = "unresolved_variable"
	KindMissingArgument          Kind = "missing_argument"
	KindHandler                  Kind = "handler"
	KindTimeout                  Kind = "timeout"
	KindNetwork                  Kind = "network"
)

// AuthReason narrows an AuthError.
type AuthReason string

const (
	InvalidCredentials       AuthReason = "invalid_credentials"
	ReauthenticationRequired AuthReason = "reauthentication_required"
	NetworkFailure           AuthReason = "network_error"
	ProviderFailure          AuthReason = "provider_error"
)

// AuthError is returned by auth strategies during verification and refresh,
// and by the HTTP client when a 401 survives a refresh.
type AuthError struct {
	Reason AuthReason
	AppKey string
	Err    error
}

func (e *AuthError) Error() string {
	msg := "auth error (" + string(e.Reason) + ")"
	if e.AppKey != "" {
		msg += " for app " + e.AppKey
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError builds an AuthError.
func NewAuthError(reason AuthReason, appKey string, err error) *AuthError {
	return &AuthError{Reason: reason, AppKey: appKey, Err: err}
}

// HTTPError carries a non-2xx response that was not recovered.
type HTTPError struct {
	Status int
	Method string
	URL    string
	Body   []byte
}

func (e *HTTPError) Error() string {
	body := string(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if e.Method != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, body)
	}
	return fmt.Sprintf("status %d: %s", e.Status, body)
}

// NetworkError wraps a transport-level failure (dial, reset, DNS, TLS).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UnresolvedVariableError reports a variable reference that points at a step
// that has not executed or at a path missing from its output.
type UnresolvedVariableError struct {
	Reference string
	StepID    string
	Path      string
	Reason    string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variable {{%s}}: %s", e.Reference, e.Reason)
}

// MissingArgumentError reports a required argument that is empty after resolution.
type MissingArgumentError struct {
	Argument string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("missing required argument %q", e.Argument)
}

// HandlerError wraps an error or panic escaping a plugin handler.
type HandlerError struct {
	AppKey    string
	Key       string
	Err       error
	Panic     any
	Stack     []byte
	Malformed bool
}

func (e *HandlerError) Error() string {
	where := e.AppKey
	if e.Key != "" {
		where += "." + e.Key
	}
	switch {
	case e.Panic != nil:
		return fmt.Sprintf("handler %s panicked: %v", where, e.Panic)
	case e.Malformed:
		return fmt.Sprintf("malformed plugin %s: %v", where, e.Err)
	default:
		return fmt.Sprintf("handler %s failed: %v", where, e.Err)
	}
}

func (e *HandlerError) Unwrap() error { return e.Err }

// TimeoutError is returned when a step exceeds its wall-clock budget.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step exceeded its %s budget", e.Budget)
}

// Class is the runner-facing classification of an error.
type Class int

const (
	Fatal Class = iota
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// Classify decides whether err may be retried.
// Retryable: network failures, 5xx, 429, timeouts, provider and network auth
// failures. Everything else is fatal.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		switch authErr.Reason {
		case NetworkFailure, ProviderFailure:
			return Retryable
		default:
			return Fatal
		}
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return Retryable
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Status >= 500 || httpErr.Status == http.StatusTooManyRequests {
			return Retryable
		}
		return Fatal
	}
	var unresolved *UnresolvedVariableError
	var missing *MissingArgumentError
	if errors.As(err, &unresolved) || errors.As(err, &missing) {
		return Fatal
	}
	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) && (handlerErr.Panic != nil || handlerErr.Malformed) {
		return Fatal
	}
	if IsNetwork(err) {
		return Retryable
	}
	return Fatal
}

// IsRetryable is shorthand for Classify(err) == Retryable.
func IsRetryable(err error) bool {
	return Classify(err) == Retryable
}

// IsNetwork reports whether err looks like a transport failure.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// KindOf maps err to the Kind recorded on the execution step.
func KindOf(err error) Kind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		if authErr.Reason == ReauthenticationRequired {
			return KindReauthenticationRequired
		}
		return KindAuth
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return KindTimeout
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return KindHTTP
	}
	var unresolved *UnresolvedVariableError
	if errors.As(err, &unresolved) {
		return KindUnresolvedVariable
	}
	var missing *MissingArgumentError
	if errors.As(err, &missing) {
		return KindMissingArgument
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindHandler
}

// RawPayload extracts the provider payload attached to err, if any.
func RawPayload(err error) any {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return string(httpErr.Body)
	}
	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) && handlerErr.Stack != nil {
		return string(handlerErr.Stack)
	}
	return nil
}

// IsReauthenticationRequired reports whether err requires the user to reconnect the account.
func IsReauthenticationRequired(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Reason == ReauthenticationRequired
}
