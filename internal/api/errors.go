package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the classification of a failed remote call. The view layer routes
// on it: unauthenticated results trigger the login redirect, not-found on
// optional resources is a valid application state, everything else is
// displayed.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindTransport       Kind = "transport"
	KindServer          Kind = "server"
)

// Error is a classified remote failure. Status is the HTTP status code, or 0
// by convention for transport-level failures. Message is always safe to show
// to the user.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("api: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("api: %s: %s", e.Kind, e.Message)
}

// Default user-facing messages, keyed by classification.
const (
	msgUnauthenticated = "Your session has expired. Please sign in again."
	msgNotFound        = "The requested resource was not found."
	msgConflict        = "A resource with this name already exists."
	msgTransport       = "Could not reach the server. Check your connection and try again."
	msgServer          = "Something went wrong. Please try again."
)

// errorEnvelope is the structured error payload the API attaches to 4xx/5xx
// responses: { "error": { "code": "...", "message": "..." } }.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Classify maps a non-2xx response to a typed error. The body is parsed
// best-effort: malformed or empty payloads degrade to a status-keyed default
// message instead of failing classification.
func Classify(status int, body []byte) *Error {
	message := ""
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		message = envelope.Error.Message
	}

	switch status {
	case http.StatusUnauthorized:
		// Fixed message regardless of payload; the session is gone either way.
		return &Error{Kind: KindUnauthenticated, Status: status, Message: msgUnauthenticated}
	case http.StatusNotFound:
		if message == "" {
			message = msgNotFound
		}
		return &Error{Kind: KindNotFound, Status: status, Message: message}
	case http.StatusConflict:
		if message == "" {
			message = msgConflict
		}
		return &Error{Kind: KindConflict, Status: status, Message: message}
	default:
		if message == "" {
			message = msgServer
		}
		return &Error{Kind: KindServer, Status: status, Message: message}
	}
}

// TransportError wraps a network-level failure (DNS, refused connection,
// broken body read) as a classified error with status 0.
func TransportError(err error) *Error {
	_ = err // the cause is logged by callers; the user sees a generic message
	return &Error{Kind: KindTransport, Status: 0, Message: msgTransport}
}

// IsCancelled reports whether err stems from a cancelled operation.
// Cancellation is not an error to surface: callers must swallow it before
// classification.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsNotFound reports whether err is a classified not-found result.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindNotFound
}

// IsUnauthenticated reports whether err is a classified session-expiry result.
func IsUnauthenticated(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindUnauthenticated
}
