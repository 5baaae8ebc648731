package graphql

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrSubscriptionComplete is returned when the server completes a subscription.
	ErrSubscriptionComplete = errors.New("subscription completed by server")

	// ErrAckTimeout is returned when the server does not acknowledge connection_init in time.
	ErrAckTimeout = errors.New("timed out waiting for connection_ack")

	// ErrInvalidEndpoint is returned when an endpoint URL has the wrong scheme or no host.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Location is a position in the GraphQL document an error refers to.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Error is a single entry of a GraphQL errors array.
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Locations  []Location     `json:"locations,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Error implements the error interface.
func (e Error) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Path))
	for i, p := range e.Path {
		parts[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("%s (at %s)", e.Message, strings.Join(parts, "."))
}

// ResponseError is returned when a response carries an errors array.
// The data of the response, if any, is still decoded.
type ResponseError struct {
	Errors []Error
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	return "graphql: " + joinErrors(e.Errors)
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string // prettified when possible
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("graphql endpoint returned %s", e.Status)
	}
	return fmt.Sprintf("graphql endpoint returned %s : %s", e.Status, body)
}

// Temporary reports whether the request may succeed when retried.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// SubscriptionError is returned when the server sends an error message for a subscription.
type SubscriptionError struct {
	ID     string
	Errors []Error
}

// Error implements the error interface.
func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s failed : %s", e.ID, joinErrors(e.Errors))
}

func joinErrors(errs []Error) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	messages := make([]string, len(errs))
	for i, err := range errs {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "; ")
}
