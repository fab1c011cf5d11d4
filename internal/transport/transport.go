// Package transport delivers queued mutations to the remote side.
package transport

import (
	"context"
	"fmt"
	"net/http"
)

// Request is a single delivery. Body is the JSON payload captured at enqueue time.
type Request struct {
	Method   string
	Path     string
	RecordID string
	// EntryID identifies the queue entry; used as the remote key when RecordID is empty.
	EntryID string
	Body    []byte
}

// Transport sends one request. Any returned error counts as a failed delivery.
type Transport interface {
	Send(ctx context.Context, req Request) error
}

// Pinger reports whether the remote side is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func validMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
