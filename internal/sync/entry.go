package sync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Operation is the kind of mutation a queue entry carries.
type Operation string

const (
	Create Operation = "Create"
	Update Operation = "Update"
	Delete Operation = "Delete"
)

// ParseOperation accepts the operation names case-sensitively.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case Create, Update, Delete:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Method returns the HTTP method used to deliver the operation.
func (o Operation) Method() string {
	switch o {
	case Create:
		return http.MethodPost
	case Update:
		return http.MethodPut
	case Delete:
		return http.MethodDelete
	}
	return ""
}

// Entry is one pending mutation in the sync queue.
type Entry struct {
	ID         string          `json:"id"`
	Partition  string          `json:"partition"`
	Operation  Operation       `json:"operation"`
	RecordID   string          `json:"recordId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempt    int             `json:"attempt"`
	LastError  string          `json:"lastError,omitempty"`
}

func newEntryID(partition string, op Operation, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d_%s", partition, op, at.UnixMilli(), uuid.NewString()[:8])
}

// before orders entries by enqueue time, then id.
func (e Entry) before(other Entry) bool {
	if !e.EnqueuedAt.Equal(other.EnqueuedAt) {
		return e.EnqueuedAt.Before(other.EnqueuedAt)
	}
	return e.ID < other.ID
}
