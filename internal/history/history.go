// Package history records upgrade runs.
package history

import (
	"context"
	"time"
	"upgrader/internal/pipeline"
)

// State of a run.
type State string

const (
	StateAccepted  State = "accepted"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Run is one requested upgrade. IDs are ULIDs, so lexical order is creation order.
type Run struct {
	ID         string            `json:"id"`
	Version    string            `json:"version"`
	State      State             `json:"state"`
	Requester  string            `json:"requester,omitempty"`
	Outcome    *pipeline.Outcome `json:"outcome,omitempty"`
	ArchiveKey string            `json:"archiveKey,omitempty"` // Object key of the archived transcript
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Terminal reports whether the run has finished.
func (r Run) Terminal() bool {
	return r.State == StateSucceeded || r.State == StateFailed
}

// Store persists runs. Get returns an apperrors not-found error for unknown IDs.
type Store interface {
	Put(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
	// List returns up to limit runs, newest first.
	List(ctx context.Context, limit int) ([]Run, error)
	Close() error
}
