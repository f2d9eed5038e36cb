package ledger

import (
	"context"
	"time"
)

// Kind names the protocol step an event records.
type Kind string

const (
	KindAnnounce   Kind = "announce"
	KindDistribute Kind = "distribute"
	KindIngest     Kind = "ingest"
	KindBuild      Kind = "build"
)

// Status represents the result of a recorded step.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Event describes one step of the distribution protocol as seen by the
// local process.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	NodeID    string    `json:"node_id,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is an append-only event log.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, limit int) ([]Event, error)
}
