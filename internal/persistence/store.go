// Package persistence durably stores ledger snapshot blobs. The ledger
// serializes itself; stores only move opaque versioned blobs and retain
// a bounded rolling history plus the latest snapshot.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNoSnapshot is returned when the store holds no snapshots yet
var ErrNoSnapshot = errors.New("no snapshot stored")

// Record is one stored ledger snapshot
type Record struct {
	ID      string    `json:"id" db:"id"`
	TakenAt time.Time `json:"taken_at" db:"taken_at"`
	Blob    []byte    `json:"blob" db:"blob"`
}

// SnapshotStore is the durability boundary. Save appends, Latest reads
// the most recent snapshot, History reads newest-first, Prune bounds
// the rolling history.
type SnapshotStore interface {
	Save(ctx context.Context, rec Record) error
	Latest(ctx context.Context) (*Record, error)
	History(ctx context.Context, limit int) ([]Record, error)
	Prune(ctx context.Context, keep int) (int, error)
}
