// Package ledger is the append-only record of confirmed deliveries, the
// system's dedup source of truth.
//
// The core primitive is InsertIfAbsent: an atomic insert backed by a unique
// constraint, so a duplicate record attempt is a no-op rather than an error.
// Records are never mutated and only removed by the explicit retention
// sweep, which is policy outside the broadcast pipeline.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps storage failures. Callers treat it as "unknown
// delivery state" and fail closed: an unreadable ledger is never taken to
// mean "not yet delivered".
var ErrUnavailable = errors.New("ledger unavailable")

type Status string

const (
	StatusDelivered       Status = "delivered"
	StatusFailedPermanent Status = "failed-permanent"
)

// Record is one (item, endpoint) delivery fact.
//
// MessageRef optionally carries the chat message id returned by the delivery
// client; Revise and Retract use it to find the delivered copies later.
type Record struct {
	ItemID     string
	EndpointID string
	Status     Status
	MessageRef string
	RecordedAt time.Time
}

// Ledger is the storage-backed delivery history.
type Ledger interface {
	// Delivered reports whether a delivered record exists for the pair.
	Delivered(ctx context.Context, itemID, endpointID string) (bool, error)

	// InsertIfAbsent atomically appends the record unless one with the same
	// (item, endpoint, status) already exists. Returns true when the record
	// was newly inserted.
	InsertIfAbsent(ctx context.Context, rec Record) (bool, error)

	// ByItem lists all records for an item (any status).
	ByItem(ctx context.Context, itemID string) ([]Record, error)

	// PruneOlderThan removes records recorded before the cutoff. Retention
	// policy only; the broadcast pipeline never calls it.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
