// Package dedupe provides idempotency tracking for envelope submissions.
// A store remembers which envelope IDs have been dispatched and the result
// they produced, so replays can be answered without re-invoking handlers.
package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	// ErrNotSeen is returned when an envelope ID has no record.
	ErrNotSeen = errors.New("envelope not seen")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("dedupe store is closed")
)

// Record captures the outcome of a dispatched envelope.
type Record struct {
	// EnvelopeID is the ID of the dispatched envelope.
	EnvelopeID string `json:"envelope_id"`
	// Status is the dispatch status the envelope produced.
	Status string `json:"status"`
	// Result is the serialized reply, replayed verbatim on duplicates.
	Result json.RawMessage `json:"result,omitempty"`
	// FirstSeen is when the envelope was first dispatched.
	FirstSeen time.Time `json:"first_seen"`
}

// Store abstracts dedupe persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Check retrieves the record for an envelope ID.
	// Returns ErrNotSeen if the ID has no record.
	Check(ctx context.Context, envelopeID string) (*Record, error)

	// Mark stores the record for an envelope ID, overwriting any prior one.
	Mark(ctx context.Context, rec *Record) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
