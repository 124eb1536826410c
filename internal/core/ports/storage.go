package ports

import (
	"context"
	"time"
)

// TakeOutcome reports the state of a rate record after a take attempt.
type TakeOutcome struct {
	Allowed bool
	// Count is the number of timestamps inside the window after pruning,
	// including the one appended on success.
	Count int
	// Oldest is the oldest retained timestamp. Zero when the record is empty.
	Oldest time.Time
}

// RecordStore keeps the per-key sliding-window timestamp records.
//
// Implementations must be safe for concurrent use, and Take must perform the
// prune, the admission check and the conditional append as one atomic step.
type RecordStore interface {
	// Take prunes timestamps older than now-window, then appends now and
	// allows if fewer than limit remain. On denial nothing beyond the prune
	// is mutated. limit must be at least 1, so a denied record always
	// retains at least one timestamp and Oldest is never zero on denial.
	Take(ctx context.Context, key string, limit int, window time.Duration) (TakeOutcome, error)

	// Append records a timestamp without enforcing any limit.
	Append(ctx context.Context, key string) error

	// Clear drops the record for one key.
	Clear(ctx context.Context, key string) error

	// ClearAll drops every record.
	ClearAll(ctx context.Context) error

	// Sweep drops records whose newest timestamp is older than maxAge.
	Sweep(ctx context.Context, maxAge time.Duration) error
}
