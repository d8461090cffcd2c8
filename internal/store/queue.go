// Package store contains the database layer for flowplane.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PendingStore defines the operations on the pending-job queue.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics for dequeueing.
type PendingStore interface {
	// GetPendingJob returns a pending job by its ID, or an error wrapping ErrNotFound.
	GetPendingJob(ctx context.Context, id uuid.UUID) (*PendingJob, error)

	// PeekMemPeak returns the live peak memory sample of a pending job, if any.
	PeekMemPeak(ctx context.Context, id uuid.UUID) (*int32, error)

	// Delete removes the pending row inside tx and stages the queue mirror removal.
	Delete(ctx context.Context, tx QueueTx, job *PendingJob) error

	// Push inserts a new pending job inside tx and stages the queue mirror publish.
	Push(ctx context.Context, tx QueueTx, req PushRequest) (uuid.UUID, error)

	// DequeueBatch claims up to 'limit' runnable non-flow jobs whose tag is in tags.
	// Claimed jobs stay invisible to other workers for lease.
	// Returns nil slice if queue is empty.
	DequeueBatch(ctx context.Context, tags []string, limit int, lease time.Duration) ([]*PendingJob, error)

	// Heartbeat extends the visibility lease of a running job and records its latest memory sample.
	Heartbeat(ctx context.Context, id uuid.UUID, visibleAfter time.Time, memPeak *int32) error
}
