package job

import (
	"context"
	"time"
)

// Store persists and retrieves jobs. It is the source of truth for job state;
// all mutations after Create go through the guarded transition methods.
type Store interface {
	Create(ctx context.Context, j *Job) error
	// Get returns nil, nil when no job with the given id exists.
	Get(ctx context.Context, id string) (*Job, error)
	// MarkProcessing advances queued/processing -> processing. It returns
	// false when the job is already terminal (or missing), which happens on
	// redelivery of an acknowledged-late message.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	// Complete and Fail are the only terminal transitions. Each is a single
	// atomic write so a concurrent read never sees a completed job without
	// its summary. Both are no-ops on jobs that are already terminal.
	Complete(ctx context.Context, id, summary string, processingTimeMS int64) error
	Fail(ctx context.Context, id, errorMessage string) error
	// FindQueued returns queued jobs that have never been dispatched or whose
	// last dispatch is older than grace.
	FindQueued(ctx context.Context, grace time.Duration) ([]*Job, error)
	// MarkDispatched records the publish time; it never touches status.
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	// ReapStale fails jobs stuck in processing longer than age and returns
	// how many rows were swept.
	ReapStale(ctx context.Context, age time.Duration) (int64, error)
	// List returns a page of jobs ordered by created_at DESC, plus the total count.
	List(ctx context.Context, limit, offset int) ([]*Job, int, error)
}
