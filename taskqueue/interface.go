package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/criyle/judge-gateway/types"
)

// ErrEmpty is returned by Store.PopMin when no entry arrived before the timeout
var ErrEmpty = errors.New("taskqueue: empty")

// Store is the priority store backing the queue. Entries are task ids ordered by
// score, lower first. Pushing an existing id replaces its score.
type Store interface {
	// Push upserts id with score
	Push(ctx context.Context, id string, score float64) error

	// PopMin removes and returns the entry with the lowest score, waiting up to
	// timeout for one to appear. A non-positive timeout waits until ctx is done.
	PopMin(ctx context.Context, timeout time.Duration) (id string, score float64, err error)
}

// Resolver reconstructs the full task from its id.
// It returns nil, nil when the task is gone, e.g. superseded by a rejudge.
type Resolver interface {
	ResolveTask(ctx context.Context, taskID string, score float64) (*types.Task, error)
}

// Queue is the task queue consumed by the gateway
type Queue interface {
	// Enqueue puts the task id into the queue, or updates its priority
	Enqueue(ctx context.Context, taskID string, score float64, isRequeue bool) error

	// Dequeue takes the best task, returns nil, nil when nothing is dispatchable
	Dequeue(ctx context.Context, timeout time.Duration) (*types.Task, error)
}
