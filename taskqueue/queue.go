// Package taskqueue implements the priority ordered judge task queue.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/criyle/judge-gateway/types"
	"go.uber.org/zap"
)

var _ Queue = &Coordinator{}

// Config is the coordinator configuration
type Config struct {
	Store    Store
	Resolver Resolver
	Logger   *zap.Logger
}

// Coordinator combines the priority store with the task resolver
type Coordinator struct {
	store    Store
	resolver Resolver
	logger   *zap.Logger
}

// New creates a new queue coordinator
func New(conf Config) *Coordinator {
	return &Coordinator{
		store:    conf.Store,
		resolver: conf.Resolver,
		logger:   conf.Logger,
	}
}

// Enqueue upserts the task id with score
func (q *Coordinator) Enqueue(ctx context.Context, taskID string, score float64, isRequeue bool) error {
	if err := q.store.Push(ctx, taskID, score); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskID, err)
	}
	if isRequeue {
		q.logger.Info("task requeued", zap.String("taskId", taskID), zap.Float64("priority", score))
	} else {
		q.logger.Debug("task pushed", zap.String("taskId", taskID), zap.Float64("priority", score))
	}
	return nil
}

// Dequeue pops the task with the lowest score and resolves it.
// Missing and malformed tasks are dropped and reported as nothing to do.
func (q *Coordinator) Dequeue(ctx context.Context, timeout time.Duration) (*types.Task, error) {
	id, score, err := q.store.PopMin(ctx, timeout)
	switch {
	case errors.Is(err, ErrEmpty):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	task, err := q.resolver.ResolveTask(ctx, id, score)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", id, err)
	}
	if task == nil {
		q.logger.Info("dequeued task no longer exists", zap.String("taskId", id))
		return nil, nil
	}
	if err := task.ExtraInfo.Validate(); err != nil {
		q.logger.Warn("dequeued task dropped", zap.String("taskId", id), zap.Error(err))
		return nil, nil
	}
	return task, nil
}
