// Package redisqueue stores the task queue in a redis sorted set shared by all
// gateway processes
package redisqueue

import (
	"context"
	"errors"
	"time"

	"github.com/criyle/judge-gateway/taskqueue"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the sorted set holding queued task ids
const DefaultKey = "task-queue"

var _ taskqueue.Store = &Store{}

// Store implements taskqueue.Store with ZADD / BZPOPMIN
type Store struct {
	client redis.UniversalClient
	key    string
}

// New creates a store on key, DefaultKey if empty
func New(client redis.UniversalClient, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key}
}

// Push upserts id with score
func (s *Store) Push(ctx context.Context, id string, score float64) error {
	return s.client.ZAdd(ctx, s.key, redis.Z{Score: score, Member: id}).Err()
}

// PopMin blocks on BZPOPMIN up to timeout, zero blocks until ctx is done
func (s *Store) PopMin(ctx context.Context, timeout time.Duration) (string, float64, error) {
	if timeout < 0 {
		timeout = 0
	}
	z, err := s.client.BZPopMin(ctx, timeout, s.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", 0, taskqueue.ErrEmpty
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", 0, ctxErr
		}
		return "", 0, err
	}
	id, _ := z.Member.(string)
	return id, z.Score, nil
}

// Len returns number of queued tasks
func (s *Store) Len(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.key).Result()
}
