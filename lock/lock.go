// Package lock provides distributed locks backed by redis scripts.
//
// Every operation is a single script invocation so that check-and-set races
// between processes are impossible. Two flavours exist: an exclusive lock and
// an upgradeable read / write lock allowing many readers or one writer.
//
// Locks are always used through Lock / LockReadWrite which keep the lock alive
// while the body runs and release it afterwards. Losing ownership (a refresh or
// unlock that finds a different holder) is never retried: the body context is
// cancelled with ErrOwnershipLost and the error is returned to the caller.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrOwnershipLost is returned when a held lock was found to belong to someone else
	ErrOwnershipLost = errors.New("lock: ownership lost")

	// ErrRetryExhausted is returned when a lock could not be acquired within the retry bound
	ErrRetryExhausted = errors.New("lock: acquisition retries exhausted")

	errNotAcquired = errors.New("lock: not acquired")
)

// Mode selects the side of a read / write lock
type Mode int

// Read / write lock modes
const (
	Read Mode = iota + 1
	Write
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// Config defines lock timing
type Config struct {
	Prefix        string        // key prefix in redis
	TTL           time.Duration // expiry of a lock record, refreshed every TTL/2
	RetryInterval time.Duration // fixed backoff between acquisition attempts
	MaxRetries    uint          // number of acquisition attempts before ErrRetryExhausted
}

// Service runs bodies under distributed locks
type Service struct {
	client redis.Scripter
	conf   Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates lock service on the redis client
func New(client redis.Scripter, conf Config, logger *zap.Logger) *Service {
	if conf.TTL <= 0 {
		conf.TTL = 10 * time.Second
	}
	if conf.RetryInterval <= 0 {
		conf.RetryInterval = 100 * time.Millisecond
	}
	if conf.MaxRetries == 0 {
		conf.MaxRetries = 100
	}
	return &Service{
		client: client,
		conf:   conf,
		logger: logger,
		now:    time.Now,
	}
}

// operations is a lock / refresh / unlock triple for one lock instance
type operations struct {
	acquire func(context.Context) (bool, error)
	refresh func(context.Context) (bool, error)
	release func(context.Context) (bool, error)
	abandon func(context.Context) error // optional, undoes partial state of failed attempts
}

// Lock runs body while holding the exclusive lock name
func (s *Service) Lock(ctx context.Context, name string, body func(context.Context) error) error {
	key := s.conf.Prefix + "lock:" + name
	token := uuid.NewString()
	ttl := strconv.FormatInt(s.conf.TTL.Milliseconds(), 10)
	keys := []string{key}
	return s.withLock(ctx, name, operations{
		acquire: func(ctx context.Context) (bool, error) {
			return runBool(ctx, s.client, lockScript, keys, token, ttl)
		},
		refresh: func(ctx context.Context) (bool, error) {
			return runBool(ctx, s.client, refreshScript, keys, token, ttl)
		},
		release: func(ctx context.Context) (bool, error) {
			return runBool(ctx, s.client, unlockScript, keys, token, ttl)
		},
	}, body)
}

// LockReadWrite runs body while holding the read or write side of the lock name
func (s *Service) LockReadWrite(ctx context.Context, name string, mode Mode, body func(context.Context) error) error {
	prefix := s.conf.Prefix + "rw:" + name
	keys := []string{prefix + ":readers", prefix + ":writer", prefix + ":intent"}
	writerKey := keys[1:2]
	intentKey := keys[2:3]
	token := uuid.NewString()
	ttl := s.conf.TTL.Milliseconds()
	ttlArg := strconv.FormatInt(ttl, 10)

	timed := func(script *redis.Script) func(context.Context) (bool, error) {
		return func(ctx context.Context) (bool, error) {
			now := s.now().UnixMilli()
			return runBool(ctx, s.client, script, keys, token, ttlArg,
				strconv.FormatInt(now, 10), strconv.FormatInt(now+ttl, 10))
		}
	}

	var ops operations
	switch mode {
	case Read:
		ops = operations{
			acquire: timed(readLockScript),
			refresh: timed(readRefreshScript),
			release: func(ctx context.Context) (bool, error) {
				return runBool(ctx, s.client, readUnlockScript, keys, token)
			},
		}
	case Write:
		ops = operations{
			acquire: timed(writeLockScript),
			refresh: func(ctx context.Context) (bool, error) {
				return runBool(ctx, s.client, refreshScript, writerKey, token, ttlArg)
			},
			release: func(ctx context.Context) (bool, error) {
				return runBool(ctx, s.client, unlockScript, writerKey, token, ttlArg)
			},
			abandon: func(ctx context.Context) error {
				_, err := runBool(ctx, s.client, unlockScript, intentKey, token, ttlArg)
				return err
			},
		}
	default:
		return fmt.Errorf("lock: invalid mode %d", mode)
	}
	return s.withLock(ctx, name+"/"+mode.String(), ops, body)
}

// withLock acquires with bounded retries, keeps the lock refreshed while body runs
// and releases it exactly once
func (s *Service) withLock(ctx context.Context, name string, ops operations, body func(context.Context) error) (err error) {
	start := time.Now()
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := ops.acquire(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, errNotAcquired
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.conf.RetryInterval)),
		backoff.WithMaxTries(s.conf.MaxRetries),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil && ops.abandon != nil {
		if aerr := ops.abandon(context.WithoutCancel(ctx)); aerr != nil {
			s.logger.Warn("failed to clean up lock attempt", zap.String("name", name), zap.Error(aerr))
		}
	}
	switch {
	case errors.Is(err, errNotAcquired):
		s.logger.Error("lock acquisition retries exhausted",
			zap.String("name", name), zap.Duration("waited", time.Since(start)))
		return fmt.Errorf("%w: %s", ErrRetryExhausted, name)
	case err != nil:
		return fmt.Errorf("lock %s: %w", name, err)
	}
	if ce := s.logger.Check(zap.DebugLevel, "lock acquired"); ce != nil {
		ce.Write(zap.String("name", name), zap.Duration("waited", time.Since(start)))
	}

	bodyCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.refreshLoop(bodyCtx, name, ops.refresh, cancel, done)
	}()

	defer func() {
		close(done)
		wg.Wait()
		lost := errors.Is(context.Cause(bodyCtx), ErrOwnershipLost)
		cancel(nil)

		ok, rerr := ops.release(context.WithoutCancel(ctx))
		switch {
		case rerr != nil:
			err = errors.Join(err, fmt.Errorf("unlock %s: %w", name, rerr))
		case !ok && !lost:
			s.logger.Error("lock ownership lost on unlock", zap.String("name", name))
			err = errors.Join(err, fmt.Errorf("%w: %s", ErrOwnershipLost, name))
		}
		if lost {
			err = errors.Join(err, fmt.Errorf("%w: %s", ErrOwnershipLost, name))
		}
	}()

	return body(bodyCtx)
}

func (s *Service) refreshLoop(ctx context.Context, name string, refresh func(context.Context) (bool, error),
	cancel context.CancelCauseFunc, done <-chan struct{}) {
	ticker := time.NewTicker(s.conf.TTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := refresh(ctx)
			if err != nil && ctx.Err() != nil {
				return
			}
			if err != nil || !ok {
				s.logger.Error("lock ownership lost on refresh", zap.String("name", name), zap.Error(err))
				cancel(ErrOwnershipLost)
				return
			}
		}
	}
}

func runBool(ctx context.Context, c redis.Scripter, script *redis.Script, keys []string, args ...any) (bool, error) {
	n, err := script.Run(ctx, c, keys, args...).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
