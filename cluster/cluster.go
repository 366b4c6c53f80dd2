// Package cluster keeps the state shared by every gateway process in redis:
// the current session of each worker, recently disconnected markers, worker
// system information and the cancel broadcast channel.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cancelChannel = "cancel"

// compare-and-delete, so that a late disconnect never clears a newer session
var clearScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Config defines redis location of the shared state
type Config struct {
	Client redis.UniversalClient
	Prefix string
	Logger *zap.Logger
}

// Redis implements the shared state on redis
type Redis struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// New creates the shared state accessor
func New(conf Config) *Redis {
	return &Redis{
		client: conf.Client,
		prefix: conf.Prefix,
		logger: conf.Logger,
	}
}

func (r *Redis) sessionKey(name string) string { return r.prefix + "session:" + name }

func (r *Redis) disconnectedKey(name string) string { return r.prefix + "disconnected:" + name }

func (r *Redis) systemInfoKey() string { return r.prefix + "system-info" }

func (r *Redis) channel() string { return r.prefix + cancelChannel }

// SetCurrent records sessionID as the authoritative session of worker name
func (r *Redis) SetCurrent(ctx context.Context, name, sessionID string) error {
	if err := r.client.Set(ctx, r.sessionKey(name), sessionID, 0).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, r.disconnectedKey(name)).Err()
}

// Current returns the authoritative session id of worker name, empty if none
func (r *Redis) Current(ctx context.Context, name string) (string, error) {
	id, err := r.client.Get(ctx, r.sessionKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

// ClearCurrent removes the session record if it still names sessionID
func (r *Redis) ClearCurrent(ctx context.Context, name, sessionID string) (bool, error) {
	n, err := clearScript.Run(ctx, r.client, []string{r.sessionKey(name)}, sessionID).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkDisconnected leaves a marker that worker name went away recently
func (r *Redis) MarkDisconnected(ctx context.Context, name string, ttl time.Duration) error {
	return r.client.Set(ctx, r.disconnectedKey(name), time.Now().Unix(), ttl).Err()
}

// DisconnectedAt returns the time worker name disconnected if that happened recently
func (r *Redis) DisconnectedAt(ctx context.Context, name string) (time.Time, bool, error) {
	sec, err := r.client.Get(ctx, r.disconnectedKey(name)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, err
	}
	return time.Unix(sec, 0), true, nil
}

// SetSystemInfo stores the system information reported by worker name
func (r *Redis) SetSystemInfo(ctx context.Context, name string, info map[string]any) error {
	b, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("system info of %s: %w", name, err)
	}
	return r.client.HSet(ctx, r.systemInfoKey(), name, b).Err()
}

// SystemInfo returns system information of all workers ever connected
func (r *Redis) SystemInfo(ctx context.Context) (map[string]map[string]any, error) {
	all, err := r.client.HGetAll(ctx, r.systemInfoKey()).Result()
	if err != nil {
		return nil, err
	}
	ret := make(map[string]map[string]any, len(all))
	for name, v := range all {
		var info map[string]any
		if err := json.Unmarshal([]byte(v), &info); err != nil {
			r.logger.Warn("malformed system info", zap.String("name", name), zap.Error(err))
			continue
		}
		ret[name] = info
	}
	return ret, nil
}

// Publish broadcasts cancellation of taskID to every gateway process
func (r *Redis) Publish(ctx context.Context, taskID string) error {
	return r.client.Publish(ctx, r.channel(), taskID).Err()
}

// Subscription delivers broadcast task ids until closed
type Subscription interface {
	// C returns the channel of cancelled task ids, closed with the subscription
	C() <-chan string
	Close() error
}

// Subscribe starts listening for cancel broadcasts. It returns after the
// subscription is confirmed by redis.
func (r *Redis) Subscribe(ctx context.Context) (Subscription, error) {
	ps := r.client.Subscribe(ctx, r.channel())
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s := &subscription{
		ps:   ps,
		c:    make(chan string),
		done: make(chan struct{}),
	}
	go s.loop(ps.Channel())
	return s, nil
}

type subscription struct {
	ps   *redis.PubSub
	c    chan string
	once sync.Once
	done chan struct{}
}

func (s *subscription) C() <-chan string {
	return s.c
}

func (s *subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.ps.Close()
}

func (s *subscription) loop(msgs <-chan *redis.Message) {
	defer close(s.c)
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case s.c <- m.Payload:
			case <-s.done:
				return
			}
		}
	}
}
