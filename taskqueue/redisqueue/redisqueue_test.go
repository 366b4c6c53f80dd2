package redisqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/criyle/judge-gateway/taskqueue"
	"github.com/redis/go-redis/v9"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { c.Close() })
	return New(c, ""), mr
}

func TestPushPopMin(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	if err := s.Push(ctx, "a", 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(ctx, "b", 1); err != nil {
		t.Fatal(err)
	}
	// upsert
	if err := s.Push(ctx, "a", 0.5); err != nil {
		t.Fatal(err)
	}
	members, err := mr.ZMembers(DefaultKey)
	if err != nil || len(members) != 2 {
		t.Fatalf("members = %v, %v", members, err)
	}

	id, score, err := s.PopMin(ctx, time.Second)
	if err != nil || id != "a" || score != 0.5 {
		t.Fatalf("PopMin() = %s, %v, %v", id, score, err)
	}
	id, _, err = s.PopMin(ctx, time.Second)
	if err != nil || id != "b" {
		t.Fatalf("PopMin() = %s, %v", id, err)
	}
	n, err := s.Len(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Len() = %d, %v", n, err)
	}
}

func TestPopMinTimeout(t *testing.T) {
	s, _ := newStore(t)
	_, _, err := s.PopMin(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, taskqueue.ErrEmpty) {
		t.Fatalf("PopMin() error = %v, want ErrEmpty", err)
	}
}

func TestPopMinBlocksUntilPush(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Push(ctx, "late", 3)
	}()
	id, score, err := s.PopMin(ctx, 5*time.Second)
	if err != nil || id != "late" || score != 3 {
		t.Fatalf("PopMin() = %s, %v, %v", id, score, err)
	}
}
