package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/criyle/judge-gateway/taskqueue"
)

func TestStoreOrderAndTies(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, e := range []struct {
		id    string
		score float64
	}{{"x", 2}, {"y", 1}, {"z", 2}, {"w", 1}} {
		if err := s.Push(ctx, e.id, e.score); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"y", "w", "x", "z"} {
		id, _, err := s.PopMin(ctx, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if id != want {
			t.Fatalf("PopMin() = %s, want %s", id, want)
		}
	}
}

func TestStoreUpsert(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Push(ctx, "a", 5)
	s.Push(ctx, "b", 3)
	s.Push(ctx, "a", 1)
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	id, score, err := s.PopMin(ctx, time.Second)
	if err != nil || id != "a" || score != 1 {
		t.Fatalf("PopMin() = %s, %v, %v", id, score, err)
	}
}

func TestStoreTimeout(t *testing.T) {
	s := New()
	start := time.Now()
	_, _, err := s.PopMin(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, taskqueue.ErrEmpty) {
		t.Fatalf("PopMin() error = %v, want ErrEmpty", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("PopMin() returned before timeout")
	}
}

func TestStoreWakeup(t *testing.T) {
	s := New()
	ctx := context.Background()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Push(ctx, "late", 1)
	}()
	id, _, err := s.PopMin(ctx, 5*time.Second)
	if err != nil || id != "late" {
		t.Fatalf("PopMin() = %s, %v", id, err)
	}
}

func TestStoreContextCanceled(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.PopMin(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("PopMin() error = %v, want context.Canceled", err)
	}
}
