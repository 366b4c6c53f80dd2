// Package memory provides an in-process priority store for a single gateway
package memory

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/criyle/judge-gateway/taskqueue"
)

var _ taskqueue.Store = &Store{}

type entry struct {
	id    string
	score float64
	seq   uint64
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Store is a heap ordered store, ties are served in insertion order
type Store struct {
	mu     sync.Mutex
	heap   entryHeap
	byID   map[string]*entry
	seq    uint64
	notify chan struct{} // closed and replaced on every push
}

// New creates an empty store
func New() *Store {
	return &Store{
		byID:   make(map[string]*entry),
		notify: make(chan struct{}),
	}
}

// Push upserts id with score
func (s *Store) Push(_ context.Context, id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.byID[id]; ok {
		e.score = score
		heap.Fix(&s.heap, e.index)
	} else {
		s.seq++
		e := &entry{id: id, score: score, seq: s.seq}
		heap.Push(&s.heap, e)
		s.byID[id] = e
	}
	close(s.notify)
	s.notify = make(chan struct{})
	return nil
}

// PopMin removes the lowest entry, waiting up to timeout for one
func (s *Store) PopMin(ctx context.Context, timeout time.Duration) (string, float64, error) {
	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	for {
		s.mu.Lock()
		if s.heap.Len() > 0 {
			e := heap.Pop(&s.heap).(*entry)
			delete(s.byID, e.id)
			s.mu.Unlock()
			return e.id, e.score, nil
		}
		wait := s.notify
		s.mu.Unlock()

		select {
		case <-wait:
		case <-expire:
			return "", 0, taskqueue.ErrEmpty
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
}

// Len returns number of entries in the store
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}
