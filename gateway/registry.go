package gateway

import (
	"sort"
	"sync"

	"github.com/criyle/judge-gateway/types"
)

// Registry indexes the sessions of this process and the tasks they hold.
// A task id maps to at most one session, either pending (sent, waiting for ack)
// or running (acked).
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*Session
	running  map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		pending:  make(map[string]*Session),
		running:  make(map[string]*Session),
	}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *Registry) active(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[s.id] == s
}

// addPending records task as sent to s, false if s is gone
func (r *Registry) addPending(s *Session, task *types.Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.id] != s {
		return false
	}
	if old, ok := r.pending[task.TaskID]; ok {
		delete(old.pending, task.TaskID)
	}
	s.pending[task.TaskID] = task
	r.pending[task.TaskID] = s
	return true
}

// ack moves the task from pending to running, false if it was no longer pending on s
func (r *Registry) ack(s *Session, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[taskID] != s {
		return false
	}
	delete(r.pending, taskID)
	delete(s.pending, taskID)
	r.running[taskID] = s
	s.running[taskID] = struct{}{}
	return true
}

// dropPending removes the task from pending, the caller owns it if true
func (r *Registry) dropPending(s *Session, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[taskID] != s {
		return false
	}
	delete(r.pending, taskID)
	delete(s.pending, taskID)
	return true
}

// finish removes the running task
func (r *Registry) finish(s *Session, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[taskID] != s {
		return
	}
	delete(r.running, taskID)
	delete(s.running, taskID)
}

// take removes s and returns the tasks it held. ok is false if s was already removed.
func (r *Registry) take(s *Session) (pending []*types.Task, running []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.id] != s {
		return nil, nil, false
	}
	delete(r.sessions, s.id)
	for id, t := range s.pending {
		pending = append(pending, t)
		delete(r.pending, id)
	}
	for id := range s.running {
		running = append(running, id)
		delete(r.running, id)
	}
	s.pending = make(map[string]*types.Task)
	s.running = make(map[string]struct{})
	return pending, running, true
}

// lookup finds the session holding taskID
func (r *Registry) lookup(taskID string) (s *Session, pending bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.pending[taskID]; ok {
		return s, true
	}
	return r.running[taskID], false
}

func (r *Registry) all() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		ret = append(ret, s)
	}
	return ret
}

// List returns snapshots of all sessions ordered by worker name
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		info := SessionInfo{
			ID:          s.id,
			Name:        s.identity.Name,
			RemoteAddr:  s.conn.RemoteAddr(),
			ConnectedAt: s.connectedAt,
			Pending:     make([]string, 0, len(s.pending)),
			Running:     make([]string, 0, len(s.running)),
		}
		for id := range s.pending {
			info.Pending = append(info.Pending, id)
		}
		for id := range s.running {
			info.Running = append(info.Running, id)
		}
		sort.Strings(info.Pending)
		sort.Strings(info.Running)
		ret = append(ret, info)
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Name != ret[j].Name {
			return ret[i].Name < ret[j].Name
		}
		return ret[i].ConnectedAt.Before(ret[j].ConnectedAt)
	})
	return ret
}
