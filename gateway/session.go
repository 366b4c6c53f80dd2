package gateway

import (
	"context"
	"time"

	"github.com/criyle/judge-gateway/types"
	"github.com/google/uuid"
)

// Session is an authenticated worker connection
type Session struct {
	id          string
	identity    types.WorkerIdentity
	conn        Conn
	connectedAt time.Time

	// done when the session is disconnected
	ctx    context.Context
	cancel context.CancelFunc

	// guarded by the registry lock
	pending map[string]*types.Task // sent, not yet acked
	running map[string]struct{}    // acked, not yet finished
}

func newSession(conn Conn, identity types.WorkerIdentity) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:          uuid.NewString(),
		identity:    identity,
		conn:        conn,
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		pending:     make(map[string]*types.Task),
		running:     make(map[string]struct{}),
	}
}

// ID returns the unique id of the session
func (s *Session) ID() string {
	return s.id
}

// Name returns the worker name
func (s *Session) Name() string {
	return s.identity.Name
}

// Done is closed after the session is disconnected
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// SessionInfo is a snapshot of a session
type SessionInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	Pending     []string  `json:"pending"`
	Running     []string  `json:"running"`
}
