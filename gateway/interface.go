package gateway

import (
	"context"
	"time"

	"github.com/criyle/judge-gateway/cluster"
	"github.com/criyle/judge-gateway/protocol"
	"github.com/criyle/judge-gateway/types"
)

// Conn is a worker connection. Implementations must be safe for concurrent use.
type Conn interface {
	// RemoteAddr is the network address of the worker
	RemoteAddr() string

	// Emit sends a message without waiting for the worker
	Emit(event protocol.Event, payload any) error

	// Request sends a message and waits until the worker acks it or ctx is done.
	// onAck runs when the ack arrives, before the transport can report the
	// connection closed. A nil error means onAck has run.
	Request(ctx context.Context, event protocol.Event, payload any, onAck func()) error

	// Close closes the connection, Disconnect is called by the transport afterwards
	Close()
}

// Locker runs body under the cluster wide exclusive lock name
type Locker interface {
	Lock(ctx context.Context, name string, body func(context.Context) error) error
}

// ProgressReporter receives task progress. It reports whether the task is still
// wanted, false means it was cancelled or superseded.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, taskID string, progress *types.Progress) (bool, error)
}

// Signer creates download URLs for file ids
type Signer interface {
	SignDownloadURL(fileID string) (string, error)
}

// IdentityResolver resolves a credential presented from remoteAddr
type IdentityResolver interface {
	Resolve(key, remoteAddr string) (*types.WorkerIdentity, error)
}

// SessionState is the cluster wide record of the authoritative session of every worker
type SessionState interface {
	SetCurrent(ctx context.Context, name, sessionID string) error
	Current(ctx context.Context, name string) (string, error)
	ClearCurrent(ctx context.Context, name, sessionID string) (bool, error)
	MarkDisconnected(ctx context.Context, name string, ttl time.Duration) error
}

// Broadcaster fans cancellations out to every gateway process
type Broadcaster interface {
	Publish(ctx context.Context, taskID string) error
	Subscribe(ctx context.Context) (cluster.Subscription, error)
}

// SystemInfoStore keeps the last system information of each worker
type SystemInfoStore interface {
	SetSystemInfo(ctx context.Context, name string, info map[string]any) error
}
