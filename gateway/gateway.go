// Package gateway manages judge worker sessions: authentication, dispatching
// queued tasks, tracking tasks sent to each worker and cancellation.
//
// A task sent to a worker is pending until the worker acks it. Pending tasks
// of a worker that goes away are put back into the queue. Acked tasks are the
// worker's responsibility and are only tracked for cancellation.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/criyle/judge-gateway/cluster"
	"github.com/criyle/judge-gateway/protocol"
	"github.com/criyle/judge-gateway/taskqueue"
	"github.com/criyle/judge-gateway/types"
	"go.uber.org/zap"
)

// ErrAuthenticationFailed is returned by Connect for a rejected credential
var ErrAuthenticationFailed = errors.New("gateway: authentication failed")

// Config defines the gateway collaborators and timing
type Config struct {
	Queue       taskqueue.Queue
	Locker      Locker
	Reporter    ProgressReporter
	Signer      Signer
	Identities  IdentityResolver
	Sessions    SessionState
	Broadcaster Broadcaster
	SystemInfo  SystemInfoStore
	Registry    *Registry

	// RuntimeConfig is sent to workers in the ready event
	RuntimeConfig map[string]any

	PollTimeout         time.Duration // dequeue wait of one dispatch attempt
	AckTimeout          time.Duration // wait for the worker to ack a task
	CloseDelay          time.Duration // delay before closing an unauthenticated connection
	DisconnectMarkerTTL time.Duration

	Logger   *zap.Logger
	Observer func(Event)
}

// Gateway serves worker sessions
type Gateway struct {
	queue       taskqueue.Queue
	locker      Locker
	reporter    ProgressReporter
	signer      Signer
	identities  IdentityResolver
	sessions    SessionState
	broadcaster Broadcaster
	systemInfo  SystemInfoStore
	registry    *Registry

	runtimeConfig map[string]any

	pollTimeout         time.Duration
	ackTimeout          time.Duration
	closeDelay          time.Duration
	disconnectMarkerTTL time.Duration

	logger   *zap.Logger
	observer func(Event)

	mu  sync.Mutex
	sub cluster.Subscription
	wg  sync.WaitGroup
}

// New creates a gateway
func New(conf Config) *Gateway {
	g := &Gateway{
		queue:               conf.Queue,
		locker:              conf.Locker,
		reporter:            conf.Reporter,
		signer:              conf.Signer,
		identities:          conf.Identities,
		sessions:            conf.Sessions,
		broadcaster:         conf.Broadcaster,
		systemInfo:          conf.SystemInfo,
		registry:            conf.Registry,
		runtimeConfig:       conf.RuntimeConfig,
		pollTimeout:         conf.PollTimeout,
		ackTimeout:          conf.AckTimeout,
		closeDelay:          conf.CloseDelay,
		disconnectMarkerTTL: conf.DisconnectMarkerTTL,
		logger:              conf.Logger,
		observer:            conf.Observer,
	}
	if g.registry == nil {
		g.registry = NewRegistry()
	}
	if g.pollTimeout <= 0 {
		g.pollTimeout = 5 * time.Second
	}
	if g.ackTimeout <= 0 {
		g.ackTimeout = 10 * time.Second
	}
	if g.closeDelay <= 0 {
		g.closeDelay = time.Second
	}
	if g.disconnectMarkerTTL <= 0 {
		g.disconnectMarkerTTL = 5 * time.Minute
	}
	if g.observer == nil {
		g.observer = func(Event) {}
	}
	return g
}

// Registry returns the session registry of this process
func (g *Gateway) Registry() *Registry {
	return g.registry
}

func workerLockName(name string) string {
	return "worker:" + name
}

// Connect authenticates the connection and registers it as the current session
// of its worker. On failure the worker is notified and the connection closed
// after a short delay.
func (g *Gateway) Connect(ctx context.Context, conn Conn, credential string) (*Session, error) {
	identity, err := g.identities.Resolve(credential, conn.RemoteAddr())
	if err != nil {
		g.logger.Warn("worker authentication failed", zap.String("remote", conn.RemoteAddr()), zap.Error(err))
		g.observer(Event{Kind: EventAuthFailed})
		if err := conn.Emit(protocol.EventAuthenticationFailed, &protocol.AuthenticationFailed{Message: "invalid key"}); err != nil {
			g.logger.Debug("failed to send authentication failure", zap.Error(err))
		}
		time.AfterFunc(g.closeDelay, conn.Close)
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	s := newSession(conn, *identity)
	logger := g.logger.With(zap.String("worker", s.Name()), zap.String("session", s.id))
	err = g.locker.Lock(ctx, workerLockName(s.Name()), func(ctx context.Context) error {
		g.registry.add(s)
		if err := g.sessions.SetCurrent(ctx, s.Name(), s.id); err != nil {
			g.registry.take(s)
			return err
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to register session", zap.Error(err))
		g.registry.take(s)
		s.cancel()
		conn.Close()
		return nil, fmt.Errorf("register %s: %w", s.Name(), err)
	}

	logger.Info("worker connected", zap.String("remote", conn.RemoteAddr()))
	g.observer(Event{Kind: EventConnected, Worker: s.Name()})
	if err := conn.Emit(protocol.EventReady, &protocol.Ready{Name: s.Name(), Config: g.runtimeConfig}); err != nil {
		logger.Warn("failed to send ready", zap.Error(err))
	}
	return s, nil
}

// Disconnect removes the session and puts every task it has not acked back into
// the queue. It is safe to call more than once.
func (g *Gateway) Disconnect(ctx context.Context, s *Session) {
	ctx = context.WithoutCancel(ctx)
	pending, running, ok := g.registry.take(s)
	s.cancel()
	if !ok {
		return
	}
	logger := g.logger.With(zap.String("worker", s.Name()), zap.String("session", s.id))

	err := g.locker.Lock(ctx, workerLockName(s.Name()), func(ctx context.Context) error {
		cleared, err := g.sessions.ClearCurrent(ctx, s.Name(), s.id)
		if err != nil {
			return err
		}
		if !cleared {
			logger.Info("session already superseded")
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to clear current session", zap.Error(err))
	}

	for _, t := range pending {
		g.requeue(ctx, s, t)
	}
	for _, id := range running {
		logger.Warn("running task abandoned by disconnected worker", zap.String("taskId", id))
		g.observer(Event{Kind: EventAbandoned, Worker: s.Name(), TaskID: id})
	}

	if err := g.sessions.MarkDisconnected(ctx, s.Name(), g.disconnectMarkerTTL); err != nil {
		logger.Warn("failed to mark disconnected", zap.Error(err))
	}
	logger.Info("worker disconnected", zap.Int("requeued", len(pending)), zap.Int("abandoned", len(running)))
	g.observer(Event{Kind: EventDisconnected, Worker: s.Name()})
}

// valid reports whether s is still the authoritative session of its worker
func (g *Gateway) valid(ctx context.Context, s *Session) bool {
	if !g.registry.active(s) {
		return false
	}
	current, err := g.sessions.Current(ctx, s.Name())
	if err != nil {
		g.logger.Error("failed to read current session", zap.String("worker", s.Name()), zap.Error(err))
		return false
	}
	return current == s.id
}

func (g *Gateway) requeue(ctx context.Context, s *Session, t *types.Task) {
	ctx = context.WithoutCancel(ctx)
	if err := g.queue.Enqueue(ctx, t.TaskID, t.Priority, true); err != nil {
		g.logger.Error("failed to requeue task", zap.String("worker", s.Name()), zap.String("taskId", t.TaskID), zap.Error(err))
		return
	}
	g.observer(Event{Kind: EventRequeued, Worker: s.Name(), TaskID: t.TaskID})
}

// HandleProgress forwards progress of a task to the reporter. The worker is told
// to cancel the task if it is no longer wanted.
func (g *Gateway) HandleProgress(ctx context.Context, s *Session, p *protocol.Progress) error {
	if !g.registry.active(s) {
		g.logger.Warn("progress from closed session ignored", zap.String("worker", s.Name()), zap.String("taskId", p.TaskID))
		return nil
	}
	still, err := g.reporter.ReportProgress(ctx, p.TaskID, &p.Progress)
	if err != nil {
		return fmt.Errorf("report progress of %s: %w", p.TaskID, err)
	}
	if p.Progress.Type == types.ProgressFinished {
		g.registry.finish(s, p.TaskID)
	}
	if !still {
		g.logger.Info("progress of cancelled task, cancelling on worker", zap.String("worker", s.Name()), zap.String("taskId", p.TaskID))
		g.registry.finish(s, p.TaskID)
		g.observer(Event{Kind: EventCanceled, Worker: s.Name(), TaskID: p.TaskID})
		if err := s.conn.Emit(protocol.EventCancel, &protocol.Cancel{TaskID: p.TaskID}); err != nil {
			g.logger.Warn("failed to send cancel", zap.String("worker", s.Name()), zap.Error(err))
		}
	}
	return nil
}

// HandleSystemInfo stores the worker's system information
func (g *Gateway) HandleSystemInfo(ctx context.Context, s *Session, info protocol.SystemInfo) error {
	if !g.registry.active(s) {
		g.logger.Warn("system info from closed session ignored", zap.String("worker", s.Name()))
		return nil
	}
	return g.systemInfo.SetSystemInfo(ctx, s.Name(), info)
}

// HandleRequestFiles returns download URLs of the file ids in order
func (g *Gateway) HandleRequestFiles(ctx context.Context, s *Session, fileIDs []string) ([]string, error) {
	urls := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		u, err := g.signer.SignDownloadURL(id)
		if err != nil {
			return nil, fmt.Errorf("sign %s: %w", id, err)
		}
		urls = append(urls, u)
	}
	if ce := g.logger.Check(zap.DebugLevel, "files requested"); ce != nil {
		ce.Write(zap.String("worker", s.Name()), zap.Strings("fileIds", fileIDs))
	}
	return urls, nil
}

// Shutdown stops the cancel listener and disconnects every session of this process
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	sub := g.sub
	g.sub = nil
	g.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
	g.wg.Wait()

	for _, s := range g.registry.all() {
		s.conn.Close()
		g.Disconnect(ctx, s)
	}
	return nil
}
