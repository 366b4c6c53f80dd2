package gateway

import (
	"context"
	"fmt"

	"github.com/criyle/judge-gateway/protocol"
	"go.uber.org/zap"
)

// Cancel asks whichever gateway process holds the task to cancel it on the worker
func (g *Gateway) Cancel(ctx context.Context, taskID string) error {
	if err := g.broadcaster.Publish(ctx, taskID); err != nil {
		return fmt.Errorf("publish cancel %s: %w", taskID, err)
	}
	return nil
}

// Listen subscribes to cancel broadcasts and serves them in background until
// Shutdown. It returns once the subscription is active.
func (g *Gateway) Listen(ctx context.Context) error {
	sub, err := g.broadcaster.Subscribe(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.sub = sub
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for id := range sub.C() {
			g.cancelLocal(id)
		}
	}()
	return nil
}

// cancelLocal emits cancel to the session of this process holding the task.
// A pending task is taken back so it is neither acked nor requeued.
func (g *Gateway) cancelLocal(taskID string) {
	s, pending := g.registry.lookup(taskID)
	if s == nil {
		g.logger.Debug("cancelled task not held here", zap.String("taskId", taskID))
		return
	}
	if pending {
		g.registry.dropPending(s, taskID)
	}
	g.logger.Info("cancel task", zap.String("worker", s.Name()), zap.String("taskId", taskID))
	g.observer(Event{Kind: EventCanceled, Worker: s.Name(), TaskID: taskID})
	if err := s.conn.Emit(protocol.EventCancel, &protocol.Cancel{TaskID: taskID}); err != nil {
		g.logger.Warn("failed to send cancel", zap.String("worker", s.Name()), zap.Error(err))
	}
}
