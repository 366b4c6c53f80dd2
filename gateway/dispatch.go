package gateway

import (
	"context"
	"fmt"

	"github.com/criyle/judge-gateway/protocol"
	"github.com/criyle/judge-gateway/types"
	"go.uber.org/zap"
)

// HandleConsumeTask polls the queue until one task is delivered to the worker
// thread, or the session stops being the authoritative session of its worker.
// A queue failure ends the loop and is returned.
func (g *Gateway) HandleConsumeTask(ctx context.Context, s *Session, threadID int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	logger := g.logger.With(zap.String("worker", s.Name()), zap.Int("thread", threadID))
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !g.valid(ctx, s) {
			logger.Warn("consume task from superseded or closed session ignored", zap.String("session", s.id))
			return nil
		}

		// a popped task must not be lost to cancellation, the poll timeout bounds the wait
		task, err := g.queue.Dequeue(context.WithoutCancel(ctx), g.pollTimeout)
		if err != nil {
			return fmt.Errorf("dequeue for %s/%d: %w", s.Name(), threadID, err)
		}
		if task == nil {
			continue
		}
		g.dispatch(ctx, s, threadID, task, logger)
		return nil
	}
}

// dispatch sends the task and waits for the ack. Whichever of this and
// Disconnect removes the task from pending first decides its fate.
func (g *Gateway) dispatch(ctx context.Context, s *Session, threadID int, task *types.Task, logger *zap.Logger) {
	logger = logger.With(zap.String("taskId", task.TaskID))
	if !g.valid(ctx, s) || !g.registry.addPending(s, task) {
		logger.Info("session lost before dispatch, requeue")
		g.requeue(ctx, s, task)
		return
	}
	g.observer(Event{Kind: EventDispatched, Worker: s.Name(), TaskID: task.TaskID})

	// the ack is recorded on the reading goroutine so that a disconnect right
	// after it finds the task running
	onAck := func() {
		if g.registry.ack(s, task.TaskID) {
			logger.Debug("task acked")
			g.observer(Event{Kind: EventAcked, Worker: s.Name(), TaskID: task.TaskID})
		} else {
			logger.Warn("ack arrived after the task was taken back")
		}
	}
	ackCtx, cancel := context.WithTimeout(ctx, g.ackTimeout)
	err := s.conn.Request(ackCtx, protocol.EventTask, &protocol.Task{ThreadID: threadID, Task: *task}, onAck)
	cancel()
	if err == nil {
		return
	}

	if !g.registry.dropPending(s, task.TaskID) {
		// a late ack, a disconnect or a cancel already took care of it
		return
	}
	logger.Warn("task not acked, requeue", zap.Error(err))
	g.requeue(ctx, s, task)
	if err := s.conn.Emit(protocol.EventCancel, &protocol.Cancel{TaskID: task.TaskID}); err != nil {
		logger.Debug("failed to send cancel of unacked task", zap.Error(err))
	}
}
