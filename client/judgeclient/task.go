package judgeclient

import (
	"context"
	"errors"

	"github.com/criyle/judge-gateway/client"
	"github.com/criyle/judge-gateway/protocol"
	"github.com/criyle/judge-gateway/types"
)

var errCanceled = errors.New("judgeclient: task cancelled by gateway")

var _ client.Task = &Task{}

// Task is a task acked by this client
type Task struct {
	client   *Client
	threadID int
	task     *types.Task

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func newTask(c *Client, threadID int, task *types.Task) *Task {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Task{
		client:   c,
		threadID: threadID,
		task:     task,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Param param
func (t *Task) Param() *types.Task {
	return t.task
}

// ThreadID thread id
func (t *Task) ThreadID() int {
	return t.threadID
}

// Context is cancelled when the gateway cancels the task
func (t *Task) Context() context.Context {
	return t.ctx
}

// Canceled reports whether the gateway cancelled the task
func (t *Task) Canceled() bool {
	return errors.Is(context.Cause(t.ctx), errCanceled)
}

// RequestFiles requests download URLs
func (t *Task) RequestFiles(ctx context.Context, fileIDs []string) ([]string, error) {
	return t.client.requestFiles(ctx, fileIDs)
}

// Progress sends intermediate progress
func (t *Task) Progress(p *types.Progress) error {
	if t.Canceled() {
		return nil
	}
	return t.client.emit(protocol.EventProgress, &protocol.Progress{TaskID: t.task.TaskID, Progress: *p})
}

// Finish sends the final result and asks for the next task on the thread
func (t *Task) Finish(p *types.Progress) error {
	if !t.client.release(t) {
		return nil
	}
	defer t.cancel(context.Canceled)

	var err error
	if !t.Canceled() {
		r := *p
		r.Type = types.ProgressFinished
		err = t.client.emit(protocol.EventProgress, &protocol.Progress{TaskID: t.task.TaskID, Progress: r})
	}
	if cerr := t.client.emit(protocol.EventConsumeTask, &protocol.ConsumeTask{ThreadID: t.threadID}); err == nil {
		err = cerr
	}
	return err
}
