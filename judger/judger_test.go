package judger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/criyle/judge-gateway/client"
	"github.com/criyle/judge-gateway/data"
	"github.com/criyle/judge-gateway/types"
	"go.uber.org/zap/zaptest"
)

type fakeTask struct {
	param *types.Task
	ctx   context.Context

	mu       sync.Mutex
	progress []types.ProgressType
	finished chan *types.Progress
}

func newFakeTask(ctx context.Context, p *types.Task) *fakeTask {
	return &fakeTask{param: p, ctx: ctx, finished: make(chan *types.Progress, 1)}
}

func (t *fakeTask) Param() *types.Task { return t.param }

func (t *fakeTask) ThreadID() int { return 0 }

func (t *fakeTask) Context() context.Context { return t.ctx }

func (t *fakeTask) Finish(p *types.Progress) error {
	t.finished <- p
	return nil
}

func (t *fakeTask) RequestFiles(_ context.Context, ids []string) ([]string, error) {
	return ids, nil
}

func (t *fakeTask) Progress(p *types.Progress) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = append(t.progress, p.Type)
	return nil
}

type chanClient chan client.Task

func (c chanClient) C() <-chan client.Task { return c }

// mapFetcher returns the file ids as content
type mapFetcher struct {
	err error
}

func (f mapFetcher) Fetch(_ context.Context, _ data.Requester, files map[string]string) (map[string][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	ret := make(map[string][]byte, len(files))
	for name, id := range files {
		ret[name] = []byte(id)
	}
	return ret, nil
}

type runnerFunc func(ctx context.Context, t client.Task, files map[string][]byte) (*types.Progress, error)

func (f runnerFunc) Run(ctx context.Context, t client.Task, files map[string][]byte) (*types.Progress, error) {
	return f(ctx, t, files)
}

func startJudger(t *testing.T, fetcher Fetcher, runner Runner) chanClient {
	c := make(chanClient, 1)
	j := &Judger{Client: c, Fetcher: fetcher, Runner: runner, Logger: zaptest.NewLogger(t)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Loop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func waitFinish(t *testing.T, task *fakeTask) *types.Progress {
	t.Helper()
	select {
	case p := <-task.finished:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("task not finished")
		return nil
	}
}

func TestJudgeSubmitAnswer(t *testing.T) {
	var got map[string][]byte
	c := startJudger(t, mapFetcher{}, runnerFunc(func(_ context.Context, _ client.Task, files map[string][]byte) (*types.Progress, error) {
		got = files
		score := 100.0
		return &types.Progress{Status: types.StatusAccepted, Score: &score}, nil
	}))

	task := newFakeTask(context.Background(), &types.Task{
		TaskID: "t1",
		ExtraInfo: types.ExtraInfo{
			ProblemType:  types.ProblemTypeSubmitAnswer,
			TestData:     map[string]string{"1.in": "in-1"},
			SubmitAnswer: &types.AnswerFileRef{AnswerFileID: "ans"},
		},
	})
	c <- task
	p := waitFinish(t, task)
	if p.Status != types.StatusAccepted || *p.Score != 100 {
		t.Fatalf("result = %+v", p)
	}
	if string(got["1.in"]) != "in-1" || string(got[data.AnswerFileName]) != "ans" {
		t.Fatalf("files = %q", got)
	}
	if len(task.progress) != 1 || task.progress[0] != types.ProgressStarted {
		t.Fatalf("progress = %v", task.progress)
	}
}

func TestJudgeFetchError(t *testing.T) {
	c := startJudger(t, mapFetcher{err: errors.New("gateway unreachable")}, runnerFunc(func(context.Context, client.Task, map[string][]byte) (*types.Progress, error) {
		t.Error("runner called after fetch failure")
		return nil, nil
	}))
	task := newFakeTask(context.Background(), &types.Task{TaskID: "t1"})
	c <- task
	p := waitFinish(t, task)
	if p.Status != types.StatusSystemError || p.Message != "gateway unreachable" {
		t.Fatalf("result = %+v", p)
	}
}

func TestJudgeCanceled(t *testing.T) {
	c := startJudger(t, mapFetcher{}, runnerFunc(func(ctx context.Context, _ client.Task, _ map[string][]byte) (*types.Progress, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	taskCtx, cancel := context.WithCancel(context.Background())
	task := newFakeTask(taskCtx, &types.Task{TaskID: "t1"})
	c <- task
	cancel()
	p := waitFinish(t, task)
	if p.Status != types.StatusCanceled {
		t.Fatalf("result = %+v", p)
	}
}
