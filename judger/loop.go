package judger

import (
	"context"
	"time"

	"github.com/criyle/judge-gateway/client"
	"github.com/criyle/judge-gateway/data"
	"github.com/criyle/judge-gateway/types"
	"go.uber.org/zap"
)

// Loop fetch judge task from client and report results until ctx is done
func (j *Judger) Loop(ctx context.Context) {
	c := j.Client.C()
	for {
		select {
		case t := <-c:
			j.judge(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

func (j *Judger) judge(ctx context.Context, t client.Task) {
	start := time.Now()
	logger := j.Logger.With(zap.String("taskId", t.Param().TaskID), zap.Int("thread", t.ThreadID()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.Context(), cancel)
	defer stop()

	result := j.run(ctx, t, logger)
	if t.Context().Err() != nil {
		result = &types.Progress{Status: types.StatusCanceled, Message: "cancelled"}
	}
	if result.TotalOccupiedTime == 0 {
		result.TotalOccupiedTime = time.Since(start).Milliseconds()
	}
	if err := t.Finish(result); err != nil {
		logger.Warn("failed to report result", zap.Error(err))
		return
	}
	logger.Info("task finished", zap.String("status", string(result.Status)), zap.Duration("time", time.Since(start)))
}

func (j *Judger) run(ctx context.Context, t client.Task, logger *zap.Logger) *types.Progress {
	errResult := func(err error) *types.Progress {
		logger.Warn("task failed", zap.Error(err))
		return &types.Progress{Status: types.StatusSystemError, Message: err.Error()}
	}

	if err := t.Progress(&types.Progress{Type: types.ProgressStarted}); err != nil {
		logger.Debug("failed to report start", zap.Error(err))
	}

	p := t.Param()
	files := make(map[string]string, len(p.ExtraInfo.TestData)+1)
	for name, id := range p.ExtraInfo.TestData {
		files[name] = id
	}
	if a := p.ExtraInfo.SubmitAnswer; a != nil {
		files[data.AnswerFileName] = a.AnswerFileID
	}
	fetched, err := j.Fetcher.Fetch(ctx, t, files)
	if err != nil {
		return errResult(err)
	}

	result, err := j.Runner.Run(ctx, t, fetched)
	if err != nil {
		return errResult(err)
	}
	return result
}
