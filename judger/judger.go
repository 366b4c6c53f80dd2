// Package judger runs tasks received from the gateway on the worker side
package judger

import (
	"context"

	"github.com/criyle/judge-gateway/client"
	"github.com/criyle/judge-gateway/data"
	"github.com/criyle/judge-gateway/types"
	"go.uber.org/zap"
)

// Fetcher downloads the files of a task, file name -> content
type Fetcher interface {
	Fetch(ctx context.Context, r data.Requester, files map[string]string) (map[string][]byte, error)
}

// Runner judges a task whose files have been downloaded. Intermediate progress
// goes through t, the final result is returned.
type Runner interface {
	Run(ctx context.Context, t client.Task, files map[string][]byte) (*types.Progress, error)
}

// Judger receives task from client and hands them to the runner
type Judger struct {
	Client  client.Client
	Fetcher Fetcher
	Runner  Runner
	Logger  *zap.Logger
}
