// Package client defines the worker side view of a judge gateway.
package client

import (
	"context"

	"github.com/criyle/judge-gateway/types"
)

// Task contains a single task received from the gateway
type Task interface {
	// Param get the judge task
	Param() *types.Task

	// ThreadID is the judge thread the task was delivered to
	ThreadID() int

	// Context is done when the gateway cancels the task
	Context() context.Context

	// RequestFiles resolves file ids into download URLs, in order
	RequestFiles(ctx context.Context, fileIDs []string) ([]string, error)

	// Progress reports intermediate progress (started / compiled / progress)
	Progress(*types.Progress) error

	// Finish reports the final result and frees the judge thread
	Finish(*types.Progress) error
}

// Client should connect to the gateway and receive works from it
// it should sent received work through go channel (have background goroutine(s))
type Client interface {
	// C return channel to receive works
	C() <-chan Task
}
