// Command judge-client is a demo worker of the judge gateway. It downloads the
// files of every task it receives and reports a fixed result, useful to
// exercise a gateway deployment end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/criyle/judge-gateway/client"
	"github.com/criyle/judge-gateway/client/judgeclient"
	"github.com/criyle/judge-gateway/data"
	"github.com/criyle/judge-gateway/judger"
	"github.com/criyle/judge-gateway/types"
	"github.com/koding/multiconfig"
	"go.uber.org/zap"
)

type config struct {
	URL     string        `flagUsage:"gateway websocket url" default:"ws://localhost:5060/judge"`
	Key     string        `flagUsage:"worker key"`
	Codec   string        `flagUsage:"wire codec: json or msgpack" default:"msgpack"`
	Threads int           `flagUsage:"number of judge threads (default equal to number of cpu)"`
	Delay   time.Duration `flagUsage:"simulated judging time of a task" default:"100ms"`
	Release bool          `flagUsage:"release level of logs"`
}

func (c *config) load() error {
	cl := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.EnvironmentLoader{
			Prefix:    "JC",
			CamelCase: true,
		},
		&multiconfig.FlagLoader{
			CamelCase: true,
			EnvPrefix: "JC",
		},
	)
	if err := cl.Load(c); err != nil {
		return err
	}
	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU()
	}
	return nil
}

func main() {
	var conf config
	if err := conf.load(); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalln("load config failed ", err)
	}

	var logger *zap.Logger
	var err error
	if conf.Release {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalln("init logger failed ", err)
	}
	defer logger.Sync()

	hostname, _ := os.Hostname()
	c, err := judgeclient.New(judgeclient.Config{
		URL:     conf.URL,
		Key:     conf.Key,
		Codec:   conf.Codec,
		Threads: conf.Threads,
		SystemInfo: map[string]any{
			"hostname": hostname,
			"os":       runtime.GOOS,
			"arch":     runtime.GOARCH,
			"cpus":     runtime.NumCPU(),
			"threads":  conf.Threads,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("create client failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	j := &judger.Judger{
		Client:  c,
		Fetcher: data.NewDownloader(nil, 3, logger),
		Runner:  &demoRunner{delay: conf.Delay},
		Logger:  logger,
	}
	var wg sync.WaitGroup
	for i := 0; i < conf.Threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.Loop(ctx)
		}()
	}

	err = c.Run(ctx)
	logger.Info("client stopped", zap.Error(err))
	stop()
	wg.Wait()
}

// demoRunner accepts every task after a fixed delay
type demoRunner struct {
	delay time.Duration
}

func (r *demoRunner) Run(ctx context.Context, t client.Task, files map[string][]byte) (*types.Progress, error) {
	var size int
	for _, b := range files {
		size += len(b)
	}
	if err := t.Progress(&types.Progress{
		Type:    types.ProgressCompiled,
		Status:  types.StatusAccepted,
		Message: fmt.Sprintf("%d files, %d bytes", len(files), size),
	}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.delay):
	}
	score := 100.0
	return &types.Progress{Status: types.StatusAccepted, Score: &score}, nil
}
