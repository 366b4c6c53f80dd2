// Package data downloads the files of a judge task through signed urls
package data

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// AnswerFileName is the name under which the answer file of a submit answer task is returned
const AnswerFileName = ".answer"

// Requester resolves file ids to download urls
type Requester interface {
	RequestFiles(ctx context.Context, fileIDs []string) ([]string, error)
}

// Downloader fetches files over http, retrying transient failures
type Downloader struct {
	client   *http.Client
	maxTries uint
	logger   *zap.Logger
}

// NewDownloader creates a downloader, nil client uses http.DefaultClient
func NewDownloader(client *http.Client, maxTries uint, logger *zap.Logger) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if maxTries == 0 {
		maxTries = 3
	}
	return &Downloader{client: client, maxTries: maxTries, logger: logger}
}

// Fetch downloads files (file name -> file id), returning file name -> content
func (d *Downloader) Fetch(ctx context.Context, r Requester, files map[string]string) (map[string][]byte, error) {
	if len(files) == 0 {
		return map[string][]byte{}, nil
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	ids := make([]string, len(names))
	for i, name := range names {
		ids[i] = files[name]
	}

	urls, err := r.RequestFiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("request files: %w", err)
	}
	if len(urls) != len(ids) {
		return nil, fmt.Errorf("request files: got %d urls for %d files", len(urls), len(ids))
	}

	ret := make(map[string][]byte, len(names))
	for i, name := range names {
		b, err := d.get(ctx, urls[i])
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", name, err)
		}
		ret[name] = b
	}
	return ret, nil
}

func (d *Downloader) get(ctx context.Context, u string) ([]byte, error) {
	return backoff.Retry(ctx, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return io.ReadAll(resp.Body)
		case resp.StatusCode >= 500:
			d.logger.Debug("download failed, retrying", zap.Int("status", resp.StatusCode))
			return nil, fmt.Errorf("status %s", resp.Status)
		default:
			return nil, backoff.Permanent(fmt.Errorf("status %s", resp.Status))
		}
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(d.maxTries),
	)
}
