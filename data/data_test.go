package data

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"
)

type urlRequester struct {
	base string
	ids  []string
}

func (r *urlRequester) RequestFiles(_ context.Context, fileIDs []string) ([]string, error) {
	r.ids = fileIDs
	urls := make([]string, len(fileIDs))
	for i, id := range fileIDs {
		urls[i] = r.base + "/file/" + id
	}
	return urls, nil
}

func TestFetch(t *testing.T) {
	var failures atomic.Int32
	failures.Store(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/file/")
		switch {
		case id == "flaky" && failures.Add(-1) >= 0:
			w.WriteHeader(http.StatusServiceUnavailable)
		case id == "missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte("content of " + id))
		}
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client(), 3, zaptest.NewLogger(t))
	r := &urlRequester{base: srv.URL}
	got, err := d.Fetch(context.Background(), r, map[string]string{"2.in": "b", "1.in": "a", "1.out": "flaky"})
	if err != nil {
		t.Fatal(err)
	}
	if string(got["1.in"]) != "content of a" || string(got["2.in"]) != "content of b" || string(got["1.out"]) != "content of flaky" {
		t.Fatalf("unexpected files %q", got)
	}
	// requested in file name order
	if strings.Join(r.ids, ",") != "a,flaky,b" {
		t.Fatalf("requested ids %v", r.ids)
	}

	_, err = d.Fetch(context.Background(), r, map[string]string{"x": "missing"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

type failingRequester struct{}

func (failingRequester) RequestFiles(context.Context, []string) ([]string, error) {
	return nil, errors.New("not connected")
}

func TestFetchRequestError(t *testing.T) {
	d := NewDownloader(nil, 1, zaptest.NewLogger(t))
	if _, err := d.Fetch(context.Background(), failingRequester{}, map[string]string{"a": "a"}); err == nil {
		t.Fatal("expected error")
	}
	got, err := d.Fetch(context.Background(), failingRequester{}, nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty fetch = %v, %v", got, err)
	}
}
