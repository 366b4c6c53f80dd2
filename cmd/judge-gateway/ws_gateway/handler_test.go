package wsgateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/criyle/judge-gateway/client/judgeclient"
	"github.com/criyle/judge-gateway/cluster"
	"github.com/criyle/judge-gateway/filestore"
	"github.com/criyle/judge-gateway/gateway"
	"github.com/criyle/judge-gateway/identity"
	"github.com/criyle/judge-gateway/lock"
	"github.com/criyle/judge-gateway/protocol"
	"github.com/criyle/judge-gateway/submission"
	"github.com/criyle/judge-gateway/taskqueue"
	"github.com/criyle/judge-gateway/taskqueue/redisqueue"
	"github.com/criyle/judge-gateway/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	url     string
	mr      *miniredis.Miniredis
	store   *submission.Store
	service *submission.Service
	signer  *filestore.Signer
	gw      *gateway.Gateway
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	db, err := submission.OpenDB(submission.DBConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	store := submission.NewStore(db, time.Hour, logger)
	locker := lock.New(rc, lock.Config{Prefix: "test:", RetryInterval: 5 * time.Millisecond}, logger)
	cl := cluster.New(cluster.Config{Client: rc, Prefix: "test:", Logger: logger})
	queue := taskqueue.New(taskqueue.Config{
		Store:    redisqueue.New(rc, "test:queue"),
		Resolver: store,
		Logger:   logger,
	})
	ids, err := identity.NewStatic([]types.WorkerIdentity{{Name: "judge-1", Key: "key-1"}})
	if err != nil {
		t.Fatal(err)
	}
	signer := filestore.NewSigner("secret", "http://files.test", time.Hour)

	gw := gateway.New(gateway.Config{
		Queue:         queue,
		Locker:        locker,
		Reporter:      store,
		Signer:        signer,
		Identities:    ids,
		Sessions:      cl,
		Broadcaster:   cl,
		SystemInfo:    cl,
		RuntimeConfig: map[string]any{"maxThreads": 2},
		PollTimeout:   50 * time.Millisecond,
		AckTimeout:    time.Second,
		CloseDelay:    50 * time.Millisecond,
		Logger:        logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := gw.Listen(ctx); err != nil {
		t.Fatal(err)
	}

	service := submission.NewService(submission.Config{
		Store:    store,
		Queue:    queue,
		Canceler: gw,
		Locker:   locker,
		Logger:   logger,
	})
	if err := store.PutProblem(context.Background(), &submission.Problem{
		ID:       1,
		Type:     types.ProblemTypeTraditional,
		TestData: submission.FileMap{"1.in": "fid-in"},
	}); err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	New(gw, logger).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		gw.Shutdown(context.Background())
		cancel()
	})
	return &testServer{
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/judge",
		mr:      mr,
		store:   store,
		service: service,
		signer:  signer,
		gw:      gw,
	}
}

func (s *testServer) submit(t *testing.T) *submission.Submission {
	t.Helper()
	sub := &submission.Submission{SubmitterID: 1, ProblemID: 1, Language: "cpp", Code: "int main(){}"}
	if err := s.service.Submit(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	return sub
}

func runClient(t *testing.T, conf judgeclient.Config) *judgeclient.Client {
	t.Helper()
	conf.Logger = zaptest.NewLogger(t)
	c, err := judgeclient.New(conf)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func receive(t *testing.T, c *judgeclient.Client) *judgeclient.Task {
	t.Helper()
	select {
	case task := <-c.C():
		return task.(*judgeclient.Task)
	case <-time.After(5 * time.Second):
		t.Fatal("no task received")
		return nil
	}
}

func waitStatus(t *testing.T, store *submission.Store, id uint64, want submission.Status) *submission.Submission {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		sub, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if sub.Status == want {
			return sub
		}
		if time.Now().After(deadline) {
			t.Fatalf("submission status %s, want %s", sub.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestJudgeRoundTrip(t *testing.T) {
	for _, codec := range []string{"json", "msgpack"} {
		t.Run(codec, func(t *testing.T) {
			s := newTestServer(t)
			c := runClient(t, judgeclient.Config{URL: s.url, Key: "key-1", Codec: codec, Threads: 2})
			sub := s.submit(t)

			task := receive(t, c)
			if task.Param().TaskID != sub.TaskID {
				t.Fatalf("task id %s, want %s", task.Param().TaskID, sub.TaskID)
			}
			if c.Name() != "judge-1" {
				t.Fatalf("worker name %q", c.Name())
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			urls, err := task.RequestFiles(ctx, task.Param().ExtraInfo.FileIDs())
			if err != nil {
				t.Fatal(err)
			}
			if len(urls) != 1 {
				t.Fatalf("urls = %v", urls)
			}
			u, err := url.Parse(urls[0])
			if err != nil {
				t.Fatal(err)
			}
			if err := s.signer.Verify("fid-in", u.Query().Get("expires"), u.Query().Get("sign")); err != nil {
				t.Fatalf("download url not signed for the file: %v", err)
			}

			if err := task.Progress(&types.Progress{Type: types.ProgressStarted}); err != nil {
				t.Fatal(err)
			}
			waitStatus(t, s.store, sub.ID, submission.StatusJudging)

			score := 100.0
			if err := task.Finish(&types.Progress{Status: types.StatusAccepted, Score: &score, TotalOccupiedTime: 20}); err != nil {
				t.Fatal(err)
			}
			got := waitStatus(t, s.store, sub.ID, submission.StatusFinished)
			if got.Result != types.StatusAccepted || got.Score == nil || *got.Score != 100 {
				t.Fatalf("unexpected result %+v", got)
			}
		})
	}
}

func TestCancelReachesWorker(t *testing.T) {
	s := newTestServer(t)
	c := runClient(t, judgeclient.Config{URL: s.url, Key: "key-1"})
	sub := s.submit(t)
	task := receive(t, c)

	// the ack may still be in flight
	deadline := time.Now().Add(5 * time.Second)
	for len(s.gw.Registry().List()) == 0 || len(s.gw.Registry().List()[0].Running) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("task never acked")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.service.CancelSubmission(context.Background(), sub.ID); err != nil {
		t.Fatal(err)
	}
	select {
	case <-task.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not reach the worker")
	}
	if !task.Canceled() {
		t.Fatal("task context done without cancel")
	}
}

func TestAuthenticationFailed(t *testing.T) {
	s := newTestServer(t)
	c, err := judgeclient.New(judgeclient.Config{URL: s.url, Key: "bad", Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, judgeclient.ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
}

func TestKeyInQuery(t *testing.T) {
	s := newTestServer(t)
	ws, _, err := websocket.DefaultDialer.Dial(s.url+"?key=key-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"event":"ready"`) {
		t.Fatalf("expected ready, got %s", b)
	}
}

func TestUnknownCodec(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(nil, zaptest.NewLogger(t)).Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/judge?codec=xml", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestQueueFailureClosesConnection(t *testing.T) {
	s := newTestServer(t)
	ws, _, err := websocket.DefaultDialer.Dial(s.url, http.Header{"Authorization": {"Bearer key-1"}})
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatal(err)
	}

	// the queue key holds a value of the wrong type, every pop fails
	s.mr.Set("test:queue", "broken")
	b, err := protocol.JSON.Marshal(protocol.EventConsumeTask, 0, &protocol.ConsumeTask{ThreadID: 0})
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatal(err)
	}
	for {
		_, b, err := ws.ReadMessage()
		if err == nil {
			t.Logf("frame before close: %s", b)
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			t.Fatal("connection kept open after the queue failed")
		}
		break
	}
}
