package protocol

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type served struct {
	ackSeen bool
	reqErr  error
}

// startRequest accepts one websocket, sends a task request on it and reports
// whether the ack hook ran by the time Serve returned
func startRequest(t *testing.T) (*websocket.Conn, <-chan served) {
	t.Helper()
	result := make(chan served, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		conn := NewConn(ws, JSON, zap.NewNop())
		var acked atomic.Bool
		reqErr := make(chan error, 1)
		go func() {
			reqErr <- conn.RequestFunc(context.Background(), EventTask, &Cancel{TaskID: "t1"}, func([]byte) {
				acked.Store(true)
			})
		}()
		conn.Serve(func(*Frame) {})
		seen := acked.Load()
		result <- served{ackSeen: seen, reqErr: <-reqErr}
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return ws, result
}

func readRequest(t *testing.T, ws *websocket.Conn) *Frame {
	t.Helper()
	_, b, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	f, err := JSON.Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if f.Event != EventTask || f.ID == 0 {
		t.Fatalf("frame = %s/%d", f.Event, f.ID)
	}
	return f
}

func waitServed(t *testing.T, result <-chan served) served {
	t.Helper()
	select {
	case r := <-result:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve")
		return served{}
	}
}

func TestRequestFuncAckThenClose(t *testing.T) {
	ws, result := startRequest(t)
	f := readRequest(t, ws)

	ack, err := JSON.Marshal(EventAck, f.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, ack); err != nil {
		t.Fatal(err)
	}
	ws.Close()

	r := waitServed(t, result)
	if !r.ackSeen {
		t.Fatal("Serve returned before the ack hook ran")
	}
	if r.reqErr != nil {
		t.Fatalf("RequestFunc() = %v for an acked request", r.reqErr)
	}
}

func TestRequestFuncCloseWithoutAck(t *testing.T) {
	ws, result := startRequest(t)
	readRequest(t, ws)
	ws.Close()

	r := waitServed(t, result)
	if r.ackSeen {
		t.Fatal("ack hook ran without an ack")
	}
	if !errors.Is(r.reqErr, ErrClosed) {
		t.Fatalf("RequestFunc() = %v, want ErrClosed", r.reqErr)
	}
}
