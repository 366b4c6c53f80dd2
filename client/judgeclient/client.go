package judgeclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/criyle/judge-gateway/client"
	"github.com/criyle/judge-gateway/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// connection that stayed up this long resets the reconnect backoff
const resetBackoffAfter = time.Minute

var (
	// ErrAuthenticationFailed is returned by Run when the gateway rejects the key
	ErrAuthenticationFailed = errors.New("judgeclient: authentication failed")

	// ErrNotConnected is returned when sending while there is no connection
	ErrNotConnected = errors.New("judgeclient: not connected")
)

var _ client.Client = &Client{}

// Config defines the gateway endpoint and the worker capacity
type Config struct {
	URL        string // ws(s)://host/judge
	Key        string
	Codec      string // json (default) or msgpack
	Threads    int
	SystemInfo map[string]any
	Logger     *zap.Logger
	Dialer     *websocket.Dialer
}

// Client is a judge gateway client
type Client struct {
	url        string
	key        string
	codec      protocol.Codec
	threads    int
	systemInfo map[string]any
	logger     *zap.Logger
	dialer     *websocket.Dialer

	tasks chan client.Task

	mu      sync.Mutex
	conn    *protocol.Conn
	name    string
	config  map[string]any
	busy    map[int]*Task    // thread id -> task
	running map[string]*Task // task id -> task
	ready   chan struct{}
}

// New creates a client, Run connects it
func New(conf Config) (*Client, error) {
	codec, err := protocol.CodecByName(conf.Codec)
	if err != nil {
		return nil, err
	}
	if _, err := url.Parse(conf.URL); err != nil {
		return nil, fmt.Errorf("gateway url: %w", err)
	}
	if conf.Threads <= 0 {
		conf.Threads = 1
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	if conf.Dialer == nil {
		conf.Dialer = websocket.DefaultDialer
	}
	return &Client{
		url:        conf.URL,
		key:        conf.Key,
		codec:      codec,
		threads:    conf.Threads,
		systemInfo: conf.SystemInfo,
		logger:     conf.Logger,
		dialer:     conf.Dialer,
		tasks:      make(chan client.Task, conf.Threads),
		busy:       make(map[int]*Task),
		running:    make(map[string]*Task),
		ready:      make(chan struct{}),
	}, nil
}

// C returns channel of received tasks
func (c *Client) C() <-chan client.Task {
	return c.tasks
}

// Ready is closed after the first successful registration
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// Name returns the worker name assigned by the gateway
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// RuntimeConfig returns the configuration received with ready
func (c *Client) RuntimeConfig() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Run keeps the client connected until ctx is done or the key is rejected
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	for {
		start := time.Now()
		err := c.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthenticationFailed) {
			return err
		}
		if time.Since(start) > resetBackoffAfter {
			b.Reset()
		}
		wait := b.NextBackOff()
		c.logger.Warn("gateway connection lost, reconnecting", zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) serve(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("codec", c.codec.Name())
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.key)
	ws, _, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn := protocol.NewConn(ws, c.codec, c.logger)
	stop := context.AfterFunc(ctx, conn.Close)
	defer stop()

	var authErr error
	err = conn.Serve(func(f *protocol.Frame) {
		if err := c.handle(conn, f); err != nil {
			if errors.Is(err, ErrAuthenticationFailed) {
				authErr = err
				conn.Close()
				return
			}
			c.logger.Warn("failed to handle message", zap.String("event", string(f.Event)), zap.Error(err))
		}
	})

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	if authErr != nil {
		return authErr
	}
	if err == nil {
		err = protocol.ErrClosed
	}
	return err
}

func (c *Client) handle(conn *protocol.Conn, f *protocol.Frame) error {
	switch f.Event {
	case protocol.EventAuthenticationFailed:
		var m protocol.AuthenticationFailed
		if err := c.codec.DecodeData(f.Data, &m); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrAuthenticationFailed, m.Message)

	case protocol.EventReady:
		var m protocol.Ready
		if err := c.codec.DecodeData(f.Data, &m); err != nil {
			return err
		}
		return c.onReady(conn, &m)

	case protocol.EventTask:
		var m protocol.Task
		if err := c.codec.DecodeData(f.Data, &m); err != nil {
			return err
		}
		return c.onTask(conn, f.ID, &m)

	case protocol.EventCancel:
		var m protocol.Cancel
		if err := c.codec.DecodeData(f.Data, &m); err != nil {
			return err
		}
		c.onCancel(m.TaskID)
		return nil

	default:
		c.logger.Debug("unknown event", zap.String("event", string(f.Event)))
		return nil
	}
}

func (c *Client) onReady(conn *protocol.Conn, m *protocol.Ready) error {
	c.mu.Lock()
	first := c.name == ""
	c.conn = conn
	c.name = m.Name
	c.config = m.Config
	var idle []int
	for i := 0; i < c.threads; i++ {
		if _, ok := c.busy[i]; !ok {
			idle = append(idle, i)
		}
	}
	c.mu.Unlock()

	if first {
		close(c.ready)
	}
	c.logger.Info("registered to gateway", zap.String("name", m.Name), zap.Ints("idleThreads", idle))

	if c.systemInfo != nil {
		if err := conn.Emit(protocol.EventSystemInfo, protocol.SystemInfo(c.systemInfo)); err != nil {
			return err
		}
	}
	for _, id := range idle {
		if err := conn.Emit(protocol.EventConsumeTask, &protocol.ConsumeTask{ThreadID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) onTask(conn *protocol.Conn, id uint64, m *protocol.Task) error {
	c.mu.Lock()
	if old, ok := c.busy[m.ThreadID]; ok {
		c.mu.Unlock()
		return fmt.Errorf("task %s for busy thread %d (running %s)", m.Task.TaskID, m.ThreadID, old.task.TaskID)
	}
	t := newTask(c, m.ThreadID, &m.Task)
	c.busy[m.ThreadID] = t
	c.running[t.task.TaskID] = t
	c.mu.Unlock()

	// the task is ours once acked
	if err := conn.Ack(id, nil); err != nil {
		c.release(t)
		return err
	}
	c.logger.Debug("task received", zap.String("taskId", t.task.TaskID), zap.Int("thread", t.threadID))
	c.tasks <- t
	return nil
}

func (c *Client) onCancel(taskID string) {
	c.mu.Lock()
	t, ok := c.running[taskID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.logger.Info("task cancelled by gateway", zap.String("taskId", taskID))
	t.cancel(errCanceled)
}

// release frees the judge thread of t, reports whether it was still held
func (c *Client) release(t *Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy[t.threadID] != t {
		return false
	}
	delete(c.busy, t.threadID)
	delete(c.running, t.task.TaskID)
	return true
}

func (c *Client) current() *protocol.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) emit(event protocol.Event, payload any) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Emit(event, payload)
}

func (c *Client) requestFiles(ctx context.Context, fileIDs []string) ([]string, error) {
	conn := c.current()
	if conn == nil {
		return nil, ErrNotConnected
	}
	var reply protocol.RequestFilesReply
	if err := conn.Request(ctx, protocol.EventRequestFiles, &protocol.RequestFiles{FileIDs: fileIDs}, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("request files: %s", reply.Error)
	}
	if len(reply.URLs) != len(fileIDs) {
		return nil, fmt.Errorf("request files: got %d urls for %d ids", len(reply.URLs), len(fileIDs))
	}
	return reply.URLs, nil
}
