package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	sendBuffer = 64
)

// ErrClosed is returned when sending on a closed connection
var ErrClosed = errors.New("protocol: connection closed")

// Conn exchanges frames over a websocket. Writes go through a single writer
// goroutine which also keeps the connection alive with pings.
type Conn struct {
	ws     *websocket.Conn
	codec  Codec
	logger *zap.Logger

	sendCh chan []byte
	nextID atomic.Uint64

	mu      sync.Mutex
	waiting map[uint64]*request

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn starts the writer of the websocket connection
func NewConn(ws *websocket.Conn, codec Codec, logger *zap.Logger) *Conn {
	c := &Conn{
		ws:      ws,
		codec:   codec,
		logger:  logger,
		sendCh:  make(chan []byte, sendBuffer),
		waiting: make(map[uint64]*request),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Codec returns the codec of the connection
func (c *Conn) Codec() Codec {
	return c.codec
}

// RemoteAddr returns address of the peer
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Done is closed when the connection is closed
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection, pending requests fail with ErrClosed
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Emit sends a message which expects no answer
func (c *Conn) Emit(event Event, payload any) error {
	b, err := c.codec.Marshal(event, 0, payload)
	if err != nil {
		return err
	}
	return c.send(b)
}

// Ack answers the request id
func (c *Conn) Ack(id uint64, payload any) error {
	b, err := c.codec.Marshal(EventAck, id, payload)
	if err != nil {
		return err
	}
	return c.send(b)
}

// request is an outstanding request waiting for its ack
type request struct {
	ch    chan []byte
	onAck func([]byte)
}

// Request sends a message and waits for its ack. The ack payload is decoded
// into reply unless it is nil.
func (c *Conn) Request(ctx context.Context, event Event, payload any, reply any) error {
	data, err := c.request(ctx, event, payload, nil)
	if err != nil || reply == nil {
		return err
	}
	if err := c.codec.DecodeData(data, reply); err != nil {
		return fmt.Errorf("decode ack of %s: %w", event, err)
	}
	return nil
}

// RequestFunc sends a message and waits for its ack. onAck runs on the reading
// goroutine as soon as the ack arrives, before Serve reads the next frame or
// returns. A nil error means onAck has run, an error does not mean it has not:
// the ack may race with ctx or the connection closing.
func (c *Conn) RequestFunc(ctx context.Context, event Event, payload any, onAck func(data []byte)) error {
	_, err := c.request(ctx, event, payload, onAck)
	return err
}

func (c *Conn) request(ctx context.Context, event Event, payload any, onAck func([]byte)) ([]byte, error) {
	id := c.nextID.Add(1)
	b, err := c.codec.Marshal(event, id, payload)
	if err != nil {
		return nil, err
	}

	r := &request{ch: make(chan []byte, 1), onAck: onAck}
	c.mu.Lock()
	c.waiting[id] = r
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiting, id)
		c.mu.Unlock()
	}()

	if err := c.send(b); err != nil {
		return nil, err
	}
	select {
	case data := <-r.ch:
		return data, nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-c.done:
		err = ErrClosed
	}
	// an ack delivered together with close or timeout still counts
	select {
	case data := <-r.ch:
		return data, nil
	default:
		return nil, err
	}
}

func (c *Conn) send(b []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.sendCh <- b:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Serve reads frames until the connection fails. Acks are matched to pending
// requests, any other frame is passed to handle on the reading goroutine.
// Every ack read before Serve returns has been delivered to its request.
func (c *Conn) Serve(handle func(*Frame)) error {
	defer c.Close()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			return err
		}
		f, err := c.codec.Unmarshal(b)
		if err != nil {
			c.logger.Warn("malformed frame", zap.Error(err))
			continue
		}
		if f.Event != EventAck {
			handle(f)
			continue
		}
		c.mu.Lock()
		r, ok := c.waiting[f.ID]
		delete(c.waiting, f.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("ack of unknown request", zap.Uint64("id", f.ID))
			continue
		}
		if r.onAck != nil {
			r.onAck(f.Data)
		}
		r.ch <- f.Data
	}
}

func (c *Conn) writeLoop() {
	defer c.Close()

	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case b := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(msgType, b); err != nil {
				c.logger.Debug("ws write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
