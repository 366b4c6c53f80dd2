// Package wsgateway serves the judge worker websocket endpoint
package wsgateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/criyle/judge-gateway/gateway"
	"github.com/criyle/judge-gateway/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Register registers the handler
type Register interface {
	Register(*gin.Engine)
}

type wsHandle struct {
	gw     *gateway.Gateway
	logger *zap.Logger
}

// New creates the websocket handle of judge workers
func New(gw *gateway.Gateway, logger *zap.Logger) Register {
	return &wsHandle{gw: gw, logger: logger}
}

func (h *wsHandle) Register(r *gin.Engine) {
	r.GET("/judge", h.handleWS)
}

// workerConn adapts the frame connection to gateway.Conn
type workerConn struct {
	*protocol.Conn
}

func (c workerConn) Request(ctx context.Context, event protocol.Event, payload any, onAck func()) error {
	return c.Conn.RequestFunc(ctx, event, payload, func([]byte) { onAck() })
}

func credential(c *gin.Context) string {
	const bearer = "Bearer "
	if a := c.GetHeader("Authorization"); strings.HasPrefix(a, bearer) {
		return a[len(bearer):]
	}
	return c.Query("key")
}

func (h *wsHandle) handleWS(c *gin.Context) {
	codec, err := protocol.CodecByName(c.Query("codec"))
	if err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := protocol.NewConn(ws, codec, h.logger)

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	s, err := h.gw.Connect(ctx, workerConn{conn}, credential(c))
	if err != nil {
		// drain until the gateway closes the connection
		conn.Serve(func(*protocol.Frame) {})
		return
	}
	defer h.gw.Disconnect(ctx, s)

	err = conn.Serve(func(f *protocol.Frame) {
		h.handleFrame(ctx, s, conn, f)
	})
	h.logger.Debug("worker connection closed", zap.String("worker", s.Name()), zap.Error(err))
}

// handleFrame runs on the reading goroutine so progress keeps its order.
// Only consumeTask, which blocks on the queue, gets a goroutine of its own.
func (h *wsHandle) handleFrame(ctx context.Context, s *gateway.Session, conn *protocol.Conn, f *protocol.Frame) {
	logger := h.logger.With(zap.String("worker", s.Name()), zap.String("event", string(f.Event)))
	codec := conn.Codec()

	switch f.Event {
	case protocol.EventConsumeTask:
		var m protocol.ConsumeTask
		if err := codec.DecodeData(f.Data, &m); err != nil {
			logger.Warn("malformed message", zap.Error(err))
			return
		}
		go func() {
			if err := h.gw.HandleConsumeTask(ctx, s, m.ThreadID); err != nil {
				// the worker reconnects and asks again once the queue is back
				logger.Error("consume task failed, closing connection", zap.Error(err))
				conn.Close()
			}
		}()

	case protocol.EventProgress:
		var m protocol.Progress
		if err := codec.DecodeData(f.Data, &m); err != nil {
			logger.Warn("malformed message", zap.Error(err))
			return
		}
		if err := h.gw.HandleProgress(ctx, s, &m); err != nil {
			logger.Error("progress failed", zap.String("taskId", m.TaskID), zap.Error(err))
		}

	case protocol.EventSystemInfo:
		var m protocol.SystemInfo
		if err := codec.DecodeData(f.Data, &m); err != nil {
			logger.Warn("malformed message", zap.Error(err))
			return
		}
		if err := h.gw.HandleSystemInfo(ctx, s, m); err != nil {
			logger.Error("system info failed", zap.Error(err))
		}

	case protocol.EventRequestFiles:
		var m protocol.RequestFiles
		var reply protocol.RequestFilesReply
		if err := codec.DecodeData(f.Data, &m); err != nil {
			reply.Error = err.Error()
		} else if urls, err := h.gw.HandleRequestFiles(ctx, s, m.FileIDs); err != nil {
			reply.Error = err.Error()
		} else {
			reply.URLs = urls
		}
		if f.ID == 0 {
			logger.Warn("requestFiles without request id")
			return
		}
		if err := conn.Ack(f.ID, &reply); err != nil {
			logger.Debug("failed to ack", zap.Error(err))
		}

	default:
		logger.Debug("unknown event")
	}
}
