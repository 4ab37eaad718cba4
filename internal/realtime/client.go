package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/livepoll/backend/pkg/apperr"
)

// EventDisconnect is the client frame that closes the connection.
const EventDisconnect = "disconnect"

var errClientClosed = errors.New("client closed")

// ConnHandler receives the inbound frames of one connection.
type ConnHandler interface {
	Handle(ctx context.Context, msg WSMessage)
	Close()
}

// Acceptor binds a freshly upgraded connection to its handler.
type Acceptor interface {
	Accept(sub Subscriber) ConnHandler
}

// NewUpgrader builds the websocket upgrader. An empty or "*" origin list allows every origin.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
		},
	}
}

// Client represents a single WebSocket connection.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan WSMessage
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// ID implements Subscriber.
func (c *Client) ID() string { return c.id }

// Deliver queues msg for the write pump without blocking. A full buffer is reported, not waited on.
func (c *Client) Deliver(msg WSMessage) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return apperr.ErrSendBuffer
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(acceptor Acceptor, upgrader websocket.Upgrader, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			id:     uuid.New().String(),
			conn:   conn,
			send:   make(chan WSMessage, 256),
			done:   make(chan struct{}),
			logger: logger,
		}
		handler := acceptor.Accept(client)
		go client.writePump()
		client.readPump(handler)
	}
}

func (c *Client) readPump(handler ConnHandler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		handler.Close()
		c.shutdown()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if msg.Event == EventDisconnect {
			return
		}
		handler.Handle(ctx, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}
