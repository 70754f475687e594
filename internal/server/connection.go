package server

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ConnectionState is the lifecycle state of a Connection
type ConnectionState int32

const (
	StateOpen ConnectionState = iota
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one accepted WebSocket session. It is owned by the goroutine
// serving it; the server only keeps a reference so Shutdown can close it.
type Connection struct {
	ID         uuid.UUID
	RemoteAddr string
	RemoteHost string
	RemotePort int
	CreatedAt  time.Time

	ws       *websocket.Conn
	limiter  *rate.Limiter // nil when rate limiting is disabled
	state    atomic.Int32
	messages atomic.Uint64
}

func newConnection(ws *websocket.Conn, remoteAddr string, limiter *rate.Limiter) *Connection {
	host, port := splitHostPort(remoteAddr)
	return &Connection{
		ID:         uuid.New(),
		RemoteAddr: remoteAddr,
		RemoteHost: host,
		RemotePort: port,
		CreatedAt:  time.Now(),
		ws:         ws,
		limiter:    limiter,
	}
}

// State returns the current lifecycle state
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// MessageCount returns the number of messages received so far
func (c *Connection) MessageCount() uint64 {
	return c.messages.Load()
}

func (c *Connection) nextMessage() uint64 {
	return c.messages.Add(1)
}

// close moves the connection to StateClosed and closes the transport.
// A non-zero code sends a close frame first. Only the first call has any
// effect; it is safe to call from any goroutine.
func (c *Connection) close(code int, reason string) error {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosed)) {
		return nil
	}
	if code != 0 {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	return c.ws.Close()
}

// fields returns the zap fields identifying this connection in logs
func (c *Connection) fields() []zap.Field {
	return []zap.Field{
		zap.String("connection_id", c.ID.String()),
		zap.String("remote_addr", c.RemoteAddr),
		zap.Int("remote_port", c.RemotePort),
	}
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
