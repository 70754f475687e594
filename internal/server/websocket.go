package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/wsinspect/internal/logging"
	"github.com/muurk/wsinspect/internal/protocol"
)

// handleWebSocket upgrades the request and serves the connection until it
// closes. It runs on the goroutine net/http started for the transport.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response
		s.logger.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	conn := newConnection(ws, r.RemoteAddr, s.newLimiter())
	if !s.track(conn) {
		logging.LogConnection(s.logger, conn.RemoteAddr, "rejected_during_shutdown")
		_ = conn.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(conn)

	s.logger.Info("Connection accepted", conn.fields()...)
	if r.TLS != nil {
		logging.LogTLSHandshake(s.logger, r.RemoteAddr, r.TLS.Version, r.TLS.CipherSuite, r.TLS.ServerName)
	}

	err = s.serveConnection(conn)
	_ = conn.close(0, "")

	summary := []zap.Field{
		zap.String("connection_id", conn.ID.String()),
		zap.Uint64("messages", conn.MessageCount()),
		zap.Duration("duration", time.Since(conn.CreatedAt)),
	}
	if err != nil {
		s.logger.Warn("Connection closed with error",
			append(summary, zap.String("remote_addr", conn.RemoteAddr), zap.Error(err))...)
		return
	}
	logging.LogConnection(s.logger, conn.RemoteAddr, "connection_closed", summary...)
}

// serveConnection runs the receive loop: read one message, handle it, write
// one response. The single goroutine keeps responses in arrival order.
// It returns nil for a normal close and *TransportError otherwise.
func (s *Server) serveConnection(conn *Connection) error {
	ws := conn.ws

	if s.config.MaxMessageSize > 0 {
		ws.SetReadLimit(s.config.MaxMessageSize)
	}

	ws.SetPongHandler(func(string) error {
		s.logger.Debug("Received pong", zap.String("remote_addr", conn.RemoteAddr))
		return s.refreshReadDeadline(ws)
	})
	ws.SetPingHandler(func(appData string) error {
		s.logger.Debug("Received ping, sending pong", zap.String("remote_addr", conn.RemoteAddr))
		if err := s.refreshReadDeadline(ws); err != nil {
			return err
		}
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})

	for {
		if err := s.refreshReadDeadline(ws); err != nil {
			return s.transportError(conn, "deadline", err)
		}

		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return s.readError(conn, err)
		}
		receivedAt := time.Now()

		if conn.limiter != nil {
			if err := conn.limiter.Wait(s.ctx); err != nil {
				// Only cancelled by Shutdown
				return nil
			}
		}

		num := conn.nextMessage()
		logging.LogWebSocketMessage(s.logger, conn.RemoteAddr, "received", msgType, data)
		logging.LogRawBytes(s.logger, "Inbound payload", data,
			zap.String("connection_id", conn.ID.String()),
			zap.Uint64("message_num", num),
		)

		msg := protocol.InboundMessage{
			Type:       msgType,
			Data:       data,
			ReceivedAt: receivedAt,
		}
		out := s.pipeline.HandleMessage(conn.RemoteAddr, msg)

		if s.capture != nil {
			_ = s.capture.Write(newCaptureRecord(conn, num, msg, out))
		}

		if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return s.transportError(conn, "deadline", err)
		}
		if err := ws.WriteMessage(out.ResponseType, out.Response); err != nil {
			return s.transportError(conn, "write", err)
		}
		logging.LogWebSocketMessage(s.logger, conn.RemoteAddr, "sent", out.ResponseType, out.Response)
	}
}

// refreshReadDeadline pushes the idle deadline forward. Without an idle
// timeout reads never expire.
func (s *Server) refreshReadDeadline(ws *websocket.Conn) error {
	if s.config.IdleTimeout <= 0 {
		return ws.SetReadDeadline(time.Time{})
	}
	return ws.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
}

// readError separates normal closes from transport failures
func (s *Server) readError(conn *Connection, err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		s.logger.Debug("Close frame received", append(conn.fields(), zap.Error(err))...)
		return nil
	}

	// Closed locally by Shutdown
	if conn.State() == StateClosed || (s.isClosing() && errors.Is(err, net.ErrClosed)) {
		return nil
	}

	return s.transportError(conn, "read", err)
}

func (s *Server) transportError(conn *Connection, op string, err error) error {
	return &TransportError{
		ConnectionID: conn.ID.String(),
		RemoteAddr:   conn.RemoteAddr,
		Op:           op,
		Err:          err,
	}
}
