package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/muurk/wsinspect/internal/logging"
)

// newRouter routes the configured path to the WebSocket handler. Anything
// else is a 404.
func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc(s.config.Path, s.handleWebSocket).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.logger.Debug("No route for request",
			zap.String("remote_addr", req.RemoteAddr),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
		)
		http.NotFound(w, req)
	})

	return r
}

// logRequests logs every routed request before the upgrade. The
// ResponseWriter is passed through untouched so it can still be hijacked.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logHTTPRequestDetails(s.logger, req)
		next.ServeHTTP(w, req)
	})
}

func logHTTPRequestDetails(l *zap.Logger, req *http.Request) {
	headers := make(map[string]string)
	for key, values := range req.Header {
		headers[key] = strings.Join(values, ", ")
	}

	logging.LogHTTPRequest(l, req.RemoteAddr, req.Method, req.URL.Path, headers)

	l.Debug("WebSocket upgrade request details",
		zap.String("remote_addr", req.RemoteAddr),
		zap.String("host", req.Host),
		zap.String("origin", req.Header.Get("Origin")),
		zap.String("sec_websocket_key", req.Header.Get("Sec-WebSocket-Key")),
		zap.String("sec_websocket_version", req.Header.Get("Sec-WebSocket-Version")),
		zap.String("sec_websocket_protocol", req.Header.Get("Sec-WebSocket-Protocol")),
		zap.String("user_agent", req.Header.Get("User-Agent")),
	)
}
