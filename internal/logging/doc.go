// Package logging provides structured logging for the wsinspect server and probe.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the server. It provides both general logging functions
// and specialized functions for WebSocket inspection needs.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Hex dumps, pretty-printed payloads, HTTP upgrade headers
//   - Info: Connections, classified messages, responses
//   - Warn: Transport errors that end a single connection
//   - Error: Listener failures, capture file errors
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Connection accepted",
//	    zap.String("remote_addr", "192.168.1.100"),
//	    zap.Int("remote_port", 53122),
//	)
//
// The domain helpers take the logger explicitly so that every server instance
// can carry its own named logger:
//
//	logging.LogConnection(log, remoteAddr, "websocket_upgraded")
//	logging.LogWebSocketMessage(log, remoteAddr, "received", msgType, payload)
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.InitializeWithFormat("debug", logging.FormatJSON); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// An empty level falls back to WSINSPECT_LOG_LEVEL; when that is also empty
// the logger is a no-op.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
