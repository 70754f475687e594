// Package server implements the wsinspect WebSocket listener.
//
// A Server binds one TCP address, optionally wraps it in TLS, and serves a
// single WebSocket path. Every accepted connection is handled on its own
// goroutine by a blocking receive loop:
//
//	read message -> protocol.Pipeline (decode, classify, log) -> write response
//
// Because one goroutine both reads and writes, responses on a connection
// are sent in the order the messages arrived. Connections share nothing
// except the server's table of live connections, which Shutdown uses to
// close them.
//
// # Usage Example
//
//	srv, err := server.New(&server.Config{
//	    Host:     "127.0.0.1",
//	    Port:     8000,
//	    Pipeline: protocol.NewPipeline(nil, nil, logger),
//	    Logger:   logger,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//
//	// Start blocks until ctx ends, then shuts down gracefully
//	if err := srv.Start(ctx); err != nil {
//	    var bindErr *server.BindError
//	    if errors.As(err, &bindErr) {
//	        log.Fatalf("port busy: %v", bindErr)
//	    }
//	}
//
// # Errors
//
// A malformed payload never closes a connection; it is logged as raw text
// and acknowledged like any other message. A failed read or write ends only
// the affected connection and is logged at warn level as a TransportError.
// Close frames with codes 1000, 1001 and 1005 are normal and logged at info.
//
// # Hardening
//
// Config.IdleTimeout sets a read deadline that is refreshed on every
// message, ping and pong. Config.MaxMessageSize closes connections that
// send larger messages with status 1009. Config.RatePerSecond delays
// (never drops) messages beyond the allowed rate.
//
// # Message Capture
//
// With Config.AnalysisDir set, every inbound message is appended to
// capture-YYYYMMDD.jsonl as a CaptureRecord. ReadCaptureFile and Summarize
// read those files back.
package server
