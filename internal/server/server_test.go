package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/muurk/wsinspect/internal/config"
	"github.com/muurk/wsinspect/internal/protocol"
)

const testTimeout = 5 * time.Second

// startServer runs a server on an ephemeral loopback port until the test ends
func startServer(t *testing.T, policy protocol.DecodePolicy, mode protocol.ResponseMode, mutate func(*Config)) (*Server, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	cfg := &Config{
		Host: "127.0.0.1",
		Port: 0,
		Pipeline: protocol.NewPipeline(
			protocol.NewDecoder(policy),
			protocol.NewResponder(mode, "", ""),
			logger,
		),
		Logger: logger,
	}
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve() error = %v", err)
			}
		case <-time.After(2 * shutdownTimeout):
			t.Error("server did not stop")
		}
	})

	return srv, logs
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", url, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func exchange(t *testing.T, ws *websocket.Conn, msgType int, payload []byte) (int, []byte) {
	t.Helper()
	if err := ws.WriteMessage(msgType, payload); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	return readResponse(t, ws)
}

func readResponse(t *testing.T, ws *websocket.Conn) (int, []byte) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(testTimeout))
	gotType, got, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	return gotType, got
}

func TestScenarioStructuredFixedAck(t *testing.T) {
	srv, logs := startServer(t, protocol.DecodeRaw, protocol.ResponseFixed, nil)
	ws := dial(t, srv.URL())

	gotType, got := exchange(t, ws, websocket.TextMessage, []byte(`{"a":1}`))

	if gotType != websocket.TextMessage {
		t.Errorf("response type = %d, want text", gotType)
	}
	if string(got) != "Oh hey dude!" {
		t.Errorf("response = %q, want %q", got, "Oh hey dude!")
	}

	entries := logs.FilterMessage("Structured payload received").All()
	if len(entries) != 1 {
		t.Fatalf("got %d structured log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["payload"] != `{"a":1}` {
		t.Errorf("logged payload = %v, want {\"a\":1}", fields["payload"])
	}
	if _, ok := fields["received_at"]; !ok {
		t.Error("structured log entry should carry received_at")
	}
}

func TestScenarioRawText(t *testing.T) {
	srv, logs := startServer(t, protocol.DecodeRaw, protocol.ResponseFixed, nil)
	ws := dial(t, srv.URL())

	_, got := exchange(t, ws, websocket.TextMessage, []byte("hello"))
	if string(got) != "Oh hey dude!" {
		t.Errorf("response = %q, want ack", got)
	}

	entries := logs.FilterMessage("Raw text received").All()
	if len(entries) != 1 {
		t.Fatalf("got %d raw log entries, want 1", len(entries))
	}
	if text := entries[0].ContextMap()["text"]; text != "hello" {
		t.Errorf("logged text = %v, want hello", text)
	}
	if n := logs.FilterMessage("Structured payload received").Len(); n != 0 {
		t.Errorf("got %d structured entries for raw text, want 0", n)
	}
}

func TestScenarioNulPaddedEcho(t *testing.T) {
	srv, logs := startServer(t, protocol.DecodeNulTerminated, protocol.ResponseEchoPrefixed, nil)
	ws := dial(t, srv.URL())

	payload := append([]byte(`{"x":2}`), 0, 0, 0)
	gotType, got := exchange(t, ws, websocket.BinaryMessage, payload)

	if gotType != websocket.BinaryMessage {
		t.Errorf("response type = %d, want binary", gotType)
	}
	want := append([]byte("You said: "), payload...)
	if !bytes.Equal(got, want) {
		t.Errorf("response = %q, want %q", got, want)
	}

	entries := logs.FilterMessage("Structured payload received").All()
	if len(entries) != 1 {
		t.Fatalf("got %d structured log entries, want 1", len(entries))
	}
	if p := entries[0].ContextMap()["payload"]; p != `{"x":2}` {
		t.Errorf("logged payload = %v, want {\"x\":2}", p)
	}
}

func TestScenarioConcurrentClients(t *testing.T) {
	srv, _ := startServer(t, protocol.DecodeRaw, protocol.ResponseEchoPrefixed, nil)
	a := dial(t, srv.URL())
	b := dial(t, srv.URL())

	for i := 1; i <= 3; i++ {
		if err := a.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("a%d", i))); err != nil {
			t.Fatalf("client a write error = %v", err)
		}
		if err := b.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("b%d", i))); err != nil {
			t.Fatalf("client b write error = %v", err)
		}
	}

	for _, c := range []struct {
		name string
		ws   *websocket.Conn
	}{{"a", a}, {"b", b}} {
		for i := 1; i <= 3; i++ {
			_, got := readResponse(t, c.ws)
			if want := fmt.Sprintf("You said: %s%d", c.name, i); string(got) != want {
				t.Errorf("client %s response %d = %q, want %q", c.name, i, got, want)
			}
		}
	}

	if n := srv.ActiveConnections(); n != 2 {
		t.Errorf("ActiveConnections() = %d, want 2", n)
	}
}

func TestScenarioTLS(t *testing.T) {
	generated, err := GenerateTLSConfig()
	if err != nil {
		t.Fatalf("GenerateTLSConfig() error = %v", err)
	}

	srv, _ := startServer(t, protocol.DecodeRaw, protocol.ResponseFixed, func(c *Config) {
		c.TLSConfig = generated.Config
	})

	url := srv.URL()
	if url[:6] != "wss://" {
		t.Fatalf("URL() = %s, want wss:// scheme", url)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(generated.RootCAPEM) {
		t.Fatal("failed to add root CA to pool")
	}
	dialer := websocket.Dialer{
		TLSClientConfig:  &tls.Config{RootCAs: pool},
		HandshakeTimeout: testTimeout,
	}

	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("wss Dial() error = %v", err)
	}
	defer ws.Close()

	_, got := exchange(t, ws, websocket.TextMessage, []byte(`{"secure":true}`))
	if string(got) != "Oh hey dude!" {
		t.Errorf("response = %q, want ack", got)
	}

	plain := websocket.Dialer{HandshakeTimeout: testTimeout}
	if conn, _, err := plain.Dial("ws://"+srv.Addr().String()+"/", nil); err == nil {
		conn.Close()
		t.Error("plaintext ws:// dial to TLS server should fail")
	}
}

func TestBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	srv, err := New(&Config{Host: "127.0.0.1", Port: port, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = srv.Start(context.Background())

	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("Start() error = %v, want *BindError", err)
	}
	if bindErr.Addr != fmt.Sprintf("127.0.0.1:%d", port) {
		t.Errorf("BindError.Addr = %s", bindErr.Addr)
	}
	if runtime.GOOS == "linux" && !errors.Is(err, syscall.EADDRINUSE) {
		t.Errorf("Start() error should unwrap to EADDRINUSE, got %v", err)
	}
}

func TestServeBeforeListen(t *testing.T) {
	srv, err := New(&Config{Logger: zap.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Serve(context.Background()); err == nil {
		t.Error("Serve() before Listen() should fail")
	}
	if srv.Addr() != nil {
		t.Error("Addr() before Listen() should be nil")
	}
}

func TestResponsesKeepArrivalOrder(t *testing.T) {
	srv, _ := startServer(t, protocol.DecodeRaw, protocol.ResponseEchoPrefixed, nil)
	ws := dial(t, srv.URL())

	const n = 100
	for i := 0; i < n; i++ {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("write %d error = %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		_, got := readResponse(t, ws)
		if want := fmt.Sprintf("You said: %d", i); string(got) != want {
			t.Fatalf("response %d = %q, want %q", i, got, want)
		}
	}
}

func TestMalformedInputKeepsConnectionOpen(t *testing.T) {
	srv, logs := startServer(t, protocol.DecodeRaw, protocol.ResponseFixed, nil)
	ws := dial(t, srv.URL())

	inputs := [][]byte{
		[]byte(`{"a":`),
		[]byte(`{"a":1}garbage`),
		{0xff, 0xfe, 0x00},
		{},
		[]byte(`[1,2,3]`),
	}
	for _, in := range inputs {
		_, got := exchange(t, ws, websocket.BinaryMessage, in)
		if string(got) != "Oh hey dude!" {
			t.Errorf("response to %q = %q, want ack", in, got)
		}
	}

	if n := logs.FilterMessage("Raw text received").Len(); n != 4 {
		t.Errorf("raw entries = %d, want 4", n)
	}
	if n := logs.FilterMessage("Structured payload received").Len(); n != 1 {
		t.Errorf("structured entries = %d, want 1", n)
	}
}

func TestConnectionAcceptedLog(t *testing.T) {
	srv, logs := startServer(t, protocol.DecodeRaw, protocol.ResponseFixed, nil)
	ws := dial(t, srv.URL())
	exchange(t, ws, websocket.TextMessage, []byte("ping"))

	entries := logs.FilterMessage("Connection accepted").All()
	if len(entries) != 1 {
		t.Fatalf("got %d accepted entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	localPort := int64(ws.LocalAddr().(*net.TCPAddr).Port)
	if fields["remote_port"] != localPort {
		t.Errorf("remote_port = %v, want %d", fields["remote_port"], localPort)
	}
	if id, _ := fields["connection_id"].(string); len(id) != 36 {
		t.Errorf("connection_id = %v, want a uuid", fields["connection_id"])
	}
}

func TestInboundPayloadDump(t *testing.T) {
	srv, logs := startServer(t, protocol.DecodeNulTerminated, protocol.ResponseFixed, nil)
	ws := dial(t, srv.URL())
	exchange(t, ws, websocket.BinaryMessage, []byte{'o', 'k', 0x00, 0x00})

	entries := logs.FilterMessage("Inbound payload").All()
	if len(entries) != 1 {
		t.Fatalf("got %d payload dumps, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["hex"] != "6f6b0000" || fields["ascii"] != "ok.." {
		t.Errorf("dump = %v / %v", fields["hex"], fields["ascii"])
	}
	if fields["message_num"] != uint64(1) {
		t.Errorf("message_num = %v, want 1", fields["message_num"])
	}
}

func TestClientCloseIsNormal(t *testing.T) {
	srv, logs := startServer(t, protocol.DecodeRaw, protocol.ResponseFixed, nil)
	ws := dial(t, srv.URL())
	exchange(t, ws, websocket.TextMessage, []byte("bye"))

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("WriteControl(close) error = %v", err)
	}
	waitFor(t, func() bool { return srv.ActiveConnections() == 0 })

	if n := logs.FilterMessage("Connection closed with error").Len(); n != 0 {
		t.Errorf("normal close logged %d errors", n)
	}
	if n := logs.FilterField(zap.String("event", "connection_closed")).Len(); n != 1 {
		t.Errorf("connection_closed events = %d, want 1", n)
	}
}

func TestPingGetsPong(t *testing.T) {
	srv, _ := startServer(t, protocol.DecodeRaw, protocol.ResponseFixed, nil)
	ws := dial(t, srv.URL())

	pong := make(chan string, 1)
	ws.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})
	if err := ws.WriteControl(websocket.PingMessage, []byte("probe"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("WriteControl(ping) error = %v", err)
	}

	// Control frames are delivered while reading; the ack after it ends the read
	_, got := exchange(t, ws, websocket.TextMessage, []byte("after ping"))
	if string(got) != "Oh hey dude!" {
		t.Errorf("response = %q, want ack", got)
	}
	select {
	case data := <-pong:
		if data != "probe" {
			t.Errorf("pong data = %q, want probe", data)
		}
	default:
		t.Error("no pong received")
	}
}

func TestMaxMessageSize(t *testing.T) {
	srv, logs := startServer(t, protocol.DecodeRaw, protocol.ResponseFixed, func(c *Config) {
		c.MaxMessageSize = 16
	})
	ws := dial(t, srv.URL())

	_, got := exchange(t, ws, websocket.TextMessage, []byte("small"))
	if string(got) != "Oh hey dude!" {
		t.Errorf("response = %q, want ack", got)
	}

	if err := ws.WriteMessage(websocket.TextMessage, bytes.Repeat([]byte("x"), 64)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(testTimeout))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Errorf("ReadMessage() error = %v, want close 1009", err)
	}

	waitFor(t, func() bool { return srv.ActiveConnections() == 0 })
	if n := logs.FilterMessage("Connection closed with error").Len(); n != 1 {
		t.Errorf("error close entries = %d, want 1", n)
	}
}

func TestRateLimitDelaysWithoutDropping(t *testing.T) {
	srv, _ := startServer(t, protocol.DecodeRaw, protocol.ResponseEchoPrefixed, func(c *Config) {
		c.RatePerSecond = 20
		c.RateBurst = 1
	})
	ws := dial(t, srv.URL())

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		_, got := readResponse(t, ws)
		if want := fmt.Sprintf("You said: m%d", i); string(got) != want {
			t.Errorf("response %d = %q, want %q", i, got, want)
		}
	}

	// Burst of 1 at 20/s: four waits of 50ms
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("5 messages took %v, limiter should have delayed them", elapsed)
	}
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	srv, _ := startServer(t, protocol.DecodeRaw, protocol.ResponseFixed, func(c *Config) {
		c.IdleTimeout = 100 * time.Millisecond
	})
	ws := dial(t, srv.URL())
	exchange(t, ws, websocket.TextMessage, []byte("hi"))

	waitFor(t, func() bool { return srv.ActiveConnections() == 0 })
}

func TestShutdownClosesConnections(t *testing.T) {
	srv, _ := startServer(t, protocol.DecodeRaw, protocol.ResponseFixed, nil)

	clients := make([]*websocket.Conn, 3)
	for i := range clients {
		clients[i] = dial(t, srv.URL())
		exchange(t, clients[i], websocket.TextMessage, []byte("hi"))
	}
	if n := srv.ActiveConnections(); n != 3 {
		t.Fatalf("ActiveConnections() = %d, want 3", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if n := srv.ActiveConnections(); n != 0 {
		t.Errorf("ActiveConnections() after Shutdown = %d, want 0", n)
	}

	var wg sync.WaitGroup
	for _, ws := range clients {
		wg.Add(1)
		go func(ws *websocket.Conn) {
			defer wg.Done()
			_ = ws.SetReadDeadline(time.Now().Add(testTimeout))
			if _, _, err := ws.ReadMessage(); err == nil {
				t.Error("ReadMessage() after Shutdown should fail")
			}
		}(ws)
	}
	wg.Wait()

	if _, _, err := websocket.DefaultDialer.Dial(srv.URL(), nil); err == nil {
		t.Error("Dial() after Shutdown should fail")
	}

	// Second call is a no-op
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestUnknownPathAndPlainHTTP(t *testing.T) {
	srv, _ := startServer(t, protocol.DecodeRaw, protocol.ResponseFixed, func(c *Config) {
		c.Path = "/ws"
	})

	base := "http://" + srv.Addr().String()
	tests := []struct {
		path string
		want int
	}{
		{"/nope", http.StatusNotFound},
		{"/ws", http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, err := http.Get(base + tt.path)
		if err != nil {
			t.Fatalf("GET %s error = %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}

	ws := dial(t, "ws://"+srv.Addr().String()+"/ws")
	_, got := exchange(t, ws, websocket.TextMessage, []byte("ok"))
	if string(got) != "Oh hey dude!" {
		t.Errorf("response = %q, want ack", got)
	}
}

func TestCaptureWritesRecords(t *testing.T) {
	dir := t.TempDir()
	srv, _ := startServer(t, protocol.DecodeNulTerminated, protocol.ResponseFixed, func(c *Config) {
		c.AnalysisDir = dir
	})
	ws := dial(t, srv.URL())

	exchange(t, ws, websocket.BinaryMessage, append([]byte(`{"n":1}`), 0, 0))
	exchange(t, ws, websocket.TextMessage, []byte("plain"))

	records, err := ReadCaptureFile(srv.capture.FileFor(time.Now()))
	if err != nil {
		t.Fatalf("ReadCaptureFile() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	first, second := records[0], records[1]
	if first.MessageNum != 1 || second.MessageNum != 2 {
		t.Errorf("message numbers = %d,%d, want 1,2", first.MessageNum, second.MessageNum)
	}
	if first.ConnectionID != second.ConnectionID {
		t.Error("records from one connection should share a connection id")
	}
	if first.Classification != "structured" || second.Classification != "raw_text" {
		t.Errorf("classifications = %s,%s", first.Classification, second.Classification)
	}
	if first.MessageType != "binary" || first.PayloadLen != 9 || first.Text != `{"n":1}` {
		t.Errorf("first record = %+v", first)
	}
	payload, err := first.Payload()
	if err != nil || !bytes.Equal(payload, append([]byte(`{"n":1}`), 0, 0)) {
		t.Errorf("Payload() = %q, %v", payload, err)
	}
	if second.Response != "Oh hey dude!" {
		t.Errorf("second.Response = %q", second.Response)
	}
}

func TestNewConfig(t *testing.T) {
	settings := config.Default()
	settings.Port = 0
	settings.ResponseMode = "echo-prefixed"
	settings.FrameDecoding = "nul-terminated"
	settings.EchoPrefix = "Got: "
	settings.TLS.Generate = true
	settings.RateLimit = config.RateLimit{PerSecond: 5, Burst: 2}

	cfg, err := NewConfig(settings, zap.NewNop())
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}

	if cfg.Pipeline.Decoder.Policy != protocol.DecodeNulTerminated {
		t.Errorf("decoder policy = %v", cfg.Pipeline.Decoder.Policy)
	}
	if cfg.Pipeline.Responder.Mode != protocol.ResponseEchoPrefixed || cfg.Pipeline.Responder.Prefix != "Got: " {
		t.Errorf("responder = %+v", cfg.Pipeline.Responder)
	}
	if cfg.TLSConfig == nil || len(cfg.RootCAPEM) == 0 {
		t.Error("generated TLS config and root CA should be set")
	}
	if cfg.RatePerSecond != 5 || cfg.RateBurst != 2 {
		t.Errorf("rate = %v/%d", cfg.RatePerSecond, cfg.RateBurst)
	}

	settings.ResponseMode = "mirror"
	if _, err := NewConfig(settings, zap.NewNop()); err == nil {
		t.Error("NewConfig() should reject an unknown response mode")
	}
}

func TestURL(t *testing.T) {
	srv, err := New(&Config{Host: "", Port: 0, Path: "/echo", Logger: zap.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown(context.Background())

	port := srv.Addr().(*net.TCPAddr).Port
	if want := fmt.Sprintf("ws://localhost:%d/echo", port); srv.URL() != want {
		t.Errorf("URL() = %s, want %s", srv.URL(), want)
	}
}

func TestNewLeavesConfigUntouched(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 0, Logger: zap.NewNop()}

	first, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.Path != "" {
		t.Errorf("cfg.Path = %q after New, want it left empty", cfg.Path)
	}

	cfg.Path = "/second"
	second, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, srv := range []*Server{first, second} {
		if err := srv.Listen(); err != nil {
			t.Fatalf("Listen() error = %v", err)
		}
		defer srv.Shutdown(context.Background())
	}

	port := first.Addr().(*net.TCPAddr).Port
	if want := fmt.Sprintf("ws://127.0.0.1:%d/", port); first.URL() != want {
		t.Errorf("first.URL() = %s, want %s", first.URL(), want)
	}
	port = second.Addr().(*net.TCPAddr).Port
	if want := fmt.Sprintf("ws://127.0.0.1:%d/second", port); second.URL() != want {
		t.Errorf("second.URL() = %s, want %s", second.URL(), want)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
