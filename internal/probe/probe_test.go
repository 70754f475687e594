package probe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/wsinspect/internal/protocol"
	"github.com/muurk/wsinspect/internal/server"
)

func startServer(t *testing.T, cfg *server.Config) *server.Server {
	t.Helper()

	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Logger = zap.NewNop()

	srv, err := server.New(cfg)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSmokeSequence(t *testing.T) {
	srv := startServer(t, &server.Config{})
	ctx := testContext(t)

	c, err := Dial(ctx, srv.URL(), Options{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	for _, msg := range []string{ShortMessage, LongMessage} {
		reply, err := c.Exchange(ctx, []byte(msg))
		if err != nil {
			t.Fatalf("Exchange() error = %v", err)
		}
		if string(reply.Data) != protocol.DefaultAck {
			t.Errorf("reply = %q, want %q", reply.Data, protocol.DefaultAck)
		}
		if reply.Type != websocket.TextMessage {
			t.Errorf("reply type = %d, want text", reply.Type)
		}
	}

	if _, err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done() should be closed after Close()")
	}

	// A second Close must not panic
	_ = c.Close(ctx)
}

func TestBinaryNulPaddedEcho(t *testing.T) {
	pipeline := protocol.NewPipeline(
		protocol.NewDecoder(protocol.DecodeNulTerminated),
		protocol.NewResponder(protocol.ResponseEchoPrefixed, "", ""),
		nil,
	)
	srv := startServer(t, &server.Config{Pipeline: pipeline})
	ctx := testContext(t)

	c, err := Dial(ctx, srv.URL(), Options{Binary: true})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close(ctx)

	payload := NulPad([]byte(ShortMessage), 64)
	reply, err := c.Exchange(ctx, payload)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if reply.Type != websocket.BinaryMessage {
		t.Errorf("reply type = %d, want binary", reply.Type)
	}
	want := append([]byte(protocol.DefaultEchoPrefix), payload...)
	if !bytes.Equal(reply.Data, want) {
		t.Errorf("reply = %q, want %q", reply.Data, want)
	}
}

func TestDialTLSWithCAFile(t *testing.T) {
	generated, err := server.GenerateTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	srv := startServer(t, &server.Config{TLSConfig: generated.Config})
	ctx := testContext(t)

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caFile, generated.RootCAPEM, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Dial(ctx, srv.URL(), Options{}); err == nil {
		t.Error("Dial() without the CA should fail verification")
	}

	c, err := Dial(ctx, srv.URL(), Options{CAFile: caFile})
	if err != nil {
		t.Fatalf("Dial() with CA error = %v", err)
	}
	if _, err := c.Exchange(ctx, []byte("secure")); err != nil {
		t.Errorf("Exchange() error = %v", err)
	}
	_ = c.Close(ctx)

	insecure, err := Dial(ctx, srv.URL(), Options{Insecure: true})
	if err != nil {
		t.Fatalf("Dial() insecure error = %v", err)
	}
	_ = insecure.Close(ctx)
}

func TestDialErrors(t *testing.T) {
	ctx := testContext(t)

	if _, err := Dial(ctx, "ws://127.0.0.1:1/", Options{HandshakeTimeout: time.Second}); err == nil {
		t.Error("Dial() to a closed port should fail")
	}
	if _, err := Dial(ctx, "wss://127.0.0.1:1/", Options{CAFile: filepath.Join(t.TempDir(), "none.pem")}); err == nil {
		t.Error("Dial() with a missing CA file should fail")
	}

	empty := filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(empty, []byte("nothing"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Dial(ctx, "wss://127.0.0.1:1/", Options{CAFile: empty}); err == nil {
		t.Error("Dial() with an empty CA file should fail")
	}
}

func TestExchangeAfterServerShutdown(t *testing.T) {
	srv, err := server.New(&server.Config{Host: "127.0.0.1", Logger: zap.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(context.Background()) }()

	ctx := testContext(t)
	c, err := Dial(ctx, srv.URL(), Options{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if _, err := c.Exchange(ctx, []byte("first")); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	<-c.Done()

	if _, err := c.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive() after shutdown error = %v, want ErrClosed", err)
	}
}

func TestNulPad(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		n    int
		want []byte
	}{
		{"pads", []byte("ab"), 5, []byte{'a', 'b', 0, 0, 0}},
		{"exact", []byte("abc"), 3, []byte("abc")},
		{"longer", []byte("abcd"), 2, []byte("abcd")},
		{"empty", nil, 2, []byte{0, 0}},
		{"zero", []byte("a"), 0, []byte("a")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NulPad(tt.in, tt.n)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("NulPad(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if len(tt.in) > 0 && &got[0] == &tt.in[0] {
				t.Error("NulPad() should return a copy")
			}
		})
	}
}
