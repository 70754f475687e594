package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Default messages for the smoke test: one short and one nested JSON object
const (
	ShortMessage = `{"msg": "websockets are dumb"}`
	LongMessage  = `{"name": "dave", "age": 99, "stuff": [1, 2, 3, 4, 5], "more_stuff": { "ok": true },` +
		` "more_and_more": [ { "name": "maple" } ], "date": "2020-06-18T12:34:56" }`
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWait             = 10 * time.Second
	inboxSize               = 16
)

// ErrClosed is returned by operations on a client whose connection ended
var ErrClosed = errors.New("connection closed")

// Options configures Dial.
type Options struct {
	// CAFile is a PEM bundle trusted for wss:// in addition to RootCAs
	CAFile string
	// RootCAs overrides the system pool
	RootCAs *x509.CertPool
	// Insecure skips server certificate verification
	Insecure bool
	// Binary sends payloads as binary frames instead of text
	Binary bool

	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *zap.Logger
}

// Message is one data frame received from the server
type Message struct {
	Type int
	Data []byte
}

// Reply is the response to Exchange
type Reply struct {
	Message
	RTT time.Duration
}

// Client is a minimal WebSocket client for smoke-testing a server. Its
// methods must be called from a single goroutine; a background reader
// delivers frames.
type Client struct {
	ws      *websocket.Conn
	logger  *zap.Logger
	msgType int

	inbox     chan Message
	pongs     chan string
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	readErr   error
}

// Dial connects to url and completes the WebSocket handshake
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tlsConfig, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	timeout := opts.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		TLSClientConfig:  tlsConfig,
	}

	ws, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake with %s failed (HTTP %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	logger.Debug("Connected",
		zap.String("url", url),
		zap.String("local_addr", ws.LocalAddr().String()),
		zap.String("subprotocol", ws.Subprotocol()),
	)

	msgType := websocket.TextMessage
	if opts.Binary {
		msgType = websocket.BinaryMessage
	}

	c := &Client{
		ws:      ws,
		logger:  logger,
		msgType: msgType,
		inbox:   make(chan Message, inboxSize),
		pongs:   make(chan string, 1),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	ws.SetPongHandler(func(data string) error {
		select {
		case c.pongs <- data:
		default:
		}
		return nil
	})

	go c.readLoop()
	return c, nil
}

func buildTLSConfig(opts Options) (*tls.Config, error) {
	if opts.CAFile == "" && opts.RootCAs == nil && !opts.Insecure {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		RootCAs:            opts.RootCAs,
		InsecureSkipVerify: opts.Insecure, //nolint:gosec // explicit --insecure
	}

	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		if cfg.RootCAs == nil {
			cfg.RootCAs = x509.NewCertPool()
		}
		if !cfg.RootCAs.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
	}

	return cfg, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		select {
		case c.inbox <- Message{Type: msgType, Data: data}:
		case <-c.closing:
			return
		}
	}
}

// Exchange sends payload as one frame and waits for the next data frame
func (c *Client) Exchange(ctx context.Context, payload []byte) (Reply, error) {
	start := time.Now()

	if err := c.ws.SetWriteDeadline(writeDeadline(ctx)); err != nil {
		return Reply{}, err
	}
	if err := c.ws.WriteMessage(c.msgType, payload); err != nil {
		return Reply{}, fmt.Errorf("failed to send message: %w", err)
	}
	c.logger.Debug("Sent message", zap.Int("length", len(payload)))

	msg, err := c.Receive(ctx)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Message: msg, RTT: time.Since(start)}, nil
}

// Receive waits for the next data frame
func (c *Client) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.done:
		// Frames read before the connection ended are still delivered
		select {
		case msg := <-c.inbox:
			return msg, nil
		default:
		}
		return Message{}, c.err()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Ping sends a ping and waits for the matching pong
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	payload := []byte(start.Format(time.RFC3339Nano))

	if err := c.ws.WriteControl(websocket.PingMessage, payload, writeDeadline(ctx)); err != nil {
		return 0, fmt.Errorf("failed to send ping: %w", err)
	}

	for {
		select {
		case data := <-c.pongs:
			if data == string(payload) {
				return time.Since(start), nil
			}
		case <-c.done:
			return 0, c.err()
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Close sends a normal close frame, waits for the server's close frame and
// closes the transport.
func (c *Client) Close(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultWait)
		defer cancel()
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	writeErr := c.ws.WriteControl(websocket.CloseMessage, msg, writeDeadline(ctx))

	var err error
	select {
	case <-c.done:
		if !websocket.IsCloseError(c.readErr, websocket.CloseNormalClosure) {
			err = c.err()
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.closeOnce.Do(func() { close(c.closing) })
	_ = c.ws.Close()

	if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
		return fmt.Errorf("failed to send close frame: %w", writeErr)
	}
	return err
}

// Done is closed once the connection has ended
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// err must only be called after done is closed
func (c *Client) err() error {
	if c.readErr == nil {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
}

func writeDeadline(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(defaultWait)
}

// NulPad returns a copy of b extended with zero bytes to n bytes, the way
// fixed-buffer embedded clients send strings. If b is already n bytes or
// longer, the copy is returned unpadded.
func NulPad(b []byte, n int) []byte {
	size := len(b)
	if n > size {
		size = n
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}
