package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/muurk/wsinspect/internal/config"
	"github.com/muurk/wsinspect/internal/discovery"
	"github.com/muurk/wsinspect/internal/logging"
	"github.com/muurk/wsinspect/internal/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Upper bound on Shutdown when Serve returns because its context ended
	shutdownTimeout = 10 * time.Second

	readBufferSize  = 4096
	writeBufferSize = 4096
)

// Config holds the server configuration
type Config struct {
	Host string
	Port int
	// Path is the WebSocket endpoint, "/" when empty
	Path string

	// TLSConfig enables wss:// when non-nil
	TLSConfig *tls.Config
	// RootCAPEM is the CA of a generated certificate, if any
	RootCAPEM []byte

	// Pipeline handles every inbound message. A nil Pipeline acknowledges
	// with the default fixed response.
	Pipeline *protocol.Pipeline
	// Logger defaults to the package logger from internal/logging
	Logger *zap.Logger

	IdleTimeout    time.Duration // 0 disables the read deadline
	MaxMessageSize int64         // 0 means no limit
	RatePerSecond  float64       // 0 disables rate limiting
	RateBurst      int

	// AnalysisDir enables message capture when non-empty
	AnalysisDir string

	Advertise    bool
	InstanceName string
}

// NewConfig translates a loaded configuration into a server Config,
// building the message pipeline and the TLS configuration.
func NewConfig(settings *config.Server, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}

	policy, err := protocol.ParseDecodePolicy(settings.FrameDecoding)
	if err != nil {
		return nil, err
	}
	mode, err := protocol.ParseResponseMode(settings.ResponseMode)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Host: settings.Host,
		Port: settings.Port,
		Path: settings.Path,
		Pipeline: protocol.NewPipeline(
			protocol.NewDecoder(policy),
			protocol.NewResponder(mode, settings.Ack, settings.EchoPrefix),
			logger.Named("protocol"),
		),
		Logger:         logger,
		IdleTimeout:    settings.IdleTimeout,
		MaxMessageSize: settings.MaxMessageSize,
		RatePerSecond:  settings.RateLimit.PerSecond,
		RateBurst:      settings.RateLimit.Burst,
		AnalysisDir:    settings.AnalysisDir,
		Advertise:      settings.Advertise.Enabled,
		InstanceName:   settings.Advertise.Instance,
	}

	switch {
	case settings.TLS.Generate:
		generated, err := GenerateTLSConfig(settings.TLS.Hosts...)
		if err != nil {
			return nil, err
		}
		cfg.TLSConfig = generated.Config
		cfg.RootCAPEM = generated.RootCAPEM
	case settings.TLS.CertPath != "" && settings.TLS.KeyPath != "":
		tlsConfig, err := NewTLSConfig(settings.TLS.CertPath, settings.TLS.KeyPath)
		if err != nil {
			return nil, err
		}
		cfg.TLSConfig = tlsConfig
	}

	return cfg, nil
}

// Server accepts WebSocket connections and runs the message pipeline for
// each of them in its own goroutine. Several servers may run in one process.
type Server struct {
	config     *Config
	logger     *zap.Logger
	pipeline   *protocol.Pipeline
	upgrader   websocket.Upgrader
	capture    *CaptureWriter
	httpServer *http.Server

	// ctx is cancelled by Shutdown to release handlers blocked on the limiter
	ctx    context.Context
	cancel context.CancelFunc

	wg           sync.WaitGroup
	mu           sync.Mutex
	listener     net.Listener
	closing      bool
	activeConns  map[uuid.UUID]*Connection
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new Server instance. It does not bind; see Listen and Start.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is nil")
	}
	// Defaults go into a copy so one Config can back several servers
	c := *cfg
	cfg = &c
	if cfg.Path == "" {
		cfg.Path = "/"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	pipeline := cfg.Pipeline
	if pipeline == nil {
		pipeline = protocol.NewPipeline(nil, nil, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:   cfg,
		logger:   logger,
		pipeline: pipeline,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			// Inspection clients are rarely browsers on the same origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:         ctx,
		cancel:      cancel,
		activeConns: make(map[uuid.UUID]*Connection),
	}

	if cfg.AnalysisDir != "" {
		capture, err := NewCaptureWriter(cfg.AnalysisDir, logger.Named("capture"))
		if err != nil {
			cancel()
			return nil, err
		}
		s.capture = capture
	}

	errorLog, err := zap.NewStdLogAt(logger.Named("http"), zap.WarnLevel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create http error log: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.newRouter(),
		ErrorLog:          errorLog,
		ReadHeaderTimeout: writeWait,
	}

	return s, nil
}

// Listen binds the configured address. Failure is returned as *BindError.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	fields := []zap.Field{
		zap.String("addr", ln.Addr().String()),
		zap.String("path", s.config.Path),
		zap.Bool("tls", s.config.TLSConfig != nil),
		zap.String("frame_decoding", s.pipeline.Decoder.Policy.String()),
		zap.String("response_mode", s.pipeline.Responder.Mode.String()),
	}
	if s.config.TLSConfig != nil {
		fields = append(fields, zap.Any("tls_info", GetTLSInfo(s.config.TLSConfig)))
	}
	s.logger.Info("Server listening for connections", fields...)

	return nil
}

// Serve accepts connections until ctx is done or Shutdown is called.
// When ctx ends, Serve shuts the server down before returning.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	if s.config.Advertise {
		adv, err := discovery.Advertise(ctx, s.instanceName(), s.port(), s.txtRecords())
		if err != nil {
			s.logger.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			defer adv.Shutdown()
			s.logger.Info("Advertising server via mDNS",
				zap.String("instance", s.instanceName()),
				zap.String("service", discovery.ServiceType),
			)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown requested, stopping server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve failed: %w", err)
	}
}

// Start binds and serves. It blocks until ctx is done or a fatal error.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Shutdown stops accepting, closes every live connection and waits for the
// handlers to return, bounded by ctx. Only the first call does any work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	s.mu.Lock()
	s.closing = true
	ln := s.listener
	conns := make([]*Connection, 0, len(s.activeConns))
	for _, conn := range s.activeConns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	s.cancel()

	// Hijacked WebSocket connections are not touched by http.Server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("Error stopping HTTP server", zap.Error(err))
	}
	// Serve may never have run
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("Error closing listener", zap.Error(err))
		}
	}

	for _, conn := range conns {
		s.logger.Debug("Closing active connection", conn.fields()...)
		_ = conn.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.logger.Info("All connections closed gracefully")
	case <-ctx.Done():
		s.logger.Warn("Shutdown timeout, forcing close", zap.Int("active", s.ActiveConnections()))
		err = fmt.Errorf("shutdown incomplete: %w", ctx.Err())
	}

	_ = s.logger.Sync()
	return err
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns a ws:// or wss:// URL for the bound endpoint. Unspecified
// listen addresses are reported as localhost.
func (s *Server) URL() string {
	scheme := "ws"
	if s.config.TLSConfig != nil {
		scheme = "wss"
	}

	host := s.config.Host
	port := s.config.Port
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		port = addr.Port
		if !addr.IP.IsUnspecified() {
			host = addr.IP.String()
		}
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)), s.config.Path)
}

// ActiveConnections returns the number of live WebSocket connections
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

// track registers a connection. It returns false once shutdown has begun.
func (s *Server) track(conn *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.activeConns[conn.ID] = conn
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *Connection) {
	s.mu.Lock()
	delete(s.activeConns, conn.ID)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.config.RatePerSecond <= 0 {
		return nil
	}
	burst := s.config.RateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.config.RatePerSecond), burst)
}

func (s *Server) port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.config.Port
}

func (s *Server) instanceName() string {
	if s.config.InstanceName != "" {
		return s.config.InstanceName
	}
	return config.DefaultInstanceName
}

func (s *Server) txtRecords() []string {
	return []string{
		"path=" + s.config.Path,
		"tls=" + strconv.FormatBool(s.config.TLSConfig != nil),
		"response_mode=" + s.pipeline.Responder.Mode.String(),
	}
}
