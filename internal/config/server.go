package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/muurk/wsinspect/internal/logging"
	"github.com/muurk/wsinspect/internal/protocol"
)

// Default values
const (
	DefaultHost         = ""
	DefaultPort         = 8000
	DefaultPath         = "/"
	DefaultLogLevel     = "info"
	DefaultInstanceName = "wsinspect"
)

// fileMutex serializes writes to configuration files
var fileMutex sync.Mutex

// Server is the complete configuration of a wsinspect server.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`

	TLS TLS `yaml:"tls,omitempty"`

	FrameDecoding string `yaml:"frame_decoding"`
	ResponseMode  string `yaml:"response_mode"`
	Ack           string `yaml:"ack"`
	EchoPrefix    string `yaml:"echo_prefix"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// AnalysisDir enables message capture when non-empty
	AnalysisDir string `yaml:"analysis_dir,omitempty"`

	IdleTimeout    time.Duration `yaml:"idle_timeout,omitempty"`
	MaxMessageSize int64         `yaml:"max_message_size,omitempty"`
	RateLimit      RateLimit     `yaml:"rate_limit,omitempty"`

	Advertise Advertise `yaml:"advertise,omitempty"`
}

// TLS selects the certificate source. Either both paths are set, or
// Generate asks for an in-memory certificate, or nothing is set and the
// server speaks plaintext.
type TLS struct {
	CertPath string   `yaml:"cert_path,omitempty"`
	KeyPath  string   `yaml:"key_path,omitempty"`
	Generate bool     `yaml:"generate,omitempty"`
	Hosts    []string `yaml:"hosts,omitempty"`
}

// Enabled reports whether the server should terminate TLS
func (t TLS) Enabled() bool {
	return t.Generate || (t.CertPath != "" && t.KeyPath != "")
}

// RateLimit caps inbound messages per connection. A zero PerSecond disables it.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Advertise controls mDNS registration of the server
type Advertise struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance,omitempty"`
}

// Default returns a configuration populated with default values
func Default() *Server {
	return &Server{
		Host:          DefaultHost,
		Port:          DefaultPort,
		Path:          DefaultPath,
		FrameDecoding: protocol.PolicyNameRaw,
		ResponseMode:  protocol.ModeNameFixed,
		Ack:           protocol.DefaultAck,
		EchoPrefix:    protocol.DefaultEchoPrefix,
		LogLevel:      DefaultLogLevel,
		LogFormat:     logging.FormatConsole,
		Advertise: Advertise{
			Instance: DefaultInstanceName,
		},
	}
}

// Addr returns the host:port listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Validate checks every field and returns the first problem as a
// *ValidationError.
func (s *Server) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return &ValidationError{Field: "port", Value: s.Port, Reason: "must be between 0 and 65535"}
	}
	if !strings.HasPrefix(s.Path, "/") {
		return &ValidationError{Field: "path", Value: s.Path, Reason: "must start with /"}
	}

	if (s.TLS.CertPath == "") != (s.TLS.KeyPath == "") {
		return &ValidationError{
			Field:  "tls",
			Value:  fmt.Sprintf("cert_path=%q key_path=%q", s.TLS.CertPath, s.TLS.KeyPath),
			Reason: "cert_path and key_path must be set together",
		}
	}
	if s.TLS.Generate && s.TLS.CertPath != "" {
		return &ValidationError{Field: "tls.generate", Value: true, Reason: "cannot be combined with cert_path/key_path"}
	}

	if _, err := protocol.ParseDecodePolicy(s.FrameDecoding); err != nil {
		return &ValidationError{Field: "frame_decoding", Value: s.FrameDecoding, Reason: err.Error()}
	}
	if _, err := protocol.ParseResponseMode(s.ResponseMode); err != nil {
		return &ValidationError{Field: "response_mode", Value: s.ResponseMode, Reason: err.Error()}
	}

	if s.LogLevel != "" {
		if _, err := logging.ParseLevel(s.LogLevel); err != nil {
			return &ValidationError{Field: "log_level", Value: s.LogLevel, Reason: "expected debug, info, warn or error"}
		}
	}
	switch s.LogFormat {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		return &ValidationError{Field: "log_format", Value: s.LogFormat, Reason: "expected console or json"}
	}

	if s.IdleTimeout < 0 {
		return &ValidationError{Field: "idle_timeout", Value: s.IdleTimeout, Reason: "must not be negative"}
	}
	if s.MaxMessageSize < 0 {
		return &ValidationError{Field: "max_message_size", Value: s.MaxMessageSize, Reason: "must not be negative"}
	}
	if s.RateLimit.PerSecond < 0 {
		return &ValidationError{Field: "rate_limit.per_second", Value: s.RateLimit.PerSecond, Reason: "must not be negative"}
	}
	if s.RateLimit.PerSecond > 0 && s.RateLimit.Burst < 1 {
		return &ValidationError{Field: "rate_limit.burst", Value: s.RateLimit.Burst, Reason: "must be at least 1 when a rate is set"}
	}

	return nil
}

// Save writes the configuration to path atomically, creating the parent
// directory if needed.
func (s *Server) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var body bytes.Buffer
	enc := yaml.NewEncoder(&body)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# wsinspect configuration file
#
# Values here are overridden by a .env file, WSINSPECT_* environment
# variables and command line flags, in that order.
#
# Location: ` + path + `

`)
	data := append(header, body.Bytes()...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}

// Marshal returns the YAML encoding of the configuration without a header
func (s *Server) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}
