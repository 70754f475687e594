package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names. HOST and PORT are honoured for compatibility
// with plain deployment scripts; the prefixed forms win when both are set.
const (
	EnvPrefix = "WSINSPECT_"

	EnvHost           = EnvPrefix + "HOST"
	EnvPort           = EnvPrefix + "PORT"
	EnvPath           = EnvPrefix + "PATH"
	EnvTLSCert        = EnvPrefix + "TLS_CERT"
	EnvTLSKey         = EnvPrefix + "TLS_KEY"
	EnvTLSGenerate    = EnvPrefix + "TLS_GENERATE"
	EnvFrameDecoding  = EnvPrefix + "FRAME_DECODING"
	EnvResponseMode   = EnvPrefix + "RESPONSE_MODE"
	EnvAck            = EnvPrefix + "ACK"
	EnvEchoPrefix     = EnvPrefix + "ECHO_PREFIX"
	EnvLogLevel       = EnvPrefix + "LOG_LEVEL"
	EnvLogFormat      = EnvPrefix + "LOG_FORMAT"
	EnvAnalysisDir    = EnvPrefix + "ANALYSIS_DIR"
	EnvIdleTimeout    = EnvPrefix + "IDLE_TIMEOUT"
	EnvMaxMessageSize = EnvPrefix + "MAX_MESSAGE_SIZE"
	EnvRatePerSecond  = EnvPrefix + "RATE_LIMIT"
	EnvRateBurst      = EnvPrefix + "RATE_BURST"
	EnvAdvertise      = EnvPrefix + "ADVERTISE"

	EnvPlainHost = "HOST"
	EnvPlainPort = "PORT"
)

// LookupFunc resolves an environment variable, like os.LookupEnv
type LookupFunc func(key string) (string, bool)

// LoadOptions names the files Load reads.
type LoadOptions struct {
	// ConfigPath is an explicit YAML file. It must exist when set.
	// When empty, the default path from GetConfigPath is used if present.
	ConfigPath string
	// EnvFile is a dotenv file. When empty, ./.env is used if present.
	EnvFile string
	// Lookup overrides os.LookupEnv, mainly for tests
	Lookup LookupFunc
}

// Load builds a configuration from defaults, the YAML file, the dotenv
// file and the environment, in increasing order of precedence. Command
// line flags are applied afterwards by the caller.
func Load(opts LoadOptions) (*Server, error) {
	cfg := Default()

	configPath := opts.ConfigPath
	if configPath == "" {
		if p, err := GetConfigPath(); err == nil && fileExists(p) {
			configPath = p
		}
	}
	if configPath != "" {
		if err := cfg.mergeFile(configPath); err != nil {
			return nil, err
		}
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	envFile := opts.EnvFile
	if envFile == "" && fileExists(envFileName) {
		envFile = envFileName
	}
	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil {
			return nil, &LoadError{Source: envFile, Err: err}
		}
		lookup = layered(lookup, fileEnv)
	}

	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile reads a YAML file on top of the defaults
func LoadFile(path string) (*Server, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads YAML from r on top of the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (*Server, error) {
	cfg := Default()
	if err := cfg.decode(r); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Server) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &LoadError{Source: path, Err: err}
	}
	if err := s.decode(bytes.NewReader(data)); err != nil {
		return &LoadError{Source: path, Err: err}
	}
	return nil
}

func (s *Server) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// layered looks keys up in primary first and falls back to the dotenv map
func layered(primary LookupFunc, fallback map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

// ApplyEnv overlays environment variables onto the configuration.
func (s *Server) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPlainHost); ok {
		s.Host = v
	}
	str(EnvHost, &s.Host)

	for _, key := range []string{EnvPlainPort, EnvPort} {
		if v, ok := lookup(key); ok && v != "" {
			port, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return &LoadError{Source: key, Err: err}
			}
			s.Port = port
		}
	}

	str(EnvPath, &s.Path)
	str(EnvTLSCert, &s.TLS.CertPath)
	str(EnvTLSKey, &s.TLS.KeyPath)
	str(EnvFrameDecoding, &s.FrameDecoding)
	str(EnvResponseMode, &s.ResponseMode)
	str(EnvAck, &s.Ack)
	str(EnvEchoPrefix, &s.EchoPrefix)
	str(EnvLogLevel, &s.LogLevel)
	str(EnvLogFormat, &s.LogFormat)
	str(EnvAnalysisDir, &s.AnalysisDir)

	if v, ok := lookup(EnvTLSGenerate); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &LoadError{Source: EnvTLSGenerate, Err: err}
		}
		s.TLS.Generate = b
	}
	if v, ok := lookup(EnvAdvertise); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &LoadError{Source: EnvAdvertise, Err: err}
		}
		s.Advertise.Enabled = b
	}
	if v, ok := lookup(EnvIdleTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &LoadError{Source: EnvIdleTimeout, Err: err}
		}
		s.IdleTimeout = d
	}
	if v, ok := lookup(EnvMaxMessageSize); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &LoadError{Source: EnvMaxMessageSize, Err: err}
		}
		s.MaxMessageSize = n
	}
	if v, ok := lookup(EnvRatePerSecond); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &LoadError{Source: EnvRatePerSecond, Err: err}
		}
		s.RateLimit.PerSecond = f
	}
	if v, ok := lookup(EnvRateBurst); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &LoadError{Source: EnvRateBurst, Err: err}
		}
		s.RateLimit.Burst = n
	}

	return nil
}
