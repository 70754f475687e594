package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/wsinspect/internal/certs"
	"github.com/muurk/wsinspect/internal/config"
	"github.com/muurk/wsinspect/internal/logging"
	"github.com/muurk/wsinspect/internal/server"
	"github.com/muurk/wsinspect/internal/ui"
)

// Shared flags
var (
	configPath string
	envFile    string
)

// Server command flags. Only flags the user actually set override the
// loaded configuration.
var (
	host           string
	port           int
	path           string
	certPath       string
	keyPath        string
	generateCert   bool
	certHosts      []string
	frameDecoding  string
	responseMode   string
	ack            string
	echoPrefix     string
	logLevel       string
	logFormat      string
	analysisDir    string
	idleTimeout    time.Duration
	maxMessageSize int64
	rateLimit      float64
	rateBurst      int
	advertise      bool
	instanceName   string
	caOut          string
)

// Certs and config command flags
var (
	certsOut   string
	caCertPath string
	caKeyPath  string
	force      bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: user config dir, if present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to dotenv file (default: ./.env, if present)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(certsCmd)
	rootCmd.AddCommand(configCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the WebSocket server",
	Long: `Start the WebSocket server and log every message received.

Configuration is read from the config file, a .env file, WSINSPECT_*
environment variables (plus plain HOST and PORT) and finally these flags,
each layer overriding the previous one.

Without --cert/--key or --generate-cert the server speaks plain ws://.
With --generate-cert a throwaway CA and server certificate are created in
memory; use --ca-out to save the CA so clients can verify the server.

To capture messages for later analysis, use --analysis-dir. Capture files
can be summarized with 'wsinspect-probe analyze'.`,
	Example: `  # Plaintext server on the default port 8000
  wsinspect server

  # Echo mode for clients that pad frames with NUL bytes
  wsinspect server --frame-decoding nul-terminated --response-mode echo-prefixed

  # TLS with a generated certificate, saving the CA for clients
  wsinspect server --port 8443 --generate-cert --ca-out ./ca.pem

  # TLS with existing certificates
  wsinspect server --cert cert.pem --key key.pem

  # Capture messages and advertise over mDNS
  wsinspect server --analysis-dir ./captures --advertise`,
	RunE: runServer,
}

func init() {
	f := serverCmd.Flags()
	f.StringVar(&host, "host", config.DefaultHost, "Listen address (empty = all interfaces)")
	f.IntVar(&port, "port", config.DefaultPort, "Listen port (0 = pick a free port)")
	f.StringVar(&path, "path", config.DefaultPath, "WebSocket endpoint path")
	f.StringVar(&certPath, "cert", "", "Path to TLS certificate file")
	f.StringVar(&keyPath, "key", "", "Path to TLS private key file")
	f.BoolVar(&generateCert, "generate-cert", false, "Serve TLS with a generated in-memory certificate")
	f.StringSliceVar(&certHosts, "cert-host", nil, "Extra host names or IPs for the generated certificate")
	f.StringVar(&frameDecoding, "frame-decoding", "raw", "Frame decoding policy (raw, nul-terminated)")
	f.StringVar(&responseMode, "response-mode", "fixed", "Response mode (fixed, echo-prefixed)")
	f.StringVar(&ack, "ack", "", "Acknowledgement text for fixed mode")
	f.StringVar(&echoPrefix, "echo-prefix", "", "Label placed before the echo in echo-prefixed mode")
	f.StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	f.StringVar(&logFormat, "log-format", logging.FormatConsole, "Log format (console, json)")
	f.StringVar(&analysisDir, "analysis-dir", "", "Directory to write message capture files (disabled if not specified)")
	f.DurationVar(&idleTimeout, "idle-timeout", 0, "Close connections idle for this long (e.g., 30s, 5m; 0 = never)")
	f.Int64Var(&maxMessageSize, "max-message-size", 0, "Largest accepted message in bytes (0 = unlimited)")
	f.Float64Var(&rateLimit, "rate-limit", 0, "Messages per second per connection (0 = unlimited)")
	f.IntVar(&rateBurst, "rate-burst", 1, "Burst size for --rate-limit")
	f.BoolVar(&advertise, "advertise", false, "Advertise the server over mDNS")
	f.StringVar(&instanceName, "instance", config.DefaultInstanceName, "mDNS instance name")
	f.StringVar(&caOut, "ca-out", "", "Write the generated CA certificate to this file")
}

func runServer(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(config.LoadOptions{ConfigPath: configPath, EnvFile: envFile})
	if err != nil {
		return err
	}

	applyServerFlags(cmd, settings)

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if analysisDir := settings.AnalysisDir; analysisDir != "" {
		info, err := os.Stat(analysisDir)
		if err == nil && !info.IsDir() {
			return fmt.Errorf("analysis path is not a directory: %s", analysisDir)
		}
	}

	if err := logging.InitializeWithFormat(settings.LogLevel, settings.LogFormat); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()
	logger := logging.GetLogger()

	cfg, err := server.NewConfig(settings, logger)
	if err != nil {
		return fmt.Errorf("failed to configure server: %w", err)
	}

	if caOut != "" {
		if cfg.RootCAPEM == nil {
			return errors.New("--ca-out requires --generate-cert")
		}
		if err := os.WriteFile(caOut, cfg.RootCAPEM, 0644); err != nil {
			return fmt.Errorf("failed to write CA certificate: %w", err)
		}
		logger.Info("Wrote generated CA certificate", zap.String("path", caOut))
	}

	if cfg.TLSConfig != nil {
		logger.Debug("TLS configuration", zap.Any("tls", server.GetTLSInfo(cfg.TLSConfig)))
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		var bindErr *server.BindError
		if errors.As(err, &bindErr) {
			logger.Error("Failed to bind listener", zap.String("addr", bindErr.Addr), zap.Error(bindErr.Err))
		}
		return err
	}

	logger.Info("Server stopped")
	return nil
}

// applyServerFlags copies explicitly set flags over the loaded settings
func applyServerFlags(cmd *cobra.Command, s *config.Server) {
	changed := cmd.Flags().Changed

	if changed("host") {
		s.Host = host
	}
	if changed("port") {
		s.Port = port
	}
	if changed("path") {
		s.Path = path
	}
	if changed("cert") {
		s.TLS.CertPath = certPath
	}
	if changed("key") {
		s.TLS.KeyPath = keyPath
	}
	if changed("generate-cert") {
		s.TLS.Generate = generateCert
	}
	if changed("cert-host") {
		s.TLS.Hosts = certHosts
	}
	if changed("frame-decoding") {
		s.FrameDecoding = frameDecoding
	}
	if changed("response-mode") {
		s.ResponseMode = responseMode
	}
	if changed("ack") {
		s.Ack = ack
	}
	if changed("echo-prefix") {
		s.EchoPrefix = echoPrefix
	}
	if changed("log-level") {
		s.LogLevel = logLevel
	}
	if changed("log-format") {
		s.LogFormat = logFormat
	}
	if changed("analysis-dir") {
		s.AnalysisDir = analysisDir
	}
	if changed("idle-timeout") {
		s.IdleTimeout = idleTimeout
	}
	if changed("max-message-size") {
		s.MaxMessageSize = maxMessageSize
	}
	if changed("rate-limit") {
		s.RateLimit.PerSecond = rateLimit
		if s.RateLimit.Burst == 0 {
			s.RateLimit.Burst = rateBurst
		}
	}
	if changed("rate-burst") {
		s.RateLimit.Burst = rateBurst
	}
	if changed("advertise") {
		s.Advertise.Enabled = advertise
	}
	if changed("instance") {
		s.Advertise.Instance = instanceName
	}
}

// certsCmd groups certificate helpers
var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage TLS certificates",
}

var certsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a CA and a server certificate",
	Long: `Generate a new root CA and a server certificate signed by it.

Three PEM files are written to the output directory:
  cert.pem  server certificate
  key.pem   server private key (mode 0600)
  ca.pem    root CA certificate, for clients

The certificate is valid for localhost, 127.0.0.1 and ::1 plus any --host
values. The CA private key is not saved.

With --ca-cert and --ca-key an existing CA signs the certificate instead,
and ca.pem is a copy of that CA certificate.`,
	Example: `  # Write certificates to ./tls
  wsinspect certs generate --out ./tls

  # Include a LAN name and address
  wsinspect certs generate --out ./tls --host bench.local --host 192.168.1.20

  # Sign with a CA your clients already trust
  wsinspect certs generate --out ./tls --ca-cert ./lab-ca.pem --ca-key ./lab-ca-key.pem

  # Then start the server with them
  wsinspect server --cert ./tls/cert.pem --key ./tls/key.pem`,
	Args: cobra.NoArgs,
	RunE: runCertsGenerate,
}

func init() {
	certsGenerateCmd.Flags().StringVar(&certsOut, "out", ".", "Output directory")
	certsGenerateCmd.Flags().StringSliceVar(&certHosts, "host", nil, "Extra host names or IPs for the certificate")
	certsGenerateCmd.Flags().StringVar(&caCertPath, "ca-cert", "", "Existing CA certificate (PEM) to sign with")
	certsGenerateCmd.Flags().StringVar(&caKeyPath, "ca-key", "", "Private key (PEM) for --ca-cert")
	certsGenerateCmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files without asking")
	certsGenerateCmd.MarkFlagsRequiredTogether("ca-cert", "ca-key")

	certsCmd.AddCommand(certsGenerateCmd)
}

func runCertsGenerate(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout())

	var existing []string
	for _, name := range []string{certs.CertFileName, certs.KeyFileName, certs.CAFileName} {
		p := filepath.Join(certsOut, name)
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) > 0 && !force {
		if !ui.ConfirmOverwrite(cmd.InOrStdin(), cmd.OutOrStdout(), existing...) {
			return nil
		}
	}

	cm, err := loadOrCreateCA()
	if err != nil {
		printer.PrintError("Certificate generation failed", err, []string{
			"--ca-cert and --ca-key must be a PEM CA certificate and its RSA key",
		})
		return err
	}

	params := certs.DefaultCertParams(certHosts...)
	sc, err := cm.GenerateServerCert(params)
	if err != nil {
		return fmt.Errorf("failed to generate server certificate: %w", err)
	}

	paths, err := certs.WriteFiles(certsOut, sc, cm.RootCAPEM())
	if err != nil {
		printer.PrintError("Certificate generation failed", err, []string{
			"Check that the output directory is writable",
		})
		return err
	}

	printer.PrintSuccess("Certificates written", map[string]string{
		"Certificate": paths.Cert,
		"Key":         paths.Key,
		"CA":          paths.CA,
		"Hosts":       strings.Join(params.Hosts, ", "),
		"Expires":     sc.Certificate.NotAfter.Format("2006-01-02"),
	})
	return nil
}

func loadOrCreateCA() (*certs.CertManager, error) {
	if caCertPath != "" {
		cm, err := certs.LoadCertManagerFiles(caCertPath, caKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA: %w", err)
		}
		return cm, nil
	}
	cm, err := certs.NewCertManager()
	if err != nil {
		return nil, fmt.Errorf("failed to create CA: %w", err)
	}
	return cm, nil
}

// configCmd groups configuration file helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	Example: `  # Write to the user config dir
  wsinspect config init

  # Write somewhere else
  wsinspect config init --config ./wsinspect.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration the server would start with, after merging the
config file, the .env file and the environment. Command line flags of the
server command are not included.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file without asking")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	target := configPath
	if target == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		target = p
	}

	if _, err := os.Stat(target); err == nil && !force {
		if !ui.ConfirmOverwrite(cmd.InOrStdin(), cmd.OutOrStdout(), target) {
			return nil
		}
	}

	if err := config.Default().Save(target); err != nil {
		return err
	}

	ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Configuration written", map[string]string{
		"Path": target,
	})
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(config.LoadOptions{ConfigPath: configPath, EnvFile: envFile})
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}

	data, err := settings.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
