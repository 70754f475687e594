package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/wsinspect/internal/certs"
	"github.com/muurk/wsinspect/internal/logging"
)

// NewTLSConfig creates a TLS configuration from PEM certificate and key files
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	logging.Debug("TLS configuration created from files",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
	)

	return buildTLSConfig(cert), nil
}

// NewTLSConfigFromMemory creates a TLS configuration from an in-memory
// certificate and key (PEM format)
func NewTLSConfigFromMemory(certPEM, keyPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate from memory: %w", err)
	}

	logging.Debug("TLS configuration created from in-memory certificate")

	return buildTLSConfig(cert), nil
}

// GeneratedTLS is a TLS configuration backed by a freshly generated
// certificate, together with the CA that signed it.
type GeneratedTLS struct {
	Config     *tls.Config
	ServerCert *certs.ServerCert
	// RootCAPEM must be trusted by clients connecting with wss://
	RootCAPEM []byte
}

// GenerateTLSConfig creates an ephemeral CA, signs a server certificate for
// localhost plus the given hosts and returns a TLS configuration using it.
// Nothing is written to disk.
func GenerateTLSConfig(hosts ...string) (*GeneratedTLS, error) {
	certMgr, err := certs.NewCertManager()
	if err != nil {
		return nil, fmt.Errorf("failed to create cert manager: %w", err)
	}

	params := certs.DefaultCertParams(hosts...)

	logging.Info("Generating server certificate",
		zap.String("CN", params.CommonName),
		zap.Strings("SANs", params.Hosts),
		zap.Int("valid_days", params.ValidDays),
	)

	serverCert, err := certMgr.GenerateServerCert(params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate server certificate: %w", err)
	}

	tlsConfig, err := NewTLSConfigFromMemory(serverCert.CertPEM, serverCert.KeyPEM)
	if err != nil {
		return nil, err
	}

	return &GeneratedTLS{
		Config:     tlsConfig,
		ServerCert: serverCert,
		RootCAPEM:  certMgr.RootCAPEM(),
	}, nil
}

func buildTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"},
	}
}

// GetTLSInfo returns human-readable TLS configuration information
func GetTLSInfo(config *tls.Config) map[string]interface{} {
	info := map[string]interface{}{
		"min_version": logging.TLSVersionName(config.MinVersion),
		"num_certs":   len(config.Certificates),
	}
	if config.MaxVersion != 0 {
		info["max_version"] = logging.TLSVersionName(config.MaxVersion)
	}

	if len(config.Certificates) > 0 && len(config.Certificates[0].Certificate) > 0 {
		leaf := config.Certificates[0].Leaf
		if leaf == nil {
			if parsed, err := x509.ParseCertificate(config.Certificates[0].Certificate[0]); err == nil {
				leaf = parsed
			}
		}
		if leaf != nil {
			info["subject"] = leaf.Subject.CommonName
			info["issuer"] = leaf.Issuer.CommonName
			info["dns_names"] = leaf.DNSNames
			info["not_after"] = leaf.NotAfter
		}
	}

	return info
}
