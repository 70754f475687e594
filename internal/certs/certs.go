package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// File names used by WriteFiles
const (
	CertFileName = "cert.pem"
	KeyFileName  = "key.pem"
	CAFileName   = "ca.pem"
)

// CertManager holds a root CA and signs server certificates with it.
type CertManager struct {
	// rootCA is the parsed root CA certificate
	rootCA *x509.Certificate
	// rootCAKey is the root CA private key
	rootCAKey *rsa.PrivateKey
	rootCAPEM []byte
}

// NewCertManager creates a certificate manager backed by a freshly generated,
// in-memory root CA. The CA key never touches disk unless the caller writes it.
func NewCertManager() (*CertManager, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, &CertificateError{Operation: "generate_ca_key", Err: err}
	}

	serialNumber, err := newSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"wsinspect"},
			CommonName:   "wsinspect ephemeral root CA",
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, &CertificateError{Operation: "create_ca", Err: err}
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &CertificateError{Operation: "parse_ca", Err: err}
	}

	return &CertManager{
		rootCA:    cert,
		rootCAKey: key,
		rootCAPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}, nil
}

// LoadCertManager creates a certificate manager from an existing PEM-encoded
// CA certificate and key (PKCS#1 or PKCS#8 RSA).
func LoadCertManager(caCertPEM, caKeyPEM []byte) (*CertManager, error) {
	block, _ := pem.Decode(caCertPEM)
	if block == nil {
		return nil, &CertificateError{Operation: "load_ca", Err: errors.New("failed to decode root CA PEM")}
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, &CertificateError{Operation: "load_ca", Err: fmt.Errorf("failed to parse root CA certificate: %w", err)}
	}
	if !cert.IsCA {
		return nil, &CertificateError{Operation: "load_ca", Err: errors.New("certificate is not a CA")}
	}

	keyBlock, _ := pem.Decode(caKeyPEM)
	if keyBlock == nil {
		return nil, &CertificateError{Operation: "load_ca_key", Err: errors.New("failed to decode root CA key PEM")}
	}

	var key any
	key, err = x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		// Try PKCS1 format
		key, err = x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, &CertificateError{Operation: "load_ca_key", Err: fmt.Errorf("failed to parse root CA private key: %w", err)}
		}
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, &CertificateError{Operation: "load_ca_key", Err: errors.New("root CA key is not RSA")}
	}

	return &CertManager{
		rootCA:    cert,
		rootCAKey: rsaKey,
		rootCAPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
	}, nil
}

// LoadCertManagerFiles reads a CA certificate and key from disk and passes
// them to LoadCertManager.
func LoadCertManagerFiles(caCertPath, caKeyPath string) (*CertManager, error) {
	certPEM, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, &CertificateError{Operation: "load_ca", Path: caCertPath, Err: err}
	}
	keyPEM, err := os.ReadFile(caKeyPath)
	if err != nil {
		return nil, &CertificateError{Operation: "load_ca_key", Path: caKeyPath, Err: err}
	}
	return LoadCertManager(certPEM, keyPEM)
}

// RootCAPEM returns the root CA certificate in PEM format.
func (cm *CertManager) RootCAPEM() []byte {
	return cm.rootCAPEM
}

// RootCAKeyPEM returns the root CA private key in PKCS#1 PEM format.
func (cm *CertManager) RootCAKeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(cm.rootCAKey),
	})
}

// CertPool returns a pool that trusts only the root CA. Clients use it to
// verify servers whose certificate came from GenerateServerCert.
func (cm *CertManager) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(cm.rootCA)
	return pool
}

// CertParams holds parameters for generating a server certificate.
type CertParams struct {
	// CommonName is the CN field
	CommonName string
	// Organization is the O field
	Organization string
	// Hosts are DNS names or IP addresses placed in the SANs
	Hosts []string
	// ValidDays is certificate validity in days
	ValidDays int
}

// DefaultCertParams returns parameters for a certificate valid for localhost
// and the loopback addresses, plus any extra hosts.
func DefaultCertParams(extraHosts ...string) CertParams {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	for _, h := range extraHosts {
		if h != "" && !contains(hosts, h) {
			hosts = append(hosts, h)
		}
	}
	return CertParams{
		CommonName:   "localhost",
		Organization: "wsinspect",
		Hosts:        hosts,
		ValidDays:    365,
	}
}

// ServerCert represents a generated server certificate.
type ServerCert struct {
	// CertPEM is the certificate in PEM format
	CertPEM []byte
	// CertDER is the certificate in DER format
	CertDER []byte
	// KeyPEM is the private key in PEM format
	KeyPEM []byte
	// Certificate is the parsed x509 certificate
	Certificate *x509.Certificate
	// PrivateKey is the RSA private key
	PrivateKey *rsa.PrivateKey
}

// TLSCertificate converts the certificate to a tls.Certificate.
func (sc *ServerCert) TLSCertificate() (tls.Certificate, error) {
	cert, err := tls.X509KeyPair(sc.CertPEM, sc.KeyPEM)
	if err != nil {
		return tls.Certificate{}, &CertificateError{Operation: "load_keypair", Err: err}
	}
	return cert, nil
}

// GenerateServerCert generates a new server certificate signed by the root CA:
//   - RSA 2048-bit key
//   - SHA-256 signature
//   - Key usage: digitalSignature, keyEncipherment
//   - Extended key usage: serverAuth
//   - SANs split into DNS names and IP addresses from params.Hosts
func (cm *CertManager) GenerateServerCert(params CertParams) (*ServerCert, error) {
	if len(params.Hosts) == 0 {
		return nil, &CertificateError{Operation: "generate_server_cert", Err: errors.New("at least one host is required")}
	}
	if params.ValidDays <= 0 {
		params.ValidDays = 365
	}

	// Generate RSA 2048-bit key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, &CertificateError{Operation: "generate_key", Err: err}
	}

	serialNumber, err := newSerial()
	if err != nil {
		return nil, err
	}

	notBefore := time.Now().Add(-time.Hour)
	notAfter := notBefore.AddDate(0, 0, params.ValidDays)

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{params.Organization},
			CommonName:   params.CommonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	for _, h := range params.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, cm.rootCA, &privateKey.PublicKey, cm.rootCAKey)
	if err != nil {
		return nil, &CertificateError{Operation: "create_certificate", Err: err}
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, &CertificateError{Operation: "parse_certificate", Err: err}
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return &ServerCert{
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		CertDER:     certDER,
		KeyPEM:      keyPEM,
		Certificate: cert,
		PrivateKey:  privateKey,
	}, nil
}

// ValidateServerCert checks that certDER is usable as a TLS server
// certificate for host. Returns nil if valid.
func (cm *CertManager) ValidateServerCert(certDER []byte, host string) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return &CertificateError{Operation: "validate", Err: fmt.Errorf("failed to parse certificate: %w", err)}
	}

	_, err = cert.Verify(x509.VerifyOptions{
		DNSName:   host,
		Roots:     cm.CertPool(),
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		return &CertificateError{Operation: "validate", Err: err}
	}
	return nil
}

// Paths lists the files written by WriteFiles
type Paths struct {
	Cert string
	Key  string
	CA   string
}

// WriteFiles stores the server certificate, its key and the CA certificate in
// dir. The key file is written with 0600 permissions.
func WriteFiles(dir string, sc *ServerCert, caPEM []byte) (Paths, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Paths{}, &CertificateError{Operation: "write", Path: dir, Err: err}
	}

	paths := Paths{
		Cert: filepath.Join(dir, CertFileName),
		Key:  filepath.Join(dir, KeyFileName),
		CA:   filepath.Join(dir, CAFileName),
	}

	files := []struct {
		path string
		data []byte
		perm os.FileMode
	}{
		{paths.Cert, sc.CertPEM, 0644},
		{paths.Key, sc.KeyPEM, 0600},
		{paths.CA, caPEM, 0644},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, f.data, f.perm); err != nil {
			return Paths{}, &CertificateError{Operation: "write", Path: f.path, Err: err}
		}
	}

	return paths, nil
}

func newSerial() (*big.Int, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, &CertificateError{Operation: "generate_serial", Err: err}
	}
	return serialNumber, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
