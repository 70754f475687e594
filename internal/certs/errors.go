package certs

import "fmt"

// CertificateError represents a certificate-related error (generation, loading, parsing, validation).
type CertificateError struct {
	// Operation describes what certificate operation failed
	Operation string
	// Path is the certificate file path (if applicable)
	Path string
	// Underlying error
	Err error
}

func (e *CertificateError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("certificate error during %s (file: %s): %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("certificate error during %s: %v", e.Operation, e.Err)
}

func (e *CertificateError) Unwrap() error {
	return e.Err
}
