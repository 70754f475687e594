// Package certs generates the TLS material used by `wsinspect server
// --generate-cert` and `wsinspect certs generate`.
//
// A CertManager owns a root CA, either generated in memory by NewCertManager
// or loaded from PEM files by LoadCertManager, and signs short-lived RSA
// server certificates for a list of hosts:
//
//	mgr, err := certs.NewCertManager()
//	if err != nil {
//	    return err
//	}
//	sc, err := mgr.GenerateServerCert(certs.DefaultCertParams("echo.lan"))
//	if err != nil {
//	    return err
//	}
//	paths, err := certs.WriteFiles("./tls", sc, mgr.RootCAPEM())
//
// Clients that should trust the server load ca.pem (or use CertPool directly
// in tests).
package certs
