package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// setTLSConfig builds the server TLS configuration. TLS stays off when no
// certificate is configured. With a CA file every client must present a
// certificate signed by one of its CAs.
func (c *Config) setTLSConfig() error {
	if c.TLSCertFile == "" {
		return nil
	}

	cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("loading TLS key pair from %q and %q: %w", c.TLSCertFile, c.TLSKeyFile, err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if c.TLSCaFile != "" {
		pool, err := loadCertPool(c.TLSCaFile)
		if err != nil {
			return err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	c.TLSConfig = tlsConfig
	return nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading TLS CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no PEM certificates found in TLS CA file %q", caFile)
	}
	return pool, nil
}
