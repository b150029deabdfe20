package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

type TLSOptions struct {
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerNameOverride string
}

// LoadClientTLSConfig builds the client side of a TLS connection. Without a
// CA file the system roots are used; a client certificate is only presented
// when both cert and key are given.
func LoadClientTLSConfig(opts TLSOptions) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if opts.CertFile != "" || opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	if opts.CAFile != "" {
		caPool := x509.NewCertPool()
		ca, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		if !caPool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		config.RootCAs = caPool
	}

	if opts.ServerNameOverride != "" {
		config.ServerName = opts.ServerNameOverride
	}

	return config, nil
}
