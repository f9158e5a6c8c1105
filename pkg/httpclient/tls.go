package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// TLSConfig holds transport TLS options for upstream calls.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Dev only.
	InsecureSkipVerify bool

	// CACertificate is a path to a PEM file with extra trusted roots,
	// for providers behind private gateways.
	CACertificate string
}

// ConfigureTLS builds an http.Transport from the TLS options. The
// default transport is cloned so HTTP/2 and proxy settings survive.
func ConfigureTLS(config *TLSConfig) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	tlsCfg := &tls.Config{}

	if config != nil {
		if config.CACertificate != "" {
			pem, err := os.ReadFile(config.CACertificate)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA certificate from %s: %w", config.CACertificate, err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("failed to parse CA certificate from %s", config.CACertificate)
			}
			tlsCfg.RootCAs = pool
		}
		tlsCfg.InsecureSkipVerify = config.InsecureSkipVerify
	}

	transport.TLSClientConfig = tlsCfg
	return transport, nil
}

// WithTLSConfig applies TLS options to the client's transport. An invalid
// configuration is logged and the default transport kept, so a bad CA path
// degrades to system roots instead of breaking construction.
func WithTLSConfig(config *TLSConfig) Option {
	return func(c *Client) {
		if config == nil {
			return
		}

		transport, err := ConfigureTLS(config)
		if err != nil {
			slog.Warn("Failed to configure TLS, using default transport", "error", err)
			return
		}

		if c.client != nil {
			c.client.Transport = transport
		} else {
			c.client = &http.Client{
				Transport: transport,
				Timeout:   60 * time.Second,
			}
		}
	}
}
