// Package transport performs the timed HTTP GET against the feed.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// Options configures the HTTP client.
type Options struct {
	// ConnectTimeout bounds dialing and the TLS handshake.
	// Default: 15s
	ConnectTimeout time.Duration

	// ReadTimeout bounds every single read on the connection, headers and body alike.
	// Default: 10s
	ReadTimeout time.Duration

	// CAPath optionally points to a PEM bundle used instead of the system roots.
	CAPath string
}

// DefaultOptions returns the feed timeouts.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 15 * time.Second,
		ReadTimeout:    10 * time.Second,
	}
}

// BuildHTTPClient creates an HTTP client that dials with ConnectTimeout,
// applies ReadTimeout per read, and negotiates HTTP/2 over TLS when the server offers it.
// Keep-alives are disabled: every request opens and releases its own connection.
func BuildHTTPClient(opts Options) (*http.Client, error) {
	if opts.ConnectTimeout <= 0 {
		return nil, fmt.Errorf("ConnectTimeout required (must be > 0)")
	}
	if opts.ReadTimeout <= 0 {
		return nil, fmt.Errorf("ReadTimeout required (must be > 0)")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if opts.CAPath != "" {
		caCert, err := os.ReadFile(opts.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	readTimeout := opts.ReadTimeout

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, readTimeout: readTimeout}, nil
		},
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: opts.ConnectTimeout,
		DisableKeepAlives:   true,
	}

	// A custom DialContext turns off the automatic HTTP/2 upgrade; re-enable it.
	if _, err := http2.ConfigureTransports(transport); err != nil {
		return nil, fmt.Errorf("failed to configure HTTP/2: %w", err)
	}

	return &http.Client{Transport: transport}, nil
}

// deadlineConn arms a fresh read deadline before every Read.
type deadlineConn struct {
	net.Conn
	readTimeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}
