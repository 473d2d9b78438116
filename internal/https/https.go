// Package https layers a TLS handshake on top of another connector.
// The handshake itself is crypto/tls's business; this package only
// decides when to run it and with which server name.
package https

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/httpkit/oneshot/internal/dialer"
)

// HTTPSConnector wraps an HTTPConnector, upgrading https destinations
// to TLS. http destinations pass through untouched.
type HTTPSConnector struct {
	inner *dialer.HTTPConnector
	cfg   *tls.Config
}

// New wraps inner. The scheme restriction is lifted on the inner
// connector since it now serves https too. cfg nil means defaults.
func New(inner *dialer.HTTPConnector, cfg *tls.Config) *HTTPSConnector {
	inner.EnforceHTTP = false
	if cfg == nil {
		cfg = &tls.Config{}
	}
	return &HTTPSConnector{inner: inner, cfg: cfg}
}

func (c *HTTPSConnector) Connect(ctx context.Context, dst *dialer.Destination) (net.Conn, dialer.Connected, error) {
	conn, meta, err := c.inner.Connect(ctx, dst)
	if err != nil {
		return nil, dialer.Connected{}, err
	}
	if dst.Scheme() != "https" {
		return conn, meta, nil
	}
	cfg := c.cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = dst.Host()
	}
	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, dialer.Connected{}, err
	}
	return tc, meta, nil
}
