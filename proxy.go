package oneshot

import (
	"crypto/tls"
	"net/url"

	"github.com/httpkit/oneshot/internal/proxy"
)

type Proxy = proxy.Proxy
type ProxyConnector = proxy.ProxyConnector
type Intercept = proxy.Intercept

var (
	InterceptAll   = proxy.InterceptAll
	InterceptHTTP  = proxy.InterceptHTTP
	InterceptHTTPS = proxy.InterceptHTTPS
	InterceptNone  = proxy.InterceptNone
)

// InterceptCustom builds an intercept from a predicate over
// (scheme, host, effective port).
func InterceptCustom(f func(scheme, host string, port uint16) bool) Intercept {
	return proxy.InterceptCustom(f)
}

// NewProxy configures one proxy endpoint with an interception rule.
func NewProxy(intercept Intercept, uri *url.URL) *Proxy {
	return proxy.NewProxy(intercept, uri)
}

// NewProxyConnector wraps inner with a proxy list; tunneled
// connections get a TLS handshake using cfg.
func NewProxyConnector(inner Connector, cfg *tls.Config) *ProxyConnector {
	return proxy.New(inner, cfg)
}

// NewUnsecuredProxyConnector wraps inner, leaving tunneled
// connections as plaintext.
func NewUnsecuredProxyConnector(inner Connector) *ProxyConnector {
	return proxy.Unsecured(inner)
}
