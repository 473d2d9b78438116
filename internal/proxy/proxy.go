// Package proxy routes connections through configured HTTP proxies,
// tunneling https destinations with CONNECT.
package proxy

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpguts"

	"github.com/httpkit/oneshot/internal/dialer"
	"github.com/httpkit/oneshot/internal/obs"
)

type interceptKind int

const (
	interceptNone interceptKind = iota
	interceptAll
	interceptHTTP
	interceptHTTPS
	interceptCustom
)

// Intercept selects which destinations a proxy applies to. It is a
// pure function of (scheme, host, port).
type Intercept struct {
	kind   interceptKind
	custom func(scheme, host string, port uint16) bool
}

var (
	// InterceptAll sends every connection through the proxy.
	InterceptAll = Intercept{kind: interceptAll}
	// InterceptHTTP proxies plain http connections only.
	InterceptHTTP = Intercept{kind: interceptHTTP}
	// InterceptHTTPS proxies https connections only.
	InterceptHTTPS = Intercept{kind: interceptHTTPS}
	// InterceptNone matches nothing.
	InterceptNone = Intercept{kind: interceptNone}
)

// InterceptCustom builds an intercept from a predicate. port is the
// destination's effective port (the scheme default when not explicit).
func InterceptCustom(f func(scheme, host string, port uint16) bool) Intercept {
	return Intercept{kind: interceptCustom, custom: f}
}

func (i Intercept) Matches(scheme, host string, port uint16) bool {
	switch i.kind {
	case interceptAll:
		return true
	case interceptHTTP:
		return scheme == "http"
	case interceptHTTPS:
		return scheme == "https"
	case interceptCustom:
		return i.custom(scheme, host, port)
	default:
		return false
	}
}

// Proxy is one configured proxy: where it listens, which destinations
// it intercepts, and extra headers it requires (e.g.
// Proxy-Authorization).
type Proxy struct {
	intercept Intercept
	headers   http.Header
	uri       *url.URL
}

func NewProxy(intercept Intercept, uri *url.URL) *Proxy {
	return &Proxy{
		intercept: intercept,
		headers:   http.Header{},
		uri:       uri,
	}
}

// SetAuthorization attaches basic credentials: Authorization for
// plain-http interception, Proxy-Authorization for https tunneling,
// both when the intercept covers both.
func (p *Proxy) SetAuthorization(user, password string) {
	cred := "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
	switch p.intercept.kind {
	case interceptHTTP:
		p.headers.Set("Authorization", cred)
	case interceptHTTPS:
		p.headers.Set("Proxy-Authorization", cred)
	default:
		p.headers.Set("Authorization", cred)
		p.headers.Set("Proxy-Authorization", cred)
	}
}

// SetHeader adds a custom header sent to the proxy. Invalid field
// names or values are rejected.
func (p *Proxy) SetHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("proxy: invalid header %q", name)
	}
	p.headers.Set(name, value)
	return nil
}

func (p *Proxy) Intercept() Intercept { return p.intercept }
func (p *Proxy) Headers() http.Header { return p.headers }
func (p *Proxy) URI() *url.URL        { return p.uri }

// ProxyConnector wraps an inner connector with an ordered proxy list;
// the first matching proxy wins.
type ProxyConnector struct {
	proxies []*Proxy
	inner   dialer.Connector
	tls     *tls.Config
	Logger  obs.Logger
}

// New returns a secured connector: tunneled connections get a TLS
// handshake using cfg (nil means defaults).
func New(inner dialer.Connector, cfg *tls.Config) *ProxyConnector {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	return &ProxyConnector{inner: inner, tls: cfg}
}

// Unsecured returns a connector that leaves tunneled connections as
// plaintext.
func Unsecured(inner dialer.Connector) *ProxyConnector {
	return &ProxyConnector{inner: inner}
}

// FromProxy builds a secured connector with one proxy attached.
func FromProxy(inner dialer.Connector, p *Proxy, cfg *tls.Config) *ProxyConnector {
	c := New(inner, cfg)
	c.AddProxy(p)
	return c
}

func (c *ProxyConnector) AddProxy(p *Proxy) {
	c.proxies = append(c.proxies, p)
}

func (c *ProxyConnector) ExtendProxies(ps ...*Proxy) {
	c.proxies = append(c.proxies, ps...)
}

func (c *ProxyConnector) Proxies() []*Proxy { return c.proxies }

// HTTPHeaders returns the extra headers the matched proxy requires on
// plain-http requests; the caller merges them into the outgoing
// request. Any other scheme gets nothing (those headers travel in the
// CONNECT exchange instead).
func (c *ProxyConnector) HTTPHeaders(u *url.URL) http.Header {
	if u.Scheme != "http" {
		return nil
	}
	if p := c.matchURL(u); p != nil {
		return p.headers
	}
	return nil
}

func (c *ProxyConnector) matchURL(u *url.URL) *Proxy {
	port := effectivePortURL(u)
	return c.match(u.Scheme, u.Hostname(), port)
}

func (c *ProxyConnector) match(scheme, host string, port uint16) *Proxy {
	for _, p := range c.proxies {
		if p.intercept.Matches(scheme, host, port) {
			return p
		}
	}
	return nil
}

func (c *ProxyConnector) Connect(ctx context.Context, dst *dialer.Destination) (net.Conn, dialer.Connected, error) {
	log := obs.Maybe(c.Logger)

	scheme := dst.Scheme()
	host := dst.Host()
	port := effectivePort(dst)

	p := c.match(scheme, host, port)
	if p == nil {
		return c.inner.Connect(ctx, dst)
	}

	proxyDst, err := rewriteDestination(dst, p.uri)
	if err != nil {
		return nil, dialer.Connected{}, err
	}

	conn, meta, err := c.inner.Connect(ctx, proxyDst)
	if err != nil {
		return nil, dialer.Connected{}, err
	}
	meta.Proxied = true

	if scheme != "https" {
		// Plaintext proxies read all traffic anyway; a tunnel would
		// only waste the proxy's resources.
		log.Logf(obs.Debug, "proxying %s via %s without tunnel", host, p.uri.Host)
		return conn, meta, nil
	}

	if err := tunnel(ctx, conn, host, port, p.headers); err != nil {
		conn.Close()
		return nil, dialer.Connected{}, err
	}
	log.Logf(obs.Debug, "tunnel to %s:%d established via %s", host, port, p.uri.Host)

	if c.tls != nil {
		cfg := c.tls.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		tc := tls.Client(conn, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, dialer.Connected{}, err
		}
		conn = tc
	}
	return conn, meta, nil
}

// rewriteDestination clones dst pointing at the proxy itself. Each
// mutation is transactional, so a bad proxy URI cannot leave a
// half-rewritten destination behind.
func rewriteDestination(dst *dialer.Destination, proxy *url.URL) (*dialer.Destination, error) {
	d := dst.Clone()
	if proxy.Scheme == "" {
		return nil, fmt.Errorf("proxy: uri missing scheme: %s", proxy)
	}
	if err := d.SetScheme(proxy.Scheme); err != nil {
		return nil, err
	}
	if proxy.Hostname() == "" {
		return nil, fmt.Errorf("proxy: uri missing host: %s", proxy)
	}
	if err := d.SetHost(bracketed(proxy.Hostname())); err != nil {
		return nil, err
	}
	if portStr := proxy.Port(); portStr != "" {
		port, err := parsePort(portStr)
		if err != nil {
			return nil, err
		}
		if err := d.SetPort(port); err != nil {
			return nil, err
		}
	} else if err := d.ClearPort(); err != nil {
		return nil, err
	}
	return d, nil
}

func effectivePort(dst *dialer.Destination) uint16 {
	if port, ok := dst.Port(); ok {
		return port
	}
	if dst.Scheme() == "https" {
		return 443
	}
	return 80
}

func effectivePortURL(u *url.URL) uint16 {
	if p := u.Port(); p != "" {
		if port, err := parsePort(p); err == nil {
			return port
		}
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

func parsePort(s string) (uint16, error) {
	var n int
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("proxy: invalid port %q", s)
		}
		n = n*10 + int(s[i]-'0')
		if n > 0xffff {
			return 0, fmt.Errorf("proxy: invalid port %q", s)
		}
	}
	if len(s) == 0 {
		return 0, fmt.Errorf("proxy: invalid port %q", s)
	}
	return uint16(n), nil
}

func bracketed(host string) string {
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		return "[" + host + "]"
	}
	return host
}
