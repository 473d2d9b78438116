package dialer

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/httpkit/oneshot/internal/obs"
)

var (
	ErrNotHTTP          = errors.New("dialer: invalid URL, scheme must be http")
	ErrMissingScheme    = errors.New("dialer: invalid URL, missing scheme")
	ErrMissingAuthority = errors.New("dialer: invalid URL, missing domain")
)

// Connected carries metadata about an established transport.
type Connected struct {
	RemoteAddr net.Addr
	Proxied    bool
}

// Connector turns a destination into a connected transport.
type Connector interface {
	Connect(ctx context.Context, dst *Destination) (net.Conn, Connected, error)
}

var defaultResolver = &GoResolver{}

// HTTPConnector establishes plain TCP connections for http
// destinations, racing address families ("happy eyeballs") when the
// resolver returns both.
type HTTPConnector struct {
	// Resolver looks up hostnames; nil means the runtime resolver.
	Resolver Resolver
	// EnforceHTTP rejects any scheme other than "http". When off,
	// only a missing scheme is rejected.
	EnforceHTTP bool
	// FallbackDelay is the head start the preferred address family
	// gets before the other family joins the race. Zero disables the
	// race and walks all addresses in resolver order.
	FallbackDelay time.Duration
	// KeepAlive enables TCP keep-alive probes at the given period.
	KeepAlive time.Duration
	// LocalAddr optionally binds the socket before connecting.
	LocalAddr net.IP
	NoDelay   bool
	// ReuseAddress sets SO_REUSEADDR on the dialing socket.
	ReuseAddress bool
	Logger       obs.Logger

	dial dialFunc // test seam, nil means a real dialer
}

// NewHTTPConnector returns a connector with the defaults the rest of
// the package assumes: http-only destinations, a 300ms fallback delay
// and TCP_NODELAY on.
func NewHTTPConnector(resolver Resolver) *HTTPConnector {
	return &HTTPConnector{
		Resolver:      resolver,
		EnforceHTTP:   true,
		FallbackDelay: 300 * time.Millisecond,
		NoDelay:       true,
	}
}

func (c *HTTPConnector) Clone() *HTTPConnector {
	clone := *c
	return &clone
}

func (c *HTTPConnector) Connect(ctx context.Context, dst *Destination) (net.Conn, Connected, error) {
	log := obs.Maybe(c.Logger)

	scheme := dst.Scheme()
	if c.EnforceHTTP {
		if scheme != "http" {
			return nil, Connected{}, ErrNotHTTP
		}
	} else if scheme == "" {
		return nil, Connected{}, ErrMissingScheme
	}
	host := dst.Host()
	if host == "" {
		return nil, Connected{}, ErrMissingAuthority
	}
	port, ok := dst.Port()
	if !ok {
		if scheme == "https" {
			port = 443
		} else {
			port = 80
		}
	}

	var preferred, fallback []netip.AddrPort
	if addrs, ok := parseLiteral(host, port); ok {
		// Already an IP literal, skip resolution.
		preferred = addrs
	} else {
		resolver := c.Resolver
		if resolver == nil {
			resolver = defaultResolver
		}
		start := time.Now()
		ips, err := resolver.Resolve(ctx, host)
		if err != nil {
			return nil, Connected{}, err
		}
		log.Logf(obs.Debug, "resolved %s to %d addresses in %s", host, len(ips), time.Since(start))
		addrs := joinPort(ips, port)
		if c.FallbackDelay > 0 {
			preferred, fallback = splitByPreference(addrs)
		} else {
			preferred = addrs
		}
	}

	dial := c.dial
	if dial == nil {
		dial = c.dialAddr
	}
	race := &tcpRace{
		dial:          dial,
		preferred:     preferred,
		fallback:      fallback,
		fallbackDelay: c.FallbackDelay,
		log:           log,
	}
	conn, err := race.Run(ctx)
	if err != nil {
		return nil, Connected{}, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		if c.KeepAlive > 0 {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(c.KeepAlive)
		}
		tc.SetNoDelay(c.NoDelay)
	}
	return conn, Connected{RemoteAddr: conn.RemoteAddr()}, nil
}

func (c *HTTPConnector) dialAddr(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
	d := net.Dialer{KeepAlive: -1} // keep-alive is applied after connect
	if c.LocalAddr != nil {
		d.LocalAddr = &net.TCPAddr{IP: c.LocalAddr}
	}
	if c.ReuseAddress {
		d.Control = reuseAddrControl
	}
	return d.DialContext(ctx, "tcp", addr.String())
}
