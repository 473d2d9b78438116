package dialer

import (
	"errors"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ErrParse is returned by the Destination mutators. A failed mutation
// leaves the destination exactly as it was.
var ErrParse = errors.New("dialer: invalid destination component")

// Destination is the validated connection target derived from a
// request URI. Mutations are transactional: they either fully apply
// or fail with ErrParse and restore the previous state.
type Destination struct {
	uri url.URL
}

// NewDestination copies u. The URI must carry a host.
func NewDestination(u *url.URL) (*Destination, error) {
	if u == nil || u.Hostname() == "" {
		return nil, ErrParse
	}
	return &Destination{uri: *u}, nil
}

// Scheme returns the protocol scheme, e.g. "http".
func (d *Destination) Scheme() string { return d.uri.Scheme }

// Host returns the hostname, without any port or brackets.
func (d *Destination) Host() string { return d.uri.Hostname() }

// Port returns the explicit port, if one is present in the authority.
func (d *Destination) Port() (uint16, bool) {
	p := d.uri.Port()
	if p == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

// URL returns a copy of the underlying URI.
func (d *Destination) URL() *url.URL {
	u := d.uri
	return &u
}

func (d *Destination) Clone() *Destination {
	return &Destination{uri: d.uri}
}

func (d *Destination) String() string { return d.uri.String() }

// SetScheme replaces the scheme. The scheme is lowercased; invalid
// scheme syntax fails with ErrParse.
func (d *Destination) SetScheme(scheme string) error {
	if !validScheme(scheme) {
		return ErrParse
	}
	return d.update(func(u *url.URL) {
		u.Scheme = strings.ToLower(scheme)
	})
}

// SetHost replaces the hostname, keeping any explicit port. Embedded
// credentials are rejected, as is a host carrying its own port (it
// would collide with the one in the authority).
func (d *Destination) SetHost(host string) error {
	if strings.Contains(host, "@") {
		return ErrParse
	}
	normalized, err := normalizeHost(host)
	if err != nil {
		return ErrParse
	}
	authority := normalized
	if port, ok := d.Port(); ok {
		authority = normalized + ":" + strconv.Itoa(int(port))
	}
	return d.update(func(u *url.URL) {
		u.Host = authority
	})
}

// SetPort rewrites the authority with an explicit port, preserving
// the host.
func (d *Destination) SetPort(port uint16) error {
	return d.update(func(u *url.URL) {
		u.Host = joinHostPort(u.Hostname(), strconv.Itoa(int(port)))
	})
}

// ClearPort removes any explicit port from the authority.
func (d *Destination) ClearPort() error {
	return d.update(func(u *url.URL) {
		u.Host = bracketHost(u.Hostname())
	})
}

// update applies f to a scratch copy, revalidates by reparsing, and
// only then commits.
func (d *Destination) update(f func(*url.URL)) error {
	next := d.uri
	f(&next)
	parsed, err := url.Parse(next.String())
	if err != nil || parsed.Hostname() == "" || parsed.Host != next.Host {
		return ErrParse
	}
	d.uri = *parsed
	return nil
}

func validScheme(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
		case i > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// normalizeHost validates a bare hostname or IP literal and returns
// it in authority form (IPv6 literals bracketed).
func normalizeHost(host string) (string, error) {
	if host == "" {
		return "", ErrParse
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		ip, err := netip.ParseAddr(host[1 : len(host)-1])
		if err != nil || !ip.Is6() {
			return "", ErrParse
		}
		return host, nil
	}
	if strings.Contains(host, ":") {
		// Either an unbracketed IPv6 literal or a stray host:port;
		// both collide with the authority's own port slot.
		return "", ErrParse
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.String(), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", err
	}
	return ascii, nil
}

func joinHostPort(host, port string) string {
	return bracketHost(host) + ":" + port
}

func bracketHost(host string) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}
