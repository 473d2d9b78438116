package oneshot

import (
	"crypto/tls"
	"net/url"
	"time"

	"github.com/httpkit/oneshot/internal/dialer"
	"github.com/httpkit/oneshot/internal/https"
)

type Connector = dialer.Connector
type Connected = dialer.Connected
type Destination = dialer.Destination

type HTTPConnector = dialer.HTTPConnector
type HTTPSConnector = https.HTTPSConnector

type Resolver = dialer.Resolver
type GoResolver = dialer.GoResolver
type CacheResolver = dialer.CacheResolver
type ResolverCache = dialer.ResolverCache

// NewDestination derives a connection target from a parsed URI.
func NewDestination(u *url.URL) (*Destination, error) {
	return dialer.NewDestination(u)
}

// NewHTTPConnector returns a TCP connector with default settings.
func NewHTTPConnector(r Resolver) *HTTPConnector {
	return dialer.NewHTTPConnector(r)
}

// NewHTTPSConnector wraps an HTTPConnector with a TLS handshake for
// https destinations.
func NewHTTPSConnector(inner *HTTPConnector, cfg *tls.Config) *HTTPSConnector {
	return https.New(inner, cfg)
}

// NewResolverCache builds a shared resolution cache with the given
// entry lifetime; ttl <= 0 keeps entries forever.
func NewResolverCache(ttl time.Duration) *ResolverCache {
	return dialer.NewResolverCache(ttl)
}

// NewCacheResolver fronts inner with a shared cache.
func NewCacheResolver(inner Resolver, cache *ResolverCache) *CacheResolver {
	return dialer.NewCacheResolver(inner, cache)
}
