package dialer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Resolver turns a hostname into IP addresses, in the order
// connection attempts should try them.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// this type should not be used outside this file.
// prevents non-custom DNS server contexts to iterate through all keys
type dnsServerCtx struct {
	context.Context
	server string
}

var dnsServerCtxKey = &dnsServerCtx{nil, "dns-server"} // non-nil pointer to any object, definitely unique

func (c dnsServerCtx) Value(key interface{}) interface{} {
	if key == dnsServerCtxKey {
		return c.server
	}
	return c.Context.Value(key)
}

var resolverDialer net.Dialer

var customServerResolver = net.Resolver{
	PreferGo: true,
	Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		if v, ok := ctx.Value(dnsServerCtxKey).(string); ok && v != "" {
			return resolverDialer.DialContext(ctx, network, v)
		}
		return resolverDialer.DialContext(ctx, network, address)
	},
}

// GoResolver resolves through the runtime's resolver. The underlying
// machinery may block in getaddrinfo; the Go runtime confines that to
// its own thread pool.
type GoResolver struct {
	CustomDNSServer string
	Network         string            // one of "ip4", "ip6", default is "ip"
	StaticHosts     map[string]string // resembles /etc/hosts
}

func (r *GoResolver) Clone() *GoResolver {
	if r == nil {
		return nil
	}
	return &GoResolver{
		CustomDNSServer: r.CustomDNSServer,
		Network:         r.Network,
		StaticHosts:     r.StaticHosts,
	}
}

func (r *GoResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	network := "ip"
	server := ""
	if r != nil {
		if r.Network != "" {
			network = r.Network
		}
		server = r.CustomDNSServer
		if static, ok := r.StaticHosts[host]; ok {
			ip := net.ParseIP(static)
			if ip == nil {
				return nil, fmt.Errorf("dialer: static host %q maps to invalid address %q", host, static)
			}
			return []net.IP{ip}, nil
		}
	}
	return customServerResolver.LookupIP(dnsServerCtx{ctx, server}, network, host)
}

type cacheEntry struct {
	addrs      []net.IP
	recordedAt time.Time
}

// ResolverCache holds resolution results keyed by hostname. Entries
// are inserted on every completed resolution and never evicted; a
// lookup is a hit while the entry is younger than the TTL. Safe for
// concurrent use.
type ResolverCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewResolverCache builds a cache. ttl <= 0 means entries never
// expire.
func NewResolverCache(ttl time.Duration) *ResolverCache {
	return &ResolverCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *ResolverCache) Lookup(host string) ([]net.IP, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[host]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(e.recordedAt) >= c.ttl {
		return nil, false
	}
	return e.addrs, true
}

func (c *ResolverCache) Add(host string, addrs []net.IP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[host] = cacheEntry{addrs: addrs, recordedAt: time.Now()}
}

// CacheResolver fronts another Resolver with a ResolverCache. A miss
// queries the inner resolver and records the result on completion.
// Concurrent misses for the same host are not coalesced: each one
// issues its own query.
type CacheResolver struct {
	inner Resolver
	cache *ResolverCache
}

// NewCacheResolver wraps inner with cache. The cache is owned by the
// caller and may be shared across resolvers.
func NewCacheResolver(inner Resolver, cache *ResolverCache) *CacheResolver {
	return &CacheResolver{inner: inner, cache: cache}
}

func (r *CacheResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if addrs, ok := r.cache.Lookup(host); ok {
		return addrs, nil
	}
	addrs, err := r.inner.Resolve(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dialer: resolve %s: %w", host, err)
	}
	r.cache.Add(host, addrs)
	return addrs, nil
}
