package dialer

import (
	"context"
	"net"
	"net/netip"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConnector(dial dialFunc, resolver Resolver) *HTTPConnector {
	c := NewHTTPConnector(resolver)
	c.dial = dial
	return c
}

func TestConnectLiteralSkipsResolution(t *testing.T) {
	resolver := &countingResolver{} // must never be consulted
	var dialed atomic.Value
	dial := func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		dialed.Store(addr)
		return &fakeConn{addr: addr}, nil
	}

	c := testConnector(dial, resolver)
	conn, meta, err := c.Connect(context.Background(), mustDestination(t, "http://127.0.0.1:8080/x"))
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, mkAddr("127.0.0.1:8080"), dialed.Load())
	assert.Equal(t, int32(0), atomic.LoadInt32(&resolver.calls))
	assert.Equal(t, "127.0.0.1:8080", meta.RemoteAddr.String())
	assert.False(t, meta.Proxied)
}

func TestConnectDefaultPorts(t *testing.T) {
	resolver := &countingResolver{addrs: []net.IP{net.ParseIP("10.0.0.1")}}
	var dialed atomic.Value
	dial := func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		dialed.Store(addr)
		return &fakeConn{addr: addr}, nil
	}

	c := testConnector(dial, resolver)
	conn, _, err := c.Connect(context.Background(), mustDestination(t, "http://example.com/"))
	require.NoError(t, err)
	conn.Close()
	assert.Equal(t, mkAddr("10.0.0.1:80"), dialed.Load())

	c.EnforceHTTP = false
	conn, _, err = c.Connect(context.Background(), mustDestination(t, "https://example.com/"))
	require.NoError(t, err)
	conn.Close()
	assert.Equal(t, mkAddr("10.0.0.1:443"), dialed.Load())
}

func TestConnectEnforcesHTTP(t *testing.T) {
	c := testConnector(nil, &countingResolver{})
	_, _, err := c.Connect(context.Background(), mustDestination(t, "https://example.com/"))
	assert.ErrorIs(t, err, ErrNotHTTP)

	c.EnforceHTTP = false
	u, err := url.Parse("//example.com/path")
	require.NoError(t, err)
	d, err := NewDestination(u)
	require.NoError(t, err)
	_, _, err = c.Connect(context.Background(), d)
	assert.ErrorIs(t, err, ErrMissingScheme)
}

func TestConnectResolverErrorSurfaces(t *testing.T) {
	resolver := &countingResolver{err: assert.AnError}
	c := testConnector(nil, resolver)
	_, _, err := c.Connect(context.Background(), mustDestination(t, "http://example.com/"))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestConnectRacesFamilies(t *testing.T) {
	resolver := &countingResolver{addrs: []net.IP{
		net.ParseIP("10.0.0.1"),
		net.ParseIP("2001:db8::1"),
	}}
	dial := func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		if addr.Addr().Is4() {
			// Preferred family stalls past the fallback delay.
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		}
		return &fakeConn{addr: addr}, nil
	}

	c := testConnector(dial, resolver)
	c.FallbackDelay = 5 * time.Millisecond
	conn, _, err := c.Connect(context.Background(), mustDestination(t, "http://example.com/"))
	require.NoError(t, err)
	defer conn.Close()
	assert.True(t, conn.(*fakeConn).addr.Addr().Is6())
}

func TestConnectNoFallbackDelayWalksAllAddrs(t *testing.T) {
	resolver := &countingResolver{addrs: []net.IP{
		net.ParseIP("10.0.0.1"),
		net.ParseIP("2001:db8::1"),
	}}
	var order []netip.AddrPort
	dial := func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		order = append(order, addr)
		if len(order) < 2 {
			return nil, assert.AnError
		}
		return &fakeConn{addr: addr}, nil
	}

	c := testConnector(dial, resolver)
	c.FallbackDelay = 0
	conn, _, err := c.Connect(context.Background(), mustDestination(t, "http://example.com/"))
	require.NoError(t, err)
	conn.Close()
	require.Len(t, order, 2)
	assert.True(t, order[0].Addr().Is4())
	assert.True(t, order[1].Addr().Is6())
}

func TestConnectorClone(t *testing.T) {
	c := NewHTTPConnector(&GoResolver{Network: "ip4"})
	c.FallbackDelay = time.Second
	clone := c.Clone()
	assert.Equal(t, c.FallbackDelay, clone.FallbackDelay)
	assert.Equal(t, c.EnforceHTTP, clone.EnforceHTTP)
	clone.FallbackDelay = 0
	assert.Equal(t, time.Second, c.FallbackDelay)
}
