package dialer

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httpkit/oneshot/internal/obs"
)

type fakeConn struct {
	net.Conn
	addr   netip.AddrPort
	closed int32
}

func (c *fakeConn) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	return nil
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return net.TCPAddrFromAddrPort(c.addr)
}

func mkAddr(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}

// scriptDial fails every address in failing and succeeds anywhere
// else, optionally after a delay.
func scriptDial(failing map[netip.AddrPort]error, delay time.Duration) (dialFunc, *int32) {
	attempts := new(int32)
	return func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		atomic.AddInt32(attempts, 1)
		if err, ok := failing[addr]; ok {
			return nil, err
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &fakeConn{addr: addr}, nil
	}, attempts
}

func TestRaceAdvancesOnFailure(t *testing.T) {
	bad1, bad2, good := mkAddr("10.0.0.1:80"), mkAddr("10.0.0.2:80"), mkAddr("10.0.0.3:80")
	dial, attempts := scriptDial(map[netip.AddrPort]error{
		bad1: errors.New("refused 1"),
		bad2: errors.New("refused 2"),
	}, 0)

	r := &tcpRace{
		dial:      dial,
		preferred: []netip.AddrPort{bad1, bad2, good},
		log:       obs.NopLogger{},
	}
	conn, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, good, conn.(*fakeConn).addr)
	assert.Equal(t, int32(3), atomic.LoadInt32(attempts))
}

func TestRaceReportsLastError(t *testing.T) {
	bad1, bad2 := mkAddr("10.0.0.1:80"), mkAddr("10.0.0.2:80")
	last := errors.New("refused last")
	dial, _ := scriptDial(map[netip.AddrPort]error{
		bad1: errors.New("refused first"),
		bad2: last,
	}, 0)

	r := &tcpRace{
		dial:      dial,
		preferred: []netip.AddrPort{bad1, bad2},
		log:       obs.NopLogger{},
	}
	_, err := r.Run(context.Background())
	assert.Equal(t, last, err)
}

func TestRaceFallbackWins(t *testing.T) {
	bad1, bad2 := mkAddr("10.0.0.1:80"), mkAddr("10.0.0.2:80")
	good6 := mkAddr("[2001:db8::1]:80")
	// Preferred addresses all fail, but slowly enough that the
	// fallback timer fires mid-batch.
	dial := func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		if addr.Addr().Is4() {
			select {
			case <-time.After(30 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return nil, errors.New("refused")
		}
		return &fakeConn{addr: addr}, nil
	}

	r := &tcpRace{
		dial:          dial,
		preferred:     []netip.AddrPort{bad1, bad2},
		fallback:      []netip.AddrPort{good6},
		fallbackDelay: 10 * time.Millisecond,
		log:           obs.NopLogger{},
	}
	conn, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, good6, conn.(*fakeConn).addr)
}

func TestRaceFallbackStartsEarlyWhenPreferredExhausts(t *testing.T) {
	bad := mkAddr("10.0.0.1:80")
	good6 := mkAddr("[2001:db8::1]:80")
	dial, _ := scriptDial(map[netip.AddrPort]error{bad: errors.New("refused")}, 0)

	r := &tcpRace{
		dial:          dial,
		preferred:     []netip.AddrPort{bad},
		fallback:      []netip.AddrPort{good6},
		fallbackDelay: time.Hour, // must not be waited out
		log:           obs.NopLogger{},
	}
	start := time.Now()
	conn, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, good6, conn.(*fakeConn).addr)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRacePreferredWinsAndLoserIsReaped(t *testing.T) {
	good4 := mkAddr("10.0.0.1:80")
	good6 := mkAddr("[2001:db8::1]:80")
	var sixConn atomic.Value
	dial := func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		c := &fakeConn{addr: addr}
		if addr.Addr().Is6() {
			// Finishes after the preferred side already won.
			time.Sleep(20 * time.Millisecond)
			sixConn.Store(c)
		}
		return c, nil
	}

	r := &tcpRace{
		dial:          dial,
		preferred:     []netip.AddrPort{good4},
		fallback:      []netip.AddrPort{good6},
		fallbackDelay: time.Nanosecond, // both sides race immediately
		log:           obs.NopLogger{},
	}
	conn, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, good4, conn.(*fakeConn).addr)

	// The late fallback connection must be closed, not leaked.
	assert.Eventually(t, func() bool {
		c, ok := sixConn.Load().(*fakeConn)
		return ok && atomic.LoadInt32(&c.closed) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRaceBothBatchesExhausted(t *testing.T) {
	bad4 := mkAddr("10.0.0.1:80")
	bad6 := mkAddr("[2001:db8::1]:80")
	fallbackErr := errors.New("fallback refused")
	dial := func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		if addr.Addr().Is4() {
			return nil, errors.New("preferred refused")
		}
		time.Sleep(10 * time.Millisecond)
		return nil, fallbackErr
	}

	r := &tcpRace{
		dial:          dial,
		preferred:     []netip.AddrPort{bad4},
		fallback:      []netip.AddrPort{bad6},
		fallbackDelay: time.Millisecond,
		log:           obs.NopLogger{},
	}
	_, err := r.Run(context.Background())
	assert.Equal(t, fallbackErr, err)
}

func TestRaceEmptyBatch(t *testing.T) {
	dial, _ := scriptDial(nil, 0)
	r := &tcpRace{dial: dial, log: obs.NopLogger{}}
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, errNoAddresses)
}

func TestRaceCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dial, _ := scriptDial(nil, 0)
	r := &tcpRace{
		dial:      dial,
		preferred: []netip.AddrPort{mkAddr("10.0.0.1:80")},
		log:       obs.NopLogger{},
	}
	_, err := r.Run(ctx)
	// The dial observes the canceled context.
	assert.Error(t, err)
}
