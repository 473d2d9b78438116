package dialer

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/httpkit/oneshot/internal/obs"
)

var errNoAddresses = errors.New("dialer: no addresses to connect to")

type dialFunc func(ctx context.Context, addr netip.AddrPort) (net.Conn, error)

// tcpRace races the preferred address batch against a delayed
// fallback batch. Each batch attempts its addresses sequentially,
// advancing on failure and keeping only the most recent error. The
// first successful connection wins; the losing side is canceled,
// aborting its in-flight dial.
type tcpRace struct {
	dial          dialFunc
	preferred     []netip.AddrPort
	fallback      []netip.AddrPort
	fallbackDelay time.Duration
	log           obs.Logger
}

type raceResult struct {
	conn     net.Conn
	err      error
	fallback bool
}

func (r *tcpRace) Run(ctx context.Context) (net.Conn, error) {
	if len(r.fallback) == 0 {
		return r.attempt(ctx, r.preferred)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan raceResult, 2)
	preferredDone := make(chan struct{})

	go func() {
		conn, err := r.attempt(ctx, r.preferred)
		close(preferredDone)
		results <- raceResult{conn, err, false}
	}()
	go func() {
		// Gate the fallback batch on the delay timer; start early if
		// the preferred batch exhausts first.
		timer := time.NewTimer(r.fallbackDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-preferredDone:
		case <-ctx.Done():
			results <- raceResult{nil, ctx.Err(), true}
			return
		}
		conn, err := r.attempt(ctx, r.fallback)
		results <- raceResult{conn, err, true}
	}()

	var lastErr error
	for i := 0; i < 2; i++ {
		res := <-results
		if res.err == nil {
			if res.fallback {
				r.log.Logf(obs.Debug, "fallback address family won the connect race")
			}
			cancel()
			if i == 0 {
				// The loser may still produce a connection; reap it.
				go func() {
					if late := <-results; late.conn != nil {
						late.conn.Close()
					}
				}()
			}
			return res.conn, nil
		}
		lastErr = res.err
	}
	return nil, lastErr
}

// attempt tries each address in turn. Only full exhaustion is fatal,
// reporting the last individual error.
func (r *tcpRace) attempt(ctx context.Context, addrs []netip.AddrPort) (net.Conn, error) {
	var lastErr error
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		conn, err := r.dial(ctx, addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errNoAddresses
	}
	return nil, lastErr
}
