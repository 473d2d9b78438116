package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"
)

// ErrTunnelUnsuccessful reports a non-200 CONNECT response.
var ErrTunnelUnsuccessful = errors.New("proxy: unsuccessful tunnel")

// tunnel runs the CONNECT exchange over conn, upgrading it into a
// transparent pipe to host:port. On success the conn is handed back
// untouched, ready for the caller to layer TLS over it.
func tunnel(ctx context.Context, conn net.Conn, host string, port uint16, headers http.Header) error {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := connectRequest(host, port, headers)
	for len(req) > 0 {
		n, err := conn.Write(req)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("proxy: unexpected EOF while tunnel writing")
		}
		req = req[n:]
	}

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n == 0 {
			if err != nil && err != io.EOF {
				return err
			}
			return errors.New("proxy: unexpected EOF while tunnel reading")
		}
		buf = append(buf, chunk[:n]...)

		if len(buf) > 12 {
			if !bytes.HasPrefix(buf, []byte("HTTP/1.1 200")) && !bytes.HasPrefix(buf, []byte("HTTP/1.0 200")) {
				line := buf
				if idx := bytes.Index(line, []byte("\r\n")); idx >= 0 {
					line = line[:idx]
				}
				return fmt.Errorf("%w: %s", ErrTunnelUnsuccessful, line)
			}
			if bytes.HasSuffix(buf, []byte("\r\n\r\n")) {
				return nil
			}
			// else read more
		}
	}
}

// connectRequest serializes the CONNECT head. Header names are
// ordered so the bytes on the wire are deterministic.
func connectRequest(host string, port uint16, headers http.Header) []byte {
	hp := fmt.Sprintf("%s:%d", host, port)
	var b bytes.Buffer
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", hp, hp)
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range headers[name] {
			fmt.Fprintf(&b, "%s: %s\r\n", name, value)
		}
	}
	io.WriteString(&b, "\r\n")
	return b.Bytes()
}
