package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/httpkit/oneshot/internal/dialer"
	"github.com/httpkit/oneshot/internal/model"
	"github.com/httpkit/oneshot/internal/obs"
	"github.com/httpkit/oneshot/internal/wire"
)

// ErrBrokenHeaders reports a response that ended (or overflowed the
// head buffer) before the header terminator arrived.
var ErrBrokenHeaders = errors.New("oneshot: broken headers")

const headBufSize = 4096

var crlfcrlf = []byte("\r\n\r\n")

// ProxyHeaderSource is satisfied by ProxyConnector. When the
// configured connector provides it, the matched proxy's extra headers
// are merged into plain-http requests before serialization.
type ProxyHeaderSource interface {
	HTTPHeaders(u *url.URL) http.Header
}

// Client drives one HTTP/1.0 exchange per connection: connect, write
// the request head, stream the body with strict sequential
// backpressure, then parse the response head and hand the rest off as
// a Body stream. The connection is never reused; Connection: close is
// always sent.
type Client struct {
	Connector dialer.Connector
	Logger    obs.Logger
}

func NewClient(c dialer.Connector) *Client {
	return &Client{Connector: c}
}

func (c *Client) Do(ctx context.Context, req *model.Request) (*model.Response, error) {
	dst, err := dialer.NewDestination(req.URI)
	if err != nil {
		return nil, err
	}

	var extra http.Header
	if src, ok := c.Connector.(ProxyHeaderSource); ok {
		extra = src.HTTPHeaders(req.URI)
	}

	conn, meta, err := c.Connector.Connect(ctx, dst)
	if err != nil {
		return nil, err
	}
	obs.Maybe(c.Logger).Logf(obs.Debug, "%s %s via %v (proxied=%v)", req.Method, req.URI, meta.RemoteAddr, meta.Proxied)

	resp, err := c.exchange(ctx, conn, req, extra)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) exchange(ctx context.Context, conn net.Conn, req *model.Request, extra http.Header) (*model.Response, error) {
	head, err := buildHead(req, extra)
	if err != nil {
		return nil, err
	}
	if err := writeFull(conn, head); err != nil {
		return nil, err
	}

	if req.Body != nil {
		// One chunk in flight at a time: the next chunk is not pulled
		// until the previous one is fully written.
		for {
			chunk, err := req.Body.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			if err := writeFull(conn, chunk); err != nil {
				return nil, err
			}
		}
	}

	return readResponse(conn)
}

// buildHead serializes the request line and headers. The request is
// pinned to HTTP/1.0 with a forced Connection: close; the Host header
// always comes from the URI, overriding any caller-supplied one.
func buildHead(req *model.Request, extra http.Header) ([]byte, error) {
	target := req.URI.RequestURI()
	if target == "" {
		target = "/"
	}

	var b bytes.Buffer
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(target)
	b.WriteString(" HTTP/1.0\r\n")
	b.WriteString("Host: ")
	b.WriteString(req.URI.Hostname())
	b.WriteString("\r\n")
	b.WriteString("Connection: close\r\n")

	if err := writeFields(&b, req.Header); err != nil {
		return nil, err
	}
	if err := writeFields(&b, extra); err != nil {
		return nil, err
	}
	b.WriteString("\r\n")
	return b.Bytes(), nil
}

func writeFields(b *bytes.Buffer, header http.Header) error {
	for name, values := range header {
		if strings.EqualFold(name, "host") {
			continue
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("oneshot: invalid header name %q", name)
		}
		for _, value := range values {
			if !httpguts.ValidHeaderFieldValue(value) {
				return fmt.Errorf("oneshot: invalid value for header %q", name)
			}
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(value)
			b.WriteString("\r\n")
		}
	}
	return nil
}

func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		buf = buf[n:]
	}
	return nil
}

// readResponse accumulates the response head into a fixed-capacity
// buffer, parses it, and wraps whatever followed the terminator as
// the body's first chunk.
func readResponse(conn net.Conn) (*model.Response, error) {
	buf := make([]byte, headBufSize)
	filled := 0
	headEnd := -1
	for headEnd < 0 {
		if filled == len(buf) {
			return nil, ErrBrokenHeaders
		}
		n, err := conn.Read(buf[filled:])
		if n == 0 {
			if err != nil && err != io.EOF {
				return nil, err
			}
			return nil, ErrBrokenHeaders
		}
		// Rescan only across the read boundary.
		scanFrom := filled - 3
		if scanFrom < 0 {
			scanFrom = 0
		}
		filled += n
		if idx := bytes.Index(buf[scanFrom:filled], crlfcrlf); idx >= 0 {
			headEnd = scanFrom + idx + 4
		}
	}

	status, headers, err := parseHead(buf[:headEnd])
	if err != nil {
		return nil, fmt.Errorf("oneshot: parse header error: %w", err)
	}

	contentLength := -1
	for _, h := range headers {
		if h.Name == "content-length" {
			if v, err := strconv.Atoi(h.Value); err == nil {
				contentLength = v
			}
			break
		}
	}

	rest := buf[headEnd:filled]
	return &model.Response{
		StatusCode: status.Code,
		Reason:     string(status.Reason),
		Headers:    headers,
		Body:       model.NewBody(conn, rest, contentLength),
	}, nil
}

// parseHead runs the wire scanner over one complete head, lowercasing
// header names.
func parseHead(head []byte) (wire.Status, []model.HeaderField, error) {
	s := wire.NewScanner(head)
	status, err := s.Status()
	if err != nil {
		return wire.Status{}, nil, err
	}
	var headers []model.HeaderField
	for {
		f, ok, err := s.Next()
		if err != nil {
			return wire.Status{}, nil, err
		}
		if !ok {
			break
		}
		headers = append(headers, model.HeaderField{
			Name:  strings.ToLower(string(f.Name)),
			Value: string(f.Value),
		})
	}
	return status, headers, nil
}
