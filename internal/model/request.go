package model

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
)

// BodyStream is a pull-based chunk source for request uploads. Next
// returns io.EOF once the stream is exhausted. The pipeline writes
// each chunk fully before pulling the next one.
type BodyStream interface {
	Next(ctx context.Context) ([]byte, error)
}

type Request struct {
	Method string
	URI    *url.URL
	Header http.Header
	Body   BodyStream
}

// NewRequest parses rawurl and builds a request with the default
// User-Agent header.
func NewRequest(method, rawurl string) (*Request, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method: method,
		URI:    u,
		Header: http.Header{"User-Agent": {"oneshot"}},
	}, nil
}

type bytesBody struct {
	r *bytes.Reader
}

// BytesBody wraps a byte slice as a single-chunk BodyStream.
func BytesBody(b []byte) BodyStream {
	return &bytesBody{r: bytes.NewReader(b)}
}

func (s *bytesBody) Next(ctx context.Context) ([]byte, error) {
	if s.r.Len() == 0 {
		return nil, io.EOF
	}
	buf := make([]byte, s.r.Len())
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
