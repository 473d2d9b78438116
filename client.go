// Package oneshot is a minimal HTTP(S) client transport. Each request
// establishes its own connection, speaks a reduced HTTP/1.0 wire
// protocol, and streams the response body back in bounded chunks.
package oneshot

import (
	"github.com/httpkit/oneshot/internal"
	"github.com/httpkit/oneshot/internal/model"
)

type Client = internal.Client
type Request = model.Request
type Response = model.Response
type Body = model.Body
type BodyStream = model.BodyStream
type HeaderField = model.HeaderField

// NewClient builds a client over the given connector.
func NewClient(c Connector) *Client { return internal.NewClient(c) }

// NewRequest parses rawurl into a request with default headers.
func NewRequest(method, rawurl string) (*Request, error) {
	return model.NewRequest(method, rawurl)
}

// BytesBody wraps a byte slice as a request body stream.
func BytesBody(b []byte) BodyStream { return model.BytesBody(b) }
