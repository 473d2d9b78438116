package model

import "strings"

// HeaderField is one parsed response header. Names are lowercased by
// the pipeline; order is exactly the wire order.
type HeaderField struct {
	Name  string
	Value string
}

type Response struct {
	StatusCode int
	Reason     string
	Headers    []HeaderField
	Body       *Body
}

// GetHeader returns the first header matching name, case-insensitively.
func (r *Response) GetHeader(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, h := range r.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

func (r *Response) Code() int { return r.StatusCode }

// IntoBody hands out the body stream. The caller owns closing it.
func (r *Response) IntoBody() *Body { return r.Body }
