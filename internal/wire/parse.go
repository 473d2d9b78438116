// Package wire tokenizes HTTP/1.x response heads. The scanner works
// directly on the caller's byte buffer and never allocates: every
// returned slice aliases the input.
package wire

import (
	"bytes"
	"errors"
)

var (
	ErrStatusHeader = errors.New("wire: malformed status line")
	ErrStatusCode   = errors.New("wire: malformed status code")
	ErrStatusReason = errors.New("wire: missing status reason")
	ErrHeader       = errors.New("wire: malformed header line")
)

var crlf = []byte("\r\n")

// Status is the parsed first line of a response head.
type Status struct {
	Code    int
	Version []byte // the bytes after "HTTP/", e.g. "1.0"
	Reason  []byte
}

// Field is one "name: value" header line. Name and Value are trimmed
// of surrounding spaces but otherwise untouched.
type Field struct {
	Name  []byte
	Value []byte
}

// Scanner walks a response head once, status line first, then header
// fields until the empty terminator line. It is single-pass; create a
// new Scanner for each buffer.
type Scanner struct {
	rest       []byte
	statusDone bool
}

func NewScanner(buf []byte) *Scanner {
	return &Scanner{rest: buf}
}

// line consumes bytes up to the next CRLF, excluding it.
func (s *Scanner) line() ([]byte, bool) {
	idx := bytes.Index(s.rest, crlf)
	if idx < 0 {
		return nil, false
	}
	line := s.rest[:idx]
	s.rest = s.rest[idx+2:]
	return line, true
}

// Status consumes and parses the status line. It must be called
// before Next.
func (s *Scanner) Status() (Status, error) {
	if s.statusDone {
		return Status{}, ErrStatusHeader
	}
	s.statusDone = true
	line, ok := s.line()
	if !ok {
		return Status{}, ErrStatusHeader
	}
	return parseStatus(line)
}

// Next returns the next header field. ok is false once the empty
// terminator line is reached (or input is exhausted).
func (s *Scanner) Next() (Field, bool, error) {
	if !s.statusDone {
		return Field{}, false, ErrStatusHeader
	}
	line, ok := s.line()
	if !ok || len(line) == 0 {
		return Field{}, false, nil
	}
	f, err := parseField(line)
	if err != nil {
		return Field{}, false, err
	}
	return f, true, nil
}

func parseStatus(line []byte) (Status, error) {
	proto, rest, _ := cutSpace(line)
	if !bytes.HasPrefix(proto, []byte("HTTP/")) {
		return Status{}, ErrStatusHeader
	}
	version := proto[5:]

	code, reason, _ := cutSpace(rest)
	if len(code) < 3 {
		return Status{}, ErrStatusCode
	}
	a, b, c := int(code[0])-'0', int(code[1])-'0', int(code[2])-'0'
	if a < 1 || a > 5 || b < 0 || b > 9 || c < 0 || c > 9 {
		return Status{}, ErrStatusCode
	}
	if len(reason) == 0 {
		return Status{}, ErrStatusReason
	}
	return Status{
		Code:    a*100 + b*10 + c,
		Version: version,
		Reason:  trimSpace(reason),
	}, nil
}

func parseField(line []byte) (Field, error) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return Field{}, ErrHeader
	}
	return Field{
		Name:  trimSpace(line[:idx]),
		Value: trimSpace(line[idx+1:]),
	}, nil
}

func cutSpace(b []byte) (before, after []byte, found bool) {
	idx := bytes.IndexByte(b, ' ')
	if idx < 0 {
		return b, nil, false
	}
	return b[:idx], b[idx+1:], true
}

// trimSpace removes exactly the leading and trailing space bytes.
func trimSpace(b []byte) []byte {
	for len(b) > 0 && b[0] == ' ' {
		b = b[1:]
	}
	for len(b) > 0 && b[len(b)-1] == ' ' {
		b = b[:len(b)-1]
	}
	return b
}
