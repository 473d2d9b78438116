package model

import (
	"io"
)

const bodyChunkSize = 4096

// Body streams a response body in chunks of at most 4096 bytes. It
// yields header-overrun bytes first, then reads from the transport,
// stopping cleanly once content-length bytes have been delivered.
// Once drained (error, EOF or content-length reached) it produces
// nothing further.
type Body struct {
	drained       bool
	rest          []byte
	buf           []byte
	counter       int
	contentLength int // -1 when unbounded
	reader        io.Reader
	pending       []byte // carry-over for Read
}

// NewBody wraps reader. rest holds bytes read past the header
// terminator; contentLength < 0 means no declared length.
func NewBody(reader io.Reader, rest []byte, contentLength int) *Body {
	if contentLength < 0 {
		contentLength = -1
	}
	if len(rest) == 0 {
		rest = nil
	}
	return &Body{
		rest:          rest,
		buf:           make([]byte, bodyChunkSize),
		contentLength: contentLength,
		reader:        reader,
	}
}

// EmptyBody returns an already-drained body.
func EmptyBody() *Body {
	return &Body{drained: true, contentLength: -1}
}

// Next returns the next chunk, or io.EOF at the end of the stream.
// A read failure is returned once and terminates the stream. The
// returned slice is owned by the caller.
func (b *Body) Next() ([]byte, error) {
	if b.drained {
		return nil, io.EOF
	}
	if b.rest != nil {
		chunk := b.rest
		b.rest = nil
		return b.deliver(chunk)
	}
	n, err := b.reader.Read(b.buf)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, b.buf[:n])
		return b.deliver(chunk)
	}
	b.drained = true
	if err == nil || err == io.EOF {
		return nil, io.EOF
	}
	return nil, err
}

// deliver accounts chunk against the declared length, truncating so
// the total never exceeds it.
func (b *Body) deliver(chunk []byte) ([]byte, error) {
	b.counter += len(chunk)
	if b.contentLength >= 0 && b.counter >= b.contentLength {
		chunk = chunk[:len(chunk)-(b.counter-b.contentLength)]
		b.drained = true
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}

// Read drains the stream through the io.Reader interface.
func (b *Body) Read(p []byte) (int, error) {
	if len(b.pending) == 0 {
		chunk, err := b.Next()
		if err != nil {
			return 0, err
		}
		b.pending = chunk
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

// Close releases the underlying transport, if it is closable.
func (b *Body) Close() error {
	b.drained = true
	if c, ok := b.reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
