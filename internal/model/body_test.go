package model

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, b *Body) []byte {
	t.Helper()
	var out []byte
	for {
		chunk, err := b.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, chunk...)
	}
}

func TestBodyRestFirst(t *testing.T) {
	b := NewBody(strings.NewReader(""), []byte{0xAA, 0xBB}, -1)
	chunk, err := b.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, chunk)
	_, err = b.Next()
	assert.Equal(t, io.EOF, err)
}

func TestBodyContentLengthBound(t *testing.T) {
	b := NewBody(strings.NewReader("hello world, there is more"), nil, 5)
	assert.Equal(t, "hello", string(collect(t, b)))
	// Drained for good, even though the reader has more.
	_, err := b.Next()
	assert.Equal(t, io.EOF, err)
}

func TestBodyRestCountsTowardLength(t *testing.T) {
	b := NewBody(strings.NewReader(" extra"), []byte("hello extra"), 5)
	assert.Equal(t, "hello", string(collect(t, b)))
}

func TestBodyUnbounded(t *testing.T) {
	b := NewBody(strings.NewReader("all of it"), []byte("rest+"), -1)
	assert.Equal(t, "rest+all of it", string(collect(t, b)))
}

func TestBodyManyChunks(t *testing.T) {
	payload := strings.Repeat("x", 3*4096+17)
	b := NewBody(strings.NewReader(payload), nil, len(payload))
	out := collect(t, b)
	assert.Len(t, out, len(payload))
}

func TestBodyReadErrorIsTerminal(t *testing.T) {
	boom := errors.New("boom")
	b := NewBody(iotest.ErrReader(boom), nil, -1)
	_, err := b.Next()
	assert.Equal(t, boom, err)
	_, err = b.Next()
	assert.Equal(t, io.EOF, err)
}

func TestBodyZeroContentLength(t *testing.T) {
	b := NewBody(strings.NewReader("ignored"), nil, 0)
	_, err := b.Next()
	assert.Equal(t, io.EOF, err)
}

func TestBodyReader(t *testing.T) {
	b := NewBody(strings.NewReader("llo world"), []byte("he"), 5)
	out, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestEmptyBody(t *testing.T) {
	b := EmptyBody()
	_, err := b.Next()
	assert.Equal(t, io.EOF, err)
}
