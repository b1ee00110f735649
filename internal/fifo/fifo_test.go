package fifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	f := New(8)
	require.Equal(t, 5, f.Write([]byte("hello")))

	buf := make([]byte, 5)
	require.Equal(t, 5, f.Read(buf))
	assert.Equal(t, "hello", string(buf))
}

func TestWriteStopsWhenFull(t *testing.T) {
	f := New(4) // usable capacity is size-1
	assert.Equal(t, 3, f.Write([]byte("abcdef")))
	assert.Equal(t, 0, f.Space())
}

func TestWrapAround(t *testing.T) {
	f := New(4)
	f.Write([]byte("ab"))
	buf := make([]byte, 2)
	f.Read(buf)

	require.Equal(t, 3, f.Write([]byte("cde")))
	out := make([]byte, 3)
	require.Equal(t, 3, f.Read(out))
	assert.Equal(t, "cde", string(out))
}
