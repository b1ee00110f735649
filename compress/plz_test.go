package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New()
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)
	out, compressed := c.EncodeFrame(data)
	assert.True(t, compressed)
	assert.Less(t, len(out), len(data))

	got, err := c.DecodeFrame(out, compressed)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestEncodeFallsBackWhenItWouldInflate(t *testing.T) {
	c := New()
	tiny := []byte{0x01}
	out, compressed := c.EncodeFrame(tiny)
	assert.False(t, compressed)
	assert.Equal(t, tiny, out)
}

func TestDecodePassthroughWhenNotCompressed(t *testing.T) {
	c := New()
	data := []byte("plain")
	got, err := c.DecodeFrame(data, false)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
