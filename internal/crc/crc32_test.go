package crc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyInputIsZero(t *testing.T) {
	assert.Equal(t, uint32(0), Bytes(nil))
}

func TestUpdateIsAssociativeAcrossSplits(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	whole := Bytes(data)

	for split := 0; split <= len(data); split++ {
		state := Start()
		state = Update(state, data[:split])
		state = Update(state, data[split:])
		require.Equal(t, whole, Finish(state), "split at %d", split)
	}
}

func TestFileMatchesBytes(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeated to span several chunks. ")
	var big []byte
	for i := 0; i < 2000; i++ {
		big = append(big, data...)
	}
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, big, 0o644))

	got, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, Bytes(big), got)
}

func TestKnownVector(t *testing.T) {
	// Standard CRC-32/ISO-HDLC check value for the ASCII string "123456789".
	assert.Equal(t, uint32(0xCBF43926), Bytes([]byte("123456789")))
}
