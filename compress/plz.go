// Package compress implements the optional per-data-frame PLZ compression
// of FTS-1026, using raw deflate (compress/flate) as deployed binkp
// mailers do.
package compress

import (
	"bytes"
	"compress/flate"
	"io"
)

// Stats accumulates byte counters for compressed-frame traffic.
type Stats struct {
	BytesInRaw         uint64
	BytesInCompressed  uint64
	BytesOutRaw        uint64
	BytesOutCompressed uint64
}

// Compressor compresses outgoing data frames and decompresses incoming ones
// when PLZ is negotiated on, falling back to passing data through
// uncompressed when compression would not shrink it (FTS-1026).
type Compressor struct {
	Stats Stats
}

// New returns a ready-to-use Compressor.
func New() *Compressor {
	return &Compressor{}
}

// EncodeFrame compresses data for the wire. If the compressed candidate is
// not smaller than the input, the original bytes are returned unchanged and
// compressed reports false — the caller sends this as an ordinary
// uncompressed data frame, per the silent-fallback rule in FTS-1026.
func (c *Compressor) EncodeFrame(data []byte) (out []byte, compressed bool) {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestSpeed)
	if _, err := w.Write(data); err != nil {
		return append([]byte(nil), data...), false
	}
	if err := w.Close(); err != nil {
		return append([]byte(nil), data...), false
	}
	c.Stats.BytesOutRaw += uint64(len(data))
	if buf.Len() >= len(data) {
		c.Stats.BytesOutCompressed += uint64(len(data))
		return append([]byte(nil), data...), false
	}
	c.Stats.BytesOutCompressed += uint64(buf.Len())
	return buf.Bytes(), true
}

// DecodeFrame reverses EncodeFrame. compressed must reflect how the sender
// actually encoded the frame (out-of-band signaling is the session layer's
// responsibility); when false, data is returned unchanged.
func (c *Compressor) DecodeFrame(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		c.Stats.BytesInRaw += uint64(len(data))
		c.Stats.BytesInCompressed += uint64(len(data))
		return data, nil
	}
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	c.Stats.BytesInCompressed += uint64(len(data))
	c.Stats.BytesInRaw += uint64(len(out))
	return out, nil
}
