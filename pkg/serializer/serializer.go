// Package serializer implements the bytes<->value boundary for cache
// entries: three concrete formats (structured-text, binary-object,
// compact-binary) sharing an optional gzip compression envelope, plus
// per-format usage statistics.
package serializer

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"
	"time"
)

// gzipMagic is the 5-byte envelope prefix. It is load-bearing for
// cross-language compatibility when an external-KV backend is shared with
// other readers/writers and must stay exact.
var gzipMagic = []byte("GZIP:")

// Serializer converts values to and from bytes, optionally compressing the
// result.
type Serializer interface {
	Serialize(v any, meta map[string]string) ([]byte, error)
	Deserialize(b []byte, meta map[string]string, out any) error
	EstimateSize(v any) (int, error)
	CanSerialize(v any) bool
	Format() string
	ContentType() string
	Stats() Stats
}

// Stats accumulates running counters for a Serializer.
type Stats struct {
	SerializeCount    int64
	DeserializeCount  int64
	TotalDuration     time.Duration
	TotalBytesIn      int64
	TotalBytesOut     int64
	CompressedCount   int64
	Errors            int64
}

// CompressionRatio returns the average compressed/raw size ratio, or 1 if
// nothing has been compressed yet.
func (s Stats) CompressionRatio() float64 {
	if s.TotalBytesIn == 0 || s.CompressedCount == 0 {
		return 1
	}
	return float64(s.TotalBytesOut) / float64(s.TotalBytesIn)
}

// statsTracker is embedded by each concrete format to share counting logic.
type statsTracker struct {
	mu    sync.Mutex
	stats Stats
}

func (t *statsTracker) recordSerialize(dur time.Duration, rawLen, outLen int, compressed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.SerializeCount++
	t.stats.TotalDuration += dur
	t.stats.TotalBytesIn += int64(rawLen)
	t.stats.TotalBytesOut += int64(outLen)
	if compressed {
		t.stats.CompressedCount++
	}
	if err != nil {
		t.stats.Errors++
	}
}

func (t *statsTracker) recordDeserialize(dur time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.DeserializeCount++
	t.stats.TotalDuration += dur
	if err != nil {
		t.stats.Errors++
	}
}

func (t *statsTracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// CompressionOptions configures the shared gzip envelope.
type CompressionOptions struct {
	Enabled   bool
	Threshold int // bytes; compression is attempted only when raw size >= Threshold
}

// DefaultCompressionOptions applies conservative defaults: compression only
// pays off past a few KiB.
var DefaultCompressionOptions = CompressionOptions{Enabled: true, Threshold: 2048}

// maybeCompress applies the gzip envelope when enabled, the input is at
// least Threshold bytes, AND the compressed output is strictly smaller than
// the raw input. Otherwise it returns raw unchanged.
func maybeCompress(raw []byte, opts CompressionOptions) (out []byte, compressed bool, err error) {
	if !opts.Enabled || len(raw) < opts.Threshold {
		return raw, false, nil
	}

	var buf bytes.Buffer
	buf.Write(gzipMagic)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, false, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, false, fmt.Errorf("gzip close: %w", err)
	}

	if buf.Len() >= len(raw) {
		return raw, false, nil
	}
	return buf.Bytes(), true, nil
}

// maybeDecompress strips the gzip envelope if present.
func maybeDecompress(in []byte) ([]byte, error) {
	if len(in) < len(gzipMagic) || !bytes.Equal(in[:len(gzipMagic)], gzipMagic) {
		return in, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(in[len(gzipMagic):]))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}

// preview truncates data for inclusion in error messages/hints.
func preview(b []byte) string {
	const maxPreview = 64
	if len(b) <= maxPreview {
		return fmt.Sprintf("%q", b)
	}
	return fmt.Sprintf("%q...(+%d bytes)", b[:maxPreview], len(b)-maxPreview)
}
