package serializer

import (
	"strings"
	"testing"
)

func allSerializers(t *testing.T, compression CompressionOptions) []Serializer {
	t.Helper()
	return []Serializer{
		NewTextSerializer(compression),
		NewCompactSerializer(compression),
		NewBinarySerializer(compression),
	}
}

func TestRoundTrip_Map(t *testing.T) {
	for _, s := range allSerializers(t, CompressionOptions{}) {
		t.Run(s.Format(), func(t *testing.T) {
			in := map[string]any{"name": "Ada", "age": int64(41)}
			b, err := s.Serialize(in, nil)
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}

			var out any
			if s.Format() == "structured-text" {
				var m map[string]any
				if err := s.Deserialize(b, nil, &m); err != nil {
					t.Fatalf("Deserialize: %v", err)
				}
				if m["name"] != "Ada" {
					t.Errorf("name = %v, want Ada", m["name"])
				}
				return
			}
			if err := s.Deserialize(b, nil, &out); err != nil {
				t.Fatalf("Deserialize: %v", err)
			}
			m, ok := out.(map[string]any)
			if !ok {
				t.Fatalf("expected map[string]any, got %T", out)
			}
			if m["name"] != "Ada" {
				t.Errorf("name = %v, want Ada", m["name"])
			}
		})
	}
}

func TestCompression_ThresholdGating(t *testing.T) {
	opts := CompressionOptions{Enabled: true, Threshold: 1024}
	s := NewTextSerializer(opts)

	small := map[string]any{"x": "y"}
	b, err := s.Serialize(small, nil)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if strings.HasPrefix(string(b), "GZIP:") {
		t.Error("small payload should not be compressed")
	}

	large := map[string]any{"x": strings.Repeat("a", 4096)}
	b, err = s.Serialize(large, nil)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.HasPrefix(string(b), "GZIP:") {
		t.Error("large repetitive payload should be compressed")
	}
}

func TestCompression_DisabledNeverCompresses(t *testing.T) {
	s := NewTextSerializer(CompressionOptions{Enabled: false, Threshold: 1})
	large := map[string]any{"x": strings.Repeat("a", 4096)}
	b, err := s.Serialize(large, nil)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if strings.HasPrefix(string(b), "GZIP:") {
		t.Error("compression disabled but payload was compressed")
	}
}

func TestBinarySerializer_RejectsBadVersion(t *testing.T) {
	s := NewBinarySerializer(CompressionOptions{})
	var out any
	err := s.Deserialize([]byte{0xFF, 0xFF, 1, 2, 3}, nil, &out)
	if err == nil {
		t.Fatal("expected error for unsupported protocol version")
	}
}

func TestStats_TracksCounts(t *testing.T) {
	s := NewTextSerializer(CompressionOptions{})
	if _, err := s.Serialize(map[string]any{"a": 1}, nil); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	stats := s.Stats()
	if stats.SerializeCount != 1 {
		t.Errorf("SerializeCount = %d, want 1", stats.SerializeCount)
	}
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, err := New("not-a-format", CompressionOptions{}); err == nil {
		t.Error("expected error for unknown format")
	}
}
