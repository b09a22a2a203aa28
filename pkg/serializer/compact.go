package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/wisbric/neocache/pkg/cacheerr"
)

// Compact-binary wire tags. The format is a minimal MessagePack-equivalent:
// a one-byte tag followed by a type-specific payload. Four extension tags
// exist (temporal, decimal-string, UUID, set); the encoder writes only the
// temporal tag, and the decoder returns decimal and UUID payloads as plain
// strings and a set as a plain []any.
const (
	tagNil byte = iota
	tagFalse
	tagTrue
	tagInt64
	tagFloat64
	tagString
	tagBytes
	tagArray
	tagMap
	tagExtTemporal // RFC3339Nano-encoded time.Time
	tagExtDecimal  // decimal value carried as its exact string form
	tagExtUUID
	tagExtSet // array payload; decoded as []any without deduplication
)

// CompactSerializer is the compact-binary format: a dependency-free
// MessagePack-equivalent encoding tuned for small cache payloads.
type CompactSerializer struct {
	statsTracker
	compression CompressionOptions
}

// NewCompactSerializer constructs a CompactSerializer.
func NewCompactSerializer(compression CompressionOptions) *CompactSerializer {
	return &CompactSerializer{compression: compression}
}

func (s *CompactSerializer) Format() string      { return "compact-binary" }
func (s *CompactSerializer) ContentType() string { return "application/x-neocache-compact" }
func (s *CompactSerializer) Stats() Stats        { return s.snapshot() }

func (s *CompactSerializer) CanSerialize(v any) bool {
	var buf bytes.Buffer
	return encodeCompact(&buf, v) == nil
}

func (s *CompactSerializer) EstimateSize(v any) (int, error) {
	var buf bytes.Buffer
	if err := encodeCompact(&buf, v); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}

func (s *CompactSerializer) Serialize(v any, meta map[string]string) ([]byte, error) {
	start := time.Now()
	var buf bytes.Buffer
	if err := encodeCompact(&buf, v); err != nil {
		s.recordSerialize(time.Since(start), 0, 0, false, err)
		return nil, &cacheerr.SerializationError{Format: s.Format(), Cause: err}
	}

	raw := buf.Bytes()
	out, compressed, err := maybeCompress(raw, s.compression)
	s.recordSerialize(time.Since(start), len(raw), len(out), compressed, err)
	if err != nil {
		return nil, &cacheerr.SerializationError{Format: s.Format(), Cause: err, DataSize: len(raw)}
	}
	return out, nil
}

func (s *CompactSerializer) Deserialize(b []byte, meta map[string]string, out any) error {
	start := time.Now()
	raw, err := maybeDecompress(b)
	if err != nil {
		s.recordDeserialize(time.Since(start), err)
		return &cacheerr.DeserializationError{Format: s.Format(), Cause: err, DataSize: len(b), Hint: cacheerr.HintCheckCorruption}
	}

	ptr, ok := out.(*any)
	if !ok {
		err := fmt.Errorf("compact-binary Deserialize requires *any, got %T", out)
		s.recordDeserialize(time.Since(start), err)
		return &cacheerr.DeserializationError{Format: s.Format(), Cause: err, Hint: cacheerr.HintTryFallback}
	}

	r := bytes.NewReader(raw)
	val, err := decodeCompact(r)
	if err != nil {
		s.recordDeserialize(time.Since(start), err)
		return &cacheerr.DeserializationError{
			Format: s.Format(), Cause: err, DataSize: len(raw), Preview: preview(raw),
			Hint: cacheerr.HintCheckCorruption,
		}
	}
	*ptr = val
	s.recordDeserialize(time.Since(start), nil)
	return nil
}

func encodeCompact(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteByte(tagNil)
	case bool:
		if t {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
	case int:
		return encodeInt(buf, int64(t))
	case int64:
		return encodeInt(buf, t)
	case float64:
		buf.WriteByte(tagFloat64)
		return binary.Write(buf, binary.BigEndian, math.Float64bits(t))
	case string:
		return encodeString(buf, tagString, t)
	case []byte:
		return encodeBytes(buf, t)
	case time.Time:
		return encodeString(buf, tagExtTemporal, t.UTC().Format(time.RFC3339Nano))
	case []any:
		buf.WriteByte(tagArray)
		writeUvarint(buf, uint64(len(t)))
		for _, item := range t {
			if err := encodeCompact(buf, item); err != nil {
				return err
			}
		}
	case map[string]any:
		buf.WriteByte(tagMap)
		writeUvarint(buf, uint64(len(t)))
		for k, item := range t {
			if err := encodeString(buf, tagString, k); err != nil {
				return err
			}
			if err := encodeCompact(buf, item); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("compact-binary: unsupported type %T", v)
	}
	return nil
}

func encodeInt(buf *bytes.Buffer, n int64) error {
	buf.WriteByte(tagInt64)
	return binary.Write(buf, binary.BigEndian, n)
}

func encodeString(buf *bytes.Buffer, tag byte, s string) error {
	buf.WriteByte(tag)
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
	return nil
}

func encodeBytes(buf *bytes.Buffer, b []byte) error {
	buf.WriteByte(tagBytes)
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
	return nil
}

func writeUvarint(buf *bytes.Buffer, n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	w := binary.PutUvarint(tmp[:], n)
	buf.Write(tmp[:w])
}

func decodeCompact(r *bytes.Reader) (any, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading tag: %w", err)
	}

	switch tag {
	case tagNil:
		return nil, nil
	case tagFalse:
		return false, nil
	case tagTrue:
		return true, nil
	case tagInt64:
		var n int64
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		return n, nil
	case tagFloat64:
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return nil, err
		}
		return math.Float64frombits(bits), nil
	case tagString, tagExtDecimal, tagExtUUID:
		return readString(r)
	case tagExtTemporal:
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case tagBytes:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
		return b, nil
	case tagArray, tagExtSet:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, n)
		for i := uint64(0); i < n; i++ {
			item, err := decodeCompact(r)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case tagMap:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, n)
		for i := uint64(0); i < n; i++ {
			kt, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("reading map key tag: %w", err)
			}
			if kt != tagString {
				return nil, fmt.Errorf("compact-binary map key has tag %d, want string", kt)
			}
			k, err := readString(r)
			if err != nil {
				return nil, err
			}
			v, err := decodeCompact(r)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compact-binary tag %d", tag)
	}
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}
