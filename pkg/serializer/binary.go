package serializer

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/wisbric/neocache/pkg/cacheerr"
)

// binaryProtocolVersion is embedded in every payload so a future incompatible
// wire change can be detected instead of producing garbage.
const binaryProtocolVersion uint16 = 1

func init() {
	// gob needs concrete types registered to decode back into an interface{}
	// target. Application-defined struct types must be registered by the
	// caller with gob.Register before round-tripping through this format.
	gob.Register(map[string]any{})
	gob.Register(map[string]string{})
	gob.Register([]any{})
	gob.Register(time.Time{})
}

// BinarySerializer is the binary-object format: full Go object support via
// encoding/gob, protocol-versioned. Decoding drives arbitrary Go type
// construction, so this format is UNSAFE for untrusted input — use
// TextSerializer or CompactSerializer when the source of the bytes is not
// fully trusted.
type BinarySerializer struct {
	statsTracker
	compression CompressionOptions
}

// NewBinarySerializer constructs a BinarySerializer.
func NewBinarySerializer(compression CompressionOptions) *BinarySerializer {
	return &BinarySerializer{compression: compression}
}

func (s *BinarySerializer) Format() string      { return "binary-object" }
func (s *BinarySerializer) ContentType() string { return "application/x-neocache-binary" }
func (s *BinarySerializer) Stats() Stats        { return s.snapshot() }

func (s *BinarySerializer) CanSerialize(v any) bool {
	var buf bytes.Buffer
	return gob.NewEncoder(&buf).Encode(&v) == nil
}

func (s *BinarySerializer) EstimateSize(v any) (int, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return 0, err
	}
	return buf.Len() + 2, nil
}

func (s *BinarySerializer) Serialize(v any, meta map[string]string) ([]byte, error) {
	start := time.Now()

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(&v); err != nil {
		s.recordSerialize(time.Since(start), 0, 0, false, err)
		return nil, &cacheerr.SerializationError{Format: s.Format(), Cause: err}
	}

	var raw bytes.Buffer
	binary.Write(&raw, binary.BigEndian, binaryProtocolVersion)
	raw.Write(body.Bytes())

	out, compressed, err := maybeCompress(raw.Bytes(), s.compression)
	s.recordSerialize(time.Since(start), raw.Len(), len(out), compressed, err)
	if err != nil {
		return nil, &cacheerr.SerializationError{Format: s.Format(), Cause: err, DataSize: raw.Len()}
	}
	return out, nil
}

func (s *BinarySerializer) Deserialize(b []byte, meta map[string]string, out any) error {
	start := time.Now()
	raw, err := maybeDecompress(b)
	if err != nil {
		s.recordDeserialize(time.Since(start), err)
		return &cacheerr.DeserializationError{Format: s.Format(), Cause: err, DataSize: len(b), Hint: cacheerr.HintCheckCorruption}
	}

	if len(raw) < 2 {
		err := fmt.Errorf("payload too short to contain a protocol version")
		s.recordDeserialize(time.Since(start), err)
		return &cacheerr.DeserializationError{Format: s.Format(), Cause: err, DataSize: len(raw), Hint: cacheerr.HintCheckCorruption}
	}

	version := binary.BigEndian.Uint16(raw[:2])
	if version != binaryProtocolVersion {
		err := fmt.Errorf("unsupported binary-object protocol version %d (expected %d)", version, binaryProtocolVersion)
		s.recordDeserialize(time.Since(start), err)
		return &cacheerr.DeserializationError{
			Format: s.Format(), Cause: err, DataSize: len(raw),
			Hint: cacheerr.HintVersionMismatch, Recoverable: false,
		}
	}

	if err := gob.NewDecoder(bytes.NewReader(raw[2:])).Decode(out); err != nil {
		s.recordDeserialize(time.Since(start), err)
		return &cacheerr.DeserializationError{
			Format: s.Format(), Cause: err, DataSize: len(raw), Preview: preview(raw),
			Hint: cacheerr.HintCheckCorruption, Recoverable: false,
		}
	}
	s.recordDeserialize(time.Since(start), nil)
	return nil
}
