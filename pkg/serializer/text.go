package serializer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wisbric/neocache/pkg/cacheerr"
)

// TextSerializer is the structured-text format: JSON on the wire. A
// top-level time.Time or []byte value is written as a tagged object
// ({"$type": ..., "$value": ...}); no other type is tagged, and values
// nested inside maps or slices are not tagged. Deserialize is plain JSON
// decoding and returns a tagged object as a map, not as the original Go
// type. Safe for untrusted input.
type TextSerializer struct {
	statsTracker
	compression CompressionOptions
}

// NewTextSerializer constructs a TextSerializer with the given compression
// envelope settings.
func NewTextSerializer(compression CompressionOptions) *TextSerializer {
	return &TextSerializer{compression: compression}
}

// textEnvelope describes a tagged-object shape with "$type", "$val" and
// "raw" fields; nothing in this package reads or writes it.
type textEnvelope struct {
	Type string          `json:"$type,omitempty"`
	Val  json.RawMessage `json:"$val,omitempty"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

func (s *TextSerializer) Format() string      { return "structured-text" }
func (s *TextSerializer) ContentType() string { return "application/json" }
func (s *TextSerializer) Stats() Stats        { return s.snapshot() }

func (s *TextSerializer) CanSerialize(v any) bool {
	_, err := json.Marshal(wrapExtended(v))
	return err == nil
}

func (s *TextSerializer) EstimateSize(v any) (int, error) {
	b, err := json.Marshal(wrapExtended(v))
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (s *TextSerializer) Serialize(v any, meta map[string]string) ([]byte, error) {
	start := time.Now()
	raw, err := json.Marshal(wrapExtended(v))
	if err != nil {
		s.recordSerialize(time.Since(start), 0, 0, false, err)
		return nil, &cacheerr.SerializationError{
			Format: s.Format(), Cause: err, Hint: cacheerr.HintNone, Recoverable: false,
		}
	}

	out, compressed, err := maybeCompress(raw, s.compression)
	s.recordSerialize(time.Since(start), len(raw), len(out), compressed, err)
	if err != nil {
		return nil, &cacheerr.SerializationError{Format: s.Format(), Cause: err, DataSize: len(raw)}
	}
	return out, nil
}

func (s *TextSerializer) Deserialize(b []byte, meta map[string]string, out any) error {
	start := time.Now()
	raw, err := maybeDecompress(b)
	if err != nil {
		s.recordDeserialize(time.Since(start), err)
		return &cacheerr.DeserializationError{
			Format: s.Format(), Cause: err, DataSize: len(b), Preview: preview(b),
			Hint: cacheerr.HintCheckCorruption,
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		s.recordDeserialize(time.Since(start), err)
		return &cacheerr.DeserializationError{
			Format: s.Format(), Cause: err, DataSize: len(raw), Preview: preview(raw),
			Hint: cacheerr.HintVersionMismatch, Recoverable: true,
		}
	}
	s.recordDeserialize(time.Since(start), nil)
	return nil
}

// wrapExtended tags a top-level time.Time or []byte so a cooperating reader
// can restore the original Go type. Anything else, including values nested
// in maps or slices, passes through untouched.
func wrapExtended(v any) any {
	switch t := v.(type) {
	case time.Time:
		return taggedValue{Type: "temporal", Value: t.UTC().Format(time.RFC3339Nano)}
	case []byte:
		return taggedValue{Type: "bytes", Value: fmt.Sprintf("%x", t)}
	default:
		return v
	}
}

type taggedValue struct {
	Type  string `json:"$type"`
	Value string `json:"$value"`
}
