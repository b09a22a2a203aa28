package serializer

import "fmt"

// New constructs a Serializer by its wire format name, as selected by the
// cache configuration's "serializer" option.
func New(format string, compression CompressionOptions) (Serializer, error) {
	switch format {
	case "structured-text", "text", "":
		return NewTextSerializer(compression), nil
	case "binary-object", "binary":
		return NewBinarySerializer(compression), nil
	case "compact-binary", "compact":
		return NewCompactSerializer(compression), nil
	default:
		return nil, fmt.Errorf("unknown serializer format %q", format)
	}
}
