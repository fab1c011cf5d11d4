package codec

import (
	"encoding/json"
	"fmt"
)

// CompressObject serializes v to JSON and encodes it with the base64 alphabet.
func CompressObject(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal object: %w", err)
	}
	return CompressToBase64(string(data)), nil
}

// DecompressObject decodes s and unmarshals the JSON into v.
func DecompressObject(s string, v any) error {
	data, err := DecompressFromBase64(s)
	if err != nil {
		return err
	}
	if data == "" {
		return ErrMalformed
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal object: %w", err)
	}
	return nil
}

// ByteSize returns the UTF-8 size of s in bytes.
func ByteSize(s string) int {
	return len(s)
}

// CompressionRatio returns the percentage of bytes saved by compressed
// relative to original. Negative values mean the output grew.
func CompressionRatio(original, compressed string) float64 {
	if len(original) == 0 {
		return 0
	}
	return (1 - float64(ByteSize(compressed))/float64(ByteSize(original))) * 100
}
