// Package compression provides the codec used for serialized forest
// artifacts. Zstd is the default; gzip remains readable for artifacts
// written by earlier releases.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Type represents the compression algorithm used.
type Type uint8

const (
	// TypeGzip uses gzip compression (legacy, slower but widely compatible)
	TypeGzip Type = 0
	// TypeZstd uses zstd compression (faster and better compression ratio)
	TypeZstd Type = 1
	// TypeNone represents no compression
	TypeNone Type = 255
)

// Compressor provides a unified interface for compression operations.
type Compressor interface {
	// Compress compresses the input data
	Compress(data []byte) ([]byte, error)
	// Decompress decompresses the input data
	Decompress(data []byte) ([]byte, error)
	// Type returns the compression type
	Type() Type
}

// ParseType maps a configuration name to a compression type.
func ParseType(name string) (Type, error) {
	switch name {
	case "zstd", "":
		return TypeZstd, nil
	case "gzip":
		return TypeGzip, nil
	case "none":
		return TypeNone, nil
	default:
		return TypeNone, fmt.Errorf("unknown compression name: %s", name)
	}
}

// New returns a compressor for the given type.
func New(t Type) (Compressor, error) {
	switch t {
	case TypeGzip:
		return &GzipCompressor{}, nil
	case TypeZstd:
		return &ZstdCompressor{}, nil
	case TypeNone:
		return &NoneCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", t)
	}
}

// ============================================================================
// Zstd Compressor
// ============================================================================

// ZstdCompressor implements Compressor using klauspost zstd.
type ZstdCompressor struct{}

// Compress compresses data using zstd.
func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// Decompress decompresses zstd data.
func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd data: %w", err)
	}
	return out, nil
}

// Type returns TypeZstd.
func (c *ZstdCompressor) Type() Type { return TypeZstd }

// ============================================================================
// Gzip Compressor
// ============================================================================

// GzipCompressor implements Compressor using gzip.
type GzipCompressor struct{}

// Compress compresses data using gzip.
func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses gzip data.
func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip data: %w", err)
	}
	return out, nil
}

// Type returns TypeGzip.
func (c *GzipCompressor) Type() Type { return TypeGzip }

// ============================================================================
// None Compressor
// ============================================================================

// NoneCompressor passes data through unchanged.
type NoneCompressor struct{}

// Compress returns the data unchanged.
func (c *NoneCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

// Decompress returns the data unchanged.
func (c *NoneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

// Type returns TypeNone.
func (c *NoneCompressor) Type() Type { return TypeNone }
