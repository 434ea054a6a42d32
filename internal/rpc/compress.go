package rpc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Compressor applies symmetric compression to payload byte slices.
type Compressor interface {
	// Name returns the codec identifier advertised in the response header.
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// gzipCompressor wraps the klauspost gzip implementation.
type gzipCompressor struct {
	level int
}

// NewGZIPCompressor constructs a Compressor backed by gzip at the default level.
func NewGZIPCompressor() Compressor {
	return gzipCompressor{level: gzip.DefaultCompression}
}

// NewGZIPCompressorLevel constructs a gzip Compressor at an explicit level.
func NewGZIPCompressorLevel(level int) (Compressor, error) {
	if _, err := gzip.NewWriterLevel(io.Discard, level); err != nil {
		return nil, fmt.Errorf("gzip level %d: %w", level, err)
	}
	return gzipCompressor{level: level}, nil
}

// Name reports the identifier used for gzip encoded payloads.
func (gzipCompressor) Name() string { return "gzip" }

// Compress encodes data using the gzip format.
func (c gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decodes gzip-encoded data and returns the raw payload.
func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}

// identityCompressor passes payloads through unchanged.
type identityCompressor struct{}

// NewIdentityCompressor returns a Compressor that does not compress.
func NewIdentityCompressor() Compressor { return identityCompressor{} }

func (identityCompressor) Name() string                           { return "identity" }
func (identityCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (identityCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

// compressorFor resolves an advertised encoding name.
func compressorFor(name string) (Compressor, error) {
	switch name {
	case "gzip":
		return NewGZIPCompressor(), nil
	case "identity", "":
		return NewIdentityCompressor(), nil
	default:
		return nil, fmt.Errorf("unsupported payload encoding %q", name)
	}
}
