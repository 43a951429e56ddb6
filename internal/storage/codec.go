package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/joescharf/continuity/internal/models"
)

// MaxCompressionLevel is the highest accepted compression_level.
const MaxCompressionLevel = 3

// Codec encodes session content for one compression level.
type Codec interface {
	Name() string
	Suffix() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// CodecForLevel maps a compression_level (0..3) to its codec.
func CodecForLevel(level int) (Codec, error) {
	switch level {
	case 0:
		return rawCodec{}, nil
	case 1:
		return gzipCodec{level: gzip.BestSpeed}, nil
	case 2:
		return gzipCodec{level: gzip.BestCompression}, nil
	case 3:
		return zstdCodec{level: zstd.SpeedBestCompression}, nil
	default:
		return nil, fmt.Errorf("%w: compression_level %d out of range 0..%d", models.ErrInvalidArgument, level, MaxCompressionLevel)
	}
}

// CodecByName resolves the codec recorded in a version index.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "none":
		return rawCodec{}, nil
	case "gzip":
		return gzipCodec{level: gzip.DefaultCompression}, nil
	case "zstd":
		return zstdCodec{level: zstd.SpeedDefault}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type rawCodec struct{}

func (rawCodec) Name() string                       { return "none" }
func (rawCodec) Suffix() string                     { return ".json" }
func (rawCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (rawCodec) Decode(data []byte) ([]byte, error) { return data, nil }

type gzipCodec struct {
	level int
}

func (gzipCodec) Name() string   { return "gzip" }
func (gzipCodec) Suffix() string { return ".json.gz" }

func (c gzipCodec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer func() { _ = r.Close() }()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}

type zstdCodec struct {
	level zstd.EncoderLevel
}

func (zstdCodec) Name() string   { return "zstd" }
func (zstdCodec) Suffix() string { return ".json.zst" }

func (c zstdCodec) Encode(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer func() { _ = enc.Close() }()
	return enc.EncodeAll(data, nil), nil
}

func (zstdCodec) Decode(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
