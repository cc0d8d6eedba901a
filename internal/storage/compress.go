package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"dedup-go/internal/dedup"
)

// CompressionTag identifies the codec of a stored block. It is written as the
// first byte of every object, so blocks written under one setting stay
// readable after the setting changes.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionLZ4  CompressionTag = 1
	CompressionZstd CompressionTag = 2
)

// headerSize is the tag byte plus the big-endian uncompressed length.
const headerSize = 1 + 8

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a codec name from configuration.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// CompressedStore compresses blocks before handing them to the wrapped store.
// Lengths reported by BlockLength are uncompressed; VaultStatistics reports
// what the wrapped store actually holds.
type CompressedStore struct {
	dedup.BlockStore
	tag CompressionTag
}

var _ dedup.BlockStore = (*CompressedStore)(nil)

// NewCompressedStore wraps inner, compressing new blocks with tag.
func NewCompressedStore(inner dedup.BlockStore, tag CompressionTag) *CompressedStore {
	return &CompressedStore{BlockStore: inner, tag: tag}
}

func (c *CompressedStore) PutBlock(ctx context.Context, scope dedup.Scope, vault, blockID string, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read block: %w", err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	encoded, err := encodeBlock(data, c.tag)
	if err != nil {
		return "", err
	}
	return c.BlockStore.PutBlock(ctx, scope, vault, blockID, bytes.NewReader(encoded), int64(len(encoded)))
}

func (c *CompressedStore) OpenBlock(ctx context.Context, scope dedup.Scope, vault, storageID string) (io.ReadCloser, error) {
	rc, err := c.BlockStore.OpenBlock(ctx, scope, vault, storageID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	encoded, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading compressed block: %w", err)
	}
	data, err := decodeBlock(encoded)
	if err != nil {
		return nil, fmt.Errorf("storage block %s: %w", storageID, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// BlockLength reads only the header of the stored object.
func (c *CompressedStore) BlockLength(ctx context.Context, scope dedup.Scope, vault, storageID string) (int64, error) {
	rc, err := c.BlockStore.OpenBlock(ctx, scope, vault, storageID)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(rc, header); err != nil {
		return 0, fmt.Errorf("reading block header: %w", err)
	}
	return int64(binary.BigEndian.Uint64(header[1:])), nil
}

func encodeBlock(data []byte, tag CompressionTag) ([]byte, error) {
	var payload []byte
	var err error
	switch tag {
	case CompressionNone:
		payload = data
	case CompressionLZ4:
		payload, err = compressLZ4(data)
	case CompressionZstd:
		payload, err = compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
	if errors.Is(err, errIncompressible) {
		tag, payload, err = CompressionNone, data, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerSize, headerSize+len(payload))
	out[0] = byte(tag)
	binary.BigEndian.PutUint64(out[1:], uint64(len(data)))
	return append(out, payload...), nil
}

func decodeBlock(encoded []byte) ([]byte, error) {
	if len(encoded) < headerSize {
		return nil, fmt.Errorf("compressed block too short: %d bytes", len(encoded))
	}
	tag := CompressionTag(encoded[0])
	size := int(binary.BigEndian.Uint64(encoded[1:headerSize]))
	payload := encoded[headerSize:]

	switch tag {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("uncompressed block: size %d does not match expected %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		return decompressLZ4(payload, size)
	case CompressionZstd:
		return decompressZstd(payload, size)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return dst, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
