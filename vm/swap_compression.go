package vm

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// CompressionType represents the compression algorithm used for swap
// slots
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionLZ4    CompressionType = 1
	CompressionSnappy CompressionType = 2
)

// ParseCompression maps a config string to a CompressionType
func ParseCompression(name string) (CompressionType, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "snappy":
		return CompressionSnappy, nil
	default:
		return CompressionNone, fmt.Errorf("unsupported compression type: %s", name)
	}
}

// Swap slot payload layout:
// [0-1]: Magic number (0xECED for evicted pages)
// [2]: Compression type (0=none, 1=LZ4, 2=Snappy)
// [3]: Reserved
// [4-7]: Uncompressed size
// [8-11]: Compressed size
// [12-15]: Original checksum (CRC32)
// [16+]: Page data

const (
	swapSlotMagic      = 0xECED
	swapSlotHeaderSize = 16

	// Minimum bytes saved for compression to be worth the decode cost
	minCompressionGain = 64
)

// CompressFrame encodes a page for a swap slot, compressing with the
// given algorithm when it actually saves space and falling back to a raw
// copy when it does not. The result never exceeds
// swapSlotHeaderSize + len(data).
func CompressFrame(data []byte, compressionType CompressionType) ([]byte, error) {
	checksum := crc32.ChecksumIEEE(data)

	var compressed []byte

	switch compressionType {
	case CompressionNone:
		compressed = data

	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("LZ4 compression failed: %w", err)
		}
		if n == 0 {
			// Incompressible input
			compressed = data
			compressionType = CompressionNone
		} else {
			compressed = buf[:n]
		}

	case CompressionSnappy:
		compressed = snappy.Encode(nil, data)

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compressionType)
	}

	// Keep the raw page when compression does not pay its way
	if compressionType != CompressionNone && len(data)-len(compressed) < minCompressionGain {
		compressed = data
		compressionType = CompressionNone
	}

	payload := make([]byte, swapSlotHeaderSize+len(compressed))
	binary.LittleEndian.PutUint16(payload[0:2], swapSlotMagic)
	payload[2] = byte(compressionType)
	binary.LittleEndian.PutUint32(payload[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint32(payload[8:12], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(payload[12:16], checksum)
	copy(payload[swapSlotHeaderSize:], compressed)

	return payload, nil
}

// DecompressFrame decodes a swap slot payload back into page data and
// verifies the stored checksum
func DecompressFrame(payload []byte) ([]byte, error) {
	if len(payload) < swapSlotHeaderSize {
		return nil, fmt.Errorf("swap payload too short: %d bytes", len(payload))
	}

	magic := binary.LittleEndian.Uint16(payload[0:2])
	if magic != swapSlotMagic {
		return nil, fmt.Errorf("bad swap slot magic: %#x", magic)
	}

	compressionType := CompressionType(payload[2])
	uncompressedSize := binary.LittleEndian.Uint32(payload[4:8])
	compressedSize := binary.LittleEndian.Uint32(payload[8:12])
	checksum := binary.LittleEndian.Uint32(payload[12:16])

	if int(swapSlotHeaderSize+compressedSize) > len(payload) {
		return nil, fmt.Errorf("swap payload truncated: header claims %d bytes, have %d",
			compressedSize, len(payload)-swapSlotHeaderSize)
	}

	compressed := payload[swapSlotHeaderSize : swapSlotHeaderSize+compressedSize]

	var data []byte
	switch compressionType {
	case CompressionNone:
		data = make([]byte, len(compressed))
		copy(data, compressed)

	case CompressionLZ4:
		data = make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(compressed, data)
		if err != nil {
			return nil, fmt.Errorf("LZ4 decompression failed: %w", err)
		}
		data = data[:n]

	case CompressionSnappy:
		var err error
		data, err = snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compressionType)
	}

	if uint32(len(data)) != uncompressedSize {
		return nil, fmt.Errorf("decompressed size mismatch: expected %d, got %d",
			uncompressedSize, len(data))
	}

	if crc32.ChecksumIEEE(data) != checksum {
		return nil, fmt.Errorf("swap slot checksum mismatch")
	}

	return data, nil
}
