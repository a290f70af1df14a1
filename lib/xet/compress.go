// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression codec used for one
// chunk's payload. It is stored as a single byte inside every chunk
// header in a xorb (§4.6), so the enumeration is closed: these three
// values are the entire wire contract, and a fourth would break every
// reader that does not know about it.
type CompressionTag uint8

const (
	// CompressionNone stores the chunk's bytes unchanged.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 stores the chunk as a complete LZ4 frame (not a
	// raw LZ4 block) — a frame is self-describing, so it needs no
	// out-of-band size beyond what the chunk header already carries.
	CompressionLZ4 CompressionTag = 1

	// CompressionBG4LZ4 applies the byte-grouping-by-4 transform
	// before LZ4-framing. It suits data made of fixed-width numeric
	// fields (e.g. 4-byte floats) where same-position bytes across
	// adjacent records correlate, such as model weight tensors.
	CompressionBG4LZ4 CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionBG4LZ4:
		return "bg4_lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// CompressChunk compresses data under the given tag. For
// CompressionNone it returns data unchanged, without copying.
func CompressChunk(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		return compressLZ4Frame(data)
	case CompressionBG4LZ4:
		return compressLZ4Frame(byteGroup4(data))
	default:
		return nil, constraintErrorf("CompressChunk", "unsupported compression tag %d", uint8(tag))
	}
}

// DecompressChunk reverses [CompressChunk]. uncompressedSize must be
// the original, pre-compression length; a mismatch is a format error
// since it means the chunk header lied about what it contains.
func DecompressChunk(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, formatErrorf("DecompressChunk", "uncompressed chunk is %d bytes, header says %d", len(compressed), uncompressedSize)
		}
		return compressed, nil

	case CompressionLZ4:
		out, err := decompressLZ4Frame(compressed)
		if err != nil {
			return nil, err
		}
		if len(out) != uncompressedSize {
			return nil, formatErrorf("DecompressChunk", "lz4 chunk decompressed to %d bytes, header says %d", len(out), uncompressedSize)
		}
		return out, nil

	case CompressionBG4LZ4:
		grouped, err := decompressLZ4Frame(compressed)
		if err != nil {
			return nil, err
		}
		if len(grouped) != uncompressedSize {
			return nil, formatErrorf("DecompressChunk", "bg4_lz4 chunk decompressed to %d bytes, header says %d", len(grouped), uncompressedSize)
		}
		return byteUngroup4(grouped, uncompressedSize), nil

	default:
		return nil, constraintErrorf("DecompressChunk", "unsupported compression tag %d", uint8(tag))
	}
}

func compressLZ4Frame(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 frame compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 frame compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressLZ4Frame(compressed []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(compressed))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, formatErrorf("decompressLZ4Frame", "lz4 frame decompress: %w", err)
	}
	return out, nil
}

// bucketSizes4 returns the four bucket sizes for [byteGroup4] and
// [byteUngroup4] given an input of length n: the first n mod 4
// buckets get ceil(n/4) bytes, the rest get floor(n/4).
func bucketSizes4(n int) [4]int {
	base := n / 4
	remainder := n % 4
	var sizes [4]int
	for i := 0; i < 4; i++ {
		if i < remainder {
			sizes[i] = base + 1
		} else {
			sizes[i] = base
		}
	}
	return sizes
}

// byteGroup4 places byte i of data into bucket i mod 4, then emits
// buckets 0, 1, 2, 3 concatenated. This is the pre-transform half of
// CompressionBG4LZ4: grouping same-position bytes together exposes
// redundancy across fixed-width records (e.g. the high bytes of
// adjacent float32 values) that a byte-oriented compressor like LZ4
// would otherwise not see.
func byteGroup4(data []byte) []byte {
	n := len(data)
	sizes := bucketSizes4(n)
	pos := [4]int{0, sizes[0], sizes[0] + sizes[1], sizes[0] + sizes[1] + sizes[2]}

	out := make([]byte, n)
	for i, b := range data {
		bucket := i % 4
		out[pos[bucket]] = b
		pos[bucket]++
	}
	return out
}

// byteUngroup4 reverses [byteGroup4]. n is the original (and grouped)
// length, needed to compute the same bucket boundaries.
func byteUngroup4(grouped []byte, n int) []byte {
	sizes := bucketSizes4(n)
	pos := [4]int{0, sizes[0], sizes[0] + sizes[1], sizes[0] + sizes[1] + sizes[2]}

	out := make([]byte, n)
	for i := 0; i < n; i++ {
		bucket := i % 4
		out[i] = grouped[pos[bucket]]
		pos[bucket]++
	}
	return out
}
