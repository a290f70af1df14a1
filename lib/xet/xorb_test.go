// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"bytes"
	"math/rand"
	"testing"
)

func buildTestXorb(t *testing.T, chunks [][]byte) ([]byte, Hash) {
	t.Helper()
	b := NewXorbBuilder()
	for _, c := range chunks {
		if err := b.AddChunk(c, HashChunk(c), CompressionLZ4); err != nil {
			t.Fatalf("AddChunk: %v", err)
		}
	}
	data, hash, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return data, hash
}

func randomChunks(seed int64, n, size int) [][]byte {
	r := rand.New(rand.NewSource(seed))
	chunks := make([][]byte, n)
	for i := range chunks {
		chunks[i] = make([]byte, size)
		r.Read(chunks[i])
	}
	return chunks
}

func TestXorbRoundTrip(t *testing.T) {
	chunks := randomChunks(1, 5, 4096)
	data, xorbHash := buildTestXorb(t, chunks)

	reader, err := ParseXorb(data)
	if err != nil {
		t.Fatalf("ParseXorb: %v", err)
	}
	if reader.XorbHash() != xorbHash {
		t.Errorf("parsed xorb hash = %s, want %s", FormatHash(reader.XorbHash()), FormatHash(xorbHash))
	}
	if reader.ChunkCount() != len(chunks) {
		t.Fatalf("ChunkCount = %d, want %d", reader.ChunkCount(), len(chunks))
	}

	got, err := reader.ReadAllChunks()
	if err != nil {
		t.Fatalf("ReadAllChunks: %v", err)
	}
	for i := range chunks {
		if !bytes.Equal(got[i], chunks[i]) {
			t.Errorf("chunk %d round-tripped incorrectly", i)
		}
		if reader.ChunkHash(i) != HashChunk(chunks[i]) {
			t.Errorf("chunk %d hash mismatch", i)
		}
	}

	if err := reader.VerifyHash(); err != nil {
		t.Errorf("VerifyHash: %v", err)
	}
}

func TestXorbVerifyHashDetectsFooterTampering(t *testing.T) {
	chunks := randomChunks(2, 3, 2048)
	data, _ := buildTestXorb(t, chunks)

	reader, err := ParseXorb(data)
	if err != nil {
		t.Fatalf("ParseXorb: %v", err)
	}
	reader.chunkHashes[0][0] ^= 0xFF

	if err := reader.VerifyHash(); err == nil {
		t.Error("VerifyHash did not detect a tampered chunk hash")
	}
}

func TestXorbEmptyRejected(t *testing.T) {
	b := NewXorbBuilder()
	if _, _, err := b.Finalize(); err == nil {
		t.Error("Finalize succeeded on a xorb with zero chunks")
	}
}

func TestXorbBuilderRejectsOversizedChunk(t *testing.T) {
	b := NewXorbBuilder()
	oversized := make([]byte, MaxChunkSize+1)
	if err := b.AddChunk(oversized, HashChunk(oversized), CompressionNone); err == nil {
		t.Error("AddChunk accepted a chunk larger than MaxChunkSize")
	}
}

func TestXorbBuilderRejectsAfterFinalize(t *testing.T) {
	b := NewXorbBuilder()
	data := []byte("one chunk")
	if err := b.AddChunk(data, HashChunk(data), CompressionNone); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if _, _, err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := b.AddChunk(data, HashChunk(data), CompressionNone); err == nil {
		t.Error("AddChunk succeeded on an already-finalized builder")
	}
	if _, _, err := b.Finalize(); err == nil {
		t.Error("Finalize succeeded twice")
	}
}

func TestXorbBuilderRejectsMaxChunkCount(t *testing.T) {
	b := NewXorbBuilder()
	b.chunkHashes = make([]Hash, MaxXorbChunks)
	data := []byte("x")
	if err := b.AddChunk(data, HashChunk(data), CompressionNone); err == nil {
		t.Error("AddChunk succeeded past MaxXorbChunks")
	}
}

func TestParseXorbRejectsTruncated(t *testing.T) {
	chunks := randomChunks(3, 2, 1024)
	data, _ := buildTestXorb(t, chunks)

	truncated := data[:len(data)-10]
	if _, err := ParseXorb(truncated); err == nil {
		t.Error("ParseXorb accepted a truncated xorb")
	}
}

func TestParseXorbRejectsBadMainIdent(t *testing.T) {
	chunks := randomChunks(4, 2, 1024)
	data, _ := buildTestXorb(t, chunks)

	infoLength := int(data[len(data)-1])<<24 | int(data[len(data)-2])<<16 | int(data[len(data)-3])<<8 | int(data[len(data)-4])
	footerStart := len(data) - 4 - infoLength

	corrupted := make([]byte, len(data))
	copy(corrupted, data)
	corrupted[footerStart] ^= 0xFF

	if _, err := ParseXorb(corrupted); err == nil {
		t.Error("ParseXorb accepted a corrupted main section ident")
	}
}

func TestParseXorbRejectsNonIncreasingBoundaries(t *testing.T) {
	chunks := randomChunks(5, 4, 512)
	data, _ := buildTestXorb(t, chunks)

	reader, err := ParseXorb(data)
	if err != nil {
		t.Fatalf("ParseXorb: %v", err)
	}
	// Rebuild a footer with a non-increasing boundary array and
	// confirm the parser rejects it.
	bogusEnds := make([]uint32, len(reader.regionEndOffsets))
	copy(bogusEnds, reader.regionEndOffsets)
	bogusEnds[len(bogusEnds)-1] = bogusEnds[0] // force a decrease

	footer := buildXorbFooter(reader.xorbHash, reader.chunkHashes, bogusEnds, bogusEnds)
	if err := (&XorbReader{chunkRegionLen: reader.chunkRegionLen}).parseFooter(footer); err == nil {
		t.Error("parseFooter accepted a non-strictly-increasing boundary array")
	}
}

func TestXorbSizeLimitEnforced(t *testing.T) {
	b := NewXorbBuilder()
	// Pre-fill the chunk region to just under MaxXorbSize without
	// paying for MaxChunkSize-sized real chunks on every iteration.
	b.chunkRegion = make([]byte, MaxXorbSize-MaxChunkSize)
	b.uncompressedTotal = uint64(len(b.chunkRegion))
	b.uncompressedEndOffset = []uint32{uint32(b.uncompressedTotal)}
	b.regionEndOffsets = []uint32{uint32(len(b.chunkRegion))}
	b.chunkHashes = []Hash{HashChunk(b.chunkRegion)}

	chunk := make([]byte, MaxChunkSize)
	if err := b.AddChunk(chunk, HashChunk(chunk), CompressionNone); err == nil {
		t.Error("AddChunk accepted a chunk that would push the xorb past MaxXorbSize")
	}
}
