// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"bytes"
	"math/rand"
	"testing"
)

func pseudoRandomBytes(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

func TestChunkerDeterministic(t *testing.T) {
	data := pseudoRandomBytes(1, 2*MaxChunkSize)

	first := ChunkAll(data)
	second := ChunkAll(data)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ between runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Offset != second[i].Offset || !bytes.Equal(first[i].Data, second[i].Data) {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestChunkerReassemblesExactly(t *testing.T) {
	data := pseudoRandomBytes(2, 5*MaxChunkSize+12345)

	chunks := ChunkAll(data)
	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c.Data...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Fatal("reassembled chunks do not equal the original input byte-for-byte")
	}
}

func TestChunkerBoundariesWithinLimits(t *testing.T) {
	data := pseudoRandomBytes(3, 8*MaxChunkSize)
	chunks := ChunkAll(data)

	for i, c := range chunks {
		if len(c.Data) > MaxChunkSize {
			t.Errorf("chunk %d has size %d, exceeds MaxChunkSize %d", i, len(c.Data), MaxChunkSize)
		}
		// Every chunk except a possible final trailing chunk must be
		// at least MinChunkSize.
		if i != len(chunks)-1 && len(c.Data) < MinChunkSize {
			t.Errorf("non-final chunk %d has size %d, below MinChunkSize %d", i, len(c.Data), MinChunkSize)
		}
	}
}

func TestChunkerOffsetsAreContiguous(t *testing.T) {
	data := pseudoRandomBytes(4, 4*MaxChunkSize)
	chunks := ChunkAll(data)

	var pos int64
	for i, c := range chunks {
		if c.Offset != pos {
			t.Fatalf("chunk %d offset = %d, want %d", i, c.Offset, pos)
		}
		pos += int64(len(c.Data))
	}
	if pos != int64(len(data)) {
		t.Fatalf("chunk offsets cover %d bytes, want %d", pos, len(data))
	}
}

func TestChunkerEmptyInput(t *testing.T) {
	if chunks := ChunkAll(nil); chunks != nil {
		t.Errorf("ChunkAll(nil) = %v, want nil", chunks)
	}
}

func TestChunkerSmallInputIsSingleChunk(t *testing.T) {
	data := pseudoRandomBytes(5, MinChunkSize-1)
	chunks := ChunkAll(data)
	if len(chunks) != 1 {
		t.Fatalf("input shorter than MinChunkSize produced %d chunks, want 1", len(chunks))
	}
	if len(chunks[0].Data) != len(data) {
		t.Errorf("single chunk has size %d, want %d", len(chunks[0].Data), len(data))
	}
}

func TestChunkerForcesMaxSizeBoundary(t *testing.T) {
	// All-zero input rolls the same hash value every byte, so it must
	// hit the MaxChunkSize cutoff rather than the mask test.
	data := make([]byte, 3*MaxChunkSize)
	chunks := ChunkAll(data)
	for i, c := range chunks {
		if len(c.Data) > MaxChunkSize {
			t.Errorf("chunk %d size %d exceeds MaxChunkSize on all-zero input", i, len(c.Data))
		}
	}
}

func TestGearFindBoundaryUpdatesHashBelowMinSize(t *testing.T) {
	// Two inputs that differ only in one byte lying before
	// MinChunkSize (where no boundary test runs) must produce
	// different boundaries — proving the rolling hash incorporated
	// bytes before MinChunkSize rather than skipping them outright.
	//
	// h shifts left one bit per byte, so a byte stops influencing h
	// 64 bytes later: the altered byte has to sit within 64 bytes of
	// MinChunkSize. All-zero input never satisfies the mask and runs
	// to MaxChunkSize; setting byte MinChunkSize-16 to 12 makes the
	// first boundary test (at size MinChunkSize) succeed.
	base := make([]byte, MaxChunkSize)
	altered := make([]byte, len(base))
	copy(altered, base)
	altered[MinChunkSize-16] = 12

	b1 := gearFindBoundary(base)
	b2 := gearFindBoundary(altered)

	if b1 == b2 {
		t.Fatalf("perturbing byte %d (below MinChunkSize) left the boundary at %d; the rolling hash may be skipping early bytes", MinChunkSize-16, b1)
	}
}

func TestGearFindBoundaryShortInputReturnsLength(t *testing.T) {
	data := pseudoRandomBytes(8, MinChunkSize)
	if got := gearFindBoundary(data); got != len(data) {
		t.Errorf("gearFindBoundary on exactly MinChunkSize bytes = %d, want %d", got, len(data))
	}
}

func TestChunkerLargeRandomInputAverageChunkSize(t *testing.T) {
	data := pseudoRandomBytes(9, 4*1024*1024)
	chunks := ChunkAll(data)
	if len(chunks) < 2 {
		t.Fatal("4MiB of random data produced fewer than 2 chunks")
	}

	var total int
	for _, c := range chunks {
		total += len(c.Data)
	}
	avg := total / len(chunks)

	// Not an exact guarantee, but a sanity band: the mean should land
	// in the same order of magnitude as TargetChunkSize.
	if avg < MinChunkSize || avg > MaxChunkSize {
		t.Errorf("average chunk size %d outside [%d, %d]", avg, MinChunkSize, MaxChunkSize)
	}
}
