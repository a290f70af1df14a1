// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"bytes"
	"context"
	"fmt"
	"testing"
)

// fakeTransport serves FetchBytes from an in-memory map of URL to
// full byte content, applying the inclusive-end HTTP range convention
// itself; the other Transport methods are unused by these tests.
type fakeTransport struct {
	objects map[string][]byte
	calls   int
}

func (f *fakeTransport) GetReconstruction(context.Context, Hash, *ByteRange) (*ReconstructionResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeTransport) QueryDedup(context.Context, string, Hash) (DedupShardResult, error) {
	return DedupShardResult{}, fmt.Errorf("not implemented")
}

func (f *fakeTransport) PutXorb(context.Context, string, Hash, []byte) (PutXorbResult, error) {
	return PutXorbResult{}, fmt.Errorf("not implemented")
}

func (f *fakeTransport) PutShard(context.Context, []byte) (PutShardResult, error) {
	return PutShardResult{}, fmt.Errorf("not implemented")
}

func (f *fakeTransport) FetchBytes(_ context.Context, url string, rangeStart, rangeEnd uint64) ([]byte, error) {
	f.calls++
	full, ok := f.objects[url]
	if !ok {
		return nil, fmt.Errorf("no such object %q", url)
	}
	if rangeEnd >= uint64(len(full)) {
		return nil, fmt.Errorf("range end %d out of bounds for %d-byte object", rangeEnd, len(full))
	}
	return full[rangeStart : rangeEnd+1], nil
}

func buildXorbForReconstruction(t *testing.T, chunks [][]byte) ([]byte, []Hash) {
	t.Helper()
	b := NewXorbBuilder()
	hashes := make([]Hash, len(chunks))
	for i, c := range chunks {
		hashes[i] = HashChunk(c)
		if err := b.AddChunk(c, hashes[i], CompressionLZ4); err != nil {
			t.Fatalf("AddChunk: %v", err)
		}
	}
	data, _, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return data, hashes
}

func TestReconstructRangeSingleTerm(t *testing.T) {
	chunks := [][]byte{[]byte("chunk zero data"), []byte("chunk one data!"), []byte("chunk two data!!")}
	xorbData, _ := buildXorbForReconstruction(t, chunks)

	reader, err := ParseXorb(xorbData)
	if err != nil {
		t.Fatalf("ParseXorb: %v", err)
	}
	_, regionEnd := reader.chunkRegionBounds(len(chunks) - 1)

	transport := &fakeTransport{objects: map[string][]byte{"xorb-url": xorbData}}
	resp := &ReconstructionResponse{
		Terms: []ReconstructionTerm{
			{XorbHash: reader.XorbHash(), ChunkStart: 0, ChunkEnd: uint32(len(chunks))},
		},
		FetchInfo: []XorbRangeFetch{
			{URL: "xorb-url", RangeStart: 0, RangeEnd: uint64(regionEnd - 1)},
		},
	}

	var want []byte
	for _, c := range chunks {
		want = append(want, c...)
	}

	got, err := ReconstructRange(context.Background(), transport, resp, uint64(len(want)))
	if err != nil {
		t.Fatalf("ReconstructRange: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("reconstructed bytes = %q, want %q", got, want)
	}
}

func TestReconstructRangeAppliesOffsetIntoFirstRange(t *testing.T) {
	chunks := [][]byte{[]byte("0123456789"), []byte("abcdefghij")}
	xorbData, _ := buildXorbForReconstruction(t, chunks)

	reader, err := ParseXorb(xorbData)
	if err != nil {
		t.Fatalf("ParseXorb: %v", err)
	}
	_, regionEnd := reader.chunkRegionBounds(1)

	transport := &fakeTransport{objects: map[string][]byte{"xorb-url": xorbData}}
	resp := &ReconstructionResponse{
		OffsetIntoFirstRange: 5,
		Terms: []ReconstructionTerm{
			{XorbHash: reader.XorbHash(), ChunkStart: 0, ChunkEnd: 2},
		},
		FetchInfo: []XorbRangeFetch{
			{URL: "xorb-url", RangeStart: 0, RangeEnd: uint64(regionEnd - 1)},
		},
	}

	full := append(append([]byte{}, chunks[0]...), chunks[1]...)
	want := full[5:]

	got, err := ReconstructRange(context.Background(), transport, resp, uint64(len(want)))
	if err != nil {
		t.Fatalf("ReconstructRange: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("reconstructed bytes = %q, want %q", got, want)
	}
}

func TestReconstructRangeTruncatesToRequestedLength(t *testing.T) {
	chunks := [][]byte{[]byte("0123456789abcdef")}
	xorbData, _ := buildXorbForReconstruction(t, chunks)

	reader, err := ParseXorb(xorbData)
	if err != nil {
		t.Fatalf("ParseXorb: %v", err)
	}
	_, regionEnd := reader.chunkRegionBounds(0)

	transport := &fakeTransport{objects: map[string][]byte{"xorb-url": xorbData}}
	resp := &ReconstructionResponse{
		Terms:     []ReconstructionTerm{{XorbHash: reader.XorbHash(), ChunkStart: 0, ChunkEnd: 1}},
		FetchInfo: []XorbRangeFetch{{URL: "xorb-url", RangeStart: 0, RangeEnd: uint64(regionEnd - 1)}},
	}

	got, err := ReconstructRange(context.Background(), transport, resp, 4)
	if err != nil {
		t.Fatalf("ReconstructRange: %v", err)
	}
	if string(got) != "0123" {
		t.Errorf("reconstructed bytes = %q, want %q", got, "0123")
	}
}

func TestReconstructRangeSharesFetchesAcrossTerms(t *testing.T) {
	chunks := [][]byte{[]byte("first chunk bytes"), []byte("second chunk bytes")}
	xorbData, _ := buildXorbForReconstruction(t, chunks)

	reader, err := ParseXorb(xorbData)
	if err != nil {
		t.Fatalf("ParseXorb: %v", err)
	}
	_, regionEnd := reader.chunkRegionBounds(1)

	transport := &fakeTransport{objects: map[string][]byte{"xorb-url": xorbData}}
	fetch := XorbRangeFetch{URL: "xorb-url", RangeStart: 0, RangeEnd: uint64(regionEnd - 1)}
	term := ReconstructionTerm{XorbHash: reader.XorbHash(), ChunkStart: 0, ChunkEnd: 2}

	// Two terms referencing the identical fetch range must only cost
	// one underlying FetchBytes call.
	resp := &ReconstructionResponse{
		Terms:     []ReconstructionTerm{term, term},
		FetchInfo: []XorbRangeFetch{fetch, fetch},
	}

	full := append(append([]byte{}, chunks[0]...), chunks[1]...)
	want := append(append([]byte{}, full...), full...)

	got, err := ReconstructRange(context.Background(), transport, resp, uint64(len(want)))
	if err != nil {
		t.Fatalf("ReconstructRange: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("reconstructed bytes = %q, want %q", got, want)
	}
	if transport.calls != 1 {
		t.Errorf("FetchBytes called %d times, want 1 (fetch sharing failed)", transport.calls)
	}
}

func TestReconstructRangeRejectsMismatchedTermsAndFetchInfo(t *testing.T) {
	resp := &ReconstructionResponse{
		Terms:     []ReconstructionTerm{{}},
		FetchInfo: []XorbRangeFetch{},
	}
	if _, err := ReconstructRange(context.Background(), &fakeTransport{}, resp, 0); err == nil {
		t.Error("ReconstructRange accepted mismatched Terms/FetchInfo lengths")
	}
}

func TestReconstructRangeRejectsBadChunkRange(t *testing.T) {
	resp := &ReconstructionResponse{
		Terms:     []ReconstructionTerm{{ChunkStart: 3, ChunkEnd: 3}},
		FetchInfo: []XorbRangeFetch{{URL: "x"}},
	}
	if _, err := ReconstructRange(context.Background(), &fakeTransport{objects: map[string][]byte{}}, resp, 0); err == nil {
		t.Error("ReconstructRange accepted a term with chunk_end <= chunk_start")
	}
}
