// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"testing"
)

// memTransport is a full in-memory Transport: it actually stores
// uploaded xorbs and shards and serves GetReconstruction/QueryDedup
// from them, so it can drive a real UploadSession/DownloadSession
// round trip rather than stubbing out the methods a narrower test
// doesn't need (see fakeTransport in reconstruct_test.go for that
// narrower case).
type memTransport struct {
	xorbs         map[Hash][]byte
	shards        []*Shard
	putXorbCalls  int
	putShardCalls int
}

func newMemTransport() *memTransport {
	return &memTransport{xorbs: make(map[Hash][]byte)}
}

func (m *memTransport) GetReconstruction(_ context.Context, fileHash Hash, byteRange *ByteRange) (*ReconstructionResponse, error) {
	if byteRange != nil {
		return nil, fmt.Errorf("memTransport: ranged reconstruction not supported by this test double")
	}
	for i := len(m.shards) - 1; i >= 0; i-- {
		for _, f := range m.shards[i].Files {
			if f.FileHash != fileHash {
				continue
			}
			return m.buildReconstruction(f)
		}
	}
	return nil, fmt.Errorf("memTransport: file %s not found", FormatHash(fileHash))
}

func (m *memTransport) buildReconstruction(f FileEntry) (*ReconstructionResponse, error) {
	resp := &ReconstructionResponse{
		Terms:     make([]ReconstructionTerm, len(f.Entries)),
		FetchInfo: make([]XorbRangeFetch, len(f.Entries)),
	}
	for i, entry := range f.Entries {
		xorbData, ok := m.xorbs[entry.XorbHash]
		if !ok {
			return nil, fmt.Errorf("memTransport: xorb %s not found", FormatHash(entry.XorbHash))
		}
		reader, err := ParseXorb(xorbData)
		if err != nil {
			return nil, err
		}
		start, _ := reader.chunkRegionBounds(int(entry.ChunkStart))
		_, end := reader.chunkRegionBounds(int(entry.ChunkEnd) - 1)

		resp.Terms[i] = ReconstructionTerm{
			XorbHash:       entry.XorbHash,
			ChunkStart:     entry.ChunkStart,
			ChunkEnd:       entry.ChunkEnd,
			UnpackedLength: entry.UnpackedSegmentBytes,
		}
		resp.FetchInfo[i] = XorbRangeFetch{
			URL:        FormatHash(entry.XorbHash),
			RangeStart: uint64(start),
			RangeEnd:   uint64(end - 1),
		}
	}
	return resp, nil
}

func (m *memTransport) QueryDedup(_ context.Context, _ string, chunkHash Hash) (DedupShardResult, error) {
	for i := len(m.shards) - 1; i >= 0; i-- {
		shard := m.shards[i]
		if len(MatchChunks(shard, []Hash{chunkHash})) == 0 {
			continue
		}
		encoded, err := shard.EncodeUploadForm()
		if err != nil {
			return DedupShardResult{}, err
		}
		return DedupShardResult{ShardBytes: encoded, Found: true}, nil
	}
	return DedupShardResult{}, nil
}

func (m *memTransport) PutXorb(_ context.Context, _ string, xorbHash Hash, data []byte) (PutXorbResult, error) {
	m.putXorbCalls++
	if _, exists := m.xorbs[xorbHash]; exists {
		return PutXorbResult{WasInserted: false}, nil
	}
	m.xorbs[xorbHash] = data
	return PutXorbResult{WasInserted: true}, nil
}

func (m *memTransport) PutShard(_ context.Context, shardBytes []byte) (PutShardResult, error) {
	m.putShardCalls++
	shard, err := DecodeShard(shardBytes)
	if err != nil {
		return PutShardResult{}, err
	}
	m.shards = append(m.shards, shard)
	return PutShardResult{}, nil
}

func (m *memTransport) FetchBytes(_ context.Context, url string, rangeStart, rangeEnd uint64) ([]byte, error) {
	for xorbHash, data := range m.xorbs {
		if FormatHash(xorbHash) != url {
			continue
		}
		if rangeEnd >= uint64(len(data)) {
			return nil, fmt.Errorf("memTransport: range end %d out of bounds for %d-byte xorb", rangeEnd, len(data))
		}
		return data[rangeStart : rangeEnd+1], nil
	}
	return nil, fmt.Errorf("memTransport: no xorb for url %q", url)
}

// deterministicBytes returns n pseudo-random bytes from a fixed seed,
// long enough and varied enough to exercise several chunk boundaries.
func deterministicBytes(n int, seed int64) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	transport := newMemTransport()
	data := deterministicBytes(3*MaxChunkSize, 1)

	upload := NewUploadSession(UploadSessionOptions{
		Transport:   transport,
		Namespace:   "default",
		Compression: CompressionLZ4,
	})
	upload.AddFile(data)

	hashes, err := upload.Upload(context.Background())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(hashes) != 1 {
		t.Fatalf("Upload returned %d hashes, want 1", len(hashes))
	}
	if transport.putShardCalls != 1 {
		t.Fatalf("PutShard called %d times, want 1", transport.putShardCalls)
	}
	if transport.putXorbCalls == 0 {
		t.Fatal("PutXorb was never called for a non-empty file")
	}

	download := NewDownloadSession(transport)
	got, err := download.Download(context.Background(), hashes[0], nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("downloaded %d bytes, want %d bytes matching upload", len(got), len(data))
	}
}

func TestUploadDownloadMultipleFiles(t *testing.T) {
	transport := newMemTransport()
	dataA := deterministicBytes(2*MaxChunkSize, 2)
	dataB := deterministicBytes(MaxChunkSize/2, 3)

	upload := NewUploadSession(UploadSessionOptions{Transport: transport, Compression: CompressionLZ4})
	upload.AddFile(dataA)
	upload.AddFile(dataB)

	hashes, err := upload.Upload(context.Background())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("Upload returned %d hashes, want 2", len(hashes))
	}

	download := NewDownloadSession(transport)
	gotA, err := download.Download(context.Background(), hashes[0], nil)
	if err != nil {
		t.Fatalf("Download file A: %v", err)
	}
	if !bytes.Equal(gotA, dataA) {
		t.Fatal("downloaded file A does not match uploaded bytes")
	}

	gotB, err := download.Download(context.Background(), hashes[1], nil)
	if err != nil {
		t.Fatalf("Download file B: %v", err)
	}
	if !bytes.Equal(gotB, dataB) {
		t.Fatal("downloaded file B does not match uploaded bytes")
	}
}

func TestUploadSessionIdenticalFilesShareFileHash(t *testing.T) {
	transport := newMemTransport()
	data := deterministicBytes(4*MaxChunkSize, 4)

	upload := NewUploadSession(UploadSessionOptions{Transport: transport, Compression: CompressionLZ4})
	upload.AddFile(data)
	upload.AddFile(append([]byte(nil), data...))

	hashes, err := upload.Upload(context.Background())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if hashes[0] != hashes[1] {
		t.Fatalf("identical file contents produced different file hashes: %s vs %s",
			FormatHash(hashes[0]), FormatHash(hashes[1]))
	}
}

// TestUploadSessionGlobalDedupAvoidsReupload exercises the full
// global-dedup path: a second, independent session uploading a large
// run of chunks already known to the (shared) transport must resolve
// every one of them via QueryDedup/PlanDedupRuns and never call
// PutXorb, since the run comfortably clears DefaultFragmentationPolicy
// on byte size alone.
func TestUploadSessionGlobalDedupAvoidsReupload(t *testing.T) {
	transport := newMemTransport()
	data := deterministicBytes(16*MaxChunkSize, 5)

	first := NewUploadSession(UploadSessionOptions{
		Transport:         transport,
		EnableGlobalDedup: true,
		Compression:       CompressionLZ4,
	})
	first.AddFile(data)
	if _, err := first.Upload(context.Background()); err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	xorbsAfterFirst := transport.putXorbCalls

	second := NewUploadSession(UploadSessionOptions{
		Transport:         transport,
		EnableGlobalDedup: true,
		Compression:       CompressionLZ4,
	})
	second.AddFile(append([]byte(nil), data...))
	hashes, err := second.Upload(context.Background())
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if transport.putXorbCalls != xorbsAfterFirst {
		t.Errorf("second Upload called PutXorb %d more times, want 0 (everything should dedup)",
			transport.putXorbCalls-xorbsAfterFirst)
	}

	download := NewDownloadSession(transport)
	got, err := download.Download(context.Background(), hashes[0], nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded bytes from a fully-deduplicated upload do not match the original content")
	}
}

func TestUploadSessionEmptyFile(t *testing.T) {
	transport := newMemTransport()
	upload := NewUploadSession(UploadSessionOptions{Transport: transport, Compression: CompressionLZ4})
	upload.AddFile(nil)

	hashes, err := upload.Upload(context.Background())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	download := NewDownloadSession(transport)
	got, err := download.Download(context.Background(), hashes[0], nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("downloaded %d bytes for an empty file, want 0", len(got))
	}
}

func TestUploadFileDownloadFileHelpers(t *testing.T) {
	transport := newMemTransport()
	data := deterministicBytes(MaxChunkSize, 6)

	fileHash, err := UploadFile(context.Background(), transport, "default", data)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	got, err := DownloadFile(context.Background(), transport, fileHash, nil)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("DownloadFile did not return the bytes UploadFile stored")
	}
}
