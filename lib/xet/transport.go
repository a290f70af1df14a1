// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import "context"

// This file names the transport boundary the object engine consumes.
// HTTP, authentication, retry, and pre-signed URLs are someone else's
// problem — a real deployment wires a concrete Transport
// implementation in its own package and hands it to the reconstruction
// and deduplication code in this one. Nothing in this package depends
// on net/http.

// ByteRange is a project-convention [Start, End) exclusive byte range,
// used wherever this package itself names a range. It is distinct
// from the inclusive ranges HTTP's Range header (and therefore
// [XorbRangeFetch]) uses — the reconstruction engine is exactly the
// place those two conventions meet and must be converted between.
type ByteRange struct {
	Start uint64
	End   uint64
}

// XorbRangeFetch names where to fetch one term's chunk bytes from: a
// URL plus an HTTP-inclusive-end byte range, as returned inside a
// get_reconstruction response. RangeEnd is the last byte included,
// not the first byte excluded.
type XorbRangeFetch struct {
	URL        string
	RangeStart uint64
	RangeEnd   uint64 // inclusive
}

// ReconstructionTerm is one entry of a get_reconstruction response's
// term list: a contiguous run of chunks from a single xorb.
type ReconstructionTerm struct {
	XorbHash       Hash
	ChunkStart     uint32
	ChunkEnd       uint32 // exclusive
	UnpackedLength uint32
}

// ReconstructionResponse is the parsed result of get_reconstruction:
// enough information to reassemble a file (or a requested byte range
// of one) without any further metadata round-trip. FetchInfo is
// aligned with Terms by index — FetchInfo[i] is where to fetch the
// chunk bytes for Terms[i].
type ReconstructionResponse struct {
	OffsetIntoFirstRange uint64
	Terms                []ReconstructionTerm
	FetchInfo            []XorbRangeFetch
}

// DedupShardResult is the result of a successful query_dedup call: a
// shard (in stored form, with chunk_hash_key set) describing chunks
// the server already holds.
type DedupShardResult struct {
	ShardBytes []byte
	Found      bool
}

// PutXorbResult is the result of put_xorb.
type PutXorbResult struct {
	WasInserted bool
}

// PutShardResult is the result of put_shard.
type PutShardResult struct {
	AlreadyExisted bool
}

// Transport is the external collaborator the object engine calls out
// to. A real implementation backs this with HTTP, bearer-token auth,
// TLS, and exponential-backoff retry on transient failures — none of
// which this package implements or depends on.
type Transport interface {
	// GetReconstruction fetches the term list and fetch info needed
	// to reassemble fileHash, optionally restricted to byteRange.
	GetReconstruction(ctx context.Context, fileHash Hash, byteRange *ByteRange) (*ReconstructionResponse, error)

	// QueryDedup asks whether chunkHash is known to the given
	// namespace's global dedup index.
	QueryDedup(ctx context.Context, namespace string, chunkHash Hash) (DedupShardResult, error)

	// PutXorb uploads a fully serialized xorb.
	PutXorb(ctx context.Context, namespace string, xorbHash Hash, data []byte) (PutXorbResult, error)

	// PutShard uploads a shard in upload form.
	PutShard(ctx context.Context, shardBytes []byte) (PutShardResult, error)

	// FetchBytes retrieves bytes [rangeStart, rangeEnd] (inclusive)
	// from url.
	FetchBytes(ctx context.Context, url string, rangeStart, rangeEnd uint64) ([]byte, error)
}
