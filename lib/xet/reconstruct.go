// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"context"
	"fmt"
)

// fetchKey identifies one already-performed byte fetch, so that two
// terms naming the identical URL and range share one network call
// instead of issuing it twice.
type fetchKey struct {
	url        string
	rangeStart uint64
	rangeEnd   uint64
}

// ReconstructRange reassembles the bytes described by resp, fetching
// each term's xorb byte range through fetcher, decompressing the
// chunks it covers, and returning the bytes starting at
// resp.OffsetIntoFirstRange into the first term's output, cut to at
// most requestedLength. Output shorter than requestedLength is
// returned as is, without an error.
//
// Each fetched range is assumed to start exactly at a chunk boundary
// and to contain exactly the chunks named by its term's
// [ChunkStart, ChunkEnd) — the server is trusted to have drawn byte
// ranges that align with chunk headers; this engine has no footer to
// cross-check against for a partial range, which is exactly why
// partially-fetched xorbs without a footer are not decodable any
// other way.
func ReconstructRange(ctx context.Context, fetcher Transport, resp *ReconstructionResponse, requestedLength uint64) ([]byte, error) {
	if len(resp.Terms) != len(resp.FetchInfo) {
		return nil, formatErrorf("ReconstructRange", "reconstruction response has %d terms but %d fetch entries", len(resp.Terms), len(resp.FetchInfo))
	}

	fetchCache := make(map[fetchKey][]byte)
	var out []byte

	for i, term := range resp.Terms {
		if term.ChunkEnd <= term.ChunkStart {
			return nil, formatErrorf("ReconstructRange", "reconstruction term %d has chunk_end <= chunk_start", i)
		}

		info := resp.FetchInfo[i]
		key := fetchKey{url: info.URL, rangeStart: info.RangeStart, rangeEnd: info.RangeEnd}
		region, ok := fetchCache[key]
		if !ok {
			fetched, err := fetcher.FetchBytes(ctx, info.URL, info.RangeStart, info.RangeEnd)
			if err != nil {
				return nil, fmt.Errorf("xet: fetching reconstruction term %d: %w", i, err)
			}
			fetchCache[key] = fetched
			region = fetched
		}

		count := int(term.ChunkEnd - term.ChunkStart)
		chunks, err := decodeChunkRegionSequential(region, count)
		if err != nil {
			return nil, fmt.Errorf("xet: decoding reconstruction term %d: %w", i, err)
		}
		for _, chunk := range chunks {
			out = append(out, chunk...)
		}
	}

	if resp.OffsetIntoFirstRange > 0 {
		if resp.OffsetIntoFirstRange > uint64(len(out)) {
			return nil, formatErrorf("ReconstructRange", "offset_into_first_range %d exceeds assembled output length %d", resp.OffsetIntoFirstRange, len(out))
		}
		out = out[resp.OffsetIntoFirstRange:]
	}

	if uint64(len(out)) > requestedLength {
		out = out[:requestedLength]
	}
	return out, nil
}

// decodeChunkRegionSequential parses count chunks back-to-back
// starting at the beginning of region, as the reconstruction engine
// must when all it has is a raw byte range rather than a xorb footer
// with explicit boundary offsets.
func decodeChunkRegionSequential(region []byte, count int) ([][]byte, error) {
	out := make([][]byte, count)
	pos := 0
	for i := 0; i < count; i++ {
		payload, consumed, err := decodeChunkAt(region[pos:])
		if err != nil {
			return nil, fmt.Errorf("chunk %d at region offset %d: %w", i, pos, err)
		}
		out[i] = payload
		pos += consumed
	}
	return out, nil
}
