// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package xet implements the XET content-addressable storage protocol's
// client-side object engine: deterministic content-defined chunking, a
// family of keyed BLAKE3 hashes tied together by a variable fan-out
// aggregated Merkle tree, a binary container format ("xorb") with three
// compression variants, and a binary metadata format ("shard")
// describing file reconstructions.
//
// The package is organized in layers, each usable independently:
//
//   - Hashing (hash.go): four domain-separated BLAKE3 keyed hashes
//     (chunk, internal-node, verification, file) plus the mandatory
//     byte-swapped hash string encoding that is itself hashed as part
//     of the aggregated Merkle tree's input.
//
//   - Chunking (chunker.go): GearHash content-defined chunking with an
//     8KiB minimum, 64KiB target, and 128KiB maximum chunk size.
//
//   - The aggregated hash tree (merkle.go): a variable fan-out (2-9,
//     mean 4) Merkle reducer whose cut points are derived from the
//     hash bytes themselves rather than a fixed arity.
//
//   - Compression (compress.go): three codecs selected per chunk —
//     none, LZ4 frame, and ByteGrouping4 transposition followed by
//     LZ4 frame. Chunk hashes are always computed on uncompressed
//     bytes, so deduplication is unaffected by compression choice.
//
//   - The xorb codec (xorb.go): the binary container format
//     aggregating up to 8192 compressed chunks (≤ 64MiB serialized)
//     behind a self-describing footer.
//
//   - The shard codec (shard.go): the binary metadata format
//     describing how files reconstruct from xorb chunk ranges, with
//     sorted lookup tables for content-addressed retrieval.
//
//   - Reconstruction (reconstruct.go): assembles file bytes from a
//     term list and per-xorb fetch information.
//
//   - Deduplication (dedup.go): the eligibility predicate, keyed-hash
//     match procedure, and fragmentation-avoidance policy that decide
//     which chunks get reused from the global store versus uploaded
//     fresh.
//
// All integers in every wire format are little-endian. All multi-byte
// hashes are 32 bytes. The algorithm suite (hash function, chunker,
// compression set) is fixed and deployment-global — there is no
// negotiation on the wire.
package xet
