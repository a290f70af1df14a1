// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hash is a 256-bit keyed BLAKE3 digest. Every content address in this
// package — chunk hashes, xorb hashes, file hashes, verification
// hashes — is this size.
type Hash [32]byte

// ZeroHash is the all-zero hash, used as the aggregated hash tree's
// root over an empty input and as the argument to the file hash of an
// empty file.
var ZeroHash Hash

// domainKey is a 32-byte BLAKE3 key. Domain separation means the same
// input bytes hash differently depending on which stage of the
// pipeline produced them, so a chunk's bytes can never be mistaken
// for an internal Merkle node's merge buffer, a verification digest's
// concatenated hashes, or a file's aggregated root.
type domainKey [32]byte

// Domain separation keys. Distinct 32-byte values, one per hash
// family, are load-bearing: every xorb hash and file hash produced by
// this package is only reproducible by another implementation that
// uses the identical four keys. The byte values below are the ASCII
// encoding of a readable domain name, zero-padded to 32 bytes,
// chosen because no alternative fixed keys were available
// to this implementation (see the grounding ledger's notes on the
// hash primitives component for why these specific bytes were picked
// over the ones used by the deployment this protocol was modeled on).
var (
	dataKey = domainKey{
		'x', 'e', 't', '.', 'h', 'a', 's', 'h', '.', 'd', 'a', 't', 'a', 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	internalNodeKey = domainKey{
		'x', 'e', 't', '.', 'h', 'a', 's', 'h', '.', 'i', 'n', 't', 'e', 'r', 'n', 'a',
		'l', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	verificationKey = domainKey{
		'x', 'e', 't', '.', 'h', 'a', 's', 'h', '.', 'v', 'e', 'r', 'i', 'f', 'y', 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	zeroKey = domainKey{
		'x', 'e', 't', '.', 'h', 'a', 's', 'h', '.', 'f', 'i', 'l', 'e', 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// keyedHash computes the BLAKE3 keyed hash of data under key.
func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("xet: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// HashChunk computes the chunk hash (H_DATA) of a chunk's raw,
// uncompressed bytes. Deduplication is keyed entirely on this value,
// so it is computed before compression and never revisited after.
func HashChunk(data []byte) Hash {
	return keyedHash(dataKey, data)
}

// HashInternalNode computes H_INTERNAL over an already-built merge
// buffer (see [buildMergeBuffer]). Exported so callers assembling
// their own aggregated hash tree variants can reuse the domain key
// without reaching into package internals.
func HashInternalNode(mergeBuffer []byte) Hash {
	return keyedHash(internalNodeKey, mergeBuffer)
}

// HashVerification computes the verification hash (H_VER) of a
// contiguous run of chunk hashes, over their raw 32-byte
// concatenation — not the string form used inside the aggregated
// hash tree.
func HashVerification(chunkHashes []Hash) Hash {
	buf := make([]byte, 0, len(chunkHashes)*32)
	for _, h := range chunkHashes {
		buf = append(buf, h[:]...)
	}
	return keyedHash(verificationKey, buf)
}

// HashFile computes the file hash (H_ZERO) from the aggregated hash
// tree's root over the file's chunk hashes. An empty file has no
// chunks, so its root is the all-zero hash and its file hash is
// H_ZERO(ZeroHash).
func HashFile(merkleRoot Hash) Hash {
	return keyedHash(zeroKey, merkleRoot[:])
}

// HashXorb returns the xorb hash for a xorb: unlike [HashFile], the
// aggregated hash tree's root over the xorb's chunk hashes IS the xorb
// hash, with no further keyed wrapper. Xorb identity and file identity
// are distinguished by tree *content* (a xorb's tree is built from
// exactly the chunks physically present in that xorb, in storage
// order; a file's tree is built from the chunks that logically compose
// the file, which may span many xorbs), not by an extra domain key on
// top of the same root.
func HashXorb(merkleRoot Hash) Hash {
	return merkleRoot
}

// FormatHash renders a hash in the mandatory byte-swapped string
// form: each 8-byte lane is byte-reversed, then the 32 bytes are
// lowercase hex-encoded. Equivalently, each lane is read as a
// little-endian uint64 and printed as 16 hex digits. This encoding is
// not cosmetic — the aggregated hash tree hashes this exact string
// (not the raw bytes) into every internal node's merge buffer, so any
// deviation here changes every xorb and file hash built on top of it.
func FormatHash(h Hash) string {
	var swapped [32]byte
	for lane := 0; lane < 4; lane++ {
		off := lane * 8
		word := binary.LittleEndian.Uint64(h[off : off+8])
		binary.BigEndian.PutUint64(swapped[off:off+8], word)
	}
	return hex.EncodeToString(swapped[:])
}

// ParseHash parses the byte-swapped string form produced by
// [FormatHash] back into a Hash. It is the exact inverse: decoding
// hex then byte-reversing each lane back into little-endian order.
func ParseHash(s string) (Hash, error) {
	var h Hash
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, formatErrorf("ParseHash", "parsing hash string: %w", err)
	}
	if len(decoded) != 32 {
		return h, formatErrorf("ParseHash", "hash string decodes to %d bytes, want 32", len(decoded))
	}
	for lane := 0; lane < 4; lane++ {
		off := lane * 8
		word := binary.BigEndian.Uint64(decoded[off : off+8])
		binary.LittleEndian.PutUint64(h[off:off+8], word)
	}
	return h, nil
}

// truncateHash extracts the trailing 8 bytes of a hash as a
// little-endian uint64. This single truncation convention backs every
// place this package reduces a 32-byte hash to a fixed-size integer:
// the aggregated hash tree's cut-point decision, the deduplication
// coordinator's eligibility predicate, and the three shard lookup
// tables' sort keys.
func truncateHash(h Hash) uint64 {
	return binary.LittleEndian.Uint64(h[24:32])
}

// FormatRef returns a short, human-facing reference for a file hash:
// the "xet-" prefix followed by its first 12 hex characters (in
// string form). This is not part of any wire format — it exists
// purely as a compact external name for logs, URLs, and CLI output.
func FormatRef(fileHash Hash) string {
	return "xet-" + FormatHash(fileHash)[:12]
}
