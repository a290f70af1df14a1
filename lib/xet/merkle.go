// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"strconv"
)

// meanBranchingFactor is the target (not guaranteed) number of
// children merged into each internal node of the aggregated hash
// tree. Actual fan-out for any given node is between minTreeFanout
// and maxTreeFanout, decided by [cutPoint].
const meanBranchingFactor = 4

const (
	minTreeFanout = 2
	maxTreeFanout = 9
)

// HashSizePair is one leaf (or, during a collapsing pass, one
// already-merged node) of the aggregated hash tree: a content hash
// paired with the byte length it represents.
type HashSizePair struct {
	Hash Hash
	Size uint64
}

// cutPoint decides how many leading elements of pairs merge into the
// next internal node. It never looks past the 9th element and never
// returns fewer than 2 unless fewer than 2 remain, so every internal
// node (other than a trailing under-sized remainder) has between 2
// and 9 children.
//
// The decision is content-defined: it scans the tail 8 bytes of each
// candidate's hash for the first one whose value mod 4 is zero,
// giving a mean fan-out of 4 without needing every node to carry an
// explicit child count on the wire.
func cutPoint(pairs []HashSizePair) int {
	n := len(pairs)
	if n <= minTreeFanout {
		return n
	}
	end := n
	if end > maxTreeFanout {
		end = maxTreeFanout
	}
	for i := 2; i < end; i++ {
		if truncateHash(pairs[i].Hash)%meanBranchingFactor == 0 {
			return i + 1
		}
	}
	return end
}

// buildMergeBuffer assembles the textual input hashed to produce an
// internal node's hash: one line per child, each formatted
// "{hash_string} : {size}\n" with the hash in its byte-swapped string
// form and the size as ASCII decimal. This textual encoding is part
// of the wire contract — hashing the raw 32-byte hash instead would
// produce a different, non-interoperable tree.
func buildMergeBuffer(children []HashSizePair) []byte {
	buf := make([]byte, 0, len(children)*75)
	for _, child := range children {
		buf = append(buf, FormatHash(child.Hash)...)
		buf = append(buf, " : "...)
		buf = append(buf, strconv.FormatUint(child.Size, 10)...)
		buf = append(buf, '\n')
	}
	return buf
}

// mergeRun collapses one run of 2-9 children into a single parent
// pair: the parent's hash is H_INTERNAL of the run's merge buffer,
// and its size is the sum of the children's sizes.
func mergeRun(children []HashSizePair) HashSizePair {
	var total uint64
	for _, child := range children {
		total += child.Size
	}
	return HashSizePair{
		Hash: HashInternalNode(buildMergeBuffer(children)),
		Size: total,
	}
}

// MerkleRoot computes the aggregated hash tree's root over an ordered
// sequence of (hash, size) pairs — the construction shared by xorb
// hashes and file hashes. An empty sequence produces [ZeroHash];
// otherwise the tree collapses level by level, applying [cutPoint] at
// each position, until exactly one pair remains.
func MerkleRoot(pairs []HashSizePair) Hash {
	if len(pairs) == 0 {
		return ZeroHash
	}

	level := pairs
	for len(level) > 1 {
		next := make([]HashSizePair, 0, (len(level)+minTreeFanout-1)/minTreeFanout)
		for i := 0; i < len(level); {
			cut := cutPoint(level[i:])
			next = append(next, mergeRun(level[i:i+cut]))
			i += cut
		}
		level = next
	}
	return level[0].Hash
}
