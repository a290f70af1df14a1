// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import "sort"

// DedupEligibilityRunLength is the modulus in the eligibility
// predicate: roughly one chunk in this many is submitted to the
// global dedup endpoint, independent of whether it is the file's
// first chunk (which is always eligible).
const DedupEligibilityRunLength = 1024

// IsDedupEligible decides whether a chunk should be submitted to the
// global dedup query endpoint. A chunk is eligible if it is the first
// chunk of its file — guaranteeing every file has at least one dedup
// opportunity — or if its hash's trailing bytes land on the sampling
// stride. The sampling keeps query volume proportional to roughly
// 1/1024th of all chunks rather than querying every single one.
func IsDedupEligible(chunkHash Hash, isFirstChunkOfFile bool) bool {
	return isFirstChunkOfFile || truncateHash(chunkHash)%DedupEligibilityRunLength == 0
}

// DedupMatchKey computes the value the match procedure searches a
// shard's chunk lookup table for. When chunkHashKey is the zero hash
// (an unkeyed shard), the key is simply the truncated local chunk
// hash; otherwise it is the truncated keyed hash of the local chunk
// hash under chunkHashKey.
func DedupMatchKey(chunkHashKey, localChunkHash Hash) uint64 {
	if chunkHashKey == ZeroHash {
		return truncateHash(localChunkHash)
	}
	return truncateHash(keyedHash(domainKey(chunkHashKey), localChunkHash[:]))
}

// DedupMatch is one confirmed match between a local chunk and a chunk
// already present in a remote xorb, discovered via [MatchChunks].
type DedupMatch struct {
	LocalChunkIndex  int
	XorbHash         Hash
	ChunkIndexInXorb uint32
}

// MatchChunks runs the match procedure against shard for each hash in
// localChunkHashes: compute [DedupMatchKey], binary-search shard's
// chunk lookup table, and confirm any hit by comparing the candidate
// entry's own stored chunk hash against the local hash. The
// confirmation step is what keeps this an asymmetric oracle: a lookup
// hit the client cannot confirm (because the keyed hashes merely
// collided, or because of a second match tie) is discarded rather
// than trusted, so the client never walks away believing it holds a
// chunk hash it did not already have.
func MatchChunks(shard *Shard, localChunkHashes []Hash) []DedupMatch {
	table := buildChunkLookupTable(shard.CAS, shard.ChunkHashKey)

	var matches []DedupMatch
	for i, h := range localChunkHashes {
		target := DedupMatchKey(shard.ChunkHashKey, h)
		lo := sort.Search(len(table), func(j int) bool { return table[j].TruncHash >= target })
		for j := lo; j < len(table) && table[j].TruncHash == target; j++ {
			entry := table[j]
			candidate := shard.CAS[entry.CASIndex].Entries[entry.ChunkIndex]
			if candidate.ChunkHash == h {
				matches = append(matches, DedupMatch{
					LocalChunkIndex:  i,
					XorbHash:         shard.CAS[entry.CASIndex].XorbHash,
					ChunkIndexInXorb: entry.ChunkIndex,
				})
				break
			}
		}
	}
	return matches
}

// Default fragmentation-avoidance thresholds. The specification leaves
// the exact values to implementations; these match the example sizes
// the specification itself suggests.
const (
	DefaultMinDedupRunChunks = 8
	DefaultMinDedupRunBytes  = 1024 * 1024
)

// FragmentationPolicy decides whether a contiguous run of matched
// chunks is worth referencing from a remote xorb instead of uploading
// fresh. A run must clear at least one of the two thresholds.
type FragmentationPolicy struct {
	MinRunChunks int
	MinRunBytes  uint64
}

// DefaultFragmentationPolicy returns the policy using this package's
// suggested defaults (8 chunks or 1 MiB).
func DefaultFragmentationPolicy() FragmentationPolicy {
	return FragmentationPolicy{MinRunChunks: DefaultMinDedupRunChunks, MinRunBytes: DefaultMinDedupRunBytes}
}

// AcceptRun reports whether a matched run of chunkCount chunks
// totaling totalBytes clears the policy's thresholds.
func (p FragmentationPolicy) AcceptRun(chunkCount int, totalBytes uint64) bool {
	return chunkCount >= p.MinRunChunks || totalBytes >= p.MinRunBytes
}

// ChunkPlan is one local chunk under consideration by [PlanDedupRuns]:
// its hash and uncompressed size, in file order.
type ChunkPlan struct {
	Hash Hash
	Size uint64
}

// RunDecision is one contiguous span of a file's chunks, decided
// either to reuse from a remote xorb or to upload fresh. Chunks lists
// the local chunk indices the span covers, in order.
type RunDecision struct {
	Reused bool

	// Valid only when Reused: the remote xorb referenced and the
	// index of Chunks[0] within that xorb. Because a run's matches
	// are required to be index-contiguous within the same xorb (see
	// [PlanDedupRuns]), every other chunk's xorb index follows by
	// simple increment.
	XorbHash        Hash
	ChunkIndexStart uint32

	Chunks []int
}

// PlanDedupRuns rewrites a file's chunk sequence into new-vs-reuse
// runs. matches maps a local chunk index to its [DedupMatch], as
// produced by [MatchChunks]; chunks with no entry are unmatched. A
// run of matched chunks is only accepted as a reuse if it is
// contiguous — both in file order and in the referenced xorb's chunk
// order — and clears policy's thresholds; otherwise its chunks fall
// back into a fresh-upload run, exactly as an unmatched run would.
func PlanDedupRuns(chunks []ChunkPlan, matches map[int]DedupMatch, policy FragmentationPolicy) []RunDecision {
	var runs []RunDecision
	n := len(chunks)

	for i := 0; i < n; {
		first, ok := matches[i]
		if !ok {
			j := i + 1
			for j < n {
				if _, matched := matches[j]; matched {
					break
				}
				j++
			}
			runs = append(runs, RunDecision{Reused: false, Chunks: chunkRange(i, j)})
			i = j
			continue
		}

		j := i + 1
		prevXorbIndex := first.ChunkIndexInXorb
		for j < n {
			next, matched := matches[j]
			if !matched || next.XorbHash != first.XorbHash || next.ChunkIndexInXorb != prevXorbIndex+1 {
				break
			}
			prevXorbIndex = next.ChunkIndexInXorb
			j++
		}

		var totalBytes uint64
		for k := i; k < j; k++ {
			totalBytes += chunks[k].Size
		}

		if policy.AcceptRun(j-i, totalBytes) {
			runs = append(runs, RunDecision{
				Reused:          true,
				XorbHash:        first.XorbHash,
				ChunkIndexStart: first.ChunkIndexInXorb,
				Chunks:          chunkRange(i, j),
			})
		} else {
			runs = append(runs, RunDecision{Reused: false, Chunks: chunkRange(i, j)})
		}
		i = j
	}

	return runs
}

func chunkRange(start, end int) []int {
	out := make([]int, end-start)
	for i := range out {
		out[i] = start + i
	}
	return out
}
