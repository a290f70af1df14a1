// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

// Chunking parameters. These are wire-level constants: changing any
// of them changes where chunk boundaries fall and therefore changes
// every chunk hash, xorb hash, and file hash computed over existing
// content.
const (
	// MinChunkSize is the smallest a chunk may be, except for a file's
	// final trailing chunk. No boundary test runs before this many
	// bytes have accumulated.
	MinChunkSize = 8 * 1024

	// TargetChunkSize is the expected average chunk size. The
	// boundary mask is calibrated so the per-byte boundary
	// probability is approximately 1/TargetChunkSize.
	TargetChunkSize = 64 * 1024

	// MaxChunkSize forces a boundary regardless of hash state,
	// bounding the worst case chunk size for any input pattern.
	MaxChunkSize = 128 * 1024
)

// gearBoundaryMask tests the top 16 bits of the rolling hash. A
// boundary is declared when the masked bits are all zero, which
// happens with probability 1/65536 per byte once size >= MinChunkSize.
const gearBoundaryMask uint64 = 0xFFFF000000000000

// Chunk is one content-defined slice of an input, as produced by
// [Chunker.Next]. It carries only the raw byte range — callers attach
// a chunk hash (via [HashChunk]) as a separate pipeline stage, so that
// chunking and hashing can be reasoned about, tested, and parallelized
// independently.
type Chunk struct {
	// Offset is the chunk's starting byte position in the input.
	Offset int64

	// Data is the chunk's raw bytes: a slice into the Chunker's
	// input, valid only until the input buffer is modified.
	Data []byte
}

// Chunker splits an in-memory byte slice into content-defined chunks
// using the GearHash rolling hash. Create one with [NewChunker] and
// call [Chunker.Next] until it returns nil.
//
// The chunker operates on a fully buffered input. A caller chunking a
// file larger than comfortably fits in memory reads it in segments
// and feeds successive segments through a stateful variant; this
// package does not need that yet, since its current callers already
// hold the full file in memory by the time they chunk it.
type Chunker struct {
	data     []byte
	position int64
}

// NewChunker creates a chunker over data. The slice is not copied;
// the caller must not modify it while iterating.
func NewChunker(data []byte) *Chunker {
	return &Chunker{data: data}
}

// Next returns the next chunk, or nil once the input is exhausted.
func (c *Chunker) Next() *Chunk {
	if c.position >= int64(len(c.data)) {
		return nil
	}

	start := c.position
	remaining := c.data[start:]
	boundary := gearFindBoundary(remaining)

	c.position = start + int64(boundary)
	return &Chunk{Offset: start, Data: remaining[:boundary]}
}

// ChunkAll chunks the entire input and returns every chunk. For very
// large inputs prefer [NewChunker] and [Chunker.Next] to avoid holding
// every chunk's metadata at once.
func ChunkAll(data []byte) []Chunk {
	chunker := NewChunker(data)
	var chunks []Chunk
	for {
		chunk := chunker.Next()
		if chunk == nil {
			break
		}
		chunks = append(chunks, *chunk)
	}
	return chunks
}

// gearFindBoundary scans data from its start and returns the length
// of the first chunk: the offset of the boundary it finds, or
// len(data) if none is found before MaxChunkSize or the end of input.
//
// The rolling hash h is updated on every byte without exception. The
// boundary mask test is skipped while size < MinChunkSize, which is
// a legal performance shortcut — but h itself must still accumulate
// every byte, or the boundary found once size reaches MinChunkSize
// would depend on which bytes were skipped, breaking determinism.
func gearFindBoundary(data []byte) int {
	length := len(data)
	if length <= MinChunkSize {
		return length
	}

	var h uint64
	limit := length
	if limit > MaxChunkSize {
		limit = MaxChunkSize
	}

	for i := 0; i < limit; i++ {
		h = (h << 1) + gearTable[data[i]]
		size := i + 1
		if size < MinChunkSize {
			continue
		}
		if size >= MaxChunkSize {
			return size
		}
		if h&gearBoundaryMask == 0 {
			return size
		}
	}

	return limit
}

// gearTable is the 256-entry GearHash rolling-hash constant table,
// indexed by byte value and combined via h = (h << 1) + gearTable[b].
// These values come from the rust-gearhash crate's FastCDC-derived
// table; using the same table as other GearHash-based chunkers is
// what makes chunk boundaries — and therefore deduplication — agree
// across independent implementations operating on the same bytes.
var gearTable = [256]uint64{
	0x5c95c078, 0x22408989, 0x2d48a214, 0x12842087,
	0x530f8afb, 0x474536b9, 0x2963b4f1, 0x44cb738b,
	0x4ea7403d, 0x4d606b6e, 0x074ec5d3, 0x3af39d18,
	0x726c4b7d, 0x60b26d8c, 0x3bd7a0a2, 0x7e51163a,
	0x07e7fbe3, 0x2da12162, 0x4dc3c487, 0x74b82462,
	0x5c74486e, 0x4d30a5dd, 0x5218c048, 0x25fd6e8c,
	0x1001de8e, 0x06f68502, 0x04681ce7, 0x18840c6b,
	0x28716fab, 0x27a7a855, 0x1d5bb906, 0x00eea11c,
	0x42c21f83, 0x0b2f6c73, 0x151c0a4f, 0x0c88e74b,
	0x44297db3, 0x0c9f2889, 0x22c19b89, 0x397e0284,
	0x3b47e2cf, 0x5e6a06a4, 0x02a60ec5, 0x10a30dc4,
	0x259f4bf4, 0x7448e0a6, 0x0d9b89b1, 0x0a0857b0,
	0x1e2a9eab, 0x09a3fdab, 0x3f6a6ff5, 0x5ad8cb5e,
	0x2a96c135, 0x46aff290, 0x544ff32c, 0x51e8cad1,
	0x4e0c57c8, 0x4d1ab85c, 0x5c9f62c5, 0x3bf82ccc,
	0x08a6ae66, 0x570fb7ac, 0x2cc96de0, 0x3ba9d60a,
	0x2c5fad64, 0x10ca4656, 0x06d0e217, 0x32b94f28,
	0x1d10fe68, 0x66f3df1a, 0x555fc7c0, 0x1afeb39d,
	0x08e1e40f, 0x31c86d13, 0x12e1a55b, 0x78aa48f0,
	0x4a71e0d9, 0x6b6cfbb0, 0x4a8a4b5d, 0x26e11f1b,
	0x4b65fb4f, 0x0eac5bdb, 0x7108e3c2, 0x0f03e6a3,
	0x41e3dce0, 0x1e80b9f2, 0x4a4cc2bc, 0x51fb08bc,
	0x05e33025, 0x72421bca, 0x00b93a24, 0x6dfd0e3c,
	0x23f18d04, 0x3e16cd59, 0x4d5b2a04, 0x49b2a50b,
	0x5fa94b5e, 0x35d16efc, 0x1e83a79a, 0x58c0d77d,
	0x4e45e50e, 0x1f64ee5d, 0x16ef2bb3, 0x5e27dc6e,
	0x7f0b8a3f, 0x3f59d96f, 0x232a5c1f, 0x7f83a841,
	0x59a11b26, 0x7b0c98f9, 0x5b93ed6e, 0x2f7c3534,
	0x0b66a92b, 0x10741c6e, 0x4a05bbae, 0x544e9756,
	0x33161fba, 0x248ca40b, 0x20a2f5ff, 0x6e529a22,
	0x316aeed5, 0x2a0af2cc, 0x1a4bbd7a, 0x1b9c4c28,
	0x4ea13a8c, 0x37eeff2c, 0x00a5d16d, 0x3ba2e855,
	0x2fdc2bae, 0x552985cf, 0x100a3d1b, 0x5897d96c,
	0x79a18dd4, 0x3fba8cfe, 0x0e8c0d27, 0x7e75cf15,
	0x4f10a4a8, 0x5e38a7b6, 0x7ed42d93, 0x28c2d49d,
	0x36aeafc3, 0x7361fffe, 0x27685296, 0x7cf7bdcf,
	0x00eb2c20, 0x0e97d95a, 0x7b14c77b, 0x46e97cb4,
	0x349a2cce, 0x2b00d5f0, 0x33a3ed5f, 0x6028f41d,
	0x1ed51d48, 0x6e75ec40, 0x6bfe88b0, 0x5ab96b34,
	0x45eb5e21, 0x5ba3faa6, 0x7e397ad3, 0x5cb7f39e,
	0x6d89f1e3, 0x3d1e1a72, 0x37000acc, 0x3f70d73e,
	0x7b120ad6, 0x75c84c75, 0x0b96d26c, 0x3a2e14b8,
	0x0e2a7a25, 0x21fcf4db, 0x5ed8c765, 0x01c08d38,
	0x09b24969, 0x5d5f684b, 0x36c0e8f2, 0x41cb6e2a,
	0x57dff2e1, 0x4c51b47d, 0x35bfbe24, 0x7b7ca00e,
	0x16e7e68f, 0x0cc6cff1, 0x6d5f0b69, 0x5f07e8c2,
	0x2bc8e7f2, 0x4dff3652, 0x31eb7bb4, 0x3e9e2df0,
	0x7a6b96d0, 0x600cd1da, 0x3ae99a7d, 0x3c2baabd,
	0x5df7c7c3, 0x73ee1e12, 0x02eae5d1, 0x6f5b5dd7,
	0x117caeb7, 0x3d39b7d5, 0x07b83b5b, 0x71da406f,
	0x4c93d7e6, 0x0e37ff7a, 0x7e91c441, 0x5c7e90e4,
	0x51b9c0c7, 0x32cf793e, 0x47ceff44, 0x2ef06e0f,
	0x6d02afc1, 0x2b0c1bc5, 0x5de2d15c, 0x16f93f40,
	0x0ef05e5e, 0x32b2f28f, 0x5a4a5fca, 0x7b37a3db,
	0x29786a10, 0x66f31c5a, 0x6d4c66f8, 0x14f43c6c,
	0x1a81fc14, 0x3b8f03ab, 0x163f8ab7, 0x1e92ab2e,
	0x3e3e1c34, 0x35ac0284, 0x61d4b73d, 0x76b7c71d,
	0x5aee7044, 0x6db41689, 0x5d3e1e24, 0x6b3c82b7,
	0x15ea6a23, 0x411e4e66, 0x2fe46038, 0x2aff5ca1,
	0x344e7bf6, 0x0c3743f4, 0x1bb8c8f5, 0x54b4c77f,
	0x6fc6cfaa, 0x7d012bdd, 0x3e8d9c39, 0x57204ab9,
	0x2f6f4ad5, 0x4ad26c8a, 0x6b8ea98e, 0x73a28ba6,
	0x7a70d90e, 0x51cf88e4, 0x6aff9307, 0x56d74c87,
	0x3c47d6c6, 0x4a8e8930, 0x4bf9a794, 0x5c3da92e,
}
