// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"encoding/binary"
	"fmt"
)

// Xorb size and count limits. A builder must never produce a xorb
// that exceeds either; readers treat a xorb that claims to but
// doesn't fit as a format error.
const (
	MaxXorbSize   = 64 * 1024 * 1024
	MaxXorbChunks = 8192

	// maxU24 is the largest value a 3-byte little-endian field can
	// hold. Chunk header size fields use this width, not a full u32,
	// to keep the per-chunk header at 8 bytes.
	maxU24 = 1<<24 - 1

	chunkHeaderSize = 8
)

const (
	xorbMainIdent     = "XETBLOB"
	xorbHashIdent     = "XBLBHSH"
	xorbBoundaryIdent = "XBLBBND"

	xorbMainVersion     = 1
	xorbHashVersion     = 0
	xorbBoundaryVersion = 1

	xorbTrailerReservedSize = 16
)

// putUint24 writes v into a 3-byte little-endian field. The caller is
// responsible for ensuring v <= maxU24.
func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// XorbBuilder assembles chunks into a xorb's binary container format:
// a chunk region followed by a self-describing footer. Create one
// with [NewXorbBuilder], add chunks with [XorbBuilder.AddChunk] in
// file order, and call [XorbBuilder.Finalize] once.
type XorbBuilder struct {
	chunkRegion           []byte
	chunkHashes           []Hash
	regionEndOffsets      []uint32
	uncompressedEndOffset []uint32
	uncompressedTotal     uint64
	finalized             bool
}

// NewXorbBuilder creates an empty xorb builder.
func NewXorbBuilder() *XorbBuilder {
	return &XorbBuilder{}
}

// ChunkCount returns the number of chunks added so far.
func (b *XorbBuilder) ChunkCount() int {
	return len(b.chunkHashes)
}

// DataSize returns the serialized chunk region size accumulated so
// far, not counting the footer. Callers use this alongside
// [XorbBuilder.ChunkCount] to decide when to stop adding chunks and
// start a new xorb, before [MaxXorbSize] or [MaxXorbChunks] is hit.
func (b *XorbBuilder) DataSize() int {
	return len(b.chunkRegion)
}

// AddChunk compresses data under tag and appends it to the xorb being
// built. If the compressed form is not smaller than data, the chunk is
// stored uncompressed under [CompressionNone] instead. hash must be [HashChunk] of data's uncompressed bytes — the
// builder does not recompute it, since callers already have it from
// the chunking/dedup stage and recomputing here would double the
// hashing cost for every chunk in every xorb.
func (b *XorbBuilder) AddChunk(data []byte, hash Hash, tag CompressionTag) error {
	if b.finalized {
		return constraintErrorf("XorbBuilder.AddChunk", "xorb builder already finalized")
	}
	if len(b.chunkHashes) >= MaxXorbChunks {
		return constraintErrorf("XorbBuilder.AddChunk", "xorb already has the maximum %d chunks", MaxXorbChunks)
	}
	if len(data) == 0 || len(data) > MaxChunkSize {
		return constraintErrorf("XorbBuilder.AddChunk", "chunk size %d outside [1, %d]", len(data), MaxChunkSize)
	}

	compressed, err := CompressChunk(data, tag)
	if err != nil {
		return fmt.Errorf("xet: compressing chunk: %w", err)
	}
	if tag != CompressionNone && len(compressed) >= len(data) {
		compressed, tag = data, CompressionNone
	}
	if len(compressed) == 0 || len(compressed) > maxU24 {
		return constraintErrorf("XorbBuilder.AddChunk", "compressed chunk size %d outside [1, %d]", len(compressed), maxU24)
	}

	header := make([]byte, chunkHeaderSize)
	header[0] = 0 // chunk header version
	putUint24(header[1:4], uint32(len(compressed)))
	header[4] = byte(tag)
	putUint24(header[5:8], uint32(len(data)))

	projected := len(b.chunkRegion) + len(header) + len(compressed)
	if projected+estimateFooterSize(len(b.chunkHashes)+1) > MaxXorbSize {
		return constraintErrorf("XorbBuilder.AddChunk", "adding chunk would exceed max xorb size %d", MaxXorbSize)
	}

	b.chunkRegion = append(b.chunkRegion, header...)
	b.chunkRegion = append(b.chunkRegion, compressed...)

	b.chunkHashes = append(b.chunkHashes, hash)
	b.regionEndOffsets = append(b.regionEndOffsets, uint32(len(b.chunkRegion)))
	b.uncompressedTotal += uint64(len(data))
	b.uncompressedEndOffset = append(b.uncompressedEndOffset, uint32(b.uncompressedTotal))

	return nil
}

// estimateFooterSize returns a conservative upper bound on the
// footer size for a xorb with n chunks, used by AddChunk to stay
// under MaxXorbSize without building the real footer on every call.
func estimateFooterSize(n int) int {
	main := len(xorbMainIdent) + 1 + 32
	hashSection := len(xorbHashIdent) + 1 + 4 + n*32
	boundarySection := len(xorbBoundaryIdent) + 1 + 4 + n*4 + n*4
	trailer := 4 + 4 + 4 + xorbTrailerReservedSize
	return main + hashSection + boundarySection + trailer + 4 // + info_length
}

// chunkSizes reconstructs each chunk's uncompressed size from the
// cumulative uncompressedEndOffset array.
func (b *XorbBuilder) chunkSizes() []uint64 {
	sizes := make([]uint64, len(b.uncompressedEndOffset))
	var prev uint64
	for i, end := range b.uncompressedEndOffset {
		sizes[i] = uint64(end) - prev
		prev = uint64(end)
	}
	return sizes
}

// Finalize computes the xorb hash, builds the footer, and returns the
// complete serialized xorb. The builder must not be reused afterward.
func (b *XorbBuilder) Finalize() ([]byte, Hash, error) {
	if b.finalized {
		return nil, Hash{}, constraintErrorf("XorbBuilder.Finalize", "xorb builder already finalized")
	}
	if len(b.chunkHashes) == 0 {
		return nil, Hash{}, constraintErrorf("XorbBuilder.Finalize", "xorb must have at least one chunk")
	}
	b.finalized = true

	sizes := b.chunkSizes()
	pairs := make([]HashSizePair, len(b.chunkHashes))
	for i, h := range b.chunkHashes {
		pairs[i] = HashSizePair{Hash: h, Size: sizes[i]}
	}
	xorbHash := HashXorb(MerkleRoot(pairs))

	footer := buildXorbFooter(xorbHash, b.chunkHashes, b.regionEndOffsets, b.uncompressedEndOffset)

	out := make([]byte, 0, len(b.chunkRegion)+len(footer)+4)
	out = append(out, b.chunkRegion...)
	out = append(out, footer...)

	var lengthSuffix [4]byte
	binary.LittleEndian.PutUint32(lengthSuffix[:], uint32(len(footer)))
	out = append(out, lengthSuffix[:]...)

	if len(out) > MaxXorbSize {
		return nil, Hash{}, constraintErrorf("XorbBuilder.Finalize", "finalized xorb size %d exceeds max %d", len(out), MaxXorbSize)
	}

	return out, xorbHash, nil
}

// buildXorbFooter serializes the CasObjectInfo footer: main section,
// hash section, boundary section, then trailer.
func buildXorbFooter(xorbHash Hash, chunkHashes []Hash, regionEnds, uncompressedEnds []uint32) []byte {
	n := uint32(len(chunkHashes))

	var main []byte
	main = append(main, xorbMainIdent...)
	main = append(main, xorbMainVersion)
	main = append(main, xorbHash[:]...)

	var hashSection []byte
	hashSection = append(hashSection, xorbHashIdent...)
	hashSection = append(hashSection, xorbHashVersion)
	hashSection = appendUint32(hashSection, n)
	for _, h := range chunkHashes {
		hashSection = append(hashSection, h[:]...)
	}

	var boundarySection []byte
	boundarySection = append(boundarySection, xorbBoundaryIdent...)
	boundarySection = append(boundarySection, xorbBoundaryVersion)
	boundarySection = appendUint32(boundarySection, n)
	for _, off := range regionEnds {
		boundarySection = appendUint32(boundarySection, off)
	}
	for _, off := range uncompressedEnds {
		boundarySection = appendUint32(boundarySection, off)
	}

	hashesOffsetFromEnd := uint32(len(hashSection) + len(boundarySection) + trailerSize())
	boundariesOffsetFromEnd := uint32(len(boundarySection) + trailerSize())

	var trailer []byte
	trailer = appendUint32(trailer, n)
	trailer = appendUint32(trailer, hashesOffsetFromEnd)
	trailer = appendUint32(trailer, boundariesOffsetFromEnd)
	trailer = append(trailer, make([]byte, xorbTrailerReservedSize)...)

	footer := make([]byte, 0, len(main)+len(hashSection)+len(boundarySection)+len(trailer))
	footer = append(footer, main...)
	footer = append(footer, hashSection...)
	footer = append(footer, boundarySection...)
	footer = append(footer, trailer...)
	return footer
}

func trailerSize() int {
	return 4 + 4 + 4 + xorbTrailerReservedSize
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// XorbReader parses a serialized xorb and gives random access to its
// chunks without requiring the caller to decompress chunks it never
// reads. Create one with [ParseXorb].
type XorbReader struct {
	data []byte

	xorbHash         Hash
	chunkHashes      []Hash
	regionEndOffsets []uint32
	chunkRegionLen   int
}

// ParseXorb validates and parses a serialized xorb's footer. It does
// not decompress or validate individual chunk payloads — call
// [XorbReader.ReadChunk] or [XorbReader.ReadAllChunks] for that, so
// that parsing a xorb you only partially need stays cheap.
func ParseXorb(data []byte) (*XorbReader, error) {
	if len(data) < 4 {
		return nil, formatErrorf("ParseXorb", "xorb too short to contain a length trailer")
	}

	infoLength := binary.LittleEndian.Uint32(data[len(data)-4:])
	footerStart := len(data) - 4 - int(infoLength)
	if footerStart < 0 || int(infoLength) > len(data)-4 {
		return nil, formatErrorf("ParseXorb", "xorb footer length %d is inconsistent with total size %d", infoLength, len(data))
	}
	footer := data[footerStart : len(data)-4]

	r := &XorbReader{data: data, chunkRegionLen: footerStart}
	if err := r.parseFooter(footer); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *XorbReader) parseFooter(footer []byte) error {
	pos := 0
	readBytes := func(n int, what string) ([]byte, error) {
		if pos+n > len(footer) {
			return nil, formatErrorf("parseFooter", "xorb footer truncated reading %s", what)
		}
		b := footer[pos : pos+n]
		pos += n
		return b, nil
	}

	ident, err := readBytes(7, "main ident")
	if err != nil {
		return err
	}
	if string(ident) != xorbMainIdent {
		return formatErrorf("parseFooter", "xorb footer has unknown main ident %q", ident)
	}
	versionByte, err := readBytes(1, "main version")
	if err != nil {
		return err
	}
	if versionByte[0] != xorbMainVersion {
		return formatErrorf("parseFooter", "xorb footer main section has unsupported version %d", versionByte[0])
	}
	hashBytes, err := readBytes(32, "xorb hash")
	if err != nil {
		return err
	}
	copy(r.xorbHash[:], hashBytes)

	ident, err = readBytes(7, "hash section ident")
	if err != nil {
		return err
	}
	if string(ident) != xorbHashIdent {
		return formatErrorf("parseFooter", "xorb footer has unknown hash section ident %q", ident)
	}
	versionByte, err = readBytes(1, "hash section version")
	if err != nil {
		return err
	}
	if versionByte[0] != xorbHashVersion {
		return formatErrorf("parseFooter", "xorb footer hash section has unsupported version %d", versionByte[0])
	}
	countBytes, err := readBytes(4, "hash section chunk count")
	if err != nil {
		return err
	}
	numChunks := binary.LittleEndian.Uint32(countBytes)
	if numChunks == 0 || numChunks > MaxXorbChunks {
		return formatErrorf("parseFooter", "xorb claims %d chunks, limit is %d", numChunks, MaxXorbChunks)
	}

	r.chunkHashes = make([]Hash, numChunks)
	for i := range r.chunkHashes {
		hb, err := readBytes(32, "chunk hash")
		if err != nil {
			return err
		}
		copy(r.chunkHashes[i][:], hb)
	}

	ident, err = readBytes(7, "boundary section ident")
	if err != nil {
		return err
	}
	if string(ident) != xorbBoundaryIdent {
		return formatErrorf("parseFooter", "xorb footer has unknown boundary section ident %q", ident)
	}
	versionByte, err = readBytes(1, "boundary section version")
	if err != nil {
		return err
	}
	if versionByte[0] != xorbBoundaryVersion {
		return formatErrorf("parseFooter", "xorb footer boundary section has unsupported version %d", versionByte[0])
	}
	countBytes, err = readBytes(4, "boundary section chunk count")
	if err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(countBytes) != numChunks {
		return formatErrorf("parseFooter", "xorb boundary section chunk count disagrees with hash section")
	}

	r.regionEndOffsets = make([]uint32, numChunks)
	var prev uint32
	for i := range r.regionEndOffsets {
		ob, err := readBytes(4, "region end offset")
		if err != nil {
			return err
		}
		end := binary.LittleEndian.Uint32(ob)
		if end <= prev {
			return formatErrorf("parseFooter", "xorb region boundary array is not strictly increasing at chunk %d", i)
		}
		r.regionEndOffsets[i] = end
		prev = end
	}
	if int(prev) != r.chunkRegionLen {
		return formatErrorf("parseFooter", "xorb region boundary array ends at %d, chunk region is %d bytes", prev, r.chunkRegionLen)
	}

	// Uncompressed end offsets: read and validate strictly increasing,
	// but the values themselves are only needed lazily (chunk headers
	// already carry each chunk's uncompressed size).
	var prevUncompressed uint32
	for i := 0; i < int(numChunks); i++ {
		ob, err := readBytes(4, "uncompressed end offset")
		if err != nil {
			return err
		}
		end := binary.LittleEndian.Uint32(ob)
		if end <= prevUncompressed {
			return formatErrorf("parseFooter", "xorb uncompressed boundary array is not strictly increasing at chunk %d", i)
		}
		prevUncompressed = end
	}

	countBytes, err = readBytes(4, "trailer chunk count")
	if err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(countBytes) != numChunks {
		return formatErrorf("parseFooter", "xorb trailer chunk count disagrees with hash section")
	}
	if _, err := readBytes(4, "trailer hashes offset"); err != nil {
		return err
	}
	if _, err := readBytes(4, "trailer boundaries offset"); err != nil {
		return err
	}
	if _, err := readBytes(xorbTrailerReservedSize, "trailer reserved bytes"); err != nil {
		return err
	}

	return nil
}

// XorbHash returns the xorb's content hash as recorded in its footer.
// It is not recomputed; call [XorbReader.VerifyHash] to check it.
func (r *XorbReader) XorbHash() Hash {
	return r.xorbHash
}

// ChunkCount returns the number of chunks in the xorb.
func (r *XorbReader) ChunkCount() int {
	return len(r.chunkHashes)
}

// ChunkHash returns the chunk-domain hash of chunk i, as recorded in
// the footer (not recomputed from the chunk's bytes).
func (r *XorbReader) ChunkHash(i int) Hash {
	return r.chunkHashes[i]
}

// chunkRegionBounds returns the [start, end) byte range of chunk i's
// header+payload within the serialized xorb.
func (r *XorbReader) chunkRegionBounds(i int) (int, int) {
	start := 0
	if i > 0 {
		start = int(r.regionEndOffsets[i-1])
	}
	return start, int(r.regionEndOffsets[i])
}

// decodeChunkAt reads one chunk header+payload starting at the
// beginning of region and returns the decompressed bytes plus the
// number of bytes consumed. Header fields are range-checked before
// any allocation or decompression, so a corrupt header fails cheaply.
// This is the validation spec §4.6 requires of any chunk-region
// reader, shared by [XorbReader.ReadChunk] (which knows the exact
// chunk boundary from the footer) and the reconstruction engine
// (which only has a raw, footer-less byte range and must discover
// each chunk's extent from its header as it goes).
func decodeChunkAt(region []byte) (payload []byte, consumed int, err error) {
	if len(region) < chunkHeaderSize {
		return nil, 0, formatErrorf("decodeChunkAt", "chunk region too short for a header")
	}

	header := region[:chunkHeaderSize]
	if header[0] != 0 {
		return nil, 0, formatErrorf("decodeChunkAt", "chunk has unsupported header version %d", header[0])
	}
	compressedSize := getUint24(header[1:4])
	compressionType := CompressionTag(header[4])
	uncompressedSize := getUint24(header[5:8])

	bytesRemaining := len(region) - chunkHeaderSize
	if uncompressedSize == 0 || uncompressedSize > MaxChunkSize {
		return nil, 0, formatErrorf("decodeChunkAt", "chunk uncompressed_size %d outside (0, %d]", uncompressedSize, MaxChunkSize)
	}
	maxCompressed := uint32(MaxChunkSize)
	if uint32(bytesRemaining) < maxCompressed {
		maxCompressed = uint32(bytesRemaining)
	}
	if compressedSize == 0 || compressedSize > maxCompressed {
		return nil, 0, formatErrorf("decodeChunkAt", "chunk compressed_size %d outside (0, %d]", compressedSize, maxCompressed)
	}

	compressedPayload := region[chunkHeaderSize : chunkHeaderSize+int(compressedSize)]
	out, err := DecompressChunk(compressedPayload, compressionType, int(uncompressedSize))
	if err != nil {
		return nil, 0, err
	}
	return out, chunkHeaderSize + int(compressedSize), nil
}

// ReadChunk validates chunk i's header and returns its decompressed
// bytes.
func (r *XorbReader) ReadChunk(i int) ([]byte, error) {
	if i < 0 || i >= len(r.chunkHashes) {
		return nil, constraintErrorf("XorbReader.ReadChunk", "chunk index %d out of range [0, %d)", i, len(r.chunkHashes))
	}
	start, end := r.chunkRegionBounds(i)
	payload, _, err := decodeChunkAt(r.data[start:end])
	if err != nil {
		return nil, fmt.Errorf("xet: chunk %d: %w", i, err)
	}
	return payload, nil
}

// ReadAllChunks decompresses every chunk in order.
func (r *XorbReader) ReadAllChunks() ([][]byte, error) {
	out := make([][]byte, len(r.chunkHashes))
	for i := range out {
		chunk, err := r.ReadChunk(i)
		if err != nil {
			return nil, err
		}
		out[i] = chunk
	}
	return out, nil
}

// VerifyHash recomputes the xorb hash from the chunk hashes recorded
// in the footer and each chunk's uncompressed size (read from its
// header, not recomputed from payload bytes), and compares it against
// the stored xorb_hash — without decompressing any chunk payload.
func (r *XorbReader) VerifyHash() error {
	pairs := make([]HashSizePair, len(r.chunkHashes))
	for i := range r.chunkHashes {
		start, _ := r.chunkRegionBounds(i)
		header := r.data[start : start+chunkHeaderSize]
		uncompressedSize := getUint24(header[5:8])
		pairs[i] = HashSizePair{Hash: r.chunkHashes[i], Size: uint64(uncompressedSize)}
	}

	computed := HashXorb(MerkleRoot(pairs))
	if computed != r.xorbHash {
		return integrityErrorf("XorbReader.VerifyHash", "xorb hash mismatch: footer says %s, computed %s", FormatHash(r.xorbHash), FormatHash(computed))
	}
	return nil
}
