// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// HFApplicationID is the shard header's application identifier field.
const HFApplicationID = "HFRepoMetaData"

// ShardMagicSequence is the 17-byte fixed tag that must appear at a
// specific offset in every shard header before the header is trusted
// any further. No appendix of canonical bytes for this value shipped
// with this implementation's source material, so this exact sequence
// is this implementation's own fixed constant — see the grounding
// ledger for the consequence (byte-identical interop with some other
// implementation would require substituting its published value
// here instead).
var ShardMagicSequence = [17]byte{
	'X', 'E', 'T', 'P', 'R', 'O', 'T', 'O', 'v', '1', '-', 'S', 'H', 'A', 'R', 'D', '!',
}

const (
	shardHeaderSize    = 48
	shardBookendSize   = 48
	shardFooterSize    = 200
	shardHeaderVersion = 2
	shardFooterVersion = 1

	fileHeaderSize           = 48
	fileDataSequenceEntrySize = 48
	fileVerificationEntrySize = 48
	fileMetadataExtSize       = 48

	casHeaderSize       = 48
	casChunkEntrySize   = 48

	fileLookupEntrySize  = 12
	casLookupEntrySize   = 12
	chunkLookupEntrySize = 16
)

const (
	fileFlagWithVerification uint32 = 1 << 31
	fileFlagWithMetadataExt  uint32 = 1 << 30

	casFlagGlobalDedupEligible uint32 = 1 << 31
)

// shardBookend is the 48-byte separator that terminates the file-info
// and CAS-info sections: 32 bytes of 0xFF followed by 16 zero bytes.
var shardBookend = func() [shardBookendSize]byte {
	var b [shardBookendSize]byte
	for i := 0; i < 32; i++ {
		b[i] = 0xFF
	}
	return b
}()

// FileDataSequenceEntry is one contiguous slice of a xorb's chunks
// that contributes to a file's reconstruction.
type FileDataSequenceEntry struct {
	XorbHash             Hash
	UnpackedSegmentBytes uint32
	ChunkStart           uint32
	ChunkEnd             uint32 // exclusive
}

// FileVerificationEntry carries the verification hash for the
// corresponding FileDataSequenceEntry at the same index.
type FileVerificationEntry struct {
	RangeHash Hash
}

// FileEntry is one file's reconstruction recipe within a shard's
// file-info section.
type FileEntry struct {
	FileHash Hash
	Entries  []FileDataSequenceEntry

	// VerificationEntries, if non-nil, must have the same length as
	// Entries. Its presence sets the WITH_VERIFICATION flag.
	VerificationEntries []FileVerificationEntry

	// MetadataExt, if non-nil, sets the WITH_METADATA_EXT flag.
	MetadataExt *[32]byte // SHA-256 of the raw file
}

func (f *FileEntry) flags() uint32 {
	var flags uint32
	if f.VerificationEntries != nil {
		flags |= fileFlagWithVerification
	}
	if f.MetadataExt != nil {
		flags |= fileFlagWithMetadataExt
	}
	return flags
}

// CASChunkSequenceEntry describes one chunk's placement within a
// xorb, as recorded in a shard's CAS-info section.
type CASChunkSequenceEntry struct {
	ChunkHash             Hash
	ChunkByteRangeStart   uint32
	UnpackedSegmentBytes  uint32
	GlobalDedupEligible   bool
}

func (e *CASChunkSequenceEntry) flags() uint32 {
	if e.GlobalDedupEligible {
		return casFlagGlobalDedupEligible
	}
	return 0
}

// CASEntry describes one xorb's chunk layout within a shard's CAS-info
// section.
type CASEntry struct {
	XorbHash        Hash
	NumBytesInCas   uint32 // total uncompressed bytes
	NumBytesOnDisk  uint32 // serialized xorb size
	Entries         []CASChunkSequenceEntry
}

// Shard is the in-memory representation of a shard, independent of
// upload vs. stored wire form. ChunkHashKey, CreationTimestamp, and
// KeyExpiry are only meaningful (and only serialized) in stored form;
// callers populate CreationTimestamp from a clock source when they
// move a shard from upload form to stored form server-side, or when
// persisting a locally-cached copy of a keyed dedup response.
type Shard struct {
	Files []FileEntry
	CAS   []CASEntry

	ChunkHashKey      Hash
	CreationTimestamp uint64 // epoch seconds
	KeyExpiry         uint64 // epoch seconds
}

// EncodeUploadForm serializes s in upload form: header with
// footer_size = 0, file-info and CAS-info sections with bookends, no
// lookup tables, no footer.
func (s *Shard) EncodeUploadForm() ([]byte, error) {
	fileInfo, err := encodeFileInfoSection(s.Files)
	if err != nil {
		return nil, err
	}
	casInfo, err := encodeCASInfoSection(s.CAS)
	if err != nil {
		return nil, err
	}

	header := encodeShardHeader(0)

	out := make([]byte, 0, len(header)+len(fileInfo)+len(casInfo))
	out = append(out, header...)
	out = append(out, fileInfo...)
	out = append(out, casInfo...)
	return out, nil
}

// EncodeStoredForm serializes s in stored form: header, the two
// sections with bookends, the three sorted lookup tables, and the
// 200-byte footer.
func (s *Shard) EncodeStoredForm() ([]byte, error) {
	fileInfo, err := encodeFileInfoSection(s.Files)
	if err != nil {
		return nil, err
	}
	casInfo, err := encodeCASInfoSection(s.CAS)
	if err != nil {
		return nil, err
	}

	fileLookup := buildFileLookupTable(s.Files)
	casLookup := buildCASLookupTable(s.CAS)
	chunkLookup := buildChunkLookupTable(s.CAS, s.ChunkHashKey)

	fileLookupBytes := encodeFileLookupTable(fileLookup)
	casLookupBytes := encodeCASLookupTable(casLookup)
	chunkLookupBytes := encodeChunkLookupTable(chunkLookup)

	footerSize := shardFooterSize
	header := encodeShardHeader(uint64(footerSize))

	fileInfoOffset := uint64(shardHeaderSize)
	casInfoOffset := fileInfoOffset + uint64(len(fileInfo))
	fileLookupOffset := casInfoOffset + uint64(len(casInfo))
	casLookupOffset := fileLookupOffset + uint64(len(fileLookupBytes))
	chunkLookupOffset := casLookupOffset + uint64(len(casLookupBytes))
	footerOffset := chunkLookupOffset + uint64(len(chunkLookupBytes))

	footer := encodeShardFooter(shardFooter{
		FileInfoOffset:    fileInfoOffset,
		CASInfoOffset:     casInfoOffset,
		FileLookupOffset:  fileLookupOffset,
		CASLookupOffset:   casLookupOffset,
		ChunkLookupOffset: chunkLookupOffset,
		FileLookupCount:   uint64(len(fileLookup)),
		CASLookupCount:    uint64(len(casLookup)),
		ChunkLookupCount:  uint64(len(chunkLookup)),
		ChunkHashKey:      s.ChunkHashKey,
		CreationTimestamp: s.CreationTimestamp,
		KeyExpiry:         s.KeyExpiry,
		StoredBytesOnDisk: sumBytesOnDisk(s.CAS),
		MaterializedBytes: sumMaterializedBytes(s.Files),
		StoredBytes:       uint64(len(fileInfo) + len(casInfo)),
		FooterOffset:      footerOffset,
	})

	out := make([]byte, 0, int(footerOffset)+footerSize)
	out = append(out, header...)
	out = append(out, fileInfo...)
	out = append(out, casInfo...)
	out = append(out, fileLookupBytes...)
	out = append(out, casLookupBytes...)
	out = append(out, chunkLookupBytes...)
	out = append(out, footer...)
	return out, nil
}

func sumBytesOnDisk(cas []CASEntry) uint64 {
	var total uint64
	for _, c := range cas {
		total += uint64(c.NumBytesOnDisk)
	}
	return total
}

func sumMaterializedBytes(files []FileEntry) uint64 {
	var total uint64
	for _, f := range files {
		for _, e := range f.Entries {
			total += uint64(e.UnpackedSegmentBytes)
		}
	}
	return total
}

// DecodeShard parses either upload or stored form, detected from the
// header's footer_size field.
func DecodeShard(data []byte) (*Shard, error) {
	if len(data) < shardHeaderSize {
		return nil, formatErrorf("DecodeShard", "shard shorter than header size %d", shardHeaderSize)
	}
	footerSize, err := decodeShardHeader(data[:shardHeaderSize])
	if err != nil {
		return nil, err
	}

	body := data[shardHeaderSize:]
	if footerSize == 0 {
		return decodeUploadForm(body)
	}
	if int(footerSize) != shardFooterSize {
		return nil, formatErrorf("DecodeShard", "shard footer_size %d does not match the only known footer version's size %d", footerSize, shardFooterSize)
	}
	return decodeStoredForm(data, body)
}

func encodeShardHeader(footerSize uint64) []byte {
	header := make([]byte, shardHeaderSize)
	copy(header[:14], []byte(HFApplicationID))
	// header[14] left zero.
	copy(header[15:32], ShardMagicSequence[:])
	binary.LittleEndian.PutUint64(header[32:40], shardHeaderVersion)
	binary.LittleEndian.PutUint64(header[40:48], footerSize)
	return header
}

func decodeShardHeader(header []byte) (footerSize uint64, err error) {
	if !bytes.Equal(header[15:32], ShardMagicSequence[:]) {
		return 0, formatErrorf("decodeShardHeader", "shard header magic sequence mismatch")
	}
	appID := bytes.TrimRight(header[:14], "\x00")
	if string(appID) != HFApplicationID {
		return 0, formatErrorf("decodeShardHeader", "shard header application id %q, want %q", appID, HFApplicationID)
	}
	version := binary.LittleEndian.Uint64(header[32:40])
	if version != shardHeaderVersion {
		return 0, formatErrorf("decodeShardHeader", "shard header version %d, want %d", version, shardHeaderVersion)
	}
	return binary.LittleEndian.Uint64(header[40:48]), nil
}

func encodeFileInfoSection(files []FileEntry) ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range files {
		if f.VerificationEntries != nil && len(f.VerificationEntries) != len(f.Entries) {
			return nil, constraintErrorf("encodeFileInfoSection", "file %s has %d verification entries for %d data entries", FormatHash(f.FileHash), len(f.VerificationEntries), len(f.Entries))
		}

		var header [fileHeaderSize]byte
		copy(header[0:32], f.FileHash[:])
		binary.LittleEndian.PutUint32(header[32:36], f.flags())
		binary.LittleEndian.PutUint32(header[36:40], uint32(len(f.Entries)))
		buf.Write(header[:])

		for _, e := range f.Entries {
			var entry [fileDataSequenceEntrySize]byte
			copy(entry[0:32], e.XorbHash[:])
			// cas_flags (bytes 32:36) is always zero.
			binary.LittleEndian.PutUint32(entry[36:40], e.UnpackedSegmentBytes)
			binary.LittleEndian.PutUint32(entry[40:44], e.ChunkStart)
			binary.LittleEndian.PutUint32(entry[44:48], e.ChunkEnd)
			buf.Write(entry[:])
		}

		if f.VerificationEntries != nil {
			for _, v := range f.VerificationEntries {
				var entry [fileVerificationEntrySize]byte
				copy(entry[0:32], v.RangeHash[:])
				buf.Write(entry[:])
			}
		}

		if f.MetadataExt != nil {
			var entry [fileMetadataExtSize]byte
			copy(entry[0:32], f.MetadataExt[:])
			buf.Write(entry[:])
		}
	}
	buf.Write(shardBookend[:])
	return buf.Bytes(), nil
}

func encodeCASInfoSection(cas []CASEntry) ([]byte, error) {
	var buf bytes.Buffer
	for _, c := range cas {
		var header [casHeaderSize]byte
		copy(header[0:32], c.XorbHash[:])
		// cas_flags (bytes 32:36) is always zero.
		binary.LittleEndian.PutUint32(header[36:40], uint32(len(c.Entries)))
		binary.LittleEndian.PutUint32(header[40:44], c.NumBytesInCas)
		binary.LittleEndian.PutUint32(header[44:48], c.NumBytesOnDisk)
		buf.Write(header[:])

		for _, e := range c.Entries {
			var entry [casChunkEntrySize]byte
			copy(entry[0:32], e.ChunkHash[:])
			binary.LittleEndian.PutUint32(entry[32:36], e.ChunkByteRangeStart)
			binary.LittleEndian.PutUint32(entry[36:40], e.UnpackedSegmentBytes)
			binary.LittleEndian.PutUint32(entry[40:44], e.flags())
			buf.Write(entry[:])
		}
	}
	buf.Write(shardBookend[:])
	return buf.Bytes(), nil
}

// decodeFileInfoSection parses file blocks until it hits the bookend,
// returning the parsed entries and the number of bytes consumed
// including the bookend.
func decodeFileInfoSection(data []byte) ([]FileEntry, int, error) {
	var files []FileEntry
	pos := 0
	for {
		if pos+shardBookendSize <= len(data) && bytes.Equal(data[pos:pos+shardBookendSize], shardBookend[:]) {
			return files, pos + shardBookendSize, nil
		}
		if pos+fileHeaderSize > len(data) {
			return nil, 0, formatErrorf("decodeFileInfoSection", "file-info section truncated before a bookend")
		}

		header := data[pos : pos+fileHeaderSize]
		var f FileEntry
		copy(f.FileHash[:], header[0:32])
		flags := binary.LittleEndian.Uint32(header[32:36])
		numEntries := binary.LittleEndian.Uint32(header[36:40])
		pos += fileHeaderSize

		f.Entries = make([]FileDataSequenceEntry, numEntries)
		for i := range f.Entries {
			if pos+fileDataSequenceEntrySize > len(data) {
				return nil, 0, formatErrorf("decodeFileInfoSection", "file-info section truncated reading data entries")
			}
			entry := data[pos : pos+fileDataSequenceEntrySize]
			copy(f.Entries[i].XorbHash[:], entry[0:32])
			f.Entries[i].UnpackedSegmentBytes = binary.LittleEndian.Uint32(entry[36:40])
			f.Entries[i].ChunkStart = binary.LittleEndian.Uint32(entry[40:44])
			f.Entries[i].ChunkEnd = binary.LittleEndian.Uint32(entry[44:48])
			if f.Entries[i].ChunkEnd <= f.Entries[i].ChunkStart {
				return nil, 0, formatErrorf("decodeFileInfoSection", "file %s has a term with chunk_end <= chunk_start", FormatHash(f.FileHash))
			}
			pos += fileDataSequenceEntrySize
		}

		if flags&fileFlagWithVerification != 0 {
			f.VerificationEntries = make([]FileVerificationEntry, numEntries)
			for i := range f.VerificationEntries {
				if pos+fileVerificationEntrySize > len(data) {
					return nil, 0, formatErrorf("decodeFileInfoSection", "file-info section truncated reading verification entries")
				}
				entry := data[pos : pos+fileVerificationEntrySize]
				copy(f.VerificationEntries[i].RangeHash[:], entry[0:32])
				pos += fileVerificationEntrySize
			}
		}

		if flags&fileFlagWithMetadataExt != 0 {
			if pos+fileMetadataExtSize > len(data) {
				return nil, 0, formatErrorf("decodeFileInfoSection", "file-info section truncated reading metadata ext")
			}
			entry := data[pos : pos+fileMetadataExtSize]
			var ext [32]byte
			copy(ext[:], entry[0:32])
			f.MetadataExt = &ext
			pos += fileMetadataExtSize
		}

		files = append(files, f)
	}
}

func decodeCASInfoSection(data []byte) ([]CASEntry, int, error) {
	var cas []CASEntry
	pos := 0
	for {
		if pos+shardBookendSize <= len(data) && bytes.Equal(data[pos:pos+shardBookendSize], shardBookend[:]) {
			return cas, pos + shardBookendSize, nil
		}
		if pos+casHeaderSize > len(data) {
			return nil, 0, formatErrorf("decodeCASInfoSection", "CAS-info section truncated before a bookend")
		}

		header := data[pos : pos+casHeaderSize]
		var c CASEntry
		copy(c.XorbHash[:], header[0:32])
		numEntries := binary.LittleEndian.Uint32(header[36:40])
		c.NumBytesInCas = binary.LittleEndian.Uint32(header[40:44])
		c.NumBytesOnDisk = binary.LittleEndian.Uint32(header[44:48])
		pos += casHeaderSize

		c.Entries = make([]CASChunkSequenceEntry, numEntries)
		for i := range c.Entries {
			if pos+casChunkEntrySize > len(data) {
				return nil, 0, formatErrorf("decodeCASInfoSection", "CAS-info section truncated reading chunk entries")
			}
			entry := data[pos : pos+casChunkEntrySize]
			copy(c.Entries[i].ChunkHash[:], entry[0:32])
			c.Entries[i].ChunkByteRangeStart = binary.LittleEndian.Uint32(entry[32:36])
			c.Entries[i].UnpackedSegmentBytes = binary.LittleEndian.Uint32(entry[36:40])
			c.Entries[i].GlobalDedupEligible = binary.LittleEndian.Uint32(entry[40:44])&casFlagGlobalDedupEligible != 0
			pos += casChunkEntrySize
		}

		cas = append(cas, c)
	}
}

func decodeUploadForm(body []byte) (*Shard, error) {
	files, n, err := decodeFileInfoSection(body)
	if err != nil {
		return nil, err
	}
	cas, _, err := decodeCASInfoSection(body[n:])
	if err != nil {
		return nil, err
	}
	return &Shard{Files: files, CAS: cas}, nil
}

type shardFooter struct {
	FileInfoOffset    uint64
	CASInfoOffset     uint64
	FileLookupOffset  uint64
	CASLookupOffset   uint64
	ChunkLookupOffset uint64
	FileLookupCount   uint64
	CASLookupCount    uint64
	ChunkLookupCount  uint64
	ChunkHashKey      Hash
	CreationTimestamp uint64
	KeyExpiry         uint64
	StoredBytesOnDisk uint64
	MaterializedBytes uint64
	StoredBytes       uint64
	FooterOffset      uint64
}

func encodeShardFooter(f shardFooter) []byte {
	b := make([]byte, shardFooterSize)
	pos := 0
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(b[pos:pos+8], v)
		pos += 8
	}
	put(shardFooterVersion)
	put(f.FileInfoOffset)
	put(f.CASInfoOffset)
	put(f.FileLookupOffset)
	put(f.CASLookupOffset)
	put(f.ChunkLookupOffset)
	put(f.FileLookupCount)
	put(f.CASLookupCount)
	put(f.ChunkLookupCount)
	copy(b[pos:pos+32], f.ChunkHashKey[:])
	pos += 32
	put(f.CreationTimestamp)
	put(f.KeyExpiry)
	pos += 48 // reserved
	put(f.StoredBytesOnDisk)
	put(f.MaterializedBytes)
	put(f.StoredBytes)
	put(f.FooterOffset)
	return b
}

func decodeShardFooter(b []byte) (shardFooter, error) {
	var f shardFooter
	if len(b) != shardFooterSize {
		return f, formatErrorf("decodeShardFooter", "shard footer is %d bytes, want %d", len(b), shardFooterSize)
	}
	pos := 0
	get := func() uint64 {
		v := binary.LittleEndian.Uint64(b[pos : pos+8])
		pos += 8
		return v
	}
	version := get()
	if version != shardFooterVersion {
		return f, formatErrorf("decodeShardFooter", "shard footer version %d, want %d", version, shardFooterVersion)
	}
	f.FileInfoOffset = get()
	f.CASInfoOffset = get()
	f.FileLookupOffset = get()
	f.CASLookupOffset = get()
	f.ChunkLookupOffset = get()
	f.FileLookupCount = get()
	f.CASLookupCount = get()
	f.ChunkLookupCount = get()
	copy(f.ChunkHashKey[:], b[pos:pos+32])
	pos += 32
	f.CreationTimestamp = get()
	f.KeyExpiry = get()
	pos += 48 // reserved
	f.StoredBytesOnDisk = get()
	f.MaterializedBytes = get()
	f.StoredBytes = get()
	f.FooterOffset = get()
	return f, nil
}

func decodeStoredForm(full, body []byte) (*Shard, error) {
	if len(full) < shardFooterSize {
		return nil, formatErrorf("decodeStoredForm", "shard too short to contain a footer")
	}
	footer, err := decodeShardFooter(full[len(full)-shardFooterSize:])
	if err != nil {
		return nil, err
	}
	if footer.FooterOffset != uint64(len(full)-shardFooterSize) {
		return nil, formatErrorf("decodeStoredForm", "shard footer_offset %d disagrees with actual footer position %d", footer.FooterOffset, len(full)-shardFooterSize)
	}

	fileInfoEnd := footer.CASInfoOffset
	files, _, err := decodeFileInfoSection(full[footer.FileInfoOffset:fileInfoEnd])
	if err != nil {
		return nil, err
	}
	casInfoEnd := footer.FileLookupOffset
	cas, _, err := decodeCASInfoSection(full[footer.CASInfoOffset:casInfoEnd])
	if err != nil {
		return nil, err
	}

	return &Shard{
		Files:             files,
		CAS:               cas,
		ChunkHashKey:      footer.ChunkHashKey,
		CreationTimestamp: footer.CreationTimestamp,
		KeyExpiry:         footer.KeyExpiry,
	}, nil
}

// fileLookupEntry, casLookupEntry, chunkLookupEntry are the sorted
// lookup tables' in-memory rows before encoding.
type fileLookupEntry struct {
	TruncHash uint64
	FileIndex uint32
}

type casLookupEntry struct {
	TruncHash uint64
	CASIndex  uint32
}

type chunkLookupEntry struct {
	TruncHash  uint64
	CASIndex   uint32
	ChunkIndex uint32
}

func buildFileLookupTable(files []FileEntry) []fileLookupEntry {
	entries := make([]fileLookupEntry, len(files))
	for i, f := range files {
		entries[i] = fileLookupEntry{TruncHash: truncateHash(f.FileHash), FileIndex: uint32(i)}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TruncHash < entries[j].TruncHash })
	return entries
}

func buildCASLookupTable(cas []CASEntry) []casLookupEntry {
	entries := make([]casLookupEntry, len(cas))
	for i, c := range cas {
		entries[i] = casLookupEntry{TruncHash: truncateHash(c.XorbHash), CASIndex: uint32(i)}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TruncHash < entries[j].TruncHash })
	return entries
}

// buildChunkLookupTable builds the chunk lookup table. When
// chunkHashKey is non-zero, the table key is the keyed hash of each
// chunk hash (H_KEYED(chunkHashKey, chunk_hash)); otherwise it is the
// raw chunk hash's truncation directly.
func buildChunkLookupTable(cas []CASEntry, chunkHashKey Hash) []chunkLookupEntry {
	var entries []chunkLookupEntry
	for casIndex, c := range cas {
		for chunkIndex, e := range c.Entries {
			hash := e.ChunkHash
			if chunkHashKey != ZeroHash {
				hash = keyedHash(domainKey(chunkHashKey), hash[:])
			}
			entries = append(entries, chunkLookupEntry{
				TruncHash:  truncateHash(hash),
				CASIndex:   uint32(casIndex),
				ChunkIndex: uint32(chunkIndex),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TruncHash < entries[j].TruncHash })
	return entries
}

func encodeFileLookupTable(entries []fileLookupEntry) []byte {
	b := make([]byte, len(entries)*fileLookupEntrySize)
	for i, e := range entries {
		off := i * fileLookupEntrySize
		binary.LittleEndian.PutUint64(b[off:off+8], e.TruncHash)
		binary.LittleEndian.PutUint32(b[off+8:off+12], e.FileIndex)
	}
	return b
}

func encodeCASLookupTable(entries []casLookupEntry) []byte {
	b := make([]byte, len(entries)*casLookupEntrySize)
	for i, e := range entries {
		off := i * casLookupEntrySize
		binary.LittleEndian.PutUint64(b[off:off+8], e.TruncHash)
		binary.LittleEndian.PutUint32(b[off+8:off+12], e.CASIndex)
	}
	return b
}

func encodeChunkLookupTable(entries []chunkLookupEntry) []byte {
	b := make([]byte, len(entries)*chunkLookupEntrySize)
	for i, e := range entries {
		off := i * chunkLookupEntrySize
		binary.LittleEndian.PutUint64(b[off:off+8], e.TruncHash)
		binary.LittleEndian.PutUint32(b[off+8:off+12], e.CASIndex)
		binary.LittleEndian.PutUint32(b[off+12:off+16], e.ChunkIndex)
	}
	return b
}

// lookupChunk binary-searches a serialized chunk lookup table for
// key, returning the matching (casIndex, chunkIndex) pairs. The table
// is sorted ascending by truncHash (possibly with duplicate keys), so
// the binary search lands on the first entry >= key and matches are
// collected by scanning forward from there.
func lookupChunk(table []byte, key uint64) []chunkLookupEntry {
	count := len(table) / chunkLookupEntrySize
	readAt := func(i int) chunkLookupEntry {
		off := i * chunkLookupEntrySize
		return chunkLookupEntry{
			TruncHash:  binary.LittleEndian.Uint64(table[off : off+8]),
			CASIndex:   binary.LittleEndian.Uint32(table[off+8 : off+12]),
			ChunkIndex: binary.LittleEndian.Uint32(table[off+12 : off+16]),
		}
	}

	lo := sort.Search(count, func(i int) bool { return readAt(i).TruncHash >= key })
	var matches []chunkLookupEntry
	for i := lo; i < count && readAt(i).TruncHash == key; i++ {
		matches = append(matches, readAt(i))
	}
	return matches
}
