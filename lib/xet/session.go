// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"context"
	"crypto/sha256"
)

// This file is the per-file orchestration layer the rest of the
// package's pieces (chunker, dedup coordinator, xorb builder, shard
// codec, reconstruction engine) don't provide on their own: the loop
// that actually drives a file from raw bytes to an uploaded shard, or
// from a file hash back to bytes. Everything above here is a building
// block usable independently; UploadSession and DownloadSession are
// the concrete pipeline a real client runs.

// FileChunk is one chunk of a file under upload, already hashed and
// still carrying its uncompressed bytes so the builder can compress
// it once a placement decision has been made.
type FileChunk struct {
	Hash  Hash
	Data  []byte
	First bool // true for a file's first chunk (always dedup-eligible)
}

// chunkFile splits data into hashed chunks in file order.
func chunkFile(data []byte) []FileChunk {
	chunks := ChunkAll(data)
	out := make([]FileChunk, len(chunks))
	for i, c := range chunks {
		out[i] = FileChunk{Hash: HashChunk(c.Data), Data: c.Data, First: i == 0}
	}
	return out
}

// FileUpload tracks one file through an UploadSession: its chunks,
// its aggregated-hash-tree file hash, and (once computed) its SHA-256
// content hash carried as shard metadata.
type FileUpload struct {
	Data     []byte
	Chunks   []FileChunk
	FileHash Hash
	SHA256   [32]byte

	// locations is filled in by planAndForm, one entry per Chunks[i].
	// Unlike a session-wide chunk_hash -> location map, this is kept
	// per file because [FragmentationPolicy] can accept a matched run
	// in one file and reject the identical chunk hash's run in
	// another — each file's reconstruction terms must reflect its own
	// decision, not just the first one made for that hash.
	locations  []chunkLocation
	terms      []FileDataSequenceEntry
	verifyHash []FileVerificationEntry
}

// chunkLocation records where one local chunk hash ended up: either
// a xorb this session is about to upload, or a xorb the global dedup
// index already holds.
type chunkLocation struct {
	xorbHash   Hash
	chunkIndex uint32
}

// builtXorb is one xorb this session has finished assembling and is
// ready to upload.
type builtXorb struct {
	xorbHash    Hash
	serialized  []byte
	chunkHashes []Hash
	chunkSizes  []uint32
}

// UploadSession drives one or more files from raw bytes through
// chunking, deduplication, xorb formation, and shard construction,
// mirroring the reference protocol's upload procedure: chunk, dedup,
// form xorbs, upload xorbs, build and upload a shard.
//
// A session is not safe for concurrent use; a caller chunking many
// files concurrently runs independent sessions (or chunks up front
// and hands this session only the dedup/upload stages) and relies on
// [Transport] and the local dedup cache for any needed coordination.
type UploadSession struct {
	transport   Transport
	namespace   string
	policy      FragmentationPolicy
	enableDedup bool

	files         []*FileUpload
	located       map[Hash]chunkLocation
	remoteMatches map[Hash]DedupMatch
	xorbs         []builtXorb
	compression   CompressionTag
}

// UploadSessionOptions configures [NewUploadSession].
type UploadSessionOptions struct {
	// Transport is the CAS API client this session uploads through.
	Transport Transport

	// Namespace scopes dedup queries and xorb puts (see
	// internal/config.Config.CASNamespace).
	Namespace string

	// Policy governs which matched runs are worth reusing. Defaults
	// to [DefaultFragmentationPolicy] if zero.
	Policy FragmentationPolicy

	// EnableGlobalDedup toggles querying Transport.QueryDedup at all;
	// false restricts deduplication to chunks repeated within this
	// session's own files.
	EnableGlobalDedup bool

	// Compression selects the codec new chunks are stored under. The
	// zero value is CompressionNone, so chunks are stored uncompressed
	// unless this field is set.
	Compression CompressionTag
}

// NewUploadSession creates an upload session against transport.
func NewUploadSession(opts UploadSessionOptions) *UploadSession {
	policy := opts.Policy
	if policy == (FragmentationPolicy{}) {
		policy = DefaultFragmentationPolicy()
	}
	return &UploadSession{
		transport:     opts.Transport,
		namespace:     opts.Namespace,
		policy:        policy,
		enableDedup:   opts.EnableGlobalDedup,
		located:       make(map[Hash]chunkLocation),
		remoteMatches: make(map[Hash]DedupMatch),
		compression:   opts.Compression,
	}
}

// AddFile chunks and hashes data, queuing it for Upload. Returns the
// file's index within this session (for correlating with Upload's
// returned file hashes).
func (s *UploadSession) AddFile(data []byte) int {
	chunks := chunkFile(data)

	pairs := make([]HashSizePair, len(chunks))
	for i, c := range chunks {
		pairs[i] = HashSizePair{Hash: c.Hash, Size: uint64(len(c.Data))}
	}
	fileHash := HashFile(MerkleRoot(pairs))

	s.files = append(s.files, &FileUpload{
		Data:     data,
		Chunks:   chunks,
		FileHash: fileHash,
		SHA256:   sha256.Sum256(data),
	})
	return len(s.files) - 1
}

// queryRemoteMatches submits this session's dedup-eligible chunk
// hashes to the global dedup index — at most one query per distinct
// eligible hash — and extends each hit into a full match set,
// populating s.remoteMatches. A shard returned by a single query
// names every chunk in the xorb(s) it describes, not just the one
// hash that was looked up, so every one of a file's own chunk hashes
// is matched against that same shard before moving on: one sampled
// hit on an eligible chunk is what lets [PlanDedupRuns] see the whole
// surrounding run as reusable, not just the sampled chunk itself.
func (s *UploadSession) queryRemoteMatches(ctx context.Context) error {
	if !s.enableDedup {
		return nil
	}

	queried := make(map[Hash]bool)
	for _, file := range s.files {
		localHashes := make([]Hash, len(file.Chunks))
		for i, c := range file.Chunks {
			localHashes[i] = c.Hash
		}

		for _, chunk := range file.Chunks {
			if queried[chunk.Hash] {
				continue
			}
			queried[chunk.Hash] = true

			if _, ok := s.remoteMatches[chunk.Hash]; ok {
				continue
			}
			if !IsDedupEligible(chunk.Hash, chunk.First) {
				continue
			}

			result, err := s.transport.QueryDedup(ctx, s.namespace, chunk.Hash)
			if err != nil {
				return err
			}
			if !result.Found {
				continue
			}

			shard, err := DecodeShard(result.ShardBytes)
			if err != nil {
				return err
			}
			for _, match := range MatchChunks(shard, localHashes) {
				localHash := localHashes[match.LocalChunkIndex]
				if _, ok := s.remoteMatches[localHash]; !ok {
					s.remoteMatches[localHash] = match
				}
			}
		}
	}
	return nil
}

// planAndForm decides, per file, which chunks reuse a remote xorb and
// which upload fresh — via [PlanDedupRuns] and this session's
// [FragmentationPolicy] — then packs every fresh chunk into xorbs,
// starting a new one whenever the current one would exceed
// [MaxXorbSize] or [MaxXorbChunks]. A chunk hash already placed by an
// earlier file in this same session (fresh or reused) is offered to
// PlanDedupRuns as a candidate match too: reusing it is free (no
// network fetch, it is already in a xorb this session is uploading
// anyway), but the run it falls in in its new file still has to clear
// the same fragmentation thresholds — a short isolated run is worth
// re-uploading rather than forcing a reconstruction read to fetch one
// chunk out of an otherwise-unrelated xorb.
func (s *UploadSession) planAndForm() error {
	builder := NewXorbBuilder()

	flush := func() error {
		if builder.ChunkCount() == 0 {
			return nil
		}
		serialized, xorbHash, err := builder.Finalize()
		if err != nil {
			return err
		}
		sizes64 := builder.chunkSizes()
		sizes32 := make([]uint32, len(sizes64))
		for i, sz := range sizes64 {
			sizes32[i] = uint32(sz)
		}
		s.xorbs = append(s.xorbs, builtXorb{
			xorbHash:    xorbHash,
			serialized:  serialized,
			chunkHashes: append([]Hash(nil), builder.chunkHashes...),
			chunkSizes:  sizes32,
		})
		for i, h := range builder.chunkHashes {
			s.located[h] = chunkLocation{xorbHash: xorbHash, chunkIndex: uint32(i)}
		}
		builder = NewXorbBuilder()
		return nil
	}

	addFresh := func(chunk FileChunk) (chunkLocation, error) {
		if loc, ok := s.located[chunk.Hash]; ok {
			return loc, nil
		}
		// AddChunk never stores a chunk larger than its raw bytes, so
		// header + raw size + footer bounds what this chunk adds.
		wouldOverflow := builder.ChunkCount() >= MaxXorbChunks ||
			builder.DataSize()+chunkHeaderSize+len(chunk.Data)+estimateFooterSize(builder.ChunkCount()+1) > MaxXorbSize
		if wouldOverflow {
			if err := flush(); err != nil {
				return chunkLocation{}, err
			}
		}
		if err := builder.AddChunk(chunk.Data, chunk.Hash, s.compression); err != nil {
			return chunkLocation{}, err
		}
		// The real xorb hash is only known once Finalize runs; record a
		// placeholder keyed by chunk index within the in-progress
		// builder and fix it up to the final hash after flush.
		loc := chunkLocation{xorbHash: ZeroHash, chunkIndex: uint32(builder.ChunkCount() - 1)}
		s.located[chunk.Hash] = loc
		return loc, nil
	}

	for _, file := range s.files {
		file.locations = make([]chunkLocation, len(file.Chunks))

		plans := make([]ChunkPlan, len(file.Chunks))
		matches := make(map[int]DedupMatch)
		for i, chunk := range file.Chunks {
			plans[i] = ChunkPlan{Hash: chunk.Hash, Size: uint64(len(chunk.Data))}
			if loc, ok := s.located[chunk.Hash]; ok {
				matches[i] = DedupMatch{LocalChunkIndex: i, XorbHash: loc.xorbHash, ChunkIndexInXorb: loc.chunkIndex}
			} else if remote, ok := s.remoteMatches[chunk.Hash]; ok {
				matches[i] = remote
			}
		}

		for _, decision := range PlanDedupRuns(plans, matches, s.policy) {
			if decision.Reused {
				for k, idx := range decision.Chunks {
					file.locations[idx] = chunkLocation{
						xorbHash:   decision.XorbHash,
						chunkIndex: decision.ChunkIndexStart + uint32(k),
					}
				}
				continue
			}
			for _, idx := range decision.Chunks {
				loc, err := addFresh(file.Chunks[idx])
				if err != nil {
					return err
				}
				file.locations[idx] = loc
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}

	// Resolve placeholder locations left by addFresh before the xorb
	// holding them was flushed.
	for _, file := range s.files {
		for i, loc := range file.locations {
			if loc.xorbHash == ZeroHash {
				file.locations[i] = s.located[file.Chunks[i].Hash]
			}
		}
	}
	return nil
}

// buildTerms groups a file's chunks into FileDataSequenceEntry runs:
// consecutive chunks that land in the same xorb at consecutive
// indices collapse into a single term, exactly as the shard format's
// reconstruction recipe requires.
func (s *UploadSession) buildTerms(file *FileUpload) {
	var terms []FileDataSequenceEntry
	var verify []FileVerificationEntry

	n := len(file.Chunks)
	for i := 0; i < n; {
		loc := file.locations[i]
		j := i + 1
		for j < n {
			next := file.locations[j]
			if next.xorbHash != loc.xorbHash || next.chunkIndex != loc.chunkIndex+uint32(j-i) {
				break
			}
			j++
		}

		var size uint32
		hashesInRun := make([]Hash, 0, j-i)
		for k := i; k < j; k++ {
			size += uint32(len(file.Chunks[k].Data))
			hashesInRun = append(hashesInRun, file.Chunks[k].Hash)
		}

		terms = append(terms, FileDataSequenceEntry{
			XorbHash:             loc.xorbHash,
			UnpackedSegmentBytes: size,
			ChunkStart:           loc.chunkIndex,
			ChunkEnd:             loc.chunkIndex + uint32(j-i),
		})
		verify = append(verify, FileVerificationEntry{RangeHash: HashVerification(hashesInRun)})
		i = j
	}

	file.terms = terms
	file.verifyHash = verify
}

// Upload runs the full pipeline — deduplication, xorb formation,
// xorb upload, shard construction, shard upload — and returns each
// queued file's file hash in AddFile order.
func (s *UploadSession) Upload(ctx context.Context) ([]Hash, error) {
	if err := s.queryRemoteMatches(ctx); err != nil {
		return nil, err
	}
	if err := s.planAndForm(); err != nil {
		return nil, err
	}

	for _, xorb := range s.xorbs {
		if _, err := s.transport.PutXorb(ctx, s.namespace, xorb.xorbHash, xorb.serialized); err != nil {
			return nil, err
		}
	}

	shard := &Shard{}
	for _, file := range s.files {
		s.buildTerms(file)
		sha256Copy := file.SHA256
		shard.Files = append(shard.Files, FileEntry{
			FileHash:            file.FileHash,
			Entries:             file.terms,
			VerificationEntries: file.verifyHash,
			MetadataExt:         &sha256Copy,
		})
	}
	fileFirst := make(map[Hash]bool)
	for _, file := range s.files {
		if len(file.Chunks) > 0 {
			fileFirst[file.Chunks[0].Hash] = true
		}
	}
	for _, xorb := range s.xorbs {
		entries := make([]CASChunkSequenceEntry, len(xorb.chunkHashes))
		var offset uint32
		for i, h := range xorb.chunkHashes {
			entries[i] = CASChunkSequenceEntry{
				ChunkHash:            h,
				ChunkByteRangeStart:  offset,
				UnpackedSegmentBytes: xorb.chunkSizes[i],
				GlobalDedupEligible:  IsDedupEligible(h, fileFirst[h]),
			}
			offset += xorb.chunkSizes[i]
		}
		shard.CAS = append(shard.CAS, CASEntry{
			XorbHash:       xorb.xorbHash,
			NumBytesInCas:  offset,
			NumBytesOnDisk: uint32(len(xorb.serialized)),
			Entries:        entries,
		})
	}

	uploadBytes, err := shard.EncodeUploadForm()
	if err != nil {
		return nil, err
	}
	if _, err := s.transport.PutShard(ctx, uploadBytes); err != nil {
		return nil, err
	}

	hashes := make([]Hash, len(s.files))
	for i, f := range s.files {
		hashes[i] = f.FileHash
	}
	return hashes, nil
}

// DownloadSession drives a file from a file hash back to bytes:
// query reconstruction, fetch and decompress the xorb ranges it
// names, and assemble the result — the download half of the
// reference protocol's session pair.
type DownloadSession struct {
	transport Transport
}

// NewDownloadSession creates a download session against transport.
func NewDownloadSession(transport Transport) *DownloadSession {
	return &DownloadSession{transport: transport}
}

// Download fetches fileHash's full contents, or the byte range
// [byteRange.Start, byteRange.End) of it when byteRange is non-nil.
func (s *DownloadSession) Download(ctx context.Context, fileHash Hash, byteRange *ByteRange) ([]byte, error) {
	resp, err := s.transport.GetReconstruction(ctx, fileHash, byteRange)
	if err != nil {
		return nil, err
	}

	var requestedLength uint64
	if byteRange != nil {
		requestedLength = byteRange.End - byteRange.Start
	} else {
		for _, term := range resp.Terms {
			requestedLength += uint64(term.UnpackedLength)
		}
		requestedLength -= resp.OffsetIntoFirstRange
	}

	return ReconstructRange(ctx, s.transport, resp, requestedLength)
}

// UploadFile is a convenience wrapper for uploading a single file in
// one call, mirroring the reference protocol's upload_file helper.
func UploadFile(ctx context.Context, transport Transport, namespace string, data []byte) (Hash, error) {
	session := NewUploadSession(UploadSessionOptions{
		Transport:         transport,
		Namespace:         namespace,
		EnableGlobalDedup: true,
		Compression:       CompressionLZ4,
	})
	session.AddFile(data)
	hashes, err := session.Upload(ctx)
	if err != nil {
		return ZeroHash, err
	}
	return hashes[0], nil
}

// DownloadFile is a convenience wrapper for downloading a single file
// in one call, mirroring the reference protocol's download_file
// helper.
func DownloadFile(ctx context.Context, transport Transport, fileHash Hash, byteRange *ByteRange) ([]byte, error) {
	return NewDownloadSession(transport).Download(ctx, fileHash, byteRange)
}
