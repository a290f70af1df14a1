// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xet

import (
	"errors"
	"testing"
)

func TestParseHashBadLengthIsFormatError(t *testing.T) {
	_, err := ParseHash("not hex")
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("ParseHash error is not a *FormatError: %v", err)
	}
}

func TestXorbVerifyHashTamperedIsIntegrityError(t *testing.T) {
	data := []byte("payload")
	b := NewXorbBuilder()
	if err := b.AddChunk(data, HashChunk(data), CompressionNone); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	out, _, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	reader, err := ParseXorb(out)
	if err != nil {
		t.Fatalf("ParseXorb: %v", err)
	}
	reader.chunkHashes[0][0] ^= 0xFF

	err = reader.VerifyHash()
	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("VerifyHash error is not an *IntegrityError: %v", err)
	}
}

func TestAddChunkOversizedIsConstraintError(t *testing.T) {
	b := NewXorbBuilder()
	oversized := make([]byte, MaxChunkSize+1)
	err := b.AddChunk(oversized, HashChunk(oversized), CompressionNone)
	var constraintErr *ConstraintError
	if !errors.As(err, &constraintErr) {
		t.Fatalf("AddChunk error is not a *ConstraintError: %v", err)
	}
}

func TestDecodeShardBadMagicIsFormatError(t *testing.T) {
	shard := sampleShard()
	encoded, err := shard.EncodeUploadForm()
	if err != nil {
		t.Fatalf("EncodeUploadForm: %v", err)
	}
	encoded[20] ^= 0xFF

	_, err = DecodeShard(encoded)
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("DecodeShard error is not a *FormatError: %v", err)
	}
}

func TestErrorKindsUnwrapToUnderlyingError(t *testing.T) {
	underlying := errors.New("boom")
	for name, err := range map[string]error{
		"format":     &FormatError{Op: "op", Err: underlying},
		"integrity":  &IntegrityError{Op: "op", Err: underlying},
		"constraint": &ConstraintError{Op: "op", Err: underlying},
	} {
		if !errors.Is(err, underlying) {
			t.Errorf("%s: errors.Is did not see through to the wrapped error", name)
		}
	}
}
