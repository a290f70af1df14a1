// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dedupcache implements the local deduplication cache: a
// persistent chunk_hash → (xorb_hash, shard_key_expiry) index shared
// across every file-chunking task in a process, backed by Badger so
// it survives a process restart instead of being rebuilt from
// scratch on every run.
package dedupcache

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/xetprotocol/xet/lib/clock"
	"github.com/xetprotocol/xet/lib/codec"
	"github.com/xetprotocol/xet/lib/xet"
)

// Entry is what the cache remembers about a chunk it has already seen
// placed in a remote xorb: which xorb holds it, and when the shard
// that vouches for that placement stops being trustworthy. Entries
// past KeyExpiry are treated as absent even though Badger has not
// physically removed them yet.
type Entry struct {
	XorbHash  xet.Hash
	KeyExpiry uint64
}

// record is the CBOR wire shape for an Entry. Hash is carried as a
// byte slice rather than xet.Hash directly so cbor does not need to
// know about a fixed-size array type defined in another package.
type record struct {
	XorbHash  []byte `cbor:"xorb_hash"`
	KeyExpiry uint64 `cbor:"key_expiry"`
}

// Cache is a process-local, persistent dedup index. A Cache is safe
// for concurrent use by multiple file-chunking tasks: Badger supplies
// the concurrent map or coarse locking such a shared index needs.
type Cache struct {
	db     *badger.DB
	clock  clock.Clock
	logger *slog.Logger
}

// Options configures Open.
type Options struct {
	// Dir is the Badger data directory. Created if it does not exist.
	Dir string

	// Clock supplies the current time for expiry checks. Defaults to
	// clock.Real() if nil.
	Clock clock.Clock

	// Logger receives eviction and snapshot diagnostics. Defaults to
	// slog.Default() if nil.
	Logger *slog.Logger
}

// Open opens or creates the cache at opts.Dir.
func Open(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("dedupcache: Dir must not be empty")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	badgerOpts := badger.DefaultOptions(opts.Dir)
	badgerOpts.Logger = nil
	// The dedup cache is a hint, not a record of committed work: a
	// crash that loses the last few writes just means a few chunks
	// get re-uploaded instead of deduplicated, not data loss.
	badgerOpts.SyncWrites = false

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info("dedupcache: opened", slog.String("dir", opts.Dir))
	return &Cache{db: db, clock: opts.Clock, logger: opts.Logger}, nil
}

// Close releases the cache's underlying storage.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Put records that chunkHash was seen in xorbHash, with the
// recommending shard's key valid until keyExpiry (a Unix timestamp,
// matching [xet.Shard.KeyExpiry]).
func (c *Cache) Put(chunkHash, xorbHash xet.Hash, keyExpiry uint64) error {
	value, err := codec.Marshal(record{XorbHash: xorbHash[:], KeyExpiry: keyExpiry})
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chunkHash[:], value)
	})
}

// Lookup returns the cached xorb placement for chunkHash. found is
// false both when the key is absent and when it is present but its
// recommending shard's key has expired — callers never need to
// distinguish the two, since both mean "don't trust this entry,
// dedup-match against the network instead."
func (c *Cache) Lookup(chunkHash xet.Hash) (entry Entry, found bool, err error) {
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkHash[:])
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var rec record
			if err := codec.Unmarshal(val, &rec); err != nil {
				return err
			}
			copy(entry.XorbHash[:], rec.XorbHash)
			entry.KeyExpiry = rec.KeyExpiry
			found = true
			return nil
		})
	})
	if err != nil {
		return Entry{}, false, err
	}
	if found && c.expired(entry.KeyExpiry) {
		return Entry{}, false, nil
	}
	return entry, found, nil
}

// Exists reports whether chunkHash has an unexpired entry: a yes/no
// view of [Cache.Lookup]. The stored value is still read and decoded,
// since the expiry it checks is part of that value; only the answer
// is returned.
func (c *Cache) Exists(chunkHash xet.Hash) (bool, error) {
	_, found, err := c.Lookup(chunkHash)
	return found, err
}

// Evict removes expired entries from the cache by scanning the full
// keyspace. Callers run this periodically (e.g. on a clock.Ticker);
// it is not invoked automatically on every Lookup, since a full scan
// on every lookup would defeat the point of a cache.
func (c *Cache) Evict() (int, error) {
	var removed int
	err := c.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var staleKeys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec record
			if err := item.Value(func(val []byte) error {
				return codec.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if c.expired(rec.KeyExpiry) {
				staleKeys = append(staleKeys, item.KeyCopy(nil))
			}
		}
		for _, key := range staleKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err == nil && removed > 0 {
		c.logger.Info("dedupcache: evicted expired entries", slog.Int("removed", removed))
	}
	return removed, err
}

func (c *Cache) expired(keyExpiry uint64) bool {
	if keyExpiry == 0 {
		return false // zero means "no expiry set", not "expired at the epoch".
	}
	return c.clock.Now().After(time.Unix(int64(keyExpiry), 0))
}

// snapshotEntry is one row of an exported snapshot file.
type snapshotEntry struct {
	ChunkHash []byte `cbor:"chunk_hash"`
	XorbHash  []byte `cbor:"xorb_hash"`
	KeyExpiry uint64 `cbor:"key_expiry"`
}

// ExportSnapshot writes every unexpired entry to path as a single
// CBOR-encoded array, via the write-temp/fsync/rename pattern, so a
// failed export never leaves a partial file at path. A
// snapshot lets a cold-started process seed its cache from another
// process's cache (or a prior run's) without replaying every
// dedup-match query that built it.
func (c *Cache) ExportSnapshot(path string) error {
	var entries []snapshotEntry
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec record
			if err := item.Value(func(val []byte) error {
				return codec.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if c.expired(rec.KeyExpiry) {
				continue
			}
			entries = append(entries, snapshotEntry{
				ChunkHash: item.KeyCopy(nil),
				XorbHash:  rec.XorbHash,
				KeyExpiry: rec.KeyExpiry,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	data, err := codec.Marshal(entries)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "dedupcache-snapshot-*.cbor")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	success = true
	c.logger.Info("dedupcache: exported snapshot", slog.String("path", path), slog.Int("entries", len(entries)))
	return nil
}

// ImportSnapshot loads entries written by ExportSnapshot, merging
// them into the cache. Existing entries for the same chunk hash are
// overwritten.
func (c *Cache) ImportSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var entries []snapshotEntry
	if err := codec.Unmarshal(data, &entries); err != nil {
		return err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			value, err := codec.Marshal(record{XorbHash: e.XorbHash, KeyExpiry: e.KeyExpiry})
			if err != nil {
				return err
			}
			if err := txn.Set(e.ChunkHash, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		c.logger.Info("dedupcache: imported snapshot", slog.String("path", path), slog.Int("entries", len(entries)))
	}
	return err
}
