// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package localindex is the on-device persistence peer of the remote
// stores. It implements the same DocumentStore and BlobStore capabilities
// on a single BadgerDB instance, with identical slot semantics, so the
// gateway can run against it when the device is offline.
//
// Documents and blobs live under distinct key prefixes in one database;
// a document batch commits inside one Badger transaction, which gives the
// same all-or-nothing guarantee the remote store provides.
package localindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/logging"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/remote"
)

// Key prefixes separating the two stores inside one database.
const (
	docPrefix  = "doc:"
	blobPrefix = "blob:"
)

// Config holds the local index settings.
type Config struct {
	// Path is the BadgerDB directory. Empty disables the local index.
	Path string `koanf:"path"`

	// InMemory runs Badger without disk persistence; used by tests.
	InMemory bool `koanf:"in_memory"`
}

// Index is the combined local document+blob store.
type Index struct {
	db *badger.DB
}

// Open opens or creates the local index at cfg.Path.
func Open(cfg Config) (*Index, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil // Badger's own logger is too chatty; we log open/close ourselves
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
		opts.Dir, opts.ValueDir = "", ""
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open local index: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("local save index opened")
	return &Index{db: db}, nil
}

// Close releases the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Documents returns the DocumentStore view of the index.
func (ix *Index) Documents() remote.DocumentStore {
	return &docStore{ix: ix}
}

// Blobs returns the BlobStore view of the index.
func (ix *Index) Blobs() remote.BlobStore {
	return &blobStore{ix: ix}
}

// RunGC triggers one value-log garbage collection pass. Safe to call
// periodically; ErrNoRewrite (nothing to collect) is not an error.
func (ix *Index) RunGC() error {
	err := ix.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("local index gc: %w", err)
	}
	return nil
}

// docStore adapts Badger to remote.DocumentStore.
type docStore struct {
	ix *Index
}

func (s *docStore) Get(_ context.Context, path string) (json.RawMessage, error) {
	var out json.RawMessage
	err := s.ix.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(docPrefix + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return remote.ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *docStore) Set(_ context.Context, path string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", path, err)
	}
	return s.ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(docPrefix+path), encoded)
	})
}

func (s *docStore) Update(_ context.Context, path string, fields map[string]any) error {
	key := []byte(docPrefix + path)
	return s.ix.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return remote.ErrNotFound
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode document for update: %w", err)
		}
		for k, v := range fields {
			doc[k] = v
		}
		merged, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return txn.Set(key, merged)
	})
}

func (s *docStore) Delete(_ context.Context, path string) error {
	return s.ix.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(docPrefix + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (s *docStore) Query(_ context.Context, collection string, q remote.Query) ([]json.RawMessage, error) {
	prefix := docPrefix + strings.TrimSuffix(collection, "/") + "/"

	type entry struct {
		key string
		doc map[string]any
		raw json.RawMessage
	}
	var matched []entry

	err := s.ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if strings.Contains(strings.TrimPrefix(key, prefix), "/") {
				continue // nested subcollection
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var doc map[string]any
			if err := json.Unmarshal(raw, &doc); err != nil {
				continue
			}
			if !remote.MatchesFilters(doc, q.Filters) {
				continue
			}
			matched = append(matched, entry{key: key, doc: doc, raw: raw})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if q.OrderBy == "" {
			return matched[i].key < matched[j].key
		}
		less := remote.CompareValues(matched[i].doc[q.OrderBy], matched[j].doc[q.OrderBy]) < 0
		if q.Desc {
			return !less
		}
		return less
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]json.RawMessage, len(matched))
	for i, e := range matched {
		out[i] = e.raw
	}
	return out, nil
}

func (s *docStore) Batch() remote.Batch {
	return &docBatch{store: s}
}

// docBatch queues operations and replays them inside one Badger
// read-write transaction, which commits atomically.
type docBatch struct {
	store *docStore
	ops   []func(txn *badger.Txn) error
}

func (b *docBatch) Set(path string, value any) {
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", path, err)
		}
		return txn.Set([]byte(docPrefix+path), encoded)
	})
}

func (b *docBatch) Update(path string, fields map[string]any) {
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		key := []byte(docPrefix + path)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return remote.ErrNotFound
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		for k, v := range fields {
			doc[k] = v
		}
		merged, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return txn.Set(key, merged)
	})
}

func (b *docBatch) Delete(path string) {
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		err := txn.Delete([]byte(docPrefix + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (b *docBatch) Commit(_ context.Context) error {
	return b.store.ix.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			if err := op(txn); err != nil {
				return err
			}
		}
		return nil
	})
}

// blobStore adapts Badger to remote.BlobStore.
type blobStore struct {
	ix *Index
}

func (s *blobStore) Put(_ context.Context, path string, data []byte, _ string) (string, error) {
	err := s.ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(blobPrefix+path), data)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func (s *blobStore) SignedURL(_ context.Context, ref string) (string, error) {
	err := s.ix.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(blobPrefix + ref))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return remote.ErrNotFound
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return "local://" + ref, nil
}

func (s *blobStore) Delete(_ context.Context, ref string) error {
	key := []byte(blobPrefix + ref)
	return s.ix.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return remote.ErrNotFound
		}
		if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}
