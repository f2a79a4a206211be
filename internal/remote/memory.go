// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// MemoryDocumentStore is an in-process DocumentStore with the reference
// batch semantics: a commit is applied under one lock, all-or-nothing.
// It backs the test suite and local development mode.
//
// Fault injection: FailNext arms an error that the next matching
// operations return instead of executing, which is how the tests
// simulate an unreachable backend.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage

	failOp    string
	failErr   error
	failCount int
}

// NewMemoryDocumentStore creates an empty store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]json.RawMessage)}
}

// FailNext arms fault injection: the next count operations named op
// ("get", "set", "update", "delete", "query", "commit") fail with err.
func (s *MemoryDocumentStore) FailNext(op string, err error, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOp, s.failErr, s.failCount = op, err, count
}

// takeFailure consumes one armed failure for op (must hold mu).
func (s *MemoryDocumentStore) takeFailure(op string) error {
	if s.failCount > 0 && s.failOp == op {
		s.failCount--
		return s.failErr
	}
	return nil
}

// Len returns the number of stored documents.
func (s *MemoryDocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryDocumentStore) Get(_ context.Context, path string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.takeFailureRLocked("get"); err != nil {
		return nil, err
	}

	doc, ok := s.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(json.RawMessage, len(doc))
	copy(out, doc)
	return out, nil
}

// takeFailureRLocked mirrors takeFailure for read paths. The counter
// mutation under RLock is tolerable because fault injection is test-only
// and tests arm it before concurrent access.
func (s *MemoryDocumentStore) takeFailureRLocked(op string) error {
	if s.failCount > 0 && s.failOp == op {
		s.failCount--
		return s.failErr
	}
	return nil
}

func (s *MemoryDocumentStore) Set(_ context.Context, path string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("set"); err != nil {
		return err
	}
	s.docs[path] = encoded
	return nil
}

func (s *MemoryDocumentStore) Update(_ context.Context, path string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("update"); err != nil {
		return err
	}

	doc, ok := s.docs[path]
	if !ok {
		return ErrNotFound
	}
	merged, err := mergeFields(doc, fields)
	if err != nil {
		return err
	}
	s.docs[path] = merged
	return nil
}

func (s *MemoryDocumentStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("delete"); err != nil {
		return err
	}
	delete(s.docs, path)
	return nil
}

func (s *MemoryDocumentStore) Query(_ context.Context, collection string, q Query) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.takeFailureRLocked("query"); err != nil {
		return nil, err
	}

	prefix := strings.TrimSuffix(collection, "/") + "/"

	type entry struct {
		path string
		doc  map[string]any
		raw  json.RawMessage
	}
	var matched []entry

	for path, raw := range s.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		// Documents only, not nested subcollections.
		if strings.Contains(strings.TrimPrefix(path, prefix), "/") {
			continue
		}

		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		if !MatchesFilters(doc, q.Filters) {
			continue
		}
		matched = append(matched, entry{path: path, doc: doc, raw: raw})
	}

	sort.Slice(matched, func(i, j int) bool {
		if q.OrderBy == "" {
			return matched[i].path < matched[j].path
		}
		less := CompareValues(matched[i].doc[q.OrderBy], matched[j].doc[q.OrderBy]) < 0
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
		out[i] = append(json.RawMessage(nil), e.raw...)
	}
	return out, nil
}

func (s *MemoryDocumentStore) Batch() Batch {
	return &memoryBatch{store: s}
}

// memoryBatch queues operations and applies them under one lock.
type memoryBatch struct {
	store *MemoryDocumentStore
	ops   []batchOp
}

type batchOp struct {
	kind   string // set, update, delete
	path   string
	value  any
	fields map[string]any
}

func (b *memoryBatch) Set(path string, value any) {
	b.ops = append(b.ops, batchOp{kind: "set", path: path, value: value})
}

func (b *memoryBatch) Update(path string, fields map[string]any) {
	b.ops = append(b.ops, batchOp{kind: "update", path: path, fields: fields})
}

func (b *memoryBatch) Delete(path string) {
	b.ops = append(b.ops, batchOp{kind: "delete", path: path})
}

// Commit applies the batch atomically. Encoding and lookup errors are
// detected before any mutation so a failed commit leaves the store
// untouched.
func (b *memoryBatch) Commit(_ context.Context) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if err := b.store.takeFailure("commit"); err != nil {
		return err
	}

	// Stage first: any failure aborts before mutation.
	staged := make(map[string]json.RawMessage, len(b.ops))
	deleted := make(map[string]bool)

	for _, op := range b.ops {
		switch op.kind {
		case "set":
			encoded, err := json.Marshal(op.value)
			if err != nil {
				return fmt.Errorf("encode document %s: %w", op.path, err)
			}
			staged[op.path] = encoded
			delete(deleted, op.path)
		case "update":
			base, ok := staged[op.path]
			if !ok {
				base, ok = b.store.docs[op.path]
			}
			if !ok || deleted[op.path] {
				return fmt.Errorf("update %s: %w", op.path, ErrNotFound)
			}
			merged, err := mergeFields(base, op.fields)
			if err != nil {
				return err
			}
			staged[op.path] = merged
		case "delete":
			deleted[op.path] = true
			delete(staged, op.path)
		}
	}

	for path := range deleted {
		delete(b.store.docs, path)
	}
	for path, doc := range staged {
		b.store.docs[path] = doc
	}
	return nil
}

// mergeFields overlays fields onto an encoded document.
func mergeFields(raw json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document for update: %w", err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode updated document: %w", err)
	}
	return merged, nil
}

// MatchesFilters applies every filter; unknown fields never match.
func MatchesFilters(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		val, ok := doc[f.Field]
		if !ok {
			return false
		}
		cmp := CompareValues(val, f.Value)
		switch f.Op {
		case "==", "":
			if cmp != 0 {
				return false
			}
		case "<":
			if cmp >= 0 {
				return false
			}
		case "<=":
			if cmp > 0 {
				return false
			}
		case ">":
			if cmp <= 0 {
				return false
			}
		case ">=":
			if cmp < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// CompareValues orders JSON scalar values: numbers numerically, the rest
// by string form.
func CompareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// MemoryBlobStore is the in-process BlobStore counterpart.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	failOp    string
	failErr   error
	failCount int
}

// NewMemoryBlobStore creates an empty blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// FailNext arms fault injection for "put", "url" or "delete".
func (s *MemoryBlobStore) FailNext(op string, err error, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOp, s.failErr, s.failCount = op, err, count
}

func (s *MemoryBlobStore) takeFailure(op string) error {
	if s.failCount > 0 && s.failOp == op {
		s.failCount--
		return s.failErr
	}
	return nil
}

// Len returns the number of stored blobs.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func (s *MemoryBlobStore) Put(_ context.Context, path string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("put"); err != nil {
		return "", err
	}
	s.blobs[path] = append([]byte(nil), data...)
	return path, nil
}

func (s *MemoryBlobStore) SignedURL(_ context.Context, ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.takeFailure("url"); err != nil {
		return "", err
	}
	if _, ok := s.blobs[ref]; !ok {
		return "", ErrNotFound
	}
	return "memory://" + ref, nil
}

func (s *MemoryBlobStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("delete"); err != nil {
		return err
	}
	if _, ok := s.blobs[ref]; !ok {
		return ErrNotFound
	}
	delete(s.blobs, ref)
	return nil
}
