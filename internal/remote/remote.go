// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package remote defines the consumed storage capabilities of the save
// system: a document store with atomic multi-document batches and a blob
// store for attachments.
//
// The gateway composes these interfaces and never depends on a concrete
// backend. The in-memory implementations in this package provide the
// reference semantics (batch commits are all-or-nothing) and back the
// test suite; internal/localindex provides a BadgerDB-backed pair with
// identical slot semantics for offline use.
package remote

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned for reads and deletes of absent documents,
// blobs or query targets.
var ErrNotFound = errors.New("document not found")

// Filter is a single equality/inequality constraint on a document field.
type Filter struct {
	// Field is a dotted path into the document, e.g. "syncStatus".
	Field string

	// Op is one of "==", "<", "<=", ">", ">=".
	Op string

	// Value is compared against the document field.
	Value any
}

// Query bounds and orders a collection scan.
type Query struct {
	Filters []Filter

	// OrderBy names the document field to sort on; empty means document
	// path order.
	OrderBy string

	// Desc reverses the sort.
	Desc bool

	// Limit caps the result count; zero means unlimited.
	Limit int
}

// DocumentStore is the consumed document database capability.
// Paths are slash-separated, "users/{uid}/saves/{slot}" style; a
// collection is the path prefix above the document ID.
type DocumentStore interface {
	// Get returns the raw document at path, or ErrNotFound.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set writes value at path, replacing any existing document.
	Set(ctx context.Context, path string, value any) error

	// Update merges fields into the document at path. ErrNotFound when
	// the document does not exist.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the document at path. Deleting an absent document
	// is not an error.
	Delete(ctx context.Context, path string) error

	// Query scans a collection under the given query.
	Query(ctx context.Context, collection string, q Query) ([]json.RawMessage, error)

	// Batch opens a write batch. Operations added to the batch are
	// committed atomically: after Commit either all of them are
	// observable or none.
	Batch() Batch
}

// Batch is an atomic group of document writes and deletes.
type Batch interface {
	Set(path string, value any)
	Update(path string, fields map[string]any)
	Delete(path string)

	// Commit applies every queued operation atomically.
	Commit(ctx context.Context) error
}

// BlobStore is the consumed binary object storage capability, used for
// save attachments (screenshots).
type BlobStore interface {
	// Put stores data at path and returns a stable reference.
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// SignedURL returns a download URL for a reference. ErrNotFound for
	// unknown references.
	SignedURL(ctx context.Context, ref string) (string, error)

	// Delete removes the object behind ref. ErrNotFound for unknown
	// references.
	Delete(ctx context.Context, ref string) error
}
