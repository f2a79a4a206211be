// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package localindex

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/remote"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := ix.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return ix
}

func TestDocumentSetGetDelete(t *testing.T) {
	ix := openTestIndex(t)
	docs := ix.Documents()
	ctx := context.Background()

	path := "users/u1/saves/1"
	if err := docs.Set(ctx, path, map[string]any{"saveName": "Camp", "slotNumber": 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, err := docs.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc["saveName"] != "Camp" {
		t.Errorf("saveName = %v, want Camp", doc["saveName"])
	}

	if err := docs.Delete(ctx, path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := docs.Get(ctx, path); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}

	// Deleting an absent document is not an error.
	if err := docs.Delete(ctx, path); err != nil {
		t.Errorf("Delete absent: %v", err)
	}
}

func TestDocumentUpdate(t *testing.T) {
	ix := openTestIndex(t)
	docs := ix.Documents()
	ctx := context.Background()

	path := "users/u1/saves/2"
	if err := docs.Set(ctx, path, map[string]any{"saveName": "Forest", "syncStatus": "pending"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := docs.Update(ctx, path, map[string]any{"syncStatus": "synced"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	raw, err := docs.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc["syncStatus"] != "synced" {
		t.Errorf("syncStatus = %v, want synced", doc["syncStatus"])
	}
	if doc["saveName"] != "Forest" {
		t.Errorf("saveName lost on update: %v", doc["saveName"])
	}

	if err := docs.Update(ctx, "users/u1/saves/99", map[string]any{"x": 1}); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Update absent = %v, want ErrNotFound", err)
	}
}

func TestQueryOrderAndLimit(t *testing.T) {
	ix := openTestIndex(t)
	docs := ix.Documents()
	ctx := context.Background()

	for i, lvl := range []int{5, 12, 8} {
		path := "users/u1/saves/" + string(rune('1'+i))
		if err := docs.Set(ctx, path, map[string]any{"slotNumber": i + 1, "playerLevel": lvl}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	// Another user and a nested subcollection must not leak into results.
	if err := docs.Set(ctx, "users/u2/saves/1", map[string]any{"slotNumber": 1, "playerLevel": 99}); err != nil {
		t.Fatalf("Set other user: %v", err)
	}
	if err := docs.Set(ctx, "users/u1/saves/1/history/a", map[string]any{"playerLevel": 77}); err != nil {
		t.Fatalf("Set nested: %v", err)
	}

	results, err := docs.Query(ctx, "users/u1/saves", remote.Query{OrderBy: "playerLevel", Desc: true, Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	var first map[string]any
	if err := json.Unmarshal(results[0], &first); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if lvl, _ := first["playerLevel"].(float64); lvl != 12 {
		t.Errorf("first playerLevel = %v, want 12", first["playerLevel"])
	}
}

func TestQueryFilters(t *testing.T) {
	ix := openTestIndex(t)
	docs := ix.Documents()
	ctx := context.Background()

	if err := docs.Set(ctx, "users/u1/saves/1", map[string]any{"syncStatus": "synced", "playerLevel": 4}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := docs.Set(ctx, "users/u1/saves/2", map[string]any{"syncStatus": "pending", "playerLevel": 9}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	results, err := docs.Query(ctx, "users/u1/saves", remote.Query{
		Filters: []remote.Filter{
			{Field: "syncStatus", Op: "==", Value: "pending"},
			{Field: "playerLevel", Op: ">=", Value: 5},
		},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
}

func TestBatchCommitAtomic(t *testing.T) {
	ix := openTestIndex(t)
	docs := ix.Documents()
	ctx := context.Background()

	batch := docs.Batch()
	batch.Set("users/u1/saves/1", map[string]any{"saveName": "A"})
	batch.Set("users/u1/save_blobs/1", map[string]any{"chunks": 3})
	if err := batch.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := docs.Get(ctx, "users/u1/saves/1"); err != nil {
		t.Errorf("metadata missing after commit: %v", err)
	}
	if _, err := docs.Get(ctx, "users/u1/save_blobs/1"); err != nil {
		t.Errorf("blob doc missing after commit: %v", err)
	}
}

func TestBatchFailureLeavesNothing(t *testing.T) {
	ix := openTestIndex(t)
	docs := ix.Documents()
	ctx := context.Background()

	// Update of an absent document fails the whole batch.
	batch := docs.Batch()
	batch.Set("users/u1/saves/9", map[string]any{"saveName": "Z"})
	batch.Update("users/u1/saves/missing", map[string]any{"x": 1})
	if err := batch.Commit(ctx); err == nil {
		t.Fatal("Commit succeeded, want error")
	}
	if _, err := docs.Get(ctx, "users/u1/saves/9"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("partial write visible after failed commit: %v", err)
	}
}

func TestBlobRoundTrip(t *testing.T) {
	ix := openTestIndex(t)
	blobs := ix.Blobs()
	ctx := context.Background()

	ref, err := blobs.Put(ctx, "users/u1/attachments/1.png", []byte{0x89, 0x50, 0x4e, 0x47}, "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	url, err := blobs.SignedURL(ctx, ref)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if url != "local://"+ref {
		t.Errorf("url = %q", url)
	}

	if err := blobs.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := blobs.SignedURL(ctx, ref); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("SignedURL after delete = %v, want ErrNotFound", err)
	}
	if err := blobs.Delete(ctx, ref); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Delete absent = %v, want ErrNotFound", err)
	}
}
