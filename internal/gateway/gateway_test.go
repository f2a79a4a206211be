// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package gateway

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/compress"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/config"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/events"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/identity"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/integrity"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/remote"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/slotsync"
)

var player1 = identity.Identity{UID: "user-1"}

type fakeCatalog map[string]integrity.Item

func (c fakeCatalog) Item(id string) (integrity.Item, bool) {
	item, ok := c[id]
	return item, ok
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"potion":       {ID: "potion", Name: "Potion", Type: "consumable"},
		"bronze_sword": {ID: "bronze_sword", Name: "Bronze Sword", Type: "weapon"},
	}
}

// fastRetry keeps test backoff delays negligible.
func fastRetry() config.RetryConfig {
	preset := config.RetryPreset{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	critical := preset
	critical.MaxAttempts = 2
	return config.RetryConfig{Critical: critical, Network: preset, Light: preset}
}

type harness struct {
	svc   *Service
	docs  *remote.MemoryDocumentStore
	blobs *remote.MemoryBlobStore
	bus   *events.Bus
}

func newHarness(t *testing.T, opts integrity.Options) *harness {
	t.Helper()

	codec, err := compress.NewCodec(compress.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	docs := remote.NewMemoryDocumentStore()
	blobs := remote.NewMemoryBlobStore()
	bus := events.NewBus(events.DefaultConfig())
	t.Cleanup(func() { bus.Close() })

	cfg := config.CloudSaveConfig{
		MaxSlots:            10,
		MaxSaveSize:         1 << 20,
		MaxSaves:            50,
		QuotaBytes:          10 << 20,
		QuotaWarnThreshold:  0.8,
		AttachmentRateLimit: 1000,
	}

	svc, err := NewService(cfg, Deps{
		Docs:      docs,
		Blobs:     blobs,
		Codec:     codec,
		Validator: integrity.NewValidator(opts, testCatalog()),
		Bus:       bus,
		Retry:     fastRetry(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &harness{svc: svc, docs: docs, blobs: blobs, bus: bus}
}

func defaultOptions() integrity.Options {
	return integrity.Options{Enabled: true, EnableRecovery: true}
}

func validState(inventoryItems int) saves.GameState {
	inventory := make([]any, inventoryItems)
	for i := range inventory {
		inventory[i] = map[string]any{"id": "potion", "quantity": float64(i + 1)}
	}
	return saves.GameState{
		"player":    map[string]any{"name": "Sawyer", "level": float64(10)},
		"inventory": inventory,
		"story":     map[string]any{"chapter": float64(2)},
		"world":     map[string]any{"currentArea": "emerald_forest"},
	}
}

func saveReq(slot int, name string, state saves.GameState) SaveRequest {
	return SaveRequest{SlotNumber: slot, SaveName: name, State: state, GameVersion: "1.4.2"}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	state := validState(50)
	saved := h.svc.SaveToCloud(ctx, player1, saveReq(1, "Run A", state))
	if !saved.Success {
		t.Fatalf("SaveToCloud failed: %v", saved.Error)
	}
	if saved.OperationID == "" || saved.Timestamp.IsZero() {
		t.Error("result missing operation metadata")
	}
	md := saved.Data
	if md.SlotNumber != 1 || md.SaveName != "Run A" {
		t.Errorf("metadata = slot %d %q", md.SlotNumber, md.SaveName)
	}
	if md.PlayerLevel != 10 {
		t.Errorf("PlayerLevel = %d, want 10", md.PlayerLevel)
	}
	if md.Checksum == "" {
		t.Error("metadata missing checksum")
	}
	if md.SyncStatus != saves.SyncSynced {
		t.Errorf("SyncStatus = %s, want synced", md.SyncStatus)
	}

	loaded := h.svc.LoadFromCloud(ctx, player1, 1)
	if !loaded.Success {
		t.Fatalf("LoadFromCloud failed: %v", loaded.Error)
	}
	if !reflect.DeepEqual(loaded.Data.State, integrity.Sanitize(state)) {
		t.Error("loaded state differs from saved state")
	}
	if loaded.Data.Metadata.Checksum != md.Checksum {
		t.Error("checksum changed across round trip")
	}
}

func TestSaveRejectsBadInput(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	cases := []struct {
		name string
		req  SaveRequest
	}{
		{"negative slot", saveReq(-1, "Camp", validState(1))},
		{"slot beyond max", saveReq(10, "Camp", validState(1))},
		{"empty name", saveReq(1, "", validState(1))},
		{"whitespace name", saveReq(1, "   ", validState(1))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := h.svc.SaveToCloud(ctx, player1, tc.req)
			if res.Success {
				t.Fatal("save succeeded")
			}
			if res.Error.Code != saves.CodeDataInvalid {
				t.Errorf("Code = %s, want DATA_INVALID", res.Error.Code)
			}
		})
	}
	if h.docs.Len() != 0 {
		t.Errorf("invalid saves wrote %d documents", h.docs.Len())
	}
}

func TestSaveMalformedStateWithoutRecovery(t *testing.T) {
	h := newHarness(t, integrity.Options{Enabled: true, EnableRecovery: false})

	state := saves.GameState{"blob": "not a save"}
	res := h.svc.SaveToCloud(context.Background(), player1, saveReq(1, "Broken", state))
	if res.Success {
		t.Fatal("save of structureless state succeeded")
	}
	if res.Error.Code != saves.CodeSaveValidationFailed {
		t.Errorf("Code = %s, want SAVE_VALIDATION_FAILED", res.Error.Code)
	}
	if h.docs.Len() != 0 {
		t.Error("failed validation still wrote documents")
	}
}

func TestSaveMalformedStateRecoversWithWarnings(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	state := validState(2)
	state["inventory"] = "not a list"
	res := h.svc.SaveToCloud(ctx, player1, saveReq(1, "Patched", state))
	if !res.Success {
		t.Fatalf("recoverable state failed the save: %v", res.Error)
	}
	if len(res.Warnings) == 0 {
		t.Error("recovered save carries no warnings")
	}

	loaded := h.svc.LoadFromCloud(ctx, player1, 1)
	if !loaded.Success {
		t.Fatalf("load of recovered save failed: %v", loaded.Error)
	}
	inv, ok := loaded.Data.State["inventory"].([]any)
	if !ok || len(inv) != 0 {
		t.Errorf("inventory = %v, want defaulted empty list", loaded.Data.State["inventory"])
	}
}

func TestSizeGuardRejectsBeforeWrite(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.svc.cfg.MaxSaveSize = 64 // far below any realistic save

	res := h.svc.SaveToCloud(context.Background(), player1, saveReq(1, "Big", validState(100)))
	if res.Success {
		t.Fatal("oversized save succeeded")
	}
	if res.Error.Code != saves.CodeDataInvalid {
		t.Errorf("Code = %s, want DATA_INVALID", res.Error.Code)
	}
	if h.docs.Len() != 0 {
		t.Error("size guard fired after a write")
	}
}

func TestAtomicPairingOnCommitFailure(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.docs.FailNext("commit", errors.New("backend unavailable"), 10)

	res := h.svc.SaveToCloud(context.Background(), player1, saveReq(1, "Doomed", validState(3)))
	if res.Success {
		t.Fatal("save succeeded despite commit failures")
	}
	if res.Error.Code != saves.CodeOperationFailed {
		t.Errorf("Code = %s, want OPERATION_FAILED", res.Error.Code)
	}
	// Neither metadata nor blob may be observable.
	if h.docs.Len() != 0 {
		t.Errorf("failed commit left %d documents behind", h.docs.Len())
	}
}

func TestSyncFlipFailureLeavesPendingWithWarning(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.docs.FailNext("update", errors.New("flaky"), 10)

	res := h.svc.SaveToCloud(context.Background(), player1, saveReq(2, "Pending", validState(2)))
	if !res.Success {
		t.Fatalf("save failed: %v", res.Error)
	}
	if len(res.Warnings) == 0 {
		t.Error("no warning about the pending sync status")
	}
	if res.Data.SyncStatus != saves.SyncPending {
		t.Errorf("SyncStatus = %s, want pending", res.Data.SyncStatus)
	}
}

func TestAttachmentUploadIsBestEffort(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.blobs.FailNext("put", errors.New("blob store down"), 10)

	req := saveReq(1, "Shot", validState(2))
	req.Attachment = []byte{0x89, 0x50}
	req.AttachmentType = "image/png"

	res := h.svc.SaveToCloud(context.Background(), player1, req)
	if !res.Success {
		t.Fatalf("attachment failure sank the save: %v", res.Error)
	}
	if len(res.Warnings) == 0 {
		t.Error("no warning about the failed attachment")
	}
	if res.Data.HasAttachment {
		t.Error("HasAttachment set despite failed upload")
	}
}

func TestAttachmentUploadRecorded(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	req := saveReq(1, "Shot", validState(2))
	req.Attachment = []byte{0x89, 0x50, 0x4e, 0x47}
	req.AttachmentType = "image/png"

	res := h.svc.SaveToCloud(ctx, player1, req)
	if !res.Success {
		t.Fatalf("save failed: %v", res.Error)
	}
	if !res.Data.HasAttachment || res.Data.AttachmentRef == "" {
		t.Fatalf("attachment not recorded: %+v", res.Data)
	}

	loaded := h.svc.LoadFromCloud(ctx, player1, 1)
	if !loaded.Success {
		t.Fatalf("load failed: %v", loaded.Error)
	}
	if loaded.Data.AttachmentURL == "" {
		t.Error("load returned no attachment URL")
	}
}

func TestLoadAbsentSlot(t *testing.T) {
	h := newHarness(t, defaultOptions())

	res := h.svc.LoadFromCloud(context.Background(), player1, 3)
	if res.Success {
		t.Fatal("load of absent slot succeeded")
	}
	if res.Error.Code != saves.CodeStorageNotFound {
		t.Errorf("Code = %s, want STORAGE_NOT_FOUND", res.Error.Code)
	}
}

// flipChecksum corrupts the stored metadata checksum for a slot.
func flipChecksum(t *testing.T, h *harness, slot int) {
	t.Helper()
	ctx := context.Background()
	path := h.svc.metadataPath(player1.UID, slot)

	raw, err := h.docs.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get metadata: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	sum, _ := doc["checksum"].(string)
	if sum == "" {
		t.Fatal("stored metadata has no checksum")
	}
	if sum[0] == '0' {
		doc["checksum"] = "1" + sum[1:]
	} else {
		doc["checksum"] = "0" + sum[1:]
	}
	if err := h.docs.Set(ctx, path, doc); err != nil {
		t.Fatalf("Set metadata: %v", err)
	}
}

func TestCorruptedChecksumRecoversWithWarning(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	if res := h.svc.SaveToCloud(ctx, player1, saveReq(1, "Run B", validState(5))); !res.Success {
		t.Fatalf("save failed: %v", res.Error)
	}
	flipChecksum(t, h, 1)

	loaded := h.svc.LoadFromCloud(ctx, player1, 1)
	if !loaded.Success {
		t.Fatalf("recoverable corruption failed the load: %v", loaded.Error)
	}
	if len(loaded.Warnings) == 0 {
		t.Error("recovered load carries no warnings")
	}
}

func TestCorruptedChecksumWithoutRecovery(t *testing.T) {
	h := newHarness(t, integrity.Options{Enabled: true, EnableRecovery: false})
	ctx := context.Background()

	if res := h.svc.SaveToCloud(ctx, player1, saveReq(1, "Run C", validState(5))); !res.Success {
		t.Fatalf("save failed: %v", res.Error)
	}
	flipChecksum(t, h, 1)

	loaded := h.svc.LoadFromCloud(ctx, player1, 1)
	if loaded.Success {
		t.Fatal("corrupted load succeeded with recovery disabled")
	}
	if loaded.Error.Code != saves.CodeDataCorrupted {
		t.Errorf("Code = %s, want DATA_CORRUPTED", loaded.Error.Code)
	}
}

func TestDeleteAbsentSlot(t *testing.T) {
	h := newHarness(t, defaultOptions())

	res := h.svc.DeleteCloudSave(context.Background(), player1, 5)
	if res.Success {
		t.Fatal("delete of never-saved slot succeeded")
	}
	if res.Error.Code != saves.CodeStorageNotFound {
		t.Errorf("Code = %s, want STORAGE_NOT_FOUND", res.Error.Code)
	}
}

func TestDeleteRemovesBothDocuments(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	if res := h.svc.SaveToCloud(ctx, player1, saveReq(4, "Doomed", validState(2))); !res.Success {
		t.Fatalf("save failed: %v", res.Error)
	}
	if res := h.svc.DeleteCloudSave(ctx, player1, 4); !res.Success {
		t.Fatalf("delete failed: %v", res.Error)
	}
	if h.docs.Len() != 0 {
		t.Errorf("%d documents left after delete", h.docs.Len())
	}
	if res := h.svc.LoadFromCloud(ctx, player1, 4); res.Success {
		t.Error("load succeeded after delete")
	}
}

func TestDeleteNeverProbesAbsentAttachment(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	if res := h.svc.SaveToCloud(ctx, player1, saveReq(1, "Plain", validState(1))); !res.Success {
		t.Fatalf("save failed: %v", res.Error)
	}
	// Any blob delete would consume this injected failure and produce a
	// warning; a save without an attachment must not touch the blob store.
	h.blobs.FailNext("delete", errors.New("must not be called"), 1)

	res := h.svc.DeleteCloudSave(ctx, player1, 1)
	if !res.Success {
		t.Fatalf("delete failed: %v", res.Error)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("delete touched the blob store: %v", res.Warnings)
	}
}

func TestBatchSaveIndependentItems(t *testing.T) {
	h := newHarness(t, defaultOptions())

	poisoned := validState(2)
	poisoned["player"].(map[string]any)["score"] = math.NaN() // unserializable

	batch := h.svc.BatchSaveToCloud(context.Background(), player1, []SaveRequest{
		saveReq(1, "Good", validState(3)),
		saveReq(2, "Poisoned", poisoned),
	})

	if batch.Success {
		t.Error("batch with a failing item reported overall success")
	}
	if len(batch.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(batch.Items))
	}
	if !batch.Items[0].Success {
		t.Errorf("item 0 failed: %v", batch.Items[0].Error)
	}
	if batch.Items[1].Success {
		t.Error("unserializable item succeeded")
	}
	if batch.Items[1].Error.Code != saves.CodeSaveValidationFailed {
		t.Errorf("item 1 Code = %s, want SAVE_VALIDATION_FAILED", batch.Items[1].Error.Code)
	}

	// The good slot is intact and loadable.
	if res := h.svc.LoadFromCloud(context.Background(), player1, 1); !res.Success {
		t.Errorf("good batch item not loadable: %v", res.Error)
	}
}

func TestListOrderedByRecencyAndBounded(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	for slot := 0; slot < 4; slot++ {
		if res := h.svc.SaveToCloud(ctx, player1, saveReq(slot, "Save", validState(1))); !res.Success {
			t.Fatalf("save slot %d: %v", slot, res.Error)
		}
		time.Sleep(2 * time.Millisecond) // distinct updatedAt per slot
	}
	h.svc.cfg.MaxSaves = 3

	res := h.svc.ListCloudSaves(ctx, player1)
	if !res.Success {
		t.Fatalf("list failed: %v", res.Error)
	}
	if len(res.Data) != 3 {
		t.Fatalf("len = %d, want bound 3", len(res.Data))
	}
	for i := 1; i < len(res.Data); i++ {
		if res.Data[i].UpdatedAt.After(res.Data[i-1].UpdatedAt) {
			t.Error("list not ordered by recency")
		}
	}
	if res.Data[0].SlotNumber != 3 {
		t.Errorf("most recent slot = %d, want 3", res.Data[0].SlotNumber)
	}
}

func TestStorageAndCompressionStats(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	for slot := 0; slot < 3; slot++ {
		if res := h.svc.SaveToCloud(ctx, player1, saveReq(slot, "Save", validState(10))); !res.Success {
			t.Fatalf("save slot %d: %v", slot, res.Error)
		}
	}

	storage := h.svc.StorageStats(ctx, player1)
	if !storage.Success {
		t.Fatalf("StorageStats failed: %v", storage.Error)
	}
	if storage.Data.SaveCount != 3 {
		t.Errorf("SaveCount = %d, want 3", storage.Data.SaveCount)
	}
	if storage.Data.UsedBytes <= 0 {
		t.Error("UsedBytes not aggregated")
	}
	if len(storage.Data.PerSlotBreakdown) != 3 {
		t.Errorf("PerSlotBreakdown has %d entries", len(storage.Data.PerSlotBreakdown))
	}

	comp := h.svc.CompressionStats(ctx, player1)
	if !comp.Success {
		t.Fatalf("CompressionStats failed: %v", comp.Error)
	}
	if comp.Data.SaveCount != 3 || comp.Data.AverageRatio <= 0 {
		t.Errorf("compression stats = %+v", comp.Data)
	}
	if comp.Data.TotalDataSize < comp.Data.TotalCompressed {
		t.Error("compressed total exceeds raw total")
	}
}

func TestResaveKeepsCreationTime(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	first := h.svc.SaveToCloud(ctx, player1, saveReq(1, "First", validState(1)))
	if !first.Success {
		t.Fatalf("first save: %v", first.Error)
	}
	time.Sleep(2 * time.Millisecond)
	second := h.svc.SaveToCloud(ctx, player1, saveReq(1, "Second", validState(2)))
	if !second.Success {
		t.Fatalf("second save: %v", second.Error)
	}

	if !second.Data.CreatedAt.Equal(first.Data.CreatedAt) {
		t.Error("resave reset CreatedAt")
	}
	if second.Data.ID != first.Data.ID {
		t.Error("resave changed the slot's document ID")
	}
	if !second.Data.UpdatedAt.After(first.Data.UpdatedAt) {
		t.Error("resave did not advance UpdatedAt")
	}
}

func TestSyncSlotDecisions(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	saved := h.svc.SaveToCloud(ctx, player1, saveReq(1, "Synced", validState(2)))
	if !saved.Success {
		t.Fatalf("save failed: %v", saved.Error)
	}
	md := saved.Data

	// Local matches cloud exactly: skip.
	res := h.svc.SyncSlot(ctx, player1, &slotsync.LocalSave{
		SlotNumber: 1, LastModified: md.UpdatedAt, Checksum: md.Checksum,
	})
	if !res.Success || res.Data.Action != slotsync.ActionSkip {
		t.Errorf("identical copies: %+v", res.Data)
	}

	// Local diverged at the same timestamp: conflict, announced on the bus.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	received, err := h.bus.Subscribe(subCtx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	res = h.svc.SyncSlot(ctx, player1, &slotsync.LocalSave{
		SlotNumber: 1, LastModified: md.UpdatedAt, Checksum: "different",
	})
	if !res.Success || res.Data.Action != slotsync.ActionConflict {
		t.Fatalf("diverged copies: %+v", res.Data)
	}

	select {
	case e := <-received:
		if e.Kind != events.KindSyncConflict {
			t.Errorf("event kind = %s, want sync.conflict", e.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no conflict event published")
	}

	// No cloud copy at all: upload.
	res = h.svc.SyncSlot(ctx, player1, &slotsync.LocalSave{
		SlotNumber: 7, LastModified: time.Now(), Checksum: "x",
	})
	if !res.Success || res.Data.Action != slotsync.ActionUpload {
		t.Errorf("missing cloud copy: %+v", res.Data)
	}
}

func TestQuotaWarningEvent(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.svc.cfg.QuotaBytes = 1 // any save crosses the threshold
	ctx := context.Background()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	received, err := h.bus.Subscribe(subCtx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if res := h.svc.SaveToCloud(ctx, player1, saveReq(1, "Full", validState(5))); !res.Success {
		t.Fatalf("save failed: %v", res.Error)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-received:
			if e.Kind == events.KindQuotaWarning {
				if e.UsedBytes <= 0 || e.MaxBytes != 1 {
					t.Errorf("quota detail = %d/%d", e.UsedBytes, e.MaxBytes)
				}
				return
			}
		case <-deadline:
			t.Fatal("no quota warning published")
		}
	}
}

func TestUsersAreIsolated(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	player2 := identity.Identity{UID: "user-2"}

	if res := h.svc.SaveToCloud(ctx, player1, saveReq(1, "Mine", validState(1))); !res.Success {
		t.Fatalf("save failed: %v", res.Error)
	}

	if res := h.svc.LoadFromCloud(ctx, player2, 1); res.Success {
		t.Error("user-2 loaded user-1's save")
	}
	list := h.svc.ListCloudSaves(ctx, player2)
	if !list.Success || len(list.Data) != 0 {
		t.Errorf("user-2 list = %d items", len(list.Data))
	}
}
