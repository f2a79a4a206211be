// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package integrity

import (
	"math"
	"strings"
	"testing"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
)

// fakeCatalog resolves a fixed set of item IDs.
type fakeCatalog struct {
	items map[string]Item
}

func (c *fakeCatalog) Item(id string) (Item, bool) {
	it, ok := c.items[id]
	return it, ok
}

func testCatalog() Catalog {
	return &fakeCatalog{items: map[string]Item{
		"potion":       {ID: "potion", Name: "Potion", Type: "consumable"},
		"bronze_sword": {ID: "bronze_sword", Name: "Bronze Sword", Type: "weapon"},
	}}
}

func validState() saves.GameState {
	return saves.GameState{
		"player": map[string]any{
			"name":  "Sawyer",
			"level": 10,
			"hp":    42,
		},
		"inventory": []any{
			map[string]any{"id": "potion", "qty": 3},
			map[string]any{"id": "bronze_sword", "qty": 1},
		},
		"story": map[string]any{"chapter": 2},
		"world": map[string]any{"area": "emerald_forest"},
	}
}

func enabledValidator() *Validator {
	return NewValidator(Options{Enabled: true}, testCatalog())
}

func TestChecksum_Deterministic(t *testing.T) {
	v := enabledValidator()

	a, err := v.Checksum(validState())
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	b, err := v.Checksum(validState())
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if a != b {
		t.Errorf("checksum not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected sha256 hex digest, got %d chars", len(a))
	}
}

func TestChecksum_IgnoresVolatileFields(t *testing.T) {
	v := enabledValidator()

	base := validState()
	withVolatile := validState()
	withVolatile["sessionStartTime"] = "2026-08-31T10:00:00Z"
	withVolatile["_pendingAnimations"] = []any{"fade"}

	a, err := v.Checksum(base)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	b, err := v.Checksum(withVolatile)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if a != b {
		t.Error("volatile fields changed the checksum")
	}
}

func TestChecksum_SensitiveToContent(t *testing.T) {
	v := enabledValidator()

	a, _ := v.Checksum(validState())
	changed := validState()
	changed["player"].(map[string]any)["level"] = 11
	b, _ := v.Checksum(changed)

	if a == b {
		t.Error("content change did not change the checksum")
	}
}

func TestValidate_SoundAgainstOwnChecksum(t *testing.T) {
	v := enabledValidator()
	state := validState()

	sum, err := v.Checksum(state)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}

	res := v.Validate(state, sum)
	if !res.IsValid {
		t.Fatalf("valid state rejected: errors=%v corrupted=%v", res.Errors, res.CorruptedFields)
	}
}

func TestValidate_ChecksumMismatch(t *testing.T) {
	v := enabledValidator()
	state := validState()
	sum, _ := v.Checksum(state)

	state["player"].(map[string]any)["level"] = 99
	res := v.Validate(state, sum)

	if res.IsValid {
		t.Fatal("corrupted state accepted")
	}
	if !containsPath(res.CorruptedFields, "checksum") {
		t.Errorf("expected checksum in corrupted fields, got %v", res.CorruptedFields)
	}
}

func TestValidate_MissingSection(t *testing.T) {
	v := enabledValidator()
	state := validState()
	delete(state, "story")

	res := v.Validate(state, "")
	if res.IsValid {
		t.Fatal("state missing a required section accepted")
	}
	if !containsPath(res.CorruptedFields, "story") {
		t.Errorf("expected story in corrupted fields, got %v", res.CorruptedFields)
	}
	if res.RecoveredData != nil {
		t.Error("recovery data populated without EnableRecovery")
	}
}

func TestValidate_RecoveryDefaultsCorruptedSection(t *testing.T) {
	v := NewValidator(Options{Enabled: true, EnableRecovery: true}, testCatalog())
	state := validState()
	state["world"] = "not an object"

	res := v.Validate(state, "")
	if res.IsValid {
		t.Fatal("corrupted state must stay invalid even when recovered")
	}
	if res.RecoveredData == nil {
		t.Fatal("expected recovered data")
	}
	if _, ok := res.RecoveredData["world"].(map[string]any); !ok {
		t.Errorf("world not defaulted in recovery: %v", res.RecoveredData["world"])
	}
	// The rest of the state must survive recovery.
	player, _ := res.RecoveredData["player"].(map[string]any)
	if player["name"] != "Sawyer" {
		t.Error("recovery lost unrelated state")
	}
}

func TestValidate_StrictModeDisablesRecovery(t *testing.T) {
	v := NewValidator(Options{Enabled: true, EnableRecovery: true, StrictMode: true}, testCatalog())
	state := validState()
	delete(state, "inventory")

	res := v.Validate(state, "")
	if res.IsValid {
		t.Fatal("strict mode accepted a corrupted state")
	}
	if res.RecoveredData != nil {
		t.Error("strict mode must not recover")
	}
}

func TestValidate_UnknownItemFlagged(t *testing.T) {
	v := enabledValidator()
	state := validState()
	state["inventory"] = []any{
		map[string]any{"id": "potion", "qty": 1},
		map[string]any{"id": "debug_hammer", "qty": 1},
	}

	res := v.Validate(state, "")
	if res.IsValid {
		t.Fatal("unknown item accepted")
	}
	if !containsPath(res.CorruptedFields, "inventory[1].id") {
		t.Errorf("expected inventory[1].id flagged, got %v", res.CorruptedFields)
	}
}

func TestValidate_RecoveryDropsCorruptedItems(t *testing.T) {
	v := NewValidator(Options{Enabled: true, EnableRecovery: true}, testCatalog())
	state := validState()
	state["inventory"] = []any{
		map[string]any{"id": "potion", "qty": 1},
		map[string]any{"qty": 2}, // no id
	}

	res := v.Validate(state, "")
	if res.RecoveredData == nil {
		t.Fatal("expected recovery")
	}
	items, _ := res.RecoveredData["inventory"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected corrupted item dropped, got %d items", len(items))
	}
}

func TestValidate_DisabledAlwaysValid(t *testing.T) {
	v := NewValidator(Options{Enabled: false}, nil)
	state := validState()
	delete(state, "player")

	res := v.Validate(state, "whatever")
	if !res.IsValid {
		t.Error("disabled validator must report valid")
	}
	if res.Checksum == "" {
		t.Error("disabled validator must still compute a checksum")
	}
}

func TestValidate_UnserializableState(t *testing.T) {
	v := enabledValidator()
	state := validState()
	state["world"].(map[string]any)["drift"] = math.NaN()

	res := v.Validate(state, "")
	if res.IsValid {
		t.Fatal("unserializable state accepted")
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0], "not serializable") {
		t.Errorf("expected serialization error, got %v", res.Errors)
	}
}

func TestSanitize_StripsFunctionsAndVolatiles(t *testing.T) {
	state := saves.GameState{
		"player":           map[string]any{"level": 3, "onLevelUp": func() {}},
		"inventory":        []any{},
		"story":            map[string]any{},
		"world":            map[string]any{},
		"sessionStartTime": "now",
		"_transient":       true,
	}

	out := Sanitize(state)

	if _, ok := out["sessionStartTime"]; ok {
		t.Error("volatile field survived sanitize")
	}
	if _, ok := out["_transient"]; ok {
		t.Error("underscore-prefixed field survived sanitize")
	}
	player, _ := out["player"].(map[string]any)
	if _, ok := player["onLevelUp"]; ok {
		t.Error("function member survived sanitize")
	}
	if player["level"] != 3 {
		t.Error("sanitize lost ordinary data")
	}
	// Input untouched.
	if _, ok := state["sessionStartTime"]; !ok {
		t.Error("sanitize mutated its input")
	}
}

func containsPath(paths []string, want string) bool {
	for _, p := range paths {
		if p == want {
			return true
		}
	}
	return false
}
