// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package integrity computes and verifies save state checksums and
// performs structural validation with optional best-effort recovery.
//
// The checksum is a SHA-256 digest over a canonicalized serialization of
// the sanitized state: map keys are emitted in sorted order, functions and
// other non-serializable members are stripped first, and volatile
// timestamp fields are excluded. Two equivalent saves therefore hash
// identically regardless of key insertion order or compression algorithm.
//
// Recovery, when enabled, defaults a corrupted top-level section instead
// of rejecting the whole state. A recovered state is still reported with
// IsValid=false and the corrupted field paths, so callers can warn.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
)

// Item is a catalog entry referenced by inventory validation.
type Item struct {
	ID   string
	Name string
	Type string
}

// Catalog resolves item IDs during inventory validation. It is an
// explicitly injected capability; the validator has no ambient access to
// game data.
type Catalog interface {
	// Item returns the catalog entry for id, or false when unknown.
	Item(id string) (Item, bool)
}

// Options control a single Validate call and the validator defaults.
type Options struct {
	// Enabled turns validation on. A disabled validator still computes
	// and returns a checksum but always reports IsValid=true; used only
	// for non-critical paths.
	Enabled bool `koanf:"enabled"`

	// EnableRecovery permits defaulting corrupted sections instead of
	// hard-failing, when it can be done without losing the rest of the
	// state.
	EnableRecovery bool `koanf:"enable_recovery"`

	// StrictMode disables recovery and makes any mismatch a hard failure.
	StrictMode bool `koanf:"strict_mode"`
}

// Result reports the outcome of a Validate call.
type Result struct {
	// IsValid is true only when every check passed. A recovered state is
	// still reported invalid.
	IsValid bool `json:"isValid"`

	// Checksum is the digest computed over the sanitized canonical state.
	Checksum string `json:"checksum"`

	// Errors lists structural problems in human-readable form.
	Errors []string `json:"errors,omitempty"`

	// CorruptedFields lists the paths of fields that failed validation.
	CorruptedFields []string `json:"corruptedFields,omitempty"`

	// RecoveredData is populated only when recovery is enabled and
	// succeeded. It carries the state with corrupted sections defaulted.
	RecoveredData saves.GameState `json:"recoveredData,omitempty"`
}

// Validator performs checksum and structural validation of game states.
type Validator struct {
	opts    Options
	catalog Catalog
}

// NewValidator builds a validator. catalog may be nil, in which case
// inventory item IDs are not cross-checked.
func NewValidator(opts Options, catalog Catalog) *Validator {
	return &Validator{opts: opts, catalog: catalog}
}

// Checksum computes the stable digest of state. The state is sanitized
// first so the digest is independent of volatile fields and of any
// non-serializable members the client left behind.
func (v *Validator) Checksum(state saves.GameState) (string, error) {
	canonical, err := canonicalJSON(Sanitize(state))
	if err != nil {
		return "", fmt.Errorf("canonicalize state: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Validate recomputes the state checksum, compares it against
// expectedChecksum when non-empty, and runs structural checks. When
// recovery is permitted and a corrupted section can be safely defaulted,
// RecoveredData is populated while IsValid stays false.
func (v *Validator) Validate(state saves.GameState, expectedChecksum string) *Result {
	res := &Result{}

	checksum, err := v.Checksum(state)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("state is not serializable: %v", err))
		return res
	}
	res.Checksum = checksum

	if !v.opts.Enabled {
		// Non-critical path: report the checksum but do not judge.
		res.IsValid = true
		return res
	}

	v.checkStructure(state, res)

	if expectedChecksum != "" && checksum != expectedChecksum {
		res.Errors = append(res.Errors,
			fmt.Sprintf("checksum mismatch: computed %.12s…, expected %.12s…", checksum, expectedChecksum))
		res.CorruptedFields = append(res.CorruptedFields, "checksum")
	}

	if len(res.Errors) == 0 && len(res.CorruptedFields) == 0 {
		res.IsValid = true
		return res
	}

	if v.opts.EnableRecovery && !v.opts.StrictMode {
		if recovered, ok := v.recover(state, res.CorruptedFields); ok {
			res.RecoveredData = recovered
		}
	}
	return res
}

// checkStructure verifies the required top-level sections and the shape
// of their contents, appending findings to res.
func (v *Validator) checkStructure(state saves.GameState, res *Result) {
	if state == nil {
		res.Errors = append(res.Errors, "state is nil")
		res.CorruptedFields = append(res.CorruptedFields, "$")
		return
	}

	for _, section := range saves.RequiredSections {
		raw, present := state[section]
		if !present || raw == nil {
			res.Errors = append(res.Errors, fmt.Sprintf("missing required section %q", section))
			res.CorruptedFields = append(res.CorruptedFields, section)
			continue
		}

		switch section {
		case saves.SectionInventory:
			items, ok := asSlice(raw)
			if !ok {
				res.Errors = append(res.Errors, "inventory is not a list")
				res.CorruptedFields = append(res.CorruptedFields, section)
				continue
			}
			v.checkInventory(items, res)
		default:
			if _, ok := asMap(raw); !ok {
				res.Errors = append(res.Errors, fmt.Sprintf("section %q is not an object", section))
				res.CorruptedFields = append(res.CorruptedFields, section)
			}
		}
	}

	v.checkPlayer(state, res)
}

// checkPlayer validates the player section fields the rest of the game
// relies on.
func (v *Validator) checkPlayer(state saves.GameState, res *Result) {
	player, ok := asMap(state[saves.SectionPlayer])
	if !ok {
		return // already reported by checkStructure
	}

	if lvl, present := player["level"]; present {
		if n, ok := asNumber(lvl); !ok || n < 1 {
			res.Errors = append(res.Errors, "player.level is not a positive number")
			res.CorruptedFields = append(res.CorruptedFields, "player.level")
		}
	}
}

// checkInventory validates inventory entries and, when a catalog is
// injected, cross-checks item IDs against it.
func (v *Validator) checkInventory(items []any, res *Result) {
	for i, raw := range items {
		entry, ok := asMap(raw)
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("inventory[%d] is not an object", i))
			res.CorruptedFields = append(res.CorruptedFields, fmt.Sprintf("inventory[%d]", i))
			continue
		}

		id, _ := entry["id"].(string)
		if id == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("inventory[%d] has no item id", i))
			res.CorruptedFields = append(res.CorruptedFields, fmt.Sprintf("inventory[%d].id", i))
			continue
		}

		if v.catalog != nil {
			if _, known := v.catalog.Item(id); !known {
				res.Errors = append(res.Errors, fmt.Sprintf("inventory[%d] references unknown item %q", i, id))
				res.CorruptedFields = append(res.CorruptedFields, fmt.Sprintf("inventory[%d].id", i))
			}
		}
	}
}

// recover builds a copy of state with corrupted sections defaulted. It
// succeeds only when the state as a whole is still an object; a payload
// that lost all structure cannot be repaired.
func (v *Validator) recover(state saves.GameState, corrupted []string) (saves.GameState, bool) {
	if state == nil {
		return nil, false
	}

	recovered := Sanitize(state)
	for _, path := range corrupted {
		switch path {
		case "$":
			return nil, false
		case saves.SectionPlayer:
			recovered[saves.SectionPlayer] = map[string]any{"level": 1}
		case saves.SectionInventory:
			recovered[saves.SectionInventory] = []any{}
		case saves.SectionStory, saves.SectionWorld:
			recovered[path] = map[string]any{}
		case "player.level":
			if player, ok := asMap(recovered[saves.SectionPlayer]); ok {
				player["level"] = 1
			}
		case "checksum":
			// Nothing to repair in the state itself; the caller re-hashes.
		default:
			// Corrupted inventory entries: drop them, keep the rest.
		}
	}
	recovered[saves.SectionInventory] = dropCorruptedItems(recovered, corrupted)

	return recovered, true
}

// dropCorruptedItems removes inventory entries whose paths were flagged.
func dropCorruptedItems(state saves.GameState, corrupted []string) []any {
	items, ok := asSlice(state[saves.SectionInventory])
	if !ok {
		return []any{}
	}

	bad := make(map[int]bool)
	for _, path := range corrupted {
		var idx int
		if n, _ := fmt.Sscanf(path, "inventory[%d]", &idx); n == 1 {
			bad[idx] = true
		}
	}
	if len(bad) == 0 {
		return items
	}

	kept := make([]any, 0, len(items))
	for i, it := range items {
		if !bad[i] {
			kept = append(kept, it)
		}
	}
	return kept
}

// canonicalJSON serializes a value with deterministic key ordering.
// goccy/go-json already emits map keys in sorted order, matching
// encoding/json; the explicit sort here pins the top level so the digest
// does not depend on library internals.
func canonicalJSON(state saves.GameState) ([]byte, error) {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(state[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	return append(buf, '}'), nil
}

// asMap, asSlice and asNumber tolerate both in-memory and
// JSON-round-tripped representations of the state.

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
