// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package integrity

import (
	"reflect"
	"strings"
)

// volatileFields are state members whose values legitimately differ
// between two equivalent saves. They are stripped before hashing so the
// checksum is deterministic.
var volatileFields = map[string]bool{
	"sessionStartTime": true,
	"lastSavedAt":      true,
	"saveTimestamp":    true,
	"deviceClock":      true,
}

// Sanitize returns a deep copy of state with non-serializable members
// (functions, channels, etc.), volatile timestamp fields and transient
// underscore-prefixed keys removed. The input is never mutated.
func Sanitize(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	out, _ := sanitizeValue(state, 0).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// maxSanitizeDepth bounds recursion so that a cyclic state cannot hang
// the validator. Anything nested deeper is dropped; the later canonical
// marshal reports the cycle as a serialization error.
const maxSanitizeDepth = 64

// sanitizeValue recursively copies v, dropping anything that cannot be
// serialized deterministically. Returns nil for dropped values.
func sanitizeValue(v any, depth int) any {
	if depth > maxSanitizeDepth {
		return nil
	}

	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if volatileFields[k] || strings.HasPrefix(k, "_") {
				continue
			}
			if !serializable(inner) {
				continue
			}
			out[k] = sanitizeValue(inner, depth+1)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, inner := range val {
			if !serializable(inner) {
				continue
			}
			out = append(out, sanitizeValue(inner, depth+1))
		}
		return out
	default:
		return v
	}
}

// serializable reports whether a value can appear in canonical JSON.
func serializable(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer,
		reflect.Complex64, reflect.Complex128:
		return false
	default:
		return true
	}
}
