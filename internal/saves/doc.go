// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package saves holds the shared domain model of the cloud save system:
// slot metadata, the game state payload, the error taxonomy and the
// discriminated result envelope returned by every gateway operation.
//
// The package is deliberately free of I/O. The persistence gateway
// (internal/gateway) owns the lifecycle of SaveMetadata documents; the
// compressor and integrity validator operate on GameState payloads; the
// HTTP surface serializes Result envelopes as-is.
//
// Invariants carried by this model:
//
//   - A SaveMetadata document never exists without its blob document and
//     vice versa; the pair is written and deleted atomically.
//   - UpdatedAt is monotonically non-decreasing per slot.
//   - Checksum is computed over the sanitized, pre-compression canonical
//     state, so it is independent of the compression algorithm in use.
package saves
