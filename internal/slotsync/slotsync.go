// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package slotsync classifies the relationship between a slot's local
// and cloud copies. The resolver only decides which gateway operation
// the caller should run next; it never moves data itself, and it never
// auto-resolves a conflict, because a silent overwrite could destroy a
// player's progress.
package slotsync

import (
	"time"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
)

// Action is the resolver's verdict for one slot.
type Action string

const (
	// ActionUpload means the local copy should replace the cloud copy.
	ActionUpload Action = "upload"
	// ActionDownload means the cloud copy should replace the local copy.
	ActionDownload Action = "download"
	// ActionSkip means both copies already agree.
	ActionSkip Action = "skip"
	// ActionConflict means the copies diverged at the same timestamp and
	// the player has to choose. Never auto-resolved.
	ActionConflict Action = "conflict"
)

// LocalSave describes the on-device copy of a slot.
type LocalSave struct {
	SlotNumber   int       `json:"slotNumber"`
	LastModified time.Time `json:"lastModified"`
	Checksum     string    `json:"checksum"`
}

// Decision is the resolver output: the action plus a human-readable
// reason suitable for sync UI.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Resolve compares the local descriptor with the cloud metadata for the
// same slot. Either side may be nil, meaning that copy does not exist.
//
// When both copies exist, identical checksums always mean skip; for
// differing content the newer timestamp wins, and an exact timestamp tie
// with differing content is a conflict.
func Resolve(local *LocalSave, remote *saves.SaveMetadata) Decision {
	switch {
	case local == nil && remote == nil:
		return Decision{Action: ActionSkip, Reason: "slot is empty on both sides"}
	case remote == nil:
		return Decision{Action: ActionUpload, Reason: "slot has no cloud copy"}
	case local == nil:
		return Decision{Action: ActionDownload, Reason: "slot has no local copy"}
	}

	if local.Checksum == remote.Checksum {
		return Decision{Action: ActionSkip, Reason: "local and cloud copies are identical"}
	}

	switch {
	case local.LastModified.After(remote.UpdatedAt):
		return Decision{Action: ActionUpload, Reason: "local copy is newer"}
	case local.LastModified.Before(remote.UpdatedAt):
		return Decision{Action: ActionDownload, Reason: "cloud copy is newer"}
	default:
		return Decision{Action: ActionConflict, Reason: "copies diverged at the same timestamp"}
	}
}
