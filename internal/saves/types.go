// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package saves

import (
	"time"
)

// GameState is the serialized application state of one save slot.
//
// The payload is schemaless by origin: the game client ships whatever
// sections it has. The integrity validator enforces the presence and shape
// of the required top-level sections (player, inventory, story, world) and
// strips everything that cannot be serialized deterministically.
type GameState map[string]any

// Required top-level sections of a GameState. Validation fails a state
// that is missing any of these; recovery can default a corrupted one.
const (
	SectionPlayer    = "player"
	SectionInventory = "inventory"
	SectionStory     = "story"
	SectionWorld     = "world"
)

// RequiredSections lists the top-level sections every valid state carries.
var RequiredSections = []string{SectionPlayer, SectionInventory, SectionStory, SectionWorld}

// SyncStatus describes agreement between a slot's local and remote copies.
type SyncStatus string

const (
	// SyncPending marks metadata written but not yet confirmed synced.
	SyncPending SyncStatus = "pending"

	// SyncSynced marks a slot whose remote copy is authoritative.
	SyncSynced SyncStatus = "synced"

	// SyncConflict marks a slot whose local and remote copies diverged
	// at the same timestamp. Conflicts are surfaced, never auto-merged.
	SyncConflict SyncStatus = "conflict"

	// SyncError marks a slot whose last sync attempt failed.
	SyncError SyncStatus = "error"
)

// DeviceInfo identifies the device that produced a save.
type DeviceInfo struct {
	Platform   string `json:"platform"`
	DeviceID   string `json:"deviceId"`
	AppVersion string `json:"appVersion"`
}

// SaveMetadata is the per-slot metadata document, owned exclusively by the
// persistence gateway. One instance exists per slot per user; it is created
// on the first successful save to a slot, updated on every subsequent save
// and deleted together with the slot.
type SaveMetadata struct {
	// ID is the document ID, derived from user and slot.
	ID string `json:"id"`

	// UserID keys the storage path. Opaque; supplied by the identity provider.
	UserID string `json:"userId"`

	// SlotNumber is the save slot index, 0 <= SlotNumber < maxSlots.
	SlotNumber int `json:"slotNumber"`

	// SaveName is the player-visible name of the save.
	SaveName string `json:"saveName"`

	// GameVersion is the client version that produced the save.
	GameVersion string `json:"gameVersion"`

	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastPlayedAt time.Time `json:"lastPlayedAt"`

	// Playtime is accumulated play time in seconds.
	Playtime int64 `json:"playtime"`

	// PlayerLevel and CurrentArea are denormalized from the state for
	// slot listings without blob reads.
	PlayerLevel int    `json:"playerLevel"`
	CurrentArea string `json:"currentArea"`

	// DataSize is the serialized size before compression, CompressedSize
	// after. CompressedSize <= maxSaveSize is enforced before any write.
	DataSize       int64 `json:"dataSize"`
	CompressedSize int64 `json:"compressedSize"`

	// Checksum is the SHA-256 digest of the sanitized, pre-compression
	// canonical state.
	Checksum string `json:"checksum"`

	CompressionRatio     float64 `json:"compressionRatio"`
	CompressionAlgorithm string  `json:"compressionAlgorithm"`
	IsCompressed         bool    `json:"isCompressed"`

	SyncStatus         SyncStatus `json:"syncStatus"`
	IntegrityValidated bool       `json:"integrityValidated"`

	// HasAttachment records whether an attachment blob was uploaded for
	// this slot. Deletion only touches the blob store when this is set;
	// the gateway never probes for objects known not to exist.
	HasAttachment bool   `json:"hasAttachment"`
	AttachmentRef string `json:"attachmentRef,omitempty"`

	DeviceInfo DeviceInfo `json:"deviceInfo"`
}

// SaveListItem is the listing projection of SaveMetadata, ordered by
// recency and bounded by the configured maximum number of saves.
type SaveListItem struct {
	SlotNumber   int        `json:"slotNumber"`
	SaveName     string     `json:"saveName"`
	PlayerLevel  int        `json:"playerLevel"`
	CurrentArea  string     `json:"currentArea"`
	Playtime     int64      `json:"playtime"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastPlayedAt time.Time  `json:"lastPlayedAt"`
	DataSize     int64      `json:"dataSize"`
	SyncStatus   SyncStatus `json:"syncStatus"`
}

// ListItemFromMetadata projects metadata into its listing form.
func ListItemFromMetadata(md *SaveMetadata) SaveListItem {
	return SaveListItem{
		SlotNumber:   md.SlotNumber,
		SaveName:     md.SaveName,
		PlayerLevel:  md.PlayerLevel,
		CurrentArea:  md.CurrentArea,
		Playtime:     md.Playtime,
		UpdatedAt:    md.UpdatedAt,
		LastPlayedAt: md.LastPlayedAt,
		DataSize:     md.DataSize,
		SyncStatus:   md.SyncStatus,
	}
}

// StorageStats aggregates a user's metadata documents for quota reporting.
type StorageStats struct {
	SaveCount       int             `json:"saveCount"`
	UsedBytes       int64           `json:"usedBytes"`
	MaxBytes        int64           `json:"maxBytes"`
	PerSlotBreakdown []SlotUsage    `json:"perSlotBreakdown"`
}

// SlotUsage is the per-slot share of the storage quota.
type SlotUsage struct {
	SlotNumber     int    `json:"slotNumber"`
	SaveName       string `json:"saveName"`
	CompressedSize int64  `json:"compressedSize"`
}

// CompressionStats aggregates compression facts across a user's saves.
type CompressionStats struct {
	SaveCount          int              `json:"saveCount"`
	TotalDataSize      int64            `json:"totalDataSize"`
	TotalCompressed    int64            `json:"totalCompressed"`
	AverageRatio       float64          `json:"averageRatio"`
	AlgorithmHistogram map[string]int   `json:"algorithmHistogram"`
}
