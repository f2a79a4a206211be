// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package events carries save-lifecycle notifications between the gateway
// and interested consumers (UI prompts, quota banners, sync indicators).
// The bus is an in-process Watermill pub/sub; every event is a versioned
// JSON envelope so consumers can evolve independently of the gateway.
package events

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SchemaVersion is the current event envelope version.
const SchemaVersion = 1

// Kind identifies the event type on the wire.
type Kind string

const (
	// KindSaveCompleted fires after a save reaches synced status.
	KindSaveCompleted Kind = "save.completed"
	// KindSaveFailed fires when a save operation returns an error result.
	KindSaveFailed Kind = "save.failed"
	// KindQuotaWarning fires when storage usage crosses the configured
	// threshold of the user's quota.
	KindQuotaWarning Kind = "quota.warning"
	// KindSyncConflict fires when slot resolution detects divergent
	// local and cloud saves that need a manual decision.
	KindSyncConflict Kind = "sync.conflict"
)

// Topic is the single bus topic all save events are published on.
const Topic = "saves.events"

// Event is the canonical envelope for every save-lifecycle notification.
type Event struct {
	SchemaVersion int       `json:"schemaVersion"`
	EventID       string    `json:"eventId"`
	Kind          Kind      `json:"kind"`
	Timestamp     time.Time `json:"timestamp"`

	// Subject
	UserID     string `json:"userId"`
	SlotNumber int    `json:"slotNumber,omitempty"`
	SaveName   string `json:"saveName,omitempty"`

	// OperationID ties the event back to the gateway result envelope.
	OperationID string `json:"operationId,omitempty"`

	// ErrorCode and Message carry failure detail for save.failed.
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`

	// UsedBytes and MaxBytes carry quota detail for quota.warning.
	UsedBytes int64 `json:"usedBytes,omitempty"`
	MaxBytes  int64 `json:"maxBytes,omitempty"`
}

// New builds an event of the given kind with a fresh ID and timestamp.
func New(kind Kind, userID string) Event {
	return Event{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		Kind:          kind,
		Timestamp:     time.Now().UTC(),
		UserID:        userID,
	}
}

// Encode serializes the event for the bus.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an event envelope from the bus payload.
func Decode(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
