// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package gateway composes the compression codec, integrity validator
// and retry engine into the cloud save persistence surface: save, load,
// list, delete, batch save, slot sync and storage statistics.
//
// Gateway methods never return a bare error. Every call produces a
// discriminated Result envelope carrying either data or a classified
// error, plus an operation ID, completion timestamp and execution time.
// Suspension happens only at remote I/O boundaries and retry backoff
// delays; single-writer-per-slot discipline is the caller's contract,
// and within one slot the only strong guarantee is that a metadata+blob
// batch commits atomically.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/compress"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/config"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/events"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/integrity"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/remote"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/retry"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
)

// Service is the persistence gateway. Construct it with NewService; all
// collaborators are injected, there is no package-level instance.
type Service struct {
	cfg config.CloudSaveConfig

	docs  remote.DocumentStore
	blobs remote.BlobStore

	codec     *compress.Codec
	validator *integrity.Validator

	// bus is optional; a nil bus silently drops notifications.
	bus *events.Bus

	criticalRetry retry.Config
	networkRetry  retry.Config
	lightRetry    retry.Config

	// readBreaker fronts metadata and blob reads so a failing backend
	// sheds load instead of burning every caller's retry budget.
	readBreaker *retry.Breaker[json.RawMessage]

	// attachLimiter paces attachment uploads.
	attachLimiter *rate.Limiter

	now func() time.Time
}

// Deps carries the gateway's collaborators.
type Deps struct {
	Docs  remote.DocumentStore
	Blobs remote.BlobStore

	Codec     *compress.Codec
	Validator *integrity.Validator

	// Bus may be nil to disable event notifications.
	Bus *events.Bus

	// Retry holds the per-class configs; zero values fall back to the
	// built-in presets.
	Retry config.RetryConfig
}

// NewService builds the gateway.
func NewService(cfg config.CloudSaveConfig, deps Deps) (*Service, error) {
	if deps.Docs == nil {
		return nil, fmt.Errorf("gateway requires a document store")
	}
	if deps.Blobs == nil {
		return nil, fmt.Errorf("gateway requires a blob store")
	}
	if deps.Codec == nil {
		return nil, fmt.Errorf("gateway requires a compression codec")
	}
	if deps.Validator == nil {
		return nil, fmt.Errorf("gateway requires an integrity validator")
	}

	limit := rate.Limit(cfg.AttachmentRateLimit)
	if limit <= 0 {
		limit = rate.Inf
	}

	return &Service{
		cfg:           cfg,
		docs:          deps.Docs,
		blobs:         deps.Blobs,
		codec:         deps.Codec,
		validator:     deps.Validator,
		bus:           deps.Bus,
		criticalRetry: deps.Retry.CriticalRetry(),
		networkRetry:  deps.Retry.NetworkRetry(),
		lightRetry:    deps.Retry.LightRetry(),
		readBreaker:   retry.NewBreaker[json.RawMessage]("gateway-reads"),
		attachLimiter: rate.NewLimiter(limit, 1),
		now:           time.Now,
	}, nil
}

// SaveRequest is the input of one save pipeline.
type SaveRequest struct {
	SlotNumber int             `json:"slotNumber"`
	SaveName   string          `json:"saveName"`
	State      saves.GameState `json:"state"`

	GameVersion string           `json:"gameVersion,omitempty"`
	Playtime    int64            `json:"playtime,omitempty"`
	CurrentArea string           `json:"currentArea,omitempty"`
	Device      saves.DeviceInfo `json:"deviceInfo,omitempty"`

	// Attachment is an optional screenshot. Its upload is best-effort
	// and never fails the save.
	Attachment     []byte `json:"-"`
	AttachmentType string `json:"-"`
}

// LoadResult is the payload of a successful load.
type LoadResult struct {
	Metadata *saves.SaveMetadata `json:"metadata"`
	State    saves.GameState     `json:"state"`

	// AttachmentURL is a signed download URL, set only when the slot has
	// an attachment and the URL could be produced.
	AttachmentURL string `json:"attachmentUrl,omitempty"`
}

// blobDocument is the persisted blob shape. FormatVersion is duplicated
// at the top level so decode dispatches on an explicit discriminant,
// never on payload shape.
type blobDocument struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	SlotNumber    int             `json:"slotNumber"`
	FormatVersion int             `json:"formatVersion"`
	Blob          compress.Result `json:"blob"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Storage paths. Metadata and blob documents live in sibling
// subcollections keyed by slot; attachments go to the blob store.
func (s *Service) metadataPath(uid string, slot int) string {
	return fmt.Sprintf("users/%s/saves/%d", uid, slot)
}

func (s *Service) metadataCollection(uid string) string {
	return fmt.Sprintf("users/%s/saves", uid)
}

func (s *Service) blobPath(uid string, slot int) string {
	return fmt.Sprintf("users/%s/save_blobs/%d", uid, slot)
}

func (s *Service) attachmentPath(uid string, slot int) string {
	return fmt.Sprintf("users/%s/attachments/%d", uid, slot)
}

// validateSlot enforces the slot bounds and save-name rules shared by
// all operations.
func (s *Service) validateSlot(slot int) error {
	if slot < 0 || slot >= s.cfg.MaxSlots {
		return saves.E(saves.CodeDataInvalid, "slot %d out of range [0, %d)", slot, s.cfg.MaxSlots)
	}
	return nil
}

// publish drops the event on the bus, if one is wired. Bus failures
// never affect the operation outcome.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, e)
}
