// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/events"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/identity"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/integrity"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/logging"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/metrics"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/remote"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/retry"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/validation"
)

// saveNameRules carries the request fields checked by the validator.
type saveNameRules struct {
	SaveName string `validate:"required,savename,max=100"`
}

// SaveToCloud runs the full save pipeline for one slot: validate input,
// sanitize and integrity-check the state, compress, guard the size cap,
// then commit metadata and blob as one atomic batch. The syncStatus flip
// to synced and the attachment upload are best-effort follow-ups that
// never reverse a committed save.
func (s *Service) SaveToCloud(ctx context.Context, id identity.Identity, req SaveRequest) saves.Result[*saves.SaveMetadata] {
	opID := saves.NewOperationID()
	started := s.now()
	ctx = logging.ContextWithOperationID(ctx, opID)

	res := s.save(ctx, id, req)
	res.OperationID = opID
	res.Timestamp = s.now().UTC()
	res.ExecutionTime = s.now().Sub(started)

	metrics.RecordOperation("save", started, errOf(res.Error))
	s.notifySaveOutcome(ctx, id, req, res)
	return res
}

// save is the pipeline body; SaveToCloud stamps the envelope.
func (s *Service) save(ctx context.Context, id identity.Identity, req SaveRequest) saves.Result[*saves.SaveMetadata] {
	var warnings []string

	if err := s.validateSlot(req.SlotNumber); err != nil {
		return failResult[*saves.SaveMetadata](err)
	}
	if verr := validation.ValidateStruct(&saveNameRules{SaveName: req.SaveName}); verr != nil {
		return failResult[*saves.SaveMetadata](verr.ToSaveError())
	}

	// Integrity gate. A recoverable state continues with the repaired
	// copy; anything else is a caller-data problem, never retried.
	state := integrity.Sanitize(req.State)
	check := s.validator.Validate(state, "")
	if !check.IsValid {
		if check.RecoveredData == nil {
			return failResult[*saves.SaveMetadata](saves.E(saves.CodeSaveValidationFailed,
				"save state failed validation: %v", check.Errors))
		}
		state = check.RecoveredData
		warnings = append(warnings, "save state was repaired before writing; corrupted fields were defaulted")
		recheck := s.validator.Validate(state, "")
		check.Checksum = recheck.Checksum
	}

	serialized, err := json.Marshal(state)
	if err != nil {
		return failResult[*saves.SaveMetadata](saves.Wrap(saves.CodeSaveValidationFailed, err,
			"save state is not serializable"))
	}

	blob := s.codec.Compress(serialized)
	metrics.RecordCompression(string(blob.Metadata.Algorithm), blob.Metadata.Ratio, blob.Metadata.IsCompressed)

	// Size guard runs before any remote write.
	if blob.Metadata.CompressedSize > s.cfg.MaxSaveSize {
		return failResult[*saves.SaveMetadata](saves.E(saves.CodeDataInvalid,
			"compressed save is %d bytes, cap is %d", blob.Metadata.CompressedSize, s.cfg.MaxSaveSize))
	}

	now := s.now().UTC()
	md := &saves.SaveMetadata{
		ID:                   saves.NewOperationID(),
		UserID:               id.UID,
		SlotNumber:           req.SlotNumber,
		SaveName:             req.SaveName,
		GameVersion:          req.GameVersion,
		CreatedAt:            now,
		UpdatedAt:            now,
		LastPlayedAt:         now,
		Playtime:             req.Playtime,
		PlayerLevel:          playerLevel(state),
		CurrentArea:          req.CurrentArea,
		DataSize:             blob.Metadata.OriginalSize,
		CompressedSize:       blob.Metadata.CompressedSize,
		Checksum:             check.Checksum,
		CompressionRatio:     blob.Metadata.Ratio,
		CompressionAlgorithm: string(blob.Metadata.Algorithm),
		IsCompressed:         blob.Metadata.IsCompressed,
		SyncStatus:           saves.SyncPending,
		IntegrityValidated:   true,
		DeviceInfo:           req.Device,
	}

	// A resave keeps the slot's identity and creation time.
	if prior := s.priorMetadata(ctx, id.UID, req.SlotNumber); prior != nil {
		md.ID = prior.ID
		md.CreatedAt = prior.CreatedAt
		md.HasAttachment = prior.HasAttachment
		md.AttachmentRef = prior.AttachmentRef
	}

	metaPath := s.metadataPath(id.UID, req.SlotNumber)
	blobPath := s.blobPath(id.UID, req.SlotNumber)
	blobDoc := blobDocument{
		ID:            md.ID,
		UserID:        id.UID,
		SlotNumber:    req.SlotNumber,
		FormatVersion: blob.Metadata.FormatVersion,
		Blob:          *blob,
		UpdatedAt:     now,
	}

	// The atomic pair: metadata and blob commit together or not at all.
	_, err = retry.Do(ctx, s.criticalRetry, func(ctx context.Context) (struct{}, error) {
		batch := s.docs.Batch()
		batch.Set(metaPath, md)
		batch.Set(blobPath, blobDoc)
		if err := batch.Commit(ctx); err != nil {
			return struct{}{}, saves.Wrap(saves.CodeOperationFailed, err, "commit save batch")
		}
		return struct{}{}, nil
	})
	if err != nil {
		return failResult[*saves.SaveMetadata](err)
	}
	metrics.SaveBytesWritten.Add(float64(blob.Metadata.CompressedSize))

	// Best-effort follow-ups. The save is already durable; these only
	// refine it.
	if err := s.flipSynced(ctx, metaPath); err != nil {
		warnings = append(warnings, "save committed but still marked pending; it will sync on the next pass")
		logging.Ctx(ctx).Warn().Err(err).Int("slot", req.SlotNumber).Msg("sync status flip failed")
	} else {
		md.SyncStatus = saves.SyncSynced
	}

	if len(req.Attachment) > 0 {
		if ref, err := s.uploadAttachment(ctx, id.UID, req); err != nil {
			warnings = append(warnings, "attachment upload failed; the save itself is intact")
			logging.Ctx(ctx).Warn().Err(err).Int("slot", req.SlotNumber).Msg("attachment upload failed")
		} else {
			md.HasAttachment = true
			md.AttachmentRef = ref
			_ = s.docs.Update(ctx, metaPath, map[string]any{
				"hasAttachment": true,
				"attachmentRef": ref,
			})
		}
	}

	s.checkQuota(ctx, id)

	res := okResult(md)
	res.Warnings = warnings
	return res
}

// priorMetadata fetches the slot's existing metadata, or nil for a first
// save. Read failures degrade to nil; the save then behaves like a first
// write, which is safe because the batch overwrites both documents.
func (s *Service) priorMetadata(ctx context.Context, uid string, slot int) *saves.SaveMetadata {
	raw, err := s.readDocument(ctx, s.metadataPath(uid, slot))
	if err != nil {
		return nil
	}
	var md saves.SaveMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil
	}
	return &md
}

// flipSynced marks a committed save as synced, with a light retry budget.
func (s *Service) flipSynced(ctx context.Context, metaPath string) error {
	_, err := retry.Do(ctx, s.lightRetry, func(ctx context.Context) (struct{}, error) {
		if err := s.docs.Update(ctx, metaPath, map[string]any{"syncStatus": string(saves.SyncSynced)}); err != nil {
			return struct{}{}, saves.Wrap(saves.CodeOperationFailed, err, "update sync status")
		}
		return struct{}{}, nil
	})
	return err
}

// uploadAttachment pushes the screenshot through the rate limiter and a
// light retry budget.
func (s *Service) uploadAttachment(ctx context.Context, uid string, req SaveRequest) (string, error) {
	if err := s.attachLimiter.Wait(ctx); err != nil {
		return "", saves.Wrap(saves.CodeOperationFailed, err, "attachment rate limit wait")
	}
	return retry.Do(ctx, s.lightRetry, func(ctx context.Context) (string, error) {
		ref, err := s.blobs.Put(ctx, s.attachmentPath(uid, req.SlotNumber), req.Attachment, req.AttachmentType)
		if err != nil {
			return "", saves.Wrap(saves.CodeOperationFailed, err, "upload attachment")
		}
		return ref, nil
	})
}

// BatchSaveToCloud runs independent save pipelines for every item. One
// item's failure never aborts or corrupts the others; the batch as a
// whole succeeds only when every item does.
func (s *Service) BatchSaveToCloud(ctx context.Context, id identity.Identity, items []SaveRequest) saves.BatchResult {
	opID := saves.NewOperationID()
	started := s.now()
	ctx = logging.ContextWithOperationID(ctx, opID)

	batch := saves.BatchResult{
		Success:     true,
		Items:       make([]saves.Result[*saves.SaveMetadata], 0, len(items)),
		OperationID: opID,
	}

	for _, item := range items {
		res := s.save(ctx, id, item)
		res.OperationID = saves.NewOperationID()
		res.Timestamp = s.now().UTC()
		if !res.Success {
			batch.Success = false
		}
		batch.Items = append(batch.Items, res)
	}

	batch.Timestamp = s.now().UTC()
	batch.ExecutionTime = s.now().Sub(started)
	metrics.RecordOperation("batch_save", started, batchError(batch))
	return batch
}

// checkQuota emits a quota warning when the user's stored bytes cross
// the configured threshold. Purely advisory; failures are ignored.
func (s *Service) checkQuota(ctx context.Context, id identity.Identity) {
	if s.cfg.QuotaBytes <= 0 {
		return
	}
	stats, err := s.storageStats(ctx, id.UID)
	if err != nil {
		return
	}
	if float64(stats.UsedBytes) < s.cfg.QuotaWarnThreshold*float64(s.cfg.QuotaBytes) {
		return
	}

	metrics.QuotaWarnings.Inc()
	e := events.New(events.KindQuotaWarning, id.UID)
	e.UsedBytes = stats.UsedBytes
	e.MaxBytes = s.cfg.QuotaBytes
	s.publish(ctx, e)
}

// notifySaveOutcome publishes the save.completed or save.failed event.
func (s *Service) notifySaveOutcome(ctx context.Context, id identity.Identity, req SaveRequest, res saves.Result[*saves.SaveMetadata]) {
	kind := events.KindSaveCompleted
	if !res.Success {
		kind = events.KindSaveFailed
	}
	e := events.New(kind, id.UID)
	e.SlotNumber = req.SlotNumber
	e.SaveName = req.SaveName
	e.OperationID = res.OperationID
	if res.Error != nil {
		e.ErrorCode = string(res.Error.Code)
		e.Message = res.Error.Message
	}
	s.publish(ctx, e)
}

// playerLevel pulls the denormalized level out of the state for listing
// without a blob read.
func playerLevel(state saves.GameState) int {
	player, ok := state[saves.SectionPlayer].(map[string]any)
	if !ok {
		return 0
	}
	switch lvl := player["level"].(type) {
	case float64:
		return int(lvl)
	case int:
		return lvl
	default:
		return 0
	}
}

// failResult and okResult build partial envelopes; the exported methods
// stamp operation metadata.
func failResult[T any](err error) saves.Result[T] {
	return saves.Result[T]{Success: false, Error: saves.AsError(err)}
}

func okResult[T any](data T) saves.Result[T] {
	return saves.Result[T]{Success: true, Data: data}
}

// batchError summarizes a batch outcome for metrics.
func batchError(b saves.BatchResult) error {
	if b.Success {
		return nil
	}
	return saves.E(saves.CodeOperationFailed, "one or more batch items failed")
}

// errOf converts a possibly-nil typed error into a plain error value.
func errOf(err *saves.Error) error {
	if err == nil {
		return nil
	}
	return err
}

// readDocument fetches a document through the circuit breaker and the
// network retry budget. Absent documents surface as STORAGE_NOT_FOUND,
// which is fatal to the retry loop and neutral to the breaker.
func (s *Service) readDocument(ctx context.Context, path string) (json.RawMessage, error) {
	return retry.Do(ctx, s.networkRetry, func(ctx context.Context) (json.RawMessage, error) {
		return s.readBreaker.Execute(func() (json.RawMessage, error) {
			raw, err := s.docs.Get(ctx, path)
			if errors.Is(err, remote.ErrNotFound) {
				return nil, saves.E(saves.CodeStorageNotFound, "no document at %s", path)
			}
			if err != nil {
				return nil, saves.Wrap(saves.CodeOperationFailed, err, "read %s", path)
			}
			return raw, nil
		})
	})
}
