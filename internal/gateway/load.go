// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package gateway

import (
	"context"
	"errors"
	"sort"

	"github.com/goccy/go-json"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/events"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/identity"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/logging"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/metrics"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/remote"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/retry"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/slotsync"
)

// LoadFromCloud reads a slot back: metadata, blob, decompress, then
// integrity validation against the stored checksum. A corrupted state
// that recovery can repair loads successfully with a warning; one it
// cannot repair fails with DATA_CORRUPTED. Attachment URL retrieval is
// best-effort and never fails the load.
func (s *Service) LoadFromCloud(ctx context.Context, id identity.Identity, slot int) saves.Result[*LoadResult] {
	opID := saves.NewOperationID()
	started := s.now()
	ctx = logging.ContextWithOperationID(ctx, opID)

	res := s.load(ctx, id, slot)
	res.OperationID = opID
	res.Timestamp = s.now().UTC()
	res.ExecutionTime = s.now().Sub(started)

	metrics.RecordOperation("load", started, errOf(res.Error))
	return res
}

func (s *Service) load(ctx context.Context, id identity.Identity, slot int) saves.Result[*LoadResult] {
	var warnings []string

	if err := s.validateSlot(slot); err != nil {
		return failResult[*LoadResult](err)
	}

	rawMeta, err := s.readDocument(ctx, s.metadataPath(id.UID, slot))
	if err != nil {
		return failResult[*LoadResult](err)
	}
	var md saves.SaveMetadata
	if err := json.Unmarshal(rawMeta, &md); err != nil {
		return failResult[*LoadResult](saves.Wrap(saves.CodeDataCorrupted, err, "decode save metadata"))
	}

	rawBlob, err := s.readDocument(ctx, s.blobPath(id.UID, slot))
	if err != nil {
		return failResult[*LoadResult](err)
	}
	var blobDoc blobDocument
	if err := json.Unmarshal(rawBlob, &blobDoc); err != nil {
		return failResult[*LoadResult](saves.Wrap(saves.CodeDataCorrupted, err, "decode save blob document"))
	}

	serialized, err := s.codec.Decompress(&blobDoc.Blob)
	if err != nil {
		metrics.RecordIntegrityFailure("blob")
		return failResult[*LoadResult](saves.Wrap(saves.CodeDataCorrupted, err, "decompress save blob"))
	}

	var state saves.GameState
	if err := json.Unmarshal(serialized, &state); err != nil {
		metrics.RecordIntegrityFailure("unserializable")
		return failResult[*LoadResult](saves.Wrap(saves.CodeDataCorrupted, err, "decode save state"))
	}

	check := s.validator.Validate(state, md.Checksum)
	if !check.IsValid {
		if check.RecoveredData == nil {
			metrics.RecordIntegrityFailure("checksum")
			return failResult[*LoadResult](saves.E(saves.CodeDataCorrupted,
				"save failed integrity validation: %v", check.Errors))
		}
		metrics.IntegrityRecoveries.Inc()
		state = check.RecoveredData
		warnings = append(warnings, "save was corrupted and partially recovered; some progress may be defaulted")
	}

	out := &LoadResult{Metadata: &md, State: state}
	if md.HasAttachment && md.AttachmentRef != "" {
		if url, err := s.attachmentURL(ctx, md.AttachmentRef); err != nil {
			warnings = append(warnings, "attachment is unavailable right now")
			logging.Ctx(ctx).Warn().Err(err).Int("slot", slot).Msg("attachment url fetch failed")
		} else {
			out.AttachmentURL = url
		}
	}

	res := okResult(out)
	res.Warnings = warnings
	return res
}

// attachmentURL resolves a signed download URL with a light budget.
func (s *Service) attachmentURL(ctx context.Context, ref string) (string, error) {
	return retry.Do(ctx, s.lightRetry, func(ctx context.Context) (string, error) {
		url, err := s.blobs.SignedURL(ctx, ref)
		if errors.Is(err, remote.ErrNotFound) {
			return "", saves.E(saves.CodeStorageNotFound, "attachment %s is gone", ref)
		}
		if err != nil {
			return "", saves.Wrap(saves.CodeOperationFailed, err, "sign attachment url")
		}
		return url, nil
	})
}

// ListCloudSaves returns the user's saves ordered most recent first,
// bounded by the configured maximum.
func (s *Service) ListCloudSaves(ctx context.Context, id identity.Identity) saves.Result[[]saves.SaveListItem] {
	opID := saves.NewOperationID()
	started := s.now()
	ctx = logging.ContextWithOperationID(ctx, opID)

	res := s.list(ctx, id)
	res.OperationID = opID
	res.Timestamp = s.now().UTC()
	res.ExecutionTime = s.now().Sub(started)

	metrics.RecordOperation("list", started, errOf(res.Error))
	return res
}

func (s *Service) list(ctx context.Context, id identity.Identity) saves.Result[[]saves.SaveListItem] {
	metas, err := s.queryMetadata(ctx, id.UID)
	if err != nil {
		return failResult[[]saves.SaveListItem](err)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	if len(metas) > s.cfg.MaxSaves {
		metas = metas[:s.cfg.MaxSaves]
	}

	items := make([]saves.SaveListItem, len(metas))
	for i := range metas {
		items[i] = saves.ListItemFromMetadata(&metas[i])
	}
	return okResult(items)
}

// queryMetadata reads every metadata document of the user through the
// breaker and network retry budget.
func (s *Service) queryMetadata(ctx context.Context, uid string) ([]saves.SaveMetadata, error) {
	docs, err := retry.Do(ctx, s.networkRetry, func(ctx context.Context) ([]json.RawMessage, error) {
		raw, err := s.docs.Query(ctx, s.metadataCollection(uid), remote.Query{
			OrderBy: "updatedAt",
			Desc:    true,
		})
		if err != nil {
			return nil, saves.Wrap(saves.CodeOperationFailed, err, "query saves")
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}

	metas := make([]saves.SaveMetadata, 0, len(docs))
	for _, raw := range docs {
		var md saves.SaveMetadata
		if err := json.Unmarshal(raw, &md); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("skipping undecodable save metadata")
			continue
		}
		metas = append(metas, md)
	}
	return metas, nil
}

// DeleteCloudSave removes a slot: metadata and blob go in one atomic
// batch, and the attachment is deleted only when metadata records one —
// the gateway never probes for objects known not to exist.
func (s *Service) DeleteCloudSave(ctx context.Context, id identity.Identity, slot int) saves.Result[struct{}] {
	opID := saves.NewOperationID()
	started := s.now()
	ctx = logging.ContextWithOperationID(ctx, opID)

	res := s.delete(ctx, id, slot)
	res.OperationID = opID
	res.Timestamp = s.now().UTC()
	res.ExecutionTime = s.now().Sub(started)

	metrics.RecordOperation("delete", started, errOf(res.Error))
	return res
}

func (s *Service) delete(ctx context.Context, id identity.Identity, slot int) saves.Result[struct{}] {
	var warnings []string

	if err := s.validateSlot(slot); err != nil {
		return failResult[struct{}](err)
	}

	rawMeta, err := s.readDocument(ctx, s.metadataPath(id.UID, slot))
	if err != nil {
		return failResult[struct{}](err)
	}
	var md saves.SaveMetadata
	if err := json.Unmarshal(rawMeta, &md); err != nil {
		// The slot exists but its metadata is garbage; delete proceeds so
		// the player can reuse the slot.
		logging.Ctx(ctx).Warn().Err(err).Int("slot", slot).Msg("deleting slot with undecodable metadata")
	}

	_, err = retry.Do(ctx, s.criticalRetry, func(ctx context.Context) (struct{}, error) {
		batch := s.docs.Batch()
		batch.Delete(s.metadataPath(id.UID, slot))
		batch.Delete(s.blobPath(id.UID, slot))
		if err := batch.Commit(ctx); err != nil {
			return struct{}{}, saves.Wrap(saves.CodeOperationFailed, err, "commit delete batch")
		}
		return struct{}{}, nil
	})
	if err != nil {
		return failResult[struct{}](err)
	}

	if md.HasAttachment && md.AttachmentRef != "" {
		if err := s.deleteAttachment(ctx, md.AttachmentRef); err != nil {
			warnings = append(warnings, "save deleted but its attachment may linger")
			logging.Ctx(ctx).Warn().Err(err).Int("slot", slot).Msg("attachment delete failed")
		}
	}

	res := okResult(struct{}{})
	res.Warnings = warnings
	return res
}

func (s *Service) deleteAttachment(ctx context.Context, ref string) error {
	_, err := retry.Do(ctx, s.lightRetry, func(ctx context.Context) (struct{}, error) {
		err := s.blobs.Delete(ctx, ref)
		if errors.Is(err, remote.ErrNotFound) {
			// Already gone; that is the desired end state.
			return struct{}{}, nil
		}
		if err != nil {
			return struct{}{}, saves.Wrap(saves.CodeOperationFailed, err, "delete attachment")
		}
		return struct{}{}, nil
	})
	return err
}

// SyncSlot classifies the slot's local copy against the cloud copy and
// returns the action the caller should take. A conflict is surfaced to
// the player (and announced on the bus); it is never auto-resolved.
func (s *Service) SyncSlot(ctx context.Context, id identity.Identity, local *slotsync.LocalSave) saves.Result[slotsync.Decision] {
	opID := saves.NewOperationID()
	started := s.now()
	ctx = logging.ContextWithOperationID(ctx, opID)

	res := s.syncSlot(ctx, id, local)
	res.OperationID = opID
	res.Timestamp = s.now().UTC()
	res.ExecutionTime = s.now().Sub(started)

	metrics.RecordOperation("sync", started, errOf(res.Error))
	return res
}

func (s *Service) syncSlot(ctx context.Context, id identity.Identity, local *slotsync.LocalSave) saves.Result[slotsync.Decision] {
	slot := 0
	if local != nil {
		slot = local.SlotNumber
	}
	if err := s.validateSlot(slot); err != nil {
		return failResult[slotsync.Decision](err)
	}

	var remoteMD *saves.SaveMetadata
	rawMeta, err := s.readDocument(ctx, s.metadataPath(id.UID, slot))
	switch {
	case err == nil:
		var md saves.SaveMetadata
		if uerr := json.Unmarshal(rawMeta, &md); uerr != nil {
			return failResult[slotsync.Decision](saves.Wrap(saves.CodeDataCorrupted, uerr, "decode save metadata"))
		}
		remoteMD = &md
	case saves.CodeOf(err) == saves.CodeStorageNotFound:
		// No cloud copy; the resolver handles the missing side.
	default:
		return failResult[slotsync.Decision](err)
	}

	decision := slotsync.Resolve(local, remoteMD)
	if decision.Action == slotsync.ActionConflict {
		e := events.New(events.KindSyncConflict, id.UID)
		e.SlotNumber = slot
		e.Message = decision.Reason
		s.publish(ctx, e)
	}
	return okResult(decision)
}
