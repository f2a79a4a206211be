// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package gateway

import (
	"context"
	"sort"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/identity"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/logging"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/metrics"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
)

// StorageStats aggregates the user's metadata documents into quota
// usage: save count, used bytes against the quota, and the per-slot
// breakdown.
func (s *Service) StorageStats(ctx context.Context, id identity.Identity) saves.Result[*saves.StorageStats] {
	opID := saves.NewOperationID()
	started := s.now()
	ctx = logging.ContextWithOperationID(ctx, opID)

	var res saves.Result[*saves.StorageStats]
	stats, err := s.storageStats(ctx, id.UID)
	if err != nil {
		res = failResult[*saves.StorageStats](err)
	} else {
		res = okResult(stats)
	}
	res.OperationID = opID
	res.Timestamp = s.now().UTC()
	res.ExecutionTime = s.now().Sub(started)

	metrics.RecordOperation("storage_stats", started, err)
	return res
}

func (s *Service) storageStats(ctx context.Context, uid string) (*saves.StorageStats, error) {
	metas, err := s.queryMetadata(ctx, uid)
	if err != nil {
		return nil, err
	}

	stats := &saves.StorageStats{
		SaveCount: len(metas),
		MaxBytes:  s.cfg.QuotaBytes,
	}
	for _, md := range metas {
		stats.UsedBytes += md.CompressedSize
		stats.PerSlotBreakdown = append(stats.PerSlotBreakdown, saves.SlotUsage{
			SlotNumber:     md.SlotNumber,
			SaveName:       md.SaveName,
			CompressedSize: md.CompressedSize,
		})
	}
	sort.Slice(stats.PerSlotBreakdown, func(i, j int) bool {
		return stats.PerSlotBreakdown[i].SlotNumber < stats.PerSlotBreakdown[j].SlotNumber
	})
	return stats, nil
}

// CompressionStats aggregates compression facts across the user's
// saves: totals, average ratio and the algorithm histogram.
func (s *Service) CompressionStats(ctx context.Context, id identity.Identity) saves.Result[*saves.CompressionStats] {
	opID := saves.NewOperationID()
	started := s.now()
	ctx = logging.ContextWithOperationID(ctx, opID)

	var res saves.Result[*saves.CompressionStats]
	stats, err := s.compressionStats(ctx, id.UID)
	if err != nil {
		res = failResult[*saves.CompressionStats](err)
	} else {
		res = okResult(stats)
	}
	res.OperationID = opID
	res.Timestamp = s.now().UTC()
	res.ExecutionTime = s.now().Sub(started)

	metrics.RecordOperation("compression_stats", started, err)
	return res
}

func (s *Service) compressionStats(ctx context.Context, uid string) (*saves.CompressionStats, error) {
	metas, err := s.queryMetadata(ctx, uid)
	if err != nil {
		return nil, err
	}

	stats := &saves.CompressionStats{
		SaveCount:          len(metas),
		AlgorithmHistogram: make(map[string]int),
	}
	var ratioSum float64
	for _, md := range metas {
		stats.TotalDataSize += md.DataSize
		stats.TotalCompressed += md.CompressedSize
		stats.AlgorithmHistogram[md.CompressionAlgorithm]++
		ratioSum += md.CompressionRatio
	}
	if len(metas) > 0 {
		stats.AverageRatio = ratioSum / float64(len(metas))
	}
	return stats, nil
}
