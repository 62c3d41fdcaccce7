package storage

import (
	"context"
	"errors"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"gorm.io/gorm"
)

// PruneResult 一次清理删除的行数
type PruneResult struct {
	Snapshots         int64
	EnrichmentRecords int64
	Observations      int64
	// Kept 因为是 latest 而被保留的快照 id，可能为空
	Kept string
}

// Prune 删除 cutoff 之前结束（未构建完成的按开始时间）的快照及其富化记录，
// 以及 observationCutoff 之前的观测。latest 指向的快照与构建中的记录永远保留，stories 不删。
// observationCutoff 由调用方保证不晚于当前窗口的起点，否则下一次构建会缺数据。
func (s *Store) Prune(ctx context.Context, cutoff, observationCutoff time.Time) (PruneResult, error) {
	cutoff = cutoff.UTC()
	observationCutoff = observationCutoff.UTC()
	var res PruneResult

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ptr, err := s.pointer(ctx, tx)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		q := tx.Model(&Snapshot{}).
			Where("status <> ?", StatusBuilding).
			Where("COALESCE(built_at, started_at) < ?", cutoff)
		if ptr != nil {
			res.Kept = ptr.SnapshotID
			q = q.Where("snapshot_id <> ?", ptr.SnapshotID)
		}
		var ids []string
		if err := q.Pluck("snapshot_id", &ids).Error; err != nil {
			return err
		}

		for from := 0; from < len(ids); from += inChunkSize {
			to := from + inChunkSize
			if to > len(ids) {
				to = len(ids)
			}
			chunk := ids[from:to]

			r := tx.Where("snapshot_id IN ?", chunk).Delete(&EnrichmentRecord{})
			if r.Error != nil {
				return r.Error
			}
			res.EnrichmentRecords += r.RowsAffected

			r = tx.Where("snapshot_id IN ?", chunk).Delete(&Snapshot{})
			if r.Error != nil {
				return r.Error
			}
			res.Snapshots += r.RowsAffected
		}

		r := tx.Where("observed_at < ?", observationCutoff).Delete(&Observation{})
		if r.Error != nil {
			return r.Error
		}
		res.Observations = r.RowsAffected
		return nil
	})
	if err != nil {
		return PruneResult{}, err
	}
	return res, nil
}
