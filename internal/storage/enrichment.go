package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListEnrichment 按名次列出某快照的富化记录；onlyCandidates 时排除 not_applicable
func (s *Store) ListEnrichment(ctx context.Context, snapshotID string, onlyCandidates bool) ([]EnrichmentRecord, error) {
	return listEnrichment(s.DB.WithContext(ctx), snapshotID, onlyCandidates)
}

func listEnrichment(db *gorm.DB, snapshotID string, onlyCandidates bool) ([]EnrichmentRecord, error) {
	q := db.Where("snapshot_id = ?", snapshotID)
	if onlyCandidates {
		q = q.Where("status <> ?", EnrichmentNotApplicable)
	}
	var records []EnrichmentRecord
	if err := q.Order("rank").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateEnrichment 在事务内锁定一条富化记录并交给 apply 修改；apply 返回 false 表示无需写回。
// 状态机规则由调用方在 apply 中实现，这里只保证读改写的原子性。
func (s *Store) UpdateEnrichment(ctx context.Context, snapshotID, storyID string, apply func(*EnrichmentRecord) (bool, error)) (*EnrichmentRecord, error) {
	var out EnrichmentRecord
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec EnrichmentRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("snapshot_id = ? AND story_id = ?", snapshotID, storyID).
			First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("enrichment record %s/%s: %w", snapshotID, storyID, apperr.ErrNotFound)
		}
		if err != nil {
			return err
		}

		changed, err := apply(&rec)
		if err != nil {
			return err
		}
		if changed {
			rec.UpdatedAt = time.Now().UTC()
			if err := tx.Model(&EnrichmentRecord{}).
				Where("snapshot_id = ? AND story_id = ?", snapshotID, storyID).
				Updates(map[string]any{
					"status":       rec.Status,
					"artifact_ref": rec.ArtifactRef,
					"reports":      rec.Reports,
					"last_error":   truncateRunesDB(toValidUTF8(rec.LastError), 512),
					"updated_at":   rec.UpdatedAt,
				}).Error; err != nil {
				return err
			}
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExpirePendingEnrichment 把 created_at 早于 before 仍为 pending 的记录标记为 failed。
// 只匹配 pending，not_applicable 与已回报的记录不受影响；worker 之后仍可回报 ready。
func (s *Store) ExpirePendingEnrichment(ctx context.Context, before time.Time, reason string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&EnrichmentRecord{}).
		Where("status = ? AND created_at < ?", EnrichmentPending, before.UTC()).
		Updates(map[string]any{
			"status":       EnrichmentFailed,
			"artifact_ref": nil,
			"last_error":   truncateRunesDB(reason, 512),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("expire pending enrichment: %w", res.Error)
	}
	return res.RowsAffected, nil
}
