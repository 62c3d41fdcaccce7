package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const staleLockReason = "stale lock released"

// BeginBuildInput 新建构建记录所需的参数；时间由调用方给出
type BeginBuildInput struct {
	SnapshotID  string
	Trigger     string
	RangeStart  time.Time
	RangeEnd    time.Time
	AlgoVersion string
	Now         time.Time
	// StaleBefore 之前开始且仍在 building 的记录视为崩溃残留
	StaleBefore time.Time
}

// BeginBuild 插入一条 building 记录作为构建锁。
// building_slot 的唯一索引保证同一时刻只有一条；冲突时若持有者已超时则强制释放并重试一次，
// 否则立即返回 *apperr.BuildInProgressError，不排队等待。
func (s *Store) BeginBuild(ctx context.Context, in BeginBuildInput) (*Snapshot, error) {
	for attempt := 0; attempt < 2; attempt++ {
		one := 1
		snap := &Snapshot{
			SnapshotID:   in.SnapshotID,
			Status:       StatusBuilding,
			BuildingSlot: &one,
			Trigger:      in.Trigger,
			RangeStart:   in.RangeStart.UTC(),
			RangeEnd:     in.RangeEnd.UTC(),
			StartedAt:    in.Now.UTC(),
			AlgoVersion:  in.AlgoVersion,
		}
		err := s.DB.WithContext(ctx).Create(snap).Error
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("begin build: %w", err)
		}

		holder, herr := s.buildingHolder(ctx)
		if errors.Is(herr, gorm.ErrRecordNotFound) {
			// 持有者恰好结束，直接再抢一次
			continue
		}
		if herr != nil {
			return nil, fmt.Errorf("begin build: load lock holder: %w", herr)
		}
		if attempt > 0 || !holder.StartedAt.Before(in.StaleBefore.UTC()) {
			return nil, &apperr.BuildInProgressError{SnapshotID: holder.SnapshotID, StartedAt: holder.StartedAt}
		}

		s.log.Warn("releasing stale build lock", "snapshot_id", holder.SnapshotID, "started_at", holder.StartedAt)
		if err := s.Discard(ctx, holder.SnapshotID, staleLockReason); err != nil {
			return nil, fmt.Errorf("begin build: release stale lock: %w", err)
		}
	}
	holder, err := s.buildingHolder(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin build: %w", apperr.ErrBuildInProgress)
	}
	return nil, &apperr.BuildInProgressError{SnapshotID: holder.SnapshotID, StartedAt: holder.StartedAt}
}

func (s *Store) buildingHolder(ctx context.Context) (*Snapshot, error) {
	var holder Snapshot
	err := s.DB.WithContext(ctx).
		Omit("items").
		Where("building_slot = ?", 1).
		First(&holder).Error
	if err != nil {
		return nil, err
	}
	return &holder, nil
}

// PublishInput 发布所需的全部数据，整体在一个事务内写入
type PublishInput struct {
	SnapshotID  string
	Items       []SnapshotItem
	Records     []EnrichmentRecord
	BuiltAt     time.Time
	DataVersion string
}

// Publish 在单个事务里：写入条目并把状态从 building 改为 published、释放锁、
// 切换 latest 指针、创建全部富化记录。读者要么看到旧快照，要么看到完整的新快照。
func (s *Store) Publish(ctx context.Context, in PublishInput) error {
	builtAt := in.BuiltAt.UTC()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Snapshot{}).
			Where("snapshot_id = ? AND status = ?", in.SnapshotID, StatusBuilding).
			Updates(map[string]any{
				"status":        StatusPublished,
				"items":         datatypes.JSONSlice[SnapshotItem](in.Items),
				"item_count":    len(in.Items),
				"built_at":      builtAt,
				"published_at":  builtAt,
				"data_version":  in.DataVersion,
				"building_slot": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("snapshot %s is not building", in.SnapshotID)
		}

		ptr := &SnapshotPointer{
			Name:        latestPointerName,
			SnapshotID:  in.SnapshotID,
			DataVersion: in.DataVersion,
			PublishedAt: builtAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"snapshot_id", "data_version", "published_at"}),
		}).Create(ptr).Error; err != nil {
			return err
		}

		if len(in.Records) > 0 {
			// 富化超时从发布时刻起算
			for i := range in.Records {
				if in.Records[i].CreatedAt.IsZero() {
					in.Records[i].CreatedAt = builtAt
				}
				if in.Records[i].UpdatedAt.IsZero() {
					in.Records[i].UpdatedAt = builtAt
				}
			}
			if err := tx.CreateInBatches(in.Records, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrPublishFailed, err)
	}
	return nil
}

// Discard 把仍在 building 的记录标记为 discarded 并释放锁；已结束的记录不受影响
func (s *Store) Discard(ctx context.Context, snapshotID, reason string) error {
	return s.DB.WithContext(ctx).Model(&Snapshot{}).
		Where("snapshot_id = ? AND status = ?", snapshotID, StatusBuilding).
		Updates(map[string]any{
			"status":         StatusDiscarded,
			"building_slot":  nil,
			"discard_reason": truncateRunesDB(toValidUTF8(reason), 512),
		}).Error
}

// GetSnapshot 按 id 读取快照，任何状态
func (s *Store) GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error) {
	var snap Snapshot
	err := s.DB.WithContext(ctx).Where("snapshot_id = ?", snapshotID).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
