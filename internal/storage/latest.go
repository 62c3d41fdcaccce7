package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"gorm.io/gorm"
)

const latestCachePrefix = "snapshot:latest:"

// LatestItem 快照条目叠加当前的富化状态
type LatestItem struct {
	SnapshotItem
	EnrichmentStatus string  `json:"enrichment_status"`
	ArtifactRef      *string `json:"artifact_ref,omitempty"`
}

// LatestView 对外返回的最新已发布快照
type LatestView struct {
	SnapshotID  string       `json:"snapshot_id"`
	DataVersion string       `json:"data_version"`
	BuiltAt     time.Time    `json:"built_at"`
	RangeStart  time.Time    `json:"range_start"`
	RangeEnd    time.Time    `json:"range_end"`
	AlgoVersion string       `json:"algo_version"`
	Items       []LatestItem `json:"items"`
}

func latestCacheKey(dataVersion string) string {
	return latestCachePrefix + dataVersion
}

// GetPointer 读取 latest 指针；从未发布过时返回 apperr.ErrNotFound
func (s *Store) GetPointer(ctx context.Context) (*SnapshotPointer, error) {
	return s.pointer(ctx, s.DB)
}

func (s *Store) pointer(ctx context.Context, tx *gorm.DB) (*SnapshotPointer, error) {
	var ptr SnapshotPointer
	err := tx.WithContext(ctx).Where("name = ?", latestPointerName).First(&ptr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("latest snapshot: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ptr, nil
}

// GetLatest 返回最新已发布快照。指针每次都从数据库读，保证读到最近一次提交的发布；
// 组装好的响应按 data_version 缓存在 Redis，新发布自然换 key。
func (s *Store) GetLatest(ctx context.Context) (*LatestView, error) {
	ptr, err := s.GetPointer(ctx)
	if err != nil {
		return nil, err
	}
	if view := s.cachedLatest(ctx, ptr.DataVersion); view != nil {
		return view, nil
	}

	// 指针可能在上面读取之后被切换、旧快照随即被清理，所以快照行按当前指针联表读取
	var (
		snap    Snapshot
		records []EnrichmentRecord
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Joins("JOIN snapshot_pointers ON snapshot_pointers.snapshot_id = snapshots.snapshot_id").
			Where("snapshot_pointers.name = ? AND snapshots.status = ?", latestPointerName, StatusPublished).
			First(&snap).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("latest snapshot: %w", apperr.ErrNotFound)
		}
		if err != nil {
			return err
		}
		records, err = listEnrichment(tx, snap.SnapshotID, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	view := assembleLatest(&snap, records)
	s.cacheLatest(ctx, view)
	return view, nil
}

func (s *Store) cachedLatest(ctx context.Context, dataVersion string) *LatestView {
	if s.Redis == nil {
		return nil
	}
	bs, err := s.Redis.Get(ctx, latestCacheKey(dataVersion)).Bytes()
	if err != nil {
		return nil
	}
	var cached LatestView
	if err := json.Unmarshal(bs, &cached); err != nil {
		return nil
	}
	return &cached
}

func (s *Store) cacheLatest(ctx context.Context, view *LatestView) {
	if s.Redis == nil || s.CacheTTL <= 0 || view.DataVersion == "" {
		return
	}
	bs, err := json.Marshal(view)
	if err != nil {
		return
	}
	key := latestCacheKey(view.DataVersion)
	if err := s.Redis.Set(ctx, key, bs, s.CacheTTL).Err(); err != nil {
		s.log.Debug("cache latest snapshot failed", "key", key, "error", err)
	}
}

func assembleLatest(snap *Snapshot, records []EnrichmentRecord) *LatestView {
	byStory := make(map[string]EnrichmentRecord, len(records))
	for _, r := range records {
		byStory[r.StoryID] = r
	}

	view := &LatestView{
		SnapshotID:  snap.SnapshotID,
		RangeStart:  snap.RangeStart.UTC(),
		RangeEnd:    snap.RangeEnd.UTC(),
		AlgoVersion: snap.AlgoVersion,
		Items:       make([]LatestItem, 0, len(snap.Items)),
	}
	if snap.DataVersion != nil {
		view.DataVersion = *snap.DataVersion
	}
	if snap.BuiltAt != nil {
		view.BuiltAt = snap.BuiltAt.UTC()
	}
	for _, it := range snap.Items {
		li := LatestItem{SnapshotItem: it, EnrichmentStatus: EnrichmentNotApplicable}
		if r, ok := byStory[it.StoryID]; ok {
			li.EnrichmentStatus = r.Status
			li.ArtifactRef = r.ArtifactRef
		}
		view.Items = append(view.Items, li)
	}
	return view
}

// HasNewerThan 判断 latest 指针是否已指向别的快照；从未发布过时返回 false
func (s *Store) HasNewerThan(ctx context.Context, snapshotID string) (bool, *SnapshotPointer, error) {
	ptr, err := s.GetPointer(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return ptr.SnapshotID != snapshotID, ptr, nil
}

// HasNewerVersion 与 HasNewerThan 相同，但以客户端持有的 data_version 比较
func (s *Store) HasNewerVersion(ctx context.Context, dataVersion string) (bool, *SnapshotPointer, error) {
	ptr, err := s.GetPointer(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return ptr.DataVersion != dataVersion, ptr, nil
}

// InvalidateLatest 删除当前 latest 的缓存，富化状态变化后调用
func (s *Store) InvalidateLatest(ctx context.Context) {
	if s.Redis == nil {
		return
	}
	ptr, err := s.GetPointer(ctx)
	if err != nil {
		return
	}
	if err := s.Redis.Del(ctx, latestCacheKey(ptr.DataVersion)).Err(); err != nil {
		s.log.Debug("invalidate latest cache failed", "data_version", ptr.DataVersion, "error", err)
	}
}
