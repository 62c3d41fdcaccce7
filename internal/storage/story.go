package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"github.com/LJTian/TrendingVault/internal/processor"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 内容字段：新值非空才覆盖旧值
var truthyMergeColumns = []string{
	"title",
	"description",
	"generated_summary",
	"generated_secondary_text",
	"url",
}

// UpsertStory 单条语句完成插入或按字段合并，避免“先读后写”导致的更新丢失。
// 来源属性与 first_seen_at 只在插入时写入；updated_at 每次都会刷新。
func (s *Store) UpsertStory(ctx context.Context, tx *gorm.DB, st *Story) error {
	if st.StoryID == "" {
		return fmt.Errorf("upsert story: empty story_id")
	}
	st.Title = truncateRunesDB(toValidUTF8(st.Title), 512)
	st.Description = truncateRunesDB(toValidUTF8(st.Description), 600)
	st.GeneratedSummary = toValidUTF8(st.GeneratedSummary)
	st.GeneratedSecondaryText = toValidUTF8(st.GeneratedSecondaryText)
	st.URL = truncateRunesDB(st.URL, 1024)
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	if st.FirstSeenAt.IsZero() {
		st.FirstSeenAt = st.UpdatedAt
	}

	set := make(clause.Set, 0, len(truthyMergeColumns)+1)
	for _, col := range truthyMergeColumns {
		set = append(set, clause.Assignment{
			Column: clause.Column{Name: col},
			Value:  gorm.Expr(fmt.Sprintf("COALESCE(NULLIF(excluded.%s, ''), stories.%s)", col, col)),
		})
	}
	set = append(set, clause.Assignment{
		Column: clause.Column{Name: "updated_at"},
		Value:  gorm.Expr("excluded.updated_at"),
	})

	return s.db(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "story_id"}},
		DoUpdates: set,
	}).Create(st).Error
}

// GetStory 按 story_id 读取规范实体
func (s *Store) GetStory(ctx context.Context, storyID string) (*Story, error) {
	var st Story
	err := s.DB.WithContext(ctx).Where("story_id = ?", storyID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("story %s: %w", storyID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// RecordObservation 追加一条采集指标
func (s *Store) RecordObservation(ctx context.Context, tx *gorm.DB, obs *Observation) error {
	return s.db(ctx, tx).Create(obs).Error
}

// SaveOptions 批量入库的并发与重试参数
type SaveOptions struct {
	Parallelism int
	MaxAttempts int
	// InitialBackoff 为零时取 50ms
	InitialBackoff time.Duration
}

// ItemFailure 单条入库失败
type ItemFailure struct {
	StoryID string
	Err     error
}

// SaveReport 一批入库的结果统计
type SaveReport struct {
	Saved    int
	Failed   []ItemFailure
	Attempts int
}

// SaveBatch 保存一批采集结果：每条在独立事务内 upsert story 并追加 observation。
// 单条失败只记录不中断整批；可重试的争用错误按指数退避重试，次数有上限。
func (s *Store) SaveBatch(ctx context.Context, runID string, observedAt time.Time, items []processor.ProcessedStory, opts SaveOptions) (SaveReport, error) {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 50 * time.Millisecond
	}
	observedAt = observedAt.UTC()

	var (
		mu     sync.Mutex
		report SaveReport
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)

	for _, it := range items {
		item := it
		g.Go(func() error {
			attempts, err := s.saveOne(gctx, runID, observedAt, item, opts)

			mu.Lock()
			defer mu.Unlock()
			report.Attempts += attempts
			if err != nil {
				report.Failed = append(report.Failed, ItemFailure{StoryID: item.StoryID, Err: err})
				s.log.Warn("save story failed", "story_id", item.StoryID, "platform", item.Platform, "attempts", attempts, "error", err)
				return nil
			}
			report.Saved++
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Store) saveOne(ctx context.Context, runID string, observedAt time.Time, it processor.ProcessedStory, opts SaveOptions) (int, error) {
	st := &Story{
		StoryID:                it.StoryID,
		SourceID:               it.SourceID,
		Platform:               it.Platform,
		PublishTimeKnown:       !it.PublishTime.IsZero(),
		Title:                  it.Title,
		Description:            it.Description,
		GeneratedSummary:       it.GeneratedSummary,
		GeneratedSecondaryText: it.GeneratedSecondaryText,
		URL:                    it.URL,
		FirstSeenAt:            observedAt,
		UpdatedAt:              observedAt,
	}
	if st.PublishTimeKnown {
		pt := it.PublishTime.UTC()
		st.PublishTime = &pt
	}

	var raw datatypes.JSONMap
	if len(it.RawData) > 0 {
		raw = datatypes.JSONMap(it.RawData)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialBackoff
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.MaxAttempts-1)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		// 每次重试都用新的结构体，避免上一次失败留下的自增主键
		obs := &Observation{
			RunID:           runID,
			StoryID:         it.StoryID,
			ObservedAt:      observedAt,
			ViewCount:       it.Metrics.Views,
			LikeCount:       it.Metrics.Likes,
			CommentCount:    it.Metrics.Comments,
			PopularityScore: it.PopularityScore,
			AlgoVersion:     it.AlgoVersion,
			RawData:         raw,
		}
		story := *st
		txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.UpsertStory(ctx, tx, &story); err != nil {
				return err
			}
			return s.RecordObservation(ctx, tx, obs)
		})
		if txErr == nil {
			return nil
		}
		if isTransient(txErr) {
			return fmt.Errorf("%w: %w", apperr.ErrUpsertConflict, txErr)
		}
		return backoff.Permanent(txErr)
	}, policy)
	return attempts, err
}
