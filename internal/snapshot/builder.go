package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"github.com/LJTian/TrendingVault/internal/storage"
)

// DefaultMinItems 少于该条数的构建不发布
const DefaultMinItems = 5

// WindowSource 提供窗口内的候选 story 及其最近一次观测
type WindowSource interface {
	ListWindowCandidates(ctx context.Context, start, end time.Time) ([]storage.WindowRow, error)
}

// Candidate 待发布的快照内容
type Candidate struct {
	RangeStart time.Time
	RangeEnd   time.Time
	Items      []storage.SnapshotItem
}

type Builder struct {
	src      WindowSource
	topN     int
	minItems int
}

func NewBuilder(src WindowSource, topN, minItems int) *Builder {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if minItems <= 0 {
		minItems = DefaultMinItems
	}
	return &Builder{src: src, topN: topN, minItems: minItems}
}

// Build 计算 [start, end] 窗口的排名。分数原样取自观测，不在这里重算。
// 条数低于阈值时返回 *apperr.InsufficientDataError。
func (b *Builder) Build(ctx context.Context, start, end time.Time) (*Candidate, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("build window: end %s before start %s", end, start)
	}
	rows, err := b.src.ListWindowCandidates(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list window candidates: %w", err)
	}
	if len(rows) < b.minItems {
		return nil, &apperr.InsufficientDataError{Got: len(rows), Want: b.minItems}
	}

	items := make([]storage.SnapshotItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, toItem(r))
	}
	return &Candidate{
		RangeStart: start.UTC(),
		RangeEnd:   end.UTC(),
		Items:      Rank(items, b.topN),
	}, nil
}

// toItem 把观测指标拷进快照，之后读取不再关联实时数据
func toItem(r storage.WindowRow) storage.SnapshotItem {
	st, obs := r.Story, r.Observation
	summary := st.GeneratedSummary
	if summary == "" {
		summary = st.GeneratedSecondaryText
	}
	return storage.SnapshotItem{
		StoryID:         st.StoryID,
		Title:           st.Title,
		Description:     st.Description,
		Summary:         summary,
		URL:             st.URL,
		Platform:        st.Platform,
		SourceID:        st.SourceID,
		PublishTime:     st.PublishTime,
		ViewCount:       obs.ViewCount,
		LikeCount:       obs.LikeCount,
		CommentCount:    obs.CommentCount,
		PopularityScore: obs.PopularityScore,
	}
}
