package processor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/LJTian/TrendingVault/internal/collector"
	"github.com/LJTian/TrendingVault/internal/identity"
)

// 与存储层字段长度保持一致，按 rune 截断
const (
	titleMaxRunes       = 512
	descriptionMaxRunes = 600
	summaryMaxRunes     = 2000
)

// ProcessedStory 是写入存储层前的统一结构
type ProcessedStory struct {
	StoryID       string
	LowConfidence bool

	SourceID    string
	Platform    string
	PublishTime time.Time

	Title                  string
	Description            string
	GeneratedSummary       string
	GeneratedSecondaryText string
	URL                    string

	Metrics         collector.Metrics
	PopularityScore float64
	AlgoVersion     string
	RawData         map[string]any
}

// Skipped 记录被跳过的条目及原因
type Skipped struct {
	Index    int
	SourceID string
	Platform string
	Err      error
}

// SimpleProcessor 做基础的数据清洗与 story_id 生成
type SimpleProcessor struct{}

func NewSimpleProcessor() *SimpleProcessor {
	return &SimpleProcessor{}
}

// Process 为每条采集结果推导 story_id 并清洗文本。
// 同一批次内 story_id 重复时保留最后一次出现的条目（最新观测优先），输出顺序按首次出现。
func (p *SimpleProcessor) Process(items []collector.Item) ([]ProcessedStory, []Skipped) {
	out := make([]ProcessedStory, 0, len(items))
	index := make(map[string]int, len(items))
	var skipped []Skipped

	for i, it := range items {
		if !isFinite(it.PrecomputedScore) {
			skipped = append(skipped, Skipped{
				Index: i, SourceID: it.SourceID, Platform: it.Platform,
				Err: fmt.Errorf("score %v is not finite", it.PrecomputedScore),
			})
			continue
		}
		id, err := identity.Resolve(it.SourceID, it.Platform, it.PublishTime)
		if err != nil {
			skipped = append(skipped, Skipped{Index: i, SourceID: it.SourceID, Platform: it.Platform, Err: err})
			continue
		}

		ps := ProcessedStory{
			StoryID:                id.Value,
			LowConfidence:          id.LowConfidence,
			SourceID:               strings.TrimSpace(it.SourceID),
			Platform:               identity.NormalizePlatform(it.Platform),
			Title:                  cleanText(it.Title, titleMaxRunes),
			Description:            cleanText(it.Description, descriptionMaxRunes),
			GeneratedSummary:       cleanText(it.GeneratedSummary, summaryMaxRunes),
			GeneratedSecondaryText: cleanText(it.GeneratedSecondaryText, summaryMaxRunes),
			URL:                    strings.TrimSpace(it.URL),
			Metrics:                clampMetrics(it.Metrics),
			PopularityScore:        it.PrecomputedScore,
			AlgoVersion:            strings.TrimSpace(it.AlgoVersion),
			RawData:                it.RawData,
		}
		if !it.PublishTime.IsZero() {
			ps.PublishTime = it.PublishTime.UTC()
		}

		if pos, ok := index[ps.StoryID]; ok {
			out[pos] = ps
			continue
		}
		index[ps.StoryID] = len(out)
		out = append(out, ps)
	}

	return out, skipped
}

// cleanText 规范为合法 UTF-8、去首尾空白并按 rune 截断，避免 PostgreSQL 写入失败
func cleanText(s string, limit int) string {
	s = strings.TrimSpace(strings.ToValidUTF8(s, "�"))
	return truncateRunes(s, limit)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-1]) + "…"
}

func clampMetrics(m collector.Metrics) collector.Metrics {
	if m.Views < 0 {
		m.Views = 0
	}
	if m.Likes < 0 {
		m.Likes = 0
	}
	if m.Comments < 0 {
		m.Comments = 0
	}
	return m
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
