package processor

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"github.com/LJTian/TrendingVault/internal/collector"
	"github.com/LJTian/TrendingVault/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateRunesHandlesChineseAndEllipsis(t *testing.T) {
	s := "你好，世界，这是一个很长的中文句子，用来测试截断逻辑。"
	out := truncateRunes(s, 5)
	assert.Len(t, []rune(out), 5) // 4 个字符 + 1 个省略号
	assert.True(t, strings.HasSuffix(out, "…"))

	// limit 大于长度时不应截断
	assert.Equal(t, "短文本", truncateRunes("短文本", 10))
}

func TestSimpleProcessorResolvesIdentity(t *testing.T) {
	p := NewSimpleProcessor()
	pub := time.Date(2026, 10, 18, 9, 0, 0, 0, time.FixedZone("CST", 8*3600))

	out, skipped := p.Process([]collector.Item{{
		SourceID:         " 42 ",
		Platform:         "HackerNews",
		PublishTime:      pub,
		Title:            "  Title  ",
		PrecomputedScore: 3.5,
		AlgoVersion:      "hn-gravity-v1",
		Metrics:          collector.Metrics{Views: -1, Likes: 10, Comments: 2},
	}})
	require.Empty(t, skipped)
	require.Len(t, out, 1)

	want, err := identity.Resolve("42", "hackernews", pub)
	require.NoError(t, err)
	assert.Equal(t, want.Value, out[0].StoryID)
	assert.Equal(t, "42", out[0].SourceID)
	assert.Equal(t, "hackernews", out[0].Platform)
	assert.Equal(t, "Title", out[0].Title)
	assert.Equal(t, time.UTC, out[0].PublishTime.Location())
	assert.Equal(t, int64(0), out[0].Metrics.Views)
	assert.Equal(t, 3.5, out[0].PopularityScore)
}

func TestSimpleProcessorLatestDuplicateWins(t *testing.T) {
	p := NewSimpleProcessor()

	out, skipped := p.Process([]collector.Item{
		{SourceID: "a/b", Platform: "github", Title: "first", PrecomputedScore: 1},
		{SourceID: "c/d", Platform: "github", Title: "other", PrecomputedScore: 2},
		{SourceID: "a/b", Platform: "github", Title: "second", PrecomputedScore: 9},
	})
	require.Empty(t, skipped)
	require.Len(t, out, 2)

	// 位置按首次出现，内容取最后一次
	assert.Equal(t, "second", out[0].Title)
	assert.Equal(t, 9.0, out[0].PopularityScore)
	assert.True(t, out[0].LowConfidence)
	assert.Equal(t, "other", out[1].Title)
}

func TestSimpleProcessorSkipsMalformedItems(t *testing.T) {
	p := NewSimpleProcessor()

	out, skipped := p.Process([]collector.Item{
		{SourceID: "", Platform: "github", PrecomputedScore: 1},
		{SourceID: "ok", Platform: "github", PrecomputedScore: 1},
		{SourceID: "nan", Platform: "github", PrecomputedScore: math.NaN()},
	})
	require.Len(t, out, 1)
	require.Len(t, skipped, 2)

	var ie *apperr.IdentityError
	assert.True(t, errors.As(skipped[0].Err, &ie))
	assert.Equal(t, 0, skipped[0].Index)
	assert.Equal(t, 2, skipped[1].Index)
}

func TestCleanTextRepairsInvalidUTF8(t *testing.T) {
	got := cleanText(" ok\xff ", 10)
	assert.Equal(t, "ok�", got)
}
