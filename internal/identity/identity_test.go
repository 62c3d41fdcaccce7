package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDeterministic(t *testing.T) {
	pub := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)

	a, err := Resolve("12345", "hackernews", pub)
	require.NoError(t, err)
	b, err := Resolve("12345", "hackernews", pub)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a.Value, 64)
	assert.False(t, a.LowConfidence)
}

func TestResolveNormalizesInputs(t *testing.T) {
	pub := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)
	shanghai := time.FixedZone("CST", 8*3600)

	a, err := Resolve("  12345 ", " HackerNews", pub)
	require.NoError(t, err)
	// 同一时刻的不同时区表示、亚秒差异都应得到同一 id
	b, err := Resolve("12345", "hackernews", pub.In(shanghai).Add(400*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, a.Value, b.Value)
}

func TestResolveDistinguishesOriginAttributes(t *testing.T) {
	pub := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)
	base, _ := Resolve("a/b", "github", pub)

	cases := []struct {
		name     string
		sourceID string
		platform string
		pub      time.Time
	}{
		{"other source", "a/c", "github", pub},
		{"other platform", "a/b", "baidu", pub},
		{"other time", "a/b", "github", pub.Add(time.Hour)},
		// 分隔符防止拼接歧义
		{"shifted boundary", "a/", "bgithub", pub},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Resolve(c.sourceID, c.platform, c.pub)
			require.NoError(t, err)
			assert.NotEqual(t, base.Value, got.Value)
		})
	}
}

func TestResolveMissingPublishTimeUsesSentinel(t *testing.T) {
	a, err := Resolve("owner/repo", "github", time.Time{})
	require.NoError(t, err)
	b, err := Resolve("owner/repo", "github", time.Time{})
	require.NoError(t, err)

	assert.True(t, a.LowConfidence)
	assert.Equal(t, a.Value, b.Value)
}

func TestResolveRejectsMalformedAttributes(t *testing.T) {
	_, err := Resolve("   ", "github", time.Now())
	var ie *apperr.IdentityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "source_id", ie.Field)

	_, err = Resolve("x", " ", time.Now())
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "platform", ie.Field)
}
