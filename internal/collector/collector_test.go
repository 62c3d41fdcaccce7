package collector

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const githubTrendingHTML = `<html><body>
<article class="Box-row">
  <h2><a href="/golang/go"> golang / go </a></h2>
  <p> The Go programming language </p>
  <span itemprop="programmingLanguage">Go</span>
  <a href="/golang/go/stargazers">123.4k</a>
  <a href="/golang/go/forks">17,001</a>
  <span class="d-inline-block float-sm-right">1,204 stars today</span>
</article>
<article class="Box-row">
  <h2><a href="/acme/tool">acme / tool</a></h2>
  <a href="/acme/tool/stargazers">980</a>
  <span class="d-inline-block float-sm-right">55 stars today</span>
</article>
<article class="Box-row"><h2>no link</h2></article>
</body></html>`

func TestGitHubTrendingFetcherMapsRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(githubTrendingHTML))
	}))
	defer srv.Close()

	items, err := (&GitHubTrendingFetcher{URL: srv.URL}).Fetch()
	require.NoError(t, err)
	require.Len(t, items, 2)

	goRepo := items[0]
	assert.Equal(t, "golang/go", goRepo.SourceID)
	assert.Equal(t, "github", goRepo.Platform)
	assert.True(t, goRepo.PublishTime.IsZero())
	assert.Equal(t, "The Go programming language", goRepo.Description)
	assert.Equal(t, int64(123400), goRepo.Metrics.Likes)
	assert.Equal(t, int64(17001), goRepo.Metrics.Comments)
	assert.InDelta(t, 1204+0.01*123400, goRepo.PrecomputedScore, 1e-9)
	assert.Equal(t, githubAlgoVersion, goRepo.AlgoVersion)

	assert.Equal(t, "acme/tool", items[1].SourceID)
	assert.InDelta(t, 55+9.8, items[1].PrecomputedScore, 1e-9)
}

func TestParseStars(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"12.3k", 12300},
		{"1,024", 1024},
		{" 7K ", 7000},
		{"", 0},
		{"n/a", 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, parseStars(c.in), "parseStars(%q)", c.in)
	}
	assert.Equal(t, 1204, parseStarsToday("1,204 stars today"))
	assert.Equal(t, 0, parseStarsToday(""))
}

func TestHackerNewsFetcherSkipsNonStories(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	posted := now.Add(-2 * time.Hour).Unix()

	mux := http.NewServeMux()
	mux.HandleFunc("/topstories.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[1, 2, 3]`))
	})
	mux.HandleFunc("/item/1.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":1,"title":"Show HN: a thing","score":100,"descendants":40,"by":"pg","time":%d,"type":"story"}`, posted)
	})
	mux.HandleFunc("/item/2.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":2,"title":"Hiring","score":5,"time":%d,"type":"job"}`, posted)
	})
	mux.HandleFunc("/item/3.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// item 3 的失败经注入的 logger 记录，不影响其他条目
	f := &HackerNewsFetcher{BaseURL: srv.URL, Now: func() time.Time { return now }, Log: logger.Nop()}
	items, err := f.Fetch()
	require.NoError(t, err)
	require.Len(t, items, 1)

	it := items[0]
	assert.Equal(t, "1", it.SourceID)
	assert.Equal(t, "hackernews", it.Platform)
	assert.Equal(t, posted, it.PublishTime.Unix())
	assert.Equal(t, "https://news.ycombinator.com/item?id=1", it.URL)
	assert.Equal(t, int64(100), it.Metrics.Likes)
	assert.Equal(t, int64(40), it.Metrics.Comments)
	// (100 + 20) / 4^1.5 = 15
	assert.InDelta(t, 15.0, it.PrecomputedScore, 1e-9)
}

func TestHackerNewsFetcherReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := (&HackerNewsFetcher{BaseURL: srv.URL}).Fetch()
	assert.ErrorContains(t, err, "unexpected status 502")
}

func TestHNScoreDecaysWithAge(t *testing.T) {
	fresh := hnScore(50, 10, time.Hour)
	old := hnScore(50, 10, 20*time.Hour)
	assert.Greater(t, fresh, old)
	// 未来时间按 0 小时处理
	assert.Equal(t, hnScore(50, 10, 0), hnScore(50, 10, -time.Hour))
}

const baiduHTML = `<html><body>
<div class="category-wrap_iQLoo">
  <a href="/s?wd=topic-a"></a>
  <div class="c-single-text-ellipsis"> 话题A </div>
  <div class="hot-index_1Bl1a">4,987,654</div>
  <div class="hot-desc_1m_jR">这是一段关于话题A的介绍文字，足够长。[查看更多>]</div>
</div>
<div class="category-wrap_iQLoo">
  <div class="c-single-text-ellipsis">话题B</div>
  <div class="hot-index_1Bl1a">120万</div>
</div>
</body></html>`

func TestBaiduHotFetcherMapsEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(baiduHTML))
	}))
	defer srv.Close()

	items, err := (&BaiduHotFetcher{URL: srv.URL}).Fetch()
	require.NoError(t, err)
	require.Len(t, items, 2)
	sort.Slice(items, func(i, j int) bool { return items[i].SourceID < items[j].SourceID })

	a := items[0]
	assert.Equal(t, "话题A", a.SourceID)
	assert.Equal(t, "baidu", a.Platform)
	assert.Equal(t, "https://top.baidu.com/s?wd=topic-a", a.URL)
	assert.Equal(t, float64(4987654), a.PrecomputedScore)
	assert.Equal(t, int64(4987654), a.Metrics.Views)
	assert.Equal(t, "这是一段关于话题A的介绍文字，足够长。", a.Description)

	b := items[1]
	assert.Equal(t, baiduHotURL, b.URL)
	assert.Equal(t, float64(1200000), b.PrecomputedScore)
}

func TestParseHeat(t *testing.T) {
	cases := map[string]int64{
		"4,987,654": 4987654,
		"120万":      1200000,
		"1.5亿":      150000000,
		" 42 ":      42,
		"":          0,
		"热":         0,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseHeat(in), in)
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "你好…", truncateRunes("你好世界", 2))
	assert.Equal(t, "短文本", truncateRunes("短文本", 10))
}

func TestFetcherLogFallsBackToNop(t *testing.T) {
	assert.NotNil(t, fetcherLog(nil, "hackernews_top"))
	assert.NotNil(t, fetcherLog(logger.Nop(), "hackernews_top"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := (&GitHubTrendingFetcher{URL: srv.URL}).Fetch()
	assert.ErrorContains(t, err, "github trending")
}
