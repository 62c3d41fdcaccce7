package collector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/gocolly/colly/v2"
)

const (
	githubTrendingURL  = "https://github.com/trending"
	githubAlgoVersion  = "github-stars-v1"
	githubStarsWeight  = 0.01
	githubRequestLimit = 5 * time.Second
)

// GitHubTrendingFetcher 抓取 GitHub Trending，仓库路径作为 source_id。
// Trending 页没有发布时间，PublishTime 留空，由 identity 使用占位值。
type GitHubTrendingFetcher struct {
	// URL 为空时使用官方 Trending 页，测试时指向本地服务
	URL string
	Log *logger.Logger
}

func (g *GitHubTrendingFetcher) Name() string {
	return "github_trending"
}

func (g *GitHubTrendingFetcher) Fetch() ([]Item, error) {
	target := g.URL
	if target == "" {
		target = githubTrendingURL
	}
	log := fetcherLog(g.Log, g.Name())
	log.Debug("fetch github trending", "url", target)

	c := colly.NewCollector(colly.UserAgent("TrendingVaultBot/1.0"))
	c.SetRequestTimeout(githubRequestLimit)

	results := make([]Item, 0, 25)

	c.OnHTML("article.Box-row", func(e *colly.HTMLElement) {
		href, ok := e.DOM.Find("h2 a").Attr("href")
		if !ok {
			return
		}
		repo := strings.Trim(strings.TrimSpace(href), "/")
		if repo == "" {
			return
		}

		stars := parseStars(e.ChildText("a[href$=\"/stargazers\"]"))
		forks := parseStars(e.ChildText("a[href$=\"/forks\"]"))
		today := parseStarsToday(e.ChildText("span.float-sm-right"))

		results = append(results, Item{
			SourceID:    repo,
			Platform:    "github",
			Title:       repo,
			Description: strings.TrimSpace(e.ChildText("p")),
			URL:         "https://github.com/" + repo,
			Metrics: Metrics{
				Likes:    int64(stars),
				Comments: int64(forks),
			},
			PrecomputedScore: githubScore(stars, today),
			AlgoVersion:      githubAlgoVersion,
			RawData: map[string]any{
				"stars":       stars,
				"forks":       forks,
				"stars_today": today,
				"language":    strings.TrimSpace(e.ChildText("span[itemprop=\"programmingLanguage\"]")),
			},
		})
	})

	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("github trending: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	log.Debug("github trending parsed", "items", len(results))
	return results, nil
}

// githubScore 以当日新增 star 为主，总 star 作为弱权重
func githubScore(stars, today int) float64 {
	return float64(today) + githubStarsWeight*float64(stars)
}

// parseStars 将 GitHub Trending 中“12.3k”之类的文本解析为整数
func parseStars(text string) int {
	text = strings.ReplaceAll(text, ",", "")
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	multiplier := 1.0
	if strings.HasSuffix(text, "k") || strings.HasSuffix(text, "K") {
		multiplier = 1000
		text = strings.TrimSuffix(strings.TrimSuffix(text, "k"), "K")
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0
	}
	return int(f * multiplier)
}

// parseStarsToday 解析“1,234 stars today”
func parseStarsToday(text string) int {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	return parseStars(fields[0])
}
