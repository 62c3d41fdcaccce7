package collector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

const (
	baiduHotURL       = "https://top.baidu.com/board?tab=realtime"
	baiduAlgoVersion  = "baidu-heat-v1"
	baiduSummaryRunes = 120
	baiduMinDescLen   = 20
)

var baiduReadMore = []string{"[查看更多>]", "[查看更多&gt;]", "查看更多"}

// BaiduHotFetcher 抓取百度实时热搜榜。热搜词本身即 source_id，榜单不提供发布时间。
type BaiduHotFetcher struct {
	URL string
	Log *logger.Logger
}

func (b *BaiduHotFetcher) Name() string {
	return "baidu_hot"
}

func (b *BaiduHotFetcher) Fetch() ([]Item, error) {
	target := b.URL
	if target == "" {
		target = baiduHotURL
	}
	log := fetcherLog(b.Log, b.Name())
	log.Debug("fetch baidu hot", "url", target)

	c := colly.NewCollector(colly.UserAgent("TrendingVaultBot/1.0"))
	c.SetRequestTimeout(5 * time.Second)

	var results []Item
	seen := make(map[string]struct{})
	c.OnHTML("div.category-wrap_iQLoo", func(e *colly.HTMLElement) {
		it, ok := parseBaiduEntry(e.DOM)
		if !ok {
			return
		}
		// 置顶词会在榜单里重复出现
		if _, dup := seen[it.SourceID]; dup {
			return
		}
		seen[it.SourceID] = struct{}{}
		results = append(results, it)
	})

	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("baidu hot: %w", err)
	}
	log.Debug("baidu hot parsed", "items", len(results))
	return results, nil
}

// parseBaiduEntry 解析榜单中的一条；没有标题的块视为广告位
func parseBaiduEntry(sel *goquery.Selection) (Item, bool) {
	title := strings.TrimSpace(sel.Find("div.c-single-text-ellipsis").First().Text())
	if title == "" {
		return Item{}, false
	}

	link := baiduHotURL
	if href, ok := sel.Find("a").First().Attr("href"); ok && href != "" {
		if strings.HasPrefix(href, "http") {
			link = href
		} else {
			link = "https://top.baidu.com" + href
		}
	}

	heatText := strings.TrimSpace(sel.Find("div.hot-index_1Bl1a").First().Text())
	heat := parseHeat(heatText)
	desc := baiduDescription(sel, title, heatText)

	return Item{
		SourceID:         title,
		Platform:         "baidu",
		Title:            title,
		Description:      desc,
		GeneratedSummary: truncateRunes(desc, baiduSummaryRunes),
		URL:              link,
		Metrics:          Metrics{Views: heat},
		PrecomputedScore: float64(heat),
		AlgoVersion:      baiduAlgoVersion,
		RawData:          map[string]any{"heat": heatText},
	}, true
}

// baiduDescription 依次尝试：带 desc/content 类名的块，标题后的兄弟节点，块内最长的非数字文本
func baiduDescription(sel *goquery.Selection, title, heatText string) string {
	for _, q := range []string{"div[class*='desc']", "div[class*='content']", "div[class*='abstract']", "p"} {
		if t := strings.TrimSpace(sel.Find(q).First().Text()); t != "" {
			return stripReadMore(t)
		}
	}

	usable := func(t string) bool {
		if t == "" || t == title || t == heatText || len(t) < baiduMinDescLen {
			return false
		}
		_, err := strconv.Atoi(strings.ReplaceAll(t, ",", ""))
		return err != nil
	}

	for next := sel.Find("div.c-single-text-ellipsis").First().Next(); next.Length() > 0; next = next.Next() {
		if t := strings.TrimSpace(next.Text()); usable(t) {
			return stripReadMore(t)
		}
	}

	var best string
	sel.Find("div, p, span").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); usable(t) && len(t) > len(best) {
			best = t
		}
	})
	return stripReadMore(best)
}

func stripReadMore(s string) string {
	for _, cut := range baiduReadMore {
		if idx := strings.Index(s, cut); idx != -1 {
			s = s[:idx]
		}
	}
	return strings.TrimRight(strings.TrimSpace(s), "…")
}

// parseHeat 解析热度值，支持千分位和“万”“亿”单位
func parseHeat(s string) int64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	var mult float64 = 1
	switch {
	case strings.HasSuffix(s, "亿"):
		mult, s = 1e8, strings.TrimSuffix(s, "亿")
	case strings.HasSuffix(s, "万"):
		mult, s = 1e4, strings.TrimSuffix(s, "万")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return int64(f * mult)
}

// truncateRunes 按 rune 截断并追加省略号
func truncateRunes(s string, limit int) string {
	rs := []rune(strings.TrimSpace(s))
	if len(rs) <= limit {
		return string(rs)
	}
	return string(rs[:limit]) + "…"
}
