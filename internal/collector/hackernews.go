package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/LJTian/TrendingVault/internal/logger"
	"golang.org/x/sync/errgroup"
)

const (
	hnBaseURL           = "https://hacker-news.firebaseio.com/v0"
	hnMaxItems          = 30
	hnMaxResponseBytes  = 1 << 20 // 1MB
	hnConcurrency       = 10
	hnClientTimeout     = 10 * time.Second
	hnItemClientTimeout = 5 * time.Second
	hnAlgoVersion       = "hn-gravity-v1"
	hnGravity           = 1.5
)

// HackerNewsFetcher 通过官方 Firebase API 抓取 Hacker News 热门故事
type HackerNewsFetcher struct {
	BaseURL string
	// Now 用于计算帖子年龄，为空时取当前时间
	Now func() time.Time
	Log *logger.Logger
}

func (h *HackerNewsFetcher) Name() string {
	return "hackernews_top"
}

type hnItem struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Type        string `json:"type"`
}

func (h *HackerNewsFetcher) Fetch() ([]Item, error) {
	log := fetcherLog(h.Log, h.Name())
	base := h.BaseURL
	if base == "" {
		base = hnBaseURL
	}
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}

	client := &http.Client{Timeout: hnClientTimeout}

	resp, err := client.Get(base + "/topstories.json")
	if err != nil {
		return nil, fmt.Errorf("hackernews: fetch top stories: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hackernews: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, hnMaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("hackernews: read top stories: %w", err)
	}

	var ids []int
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("hackernews: unmarshal top stories: %w", err)
	}

	if len(ids) > hnMaxItems {
		ids = ids[:hnMaxItems]
	}

	itemClient := &http.Client{Timeout: hnItemClientTimeout}

	// 按榜单位置落槽，输出顺序与 topstories 一致
	slots := make([]*Item, len(ids))
	var g errgroup.Group
	g.SetLimit(hnConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			it, err := fetchHNItem(itemClient, base, id)
			if err != nil {
				log.Warn("fetch hackernews item failed", "id", id, "error", err)
				return nil
			}
			if it.Title == "" || it.Type != "story" {
				return nil
			}
			item := toHNItem(it, i+1, now)
			slots[i] = &item
			return nil
		})
	}
	_ = g.Wait()

	items := make([]Item, 0, len(slots))
	for _, it := range slots {
		if it != nil {
			items = append(items, *it)
		}
	}
	return items, nil
}

func toHNItem(it hnItem, rank int, now time.Time) Item {
	itemURL := it.URL
	if itemURL == "" {
		itemURL = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", it.ID)
	}
	published := time.Unix(it.Time, 0).UTC()
	return Item{
		SourceID:    strconv.Itoa(it.ID),
		Platform:    "hackernews",
		PublishTime: published,
		Title:       it.Title,
		Description: it.Text,
		URL:         itemURL,
		Metrics: Metrics{
			Likes:    int64(it.Score),
			Comments: int64(it.Descendants),
		},
		PrecomputedScore: hnScore(it.Score, it.Descendants, now.Sub(published)),
		AlgoVersion:      hnAlgoVersion,
		RawData: map[string]any{
			"hn_id":  it.ID,
			"author": it.By,
			"rank":   rank,
		},
	}
}

// hnScore 经典的重力衰减：(points + comments/2) / (hours+2)^gravity
func hnScore(points, comments int, age time.Duration) float64 {
	hours := age.Hours()
	if hours < 0 {
		hours = 0
	}
	return (float64(points) + float64(comments)/2) / math.Pow(hours+2, hnGravity)
}

func fetchHNItem(client *http.Client, base string, id int) (hnItem, error) {
	url := fmt.Sprintf("%s/item/%d.json", base, id)
	resp, err := client.Get(url)
	if err != nil {
		return hnItem{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return hnItem{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var it hnItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, hnMaxResponseBytes)).Decode(&it); err != nil {
		return hnItem{}, err
	}
	return it, nil
}
