package collector

import (
	"time"

	"github.com/LJTian/TrendingVault/internal/logger"
)

// Metrics 单次采集时的互动数据
type Metrics struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
}

// Item 采集侧交给入库流程的统一结构。
// PrecomputedScore 由采集侧按 AlgoVersion 对应的公式计算，下游只排序不重算。
type Item struct {
	SourceID string
	Platform string
	// PublishTime 为零值表示来源未提供发布时间
	PublishTime time.Time

	Title       string
	Description string
	URL         string

	GeneratedSummary       string
	GeneratedSecondaryText string

	Metrics          Metrics
	PrecomputedScore float64
	AlgoVersion      string

	RawData map[string]any
}

// Fetcher 抽象每一个数据源
type Fetcher interface {
	Name() string
	Fetch() ([]Item, error)
}

// fetcherLog 未注入 logger 时不输出
func fetcherLog(l *logger.Logger, name string) *logger.Logger {
	if l == nil {
		return logger.Nop()
	}
	return l.With("fetcher", name)
}
