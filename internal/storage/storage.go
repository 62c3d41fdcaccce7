package storage

import (
	"context"
	"strings"
	"time"

	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// 快照状态
const (
	StatusBuilding  = "building"
	StatusPublished = "published"
	StatusDiscarded = "discarded"
)

// 富化状态
const (
	EnrichmentReady         = "ready"
	EnrichmentPending       = "pending"
	EnrichmentFailed        = "failed"
	EnrichmentNotApplicable = "not_applicable"
)

const latestPointerName = "latest"

// Story 是跨采集轮次稳定的规范实体；来源属性只在首次插入时写入
type Story struct {
	StoryID          string     `gorm:"primaryKey;size:64" json:"storyId"`
	SourceID         string     `gorm:"size:512;not null" json:"sourceId"`
	Platform         string     `gorm:"size:64;index;not null" json:"platform"`
	PublishTime      *time.Time `gorm:"index" json:"publishTime,omitempty"`
	PublishTimeKnown bool       `json:"publishTimeKnown"`

	Title                  string `gorm:"size:512" json:"title"`
	Description            string `gorm:"size:600" json:"description"`
	GeneratedSummary       string `gorm:"type:text" json:"generatedSummary"`
	GeneratedSecondaryText string `gorm:"type:text" json:"generatedSecondaryText"`
	URL                    string `gorm:"size:1024" json:"url"`

	FirstSeenAt time.Time `gorm:"not null" json:"firstSeenAt"`
	UpdatedAt   time.Time `gorm:"not null" json:"updatedAt"`
}

// Observation 某一轮采集对某个 story 的指标快照，只追加
type Observation struct {
	ID              uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID           string            `gorm:"size:36;index" json:"runId"`
	StoryID         string            `gorm:"size:64;not null;index:idx_obs_story_time,priority:1" json:"storyId"`
	ObservedAt      time.Time         `gorm:"not null;index;index:idx_obs_story_time,priority:2" json:"observedAt"`
	ViewCount       int64             `json:"viewCount"`
	LikeCount       int64             `json:"likeCount"`
	CommentCount    int64             `json:"commentCount"`
	PopularityScore float64           `json:"popularityScore"`
	AlgoVersion     string            `gorm:"size:64" json:"algoVersion"`
	RawData         datatypes.JSONMap `json:"rawData,omitempty"`
}

func (Observation) TableName() string {
	return "story_observations"
}

// SnapshotItem 快照内的一行；构建时拷贝指标，读取时不再关联实时数据
type SnapshotItem struct {
	StoryID         string     `json:"story_id"`
	Rank            int        `json:"rank"`
	PopularityRank  int        `json:"popularity_rank"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	URL             string     `json:"url,omitempty"`
	Platform        string     `json:"platform"`
	SourceID        string     `json:"source_id"`
	PublishTime     *time.Time `json:"publish_time,omitempty"`
	ViewCount       int64      `json:"view_count"`
	LikeCount       int64      `json:"like_count"`
	CommentCount    int64      `json:"comment_count"`
	PopularityScore float64    `json:"popularity_score"`
	IsTopN          bool       `json:"is_top_n"`
}

// Snapshot 一次构建尝试。BuildingSlot 仅在 building 状态为 1，唯一索引保证同一时刻最多一条构建中记录
type Snapshot struct {
	SnapshotID    string                            `gorm:"primaryKey;size:36" json:"snapshotId"`
	Status        string                            `gorm:"size:16;index;not null" json:"status"`
	BuildingSlot  *int                              `gorm:"uniqueIndex" json:"-"`
	Trigger       string                            `gorm:"size:32" json:"trigger"`
	RangeStart    time.Time                         `json:"rangeStart"`
	RangeEnd      time.Time                         `json:"rangeEnd"`
	StartedAt     time.Time                         `gorm:"index;not null" json:"startedAt"`
	BuiltAt       *time.Time                        `gorm:"index" json:"builtAt,omitempty"`
	PublishedAt   *time.Time                        `json:"publishedAt,omitempty"`
	AlgoVersion   string                            `gorm:"size:64" json:"algoVersion"`
	DataVersion   *string                           `gorm:"size:64;uniqueIndex" json:"dataVersion,omitempty"`
	ItemCount     int                               `json:"itemCount"`
	Items         datatypes.JSONSlice[SnapshotItem] `json:"items"`
	DiscardReason string                            `gorm:"size:512" json:"discardReason,omitempty"`
}

// SnapshotPointer 单行“最新已发布快照”指针，与发布在同一事务内切换
type SnapshotPointer struct {
	Name        string    `gorm:"primaryKey;size:32" json:"name"`
	SnapshotID  string    `gorm:"size:36;not null" json:"snapshotId"`
	DataVersion string    `gorm:"size:64;not null" json:"dataVersion"`
	PublishedAt time.Time `json:"publishedAt"`
}

// EnrichmentRecord 每个快照、每个 story 一条；非 top-N 固定为 not_applicable
type EnrichmentRecord struct {
	SnapshotID  string    `gorm:"primaryKey;size:36" json:"snapshotId"`
	StoryID     string    `gorm:"primaryKey;size:64" json:"storyId"`
	Rank        int       `json:"rank"`
	Status      string    `gorm:"size:16;index;not null" json:"status"`
	ArtifactRef *string   `gorm:"size:1024" json:"artifactRef,omitempty"`
	Reports     int       `json:"reports"`
	LastError   string    `gorm:"size:512" json:"lastError,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client

	// CacheTTL 最新快照响应在 Redis 中的缓存时长
	CacheTTL time.Duration

	log *logger.Logger
}

// NewStore 连接 PostgreSQL 与 Redis；redisAddr 为空时不启用缓存
func NewStore(dsn, redisAddr string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: redisAddr,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis ping failed", "addr", redisAddr, "error", err)
		}
	}
	return Open(postgres.Open(dsn), rdb, log)
}

// Open 基于任意 gorm 方言建库并迁移，测试里用 sqlite
func Open(dialector gorm.Dialector, rdb *redis.Client, log *logger.Logger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		// 唯一键冲突统一翻译为 gorm.ErrDuplicatedKey，构建锁依赖它
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Story{}, &Observation{}, &Snapshot{}, &SnapshotPointer{}, &EnrichmentRecord{}); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		DB:       db,
		Redis:    rdb,
		CacheTTL: 30 * time.Second,
		log:      log.With("component", "storage"),
	}, nil
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// truncateRunesDB 按 rune 数截断字符串，确保不会超过数据库字段长度。
// 这是对上游 Processor 的双保险，防止外部服务返回异常长文本导致入库失败。
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

func (s *Store) db(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = s.DB
	}
	return tx.WithContext(ctx)
}
