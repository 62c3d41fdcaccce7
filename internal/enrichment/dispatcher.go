package enrichment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/redis/go-redis/v9"
)

// DefaultQueue worker 消费的 Redis 列表
const DefaultQueue = "trending:enrichment:tasks"

// Dispatcher 把任务交给外部 worker
type Dispatcher interface {
	Enqueue(ctx context.Context, tasks []Task) error
}

// listPusher 是 *redis.Client 中用到的部分
type listPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisDispatcher 以 JSON 追加到 Redis 列表，worker 用 BLPOP 消费
type RedisDispatcher struct {
	rdb   listPusher
	queue string
}

func NewRedisDispatcher(rdb *redis.Client, queue string) *RedisDispatcher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &RedisDispatcher{rdb: rdb, queue: queue}
}

func (d *RedisDispatcher) Enqueue(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(tasks))
	for _, t := range tasks {
		bs, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", t.StoryID, err)
		}
		values = append(values, string(bs))
	}
	return d.rdb.RPush(ctx, d.queue, values...).Err()
}

// LogDispatcher 未配置 Redis 时只记录日志，worker 可以通过候选接口拉取
type LogDispatcher struct {
	log *logger.Logger
}

func NewLogDispatcher(log *logger.Logger) *LogDispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Enqueue(_ context.Context, tasks []Task) error {
	for _, t := range tasks {
		d.log.Info("enrichment task", "snapshot_id", t.SnapshotID, "story_id", t.StoryID, "rank", t.Rank)
	}
	return nil
}
