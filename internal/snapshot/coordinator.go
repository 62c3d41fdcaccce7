package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"github.com/LJTian/TrendingVault/internal/config"
	"github.com/LJTian/TrendingVault/internal/enrichment"
	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/LJTian/TrendingVault/internal/metrics"
	"github.com/LJTian/TrendingVault/internal/storage"
	"github.com/google/uuid"
)

// Store 协调器用到的存储操作
type Store interface {
	WindowSource
	BeginBuild(ctx context.Context, in storage.BeginBuildInput) (*storage.Snapshot, error)
	Publish(ctx context.Context, in storage.PublishInput) error
	Discard(ctx context.Context, snapshotID, reason string) error
}

// Dispatcher 发布成功后投递富化任务
type Dispatcher interface {
	Dispatch(ctx context.Context, snapshotID string, items []storage.SnapshotItem) error
}

// BuildResult 一次构建尝试的结果；Status 为 published / building / discarded
type BuildResult struct {
	SnapshotID  string    `json:"snapshot_id"`
	Status      string    `json:"status"`
	DataVersion string    `json:"data_version,omitempty"`
	ItemCount   int       `json:"item_count"`
	StartedAt   time.Time `json:"started_at"`
	Reason      string    `json:"reason,omitempty"`
}

// Coordinator 驱动 none → building → {published | discarded} 状态机
type Coordinator struct {
	store      Store
	builder    *Builder
	dispatcher Dispatcher
	cfg        config.SnapshotConfig
	log        *logger.Logger

	now   func() time.Time
	newID func() string
}

func NewCoordinator(store Store, dispatcher Dispatcher, cfg config.SnapshotConfig, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{
		store:      store,
		builder:    NewBuilder(store, cfg.TopN, cfg.MinItems),
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log.With("component", "snapshot"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// DataVersion 发布时间（毫秒）加快照 id 前缀，每次发布都不同
func DataVersion(publishedAt time.Time, snapshotID string) string {
	prefix := snapshotID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%d-%s", publishedAt.UnixMilli(), prefix)
}

// Build 执行一次完整构建。锁被占用时立即返回 *apperr.BuildInProgressError，
// result.Status 为 building，SnapshotID 为正在进行的那次；其他失败都会丢弃本次记录并释放锁，
// 不自动重试，之前发布的快照保持不变。
func (c *Coordinator) Build(ctx context.Context, trigger string) (BuildResult, error) {
	startedAt := c.now().UTC()
	snapshotID := c.newID()
	end := startedAt
	start := end.Add(-c.cfg.Window())

	_, err := c.store.BeginBuild(ctx, storage.BeginBuildInput{
		SnapshotID:  snapshotID,
		Trigger:     trigger,
		RangeStart:  start,
		RangeEnd:    end,
		AlgoVersion: c.cfg.AlgoVersion,
		Now:         startedAt,
		StaleBefore: startedAt.Add(-c.cfg.StaleLockTimeout),
	})
	if err != nil {
		var bip *apperr.BuildInProgressError
		if errors.As(err, &bip) {
			metrics.BuildsTotal.WithLabelValues(metrics.OutcomeInProgress).Inc()
			c.log.Info("build skipped, another build in progress", "in_flight", bip.SnapshotID, "trigger", trigger)
			return BuildResult{SnapshotID: bip.SnapshotID, Status: storage.StatusBuilding, StartedAt: bip.StartedAt}, err
		}
		metrics.BuildsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return BuildResult{}, err
	}

	log := c.log.With("snapshot_id", snapshotID, "trigger", trigger)
	res := BuildResult{SnapshotID: snapshotID, Status: storage.StatusBuilding, StartedAt: startedAt}
	defer func() {
		metrics.BuildDuration.Observe(c.now().Sub(startedAt).Seconds())
	}()

	cand, err := c.builder.Build(ctx, start, end)
	if err != nil {
		return c.discard(ctx, log, res, err)
	}

	builtAt := c.now().UTC()
	version := DataVersion(builtAt, snapshotID)
	err = c.store.Publish(ctx, storage.PublishInput{
		SnapshotID:  snapshotID,
		Items:       cand.Items,
		Records:     enrichment.Plan(snapshotID, cand.Items),
		BuiltAt:     builtAt,
		DataVersion: version,
	})
	if err != nil {
		return c.discard(ctx, log, res, err)
	}

	res.Status = storage.StatusPublished
	res.DataVersion = version
	res.ItemCount = len(cand.Items)
	metrics.BuildsTotal.WithLabelValues(metrics.OutcomePublished).Inc()
	metrics.LatestPublishedAt.Set(float64(builtAt.Unix()))
	log.Info("snapshot published", "data_version", version, "items", res.ItemCount)

	if c.dispatcher != nil {
		if err := c.dispatcher.Dispatch(ctx, snapshotID, cand.Items); err != nil {
			// 快照已经有效，worker 可以通过候选接口补拉
			log.Warn("enrichment dispatch failed", "error", err)
		}
	}
	return res, nil
}

func (c *Coordinator) discard(ctx context.Context, log *logger.Logger, res BuildResult, cause error) (BuildResult, error) {
	// 请求被取消时也要释放锁
	dctx := context.WithoutCancel(ctx)
	if err := c.store.Discard(dctx, res.SnapshotID, cause.Error()); err != nil {
		log.Error("discard build failed, lock held until stale timeout", "error", err)
	}

	res.Status = storage.StatusDiscarded
	res.Reason = cause.Error()
	if errors.Is(cause, apperr.ErrInsufficientData) {
		metrics.BuildsTotal.WithLabelValues(metrics.OutcomeInsufficient).Inc()
		log.Warn("build discarded: insufficient data", "reason", res.Reason)
	} else {
		metrics.BuildsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		log.Error("build discarded", "error", cause)
	}
	return res, cause
}
