package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"github.com/LJTian/TrendingVault/internal/collector"
	"github.com/LJTian/TrendingVault/internal/config"
	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/LJTian/TrendingVault/internal/metrics"
	"github.com/LJTian/TrendingVault/internal/processor"
	"github.com/LJTian/TrendingVault/internal/retention"
	"github.com/LJTian/TrendingVault/internal/snapshot"
	"github.com/LJTian/TrendingVault/internal/storage"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// 单轮任务的上限，防止某个源卡住导致锁一直被占
const jobTimeout = 30 * time.Minute

type Saver interface {
	SaveBatch(ctx context.Context, runID string, observedAt time.Time, items []processor.ProcessedStory, opts storage.SaveOptions) (storage.SaveReport, error)
}

type Builder interface {
	Build(ctx context.Context, trigger string) (snapshot.BuildResult, error)
}

type Pruner interface {
	Prune(ctx context.Context, horizon time.Duration) (retention.Report, error)
}

// Expirer 把超时未回报的富化任务记为失败
type Expirer interface {
	ExpirePending(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CollectReport 一轮采集的汇总
type CollectReport struct {
	RunID   string `json:"run_id"`
	Fetched int    `json:"fetched"`
	Saved   int    `json:"saved"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

type Scheduler struct {
	cron      *cron.Cron
	fetchers  []collector.Fetcher
	processor *processor.SimpleProcessor
	store     Saver
	builder   Builder
	pruner    Pruner
	expirer   Expirer
	cfg       *config.Config
	log       *logger.Logger

	now func() time.Time
}

func New(cfg *config.Config, fetchers []collector.Fetcher, p *processor.SimpleProcessor, store Saver, builder Builder, pruner Pruner, expirer Expirer, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Nop()
	}
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	s := &Scheduler{
		cron:      c,
		fetchers:  fetchers,
		processor: p,
		store:     store,
		builder:   builder,
		pruner:    pruner,
		expirer:   expirer,
		cfg:       cfg,
		log:       log.With("component", "scheduler"),
		now:       time.Now,
	}

	if _, err := c.AddFunc(cfg.BuildCron, s.runBuildJob); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(cfg.PruneCron, s.runPruneJob); err != nil {
		return nil, err
	}
	if expirer != nil {
		if _, err := c.AddFunc(cfg.ExpireCron, s.runExpireJob); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	// 延迟执行首轮，避免与服务启动时的首批请求争抢资源
	const startupDelay = 15 * time.Second
	time.AfterFunc(startupDelay, func() {
		go s.runBuildJob()
	})
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runBuildJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	_, _ = s.RunOnce(ctx, "cron")
}

func (s *Scheduler) runPruneJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	// 清理失败只记录，不影响后续构建
	if _, err := s.pruner.Prune(ctx, s.cfg.Retention.Horizon()); err != nil {
		s.log.Warn("scheduled prune failed", "error", err)
	}
}

func (s *Scheduler) runExpireJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.ExpireOnce(ctx); err != nil {
		s.log.Warn("scheduled enrichment expiry failed", "error", err)
	}
}

// ExpireOnce 按配置的超时处理一次 pending 富化记录
func (s *Scheduler) ExpireOnce(ctx context.Context) (int64, error) {
	if s.expirer == nil {
		return 0, nil
	}
	return s.expirer.ExpirePending(ctx, s.cfg.EnrichmentTimeout)
}

// RunOnce 采集一轮后构建快照；采集全部失败时仍然尝试构建，窗口内的历史观测可能足够
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (snapshot.BuildResult, error) {
	s.log.Info("start build job", "trigger", trigger)

	rep := s.Collect(ctx)
	s.log.Info("collect done",
		"run_id", rep.RunID, "fetched", rep.Fetched, "saved", rep.Saved,
		"skipped", rep.Skipped, "failed", rep.Failed)

	res, err := s.builder.Build(ctx, trigger)
	switch {
	case err == nil:
		s.log.Info("build job done", "snapshot_id", res.SnapshotID, "data_version", res.DataVersion, "items", res.ItemCount)
	case errors.Is(err, apperr.ErrBuildInProgress):
		s.log.Info("build job skipped", "in_flight", res.SnapshotID)
	case errors.Is(err, apperr.ErrInsufficientData):
		s.log.Warn("build job discarded", "snapshot_id", res.SnapshotID, "reason", err)
	default:
		s.log.Error("build job failed", "snapshot_id", res.SnapshotID, "error", err)
	}
	return res, err
}

// Collect 并发拉取所有源，逐源清洗入库。单个源失败不影响其他源
func (s *Scheduler) Collect(ctx context.Context) CollectReport {
	rep := CollectReport{RunID: uuid.NewString()}
	observedAt := s.now().UTC()
	opts := storage.SaveOptions{
		Parallelism: s.cfg.Ingest.UpsertParallelism,
		MaxAttempts: s.cfg.Ingest.UpsertMaxAttempts,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range s.fetchers {
		fetcher := f
		g.Go(func() error {
			name := fetcher.Name()
			items, err := fetcher.Fetch()
			if err != nil {
				s.log.Warn("fetch failed", "fetcher", name, "error", err)
				return nil
			}
			if len(items) == 0 {
				s.log.Info("fetch got 0 items", "fetcher", name)
				return nil
			}

			processed, skipped := s.processor.Process(items)
			for _, sk := range skipped {
				s.log.Warn("item skipped", "fetcher", name, "index", sk.Index, "source_id", sk.SourceID, "error", sk.Err)
			}

			saved, err := s.store.SaveBatch(gctx, rep.RunID, observedAt, processed, opts)
			if err != nil {
				s.log.Error("save batch aborted", "fetcher", name, "error", err)
			}

			metrics.IngestItemsTotal.WithLabelValues("saved").Add(float64(saved.Saved))
			metrics.IngestItemsTotal.WithLabelValues("skipped").Add(float64(len(skipped)))
			metrics.IngestItemsTotal.WithLabelValues("failed").Add(float64(len(saved.Failed)))

			mu.Lock()
			rep.Fetched += len(items)
			rep.Saved += saved.Saved
			rep.Skipped += len(skipped)
			rep.Failed += len(saved.Failed)
			mu.Unlock()

			// 条数 = 本轮解析到的数量，已存在的 story 会被合并更新
			s.log.Info("fetcher done", "fetcher", name, "fetched", len(items), "saved", saved.Saved)
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// PruneOnce 手动触发清理
func (s *Scheduler) PruneOnce(ctx context.Context) (retention.Report, error) {
	return s.pruner.Prune(ctx, s.cfg.Retention.Horizon())
}
