package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/LJTian/TrendingVault/internal/metrics"
	"github.com/LJTian/TrendingVault/internal/storage"
)

// DefaultHorizon 快照默认保留 28 天
const DefaultHorizon = 28 * 24 * time.Hour

type Store interface {
	Prune(ctx context.Context, cutoff, observationCutoff time.Time) (storage.PruneResult, error)
}

// Report 一次清理的结果
type Report struct {
	Cutoff            time.Time `json:"cutoff"`
	ObservationCutoff time.Time `json:"observation_cutoff"`
	Snapshots         int64     `json:"snapshots"`
	EnrichmentRecords int64     `json:"enrichment_records"`
	Observations      int64     `json:"observations"`
	KeptLatest        string    `json:"kept_latest,omitempty"`
}

// Pruner 与构建节奏无关地清理过期快照；失败只记录，不影响构建
type Pruner struct {
	store  Store
	window time.Duration
	log    *logger.Logger
	now    func() time.Time
}

// NewPruner window 为构建使用的新鲜度窗口，窗口内的观测不会被清理
func NewPruner(store Store, window time.Duration, log *logger.Logger) *Pruner {
	if log == nil {
		log = logger.Nop()
	}
	return &Pruner{store: store, window: window, log: log.With("component", "retention"), now: time.Now}
}

// Prune 删除早于 now-horizon 的快照；latest 指向的快照无论多旧都保留。
// 观测按 min(now-horizon, now-window) 清理，保留期短于窗口时下一次构建仍有输入。
func (p *Pruner) Prune(ctx context.Context, horizon time.Duration) (Report, error) {
	if horizon <= 0 {
		return Report{}, fmt.Errorf("prune: horizon must be positive, got %s", horizon)
	}
	now := p.now().UTC()
	cutoff := now.Add(-horizon)
	obsCutoff := cutoff
	if ws := now.Add(-p.window); p.window > 0 && ws.Before(obsCutoff) {
		obsCutoff = ws
	}

	res, err := p.store.Prune(ctx, cutoff, obsCutoff)
	if err != nil {
		p.log.Error("prune failed", "cutoff", cutoff, "error", err)
		return Report{Cutoff: cutoff, ObservationCutoff: obsCutoff}, fmt.Errorf("prune before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	metrics.PrunedSnapshotsTotal.Add(float64(res.Snapshots))
	p.log.Info("prune finished",
		"cutoff", cutoff,
		"observation_cutoff", obsCutoff,
		"snapshots", res.Snapshots,
		"enrichment_records", res.EnrichmentRecords,
		"observations", res.Observations,
		"kept_latest", res.Kept,
	)
	return Report{
		Cutoff:            cutoff,
		ObservationCutoff: obsCutoff,
		Snapshots:         res.Snapshots,
		EnrichmentRecords: res.EnrichmentRecords,
		Observations:      res.Observations,
		KeptLatest:        res.Kept,
	}, nil
}
