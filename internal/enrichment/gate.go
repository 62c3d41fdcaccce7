package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/LJTian/TrendingVault/internal/metrics"
	"github.com/LJTian/TrendingVault/internal/storage"
)

const promptHintMaxRunes = 280

// TimeoutReason worker 超时未回报时写入 last_error
const TimeoutReason = "timeout"

// Task 发给图片生成 worker 的任务
type Task struct {
	StoryID    string `json:"story_id"`
	SnapshotID string `json:"snapshot_id"`
	Rank       int    `json:"rank"`
	Title      string `json:"title"`
	PromptHint string `json:"prompt_hint"`
}

// Report worker 的回调
type Report struct {
	StoryID     string `json:"story_id"`
	SnapshotID  string `json:"snapshot_id"`
	Status      string `json:"status"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RecordStore 富化记录的持久化
type RecordStore interface {
	ListEnrichment(ctx context.Context, snapshotID string, onlyCandidates bool) ([]storage.EnrichmentRecord, error)
	UpdateEnrichment(ctx context.Context, snapshotID, storyID string, apply func(*storage.EnrichmentRecord) (bool, error)) (*storage.EnrichmentRecord, error)
	ExpirePendingEnrichment(ctx context.Context, before time.Time, reason string) (int64, error)
	InvalidateLatest(ctx context.Context)
}

// Plan 为一个快照的全部条目生成富化记录：top-N 为 pending，其余固定为 not_applicable。
// 每个快照各自一份，不复用旧快照的记录。
func Plan(snapshotID string, items []storage.SnapshotItem) []storage.EnrichmentRecord {
	records := make([]storage.EnrichmentRecord, 0, len(items))
	for _, it := range items {
		status := storage.EnrichmentNotApplicable
		if it.IsTopN {
			status = storage.EnrichmentPending
		}
		records = append(records, storage.EnrichmentRecord{
			SnapshotID: snapshotID,
			StoryID:    it.StoryID,
			Rank:       it.Rank,
			Status:     status,
		})
	}
	return records
}

// Tasks 只为 is_top_n 的条目生成任务
func Tasks(snapshotID string, items []storage.SnapshotItem) []Task {
	var tasks []Task
	for _, it := range items {
		if !it.IsTopN {
			continue
		}
		tasks = append(tasks, Task{
			StoryID:    it.StoryID,
			SnapshotID: snapshotID,
			Rank:       it.Rank,
			Title:      it.Title,
			PromptHint: promptHint(it),
		})
	}
	return tasks
}

func promptHint(it storage.SnapshotItem) string {
	parts := []string{strings.TrimSpace(it.Title)}
	if ctx := firstNonEmpty(it.Summary, it.Description); ctx != "" {
		parts = append(parts, ctx)
	}
	if it.Platform != "" {
		parts = append(parts, "trending on "+it.Platform)
	}
	hint := strings.Join(parts, " | ")
	rs := []rune(hint)
	if len(rs) > promptHintMaxRunes {
		hint = string(rs[:promptHintMaxRunes])
	}
	return hint
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Gate 只把 top-N 交给 worker，并按状态机接收回报；不替 worker 重试
type Gate struct {
	store      RecordStore
	dispatcher Dispatcher
	log        *logger.Logger
	now        func() time.Time
}

func NewGate(store RecordStore, dispatcher Dispatcher, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.Nop()
	}
	if dispatcher == nil {
		dispatcher = NewLogDispatcher(log)
	}
	return &Gate{store: store, dispatcher: dispatcher, log: log.With("component", "enrichment"), now: time.Now}
}

// Dispatch 在快照发布之后调用，把 top-N 任务投递给 worker
func (g *Gate) Dispatch(ctx context.Context, snapshotID string, items []storage.SnapshotItem) error {
	tasks := Tasks(snapshotID, items)
	if len(tasks) == 0 {
		return nil
	}
	if err := g.dispatcher.Enqueue(ctx, tasks); err != nil {
		return fmt.Errorf("dispatch enrichment for %s: %w", snapshotID, err)
	}
	g.log.Info("enrichment dispatched", "snapshot_id", snapshotID, "tasks", len(tasks))
	return nil
}

// Candidates 列出某快照的 top-N 记录
func (g *Gate) Candidates(ctx context.Context, snapshotID string) ([]storage.EnrichmentRecord, error) {
	return g.store.ListEnrichment(ctx, snapshotID, true)
}

// Report 处理 worker 回报。允许的迁移：pending → ready|failed，failed → ready|failed；
// 重复的 ready 回报不改变记录；not_applicable 永远不可修改。
func (g *Gate) Report(ctx context.Context, r Report) (*storage.EnrichmentRecord, error) {
	r.StoryID = strings.TrimSpace(r.StoryID)
	r.SnapshotID = strings.TrimSpace(r.SnapshotID)
	r.ArtifactRef = strings.TrimSpace(r.ArtifactRef)
	if err := validate(r); err != nil {
		return nil, err
	}

	changed := false
	rec, err := g.store.UpdateEnrichment(ctx, r.SnapshotID, r.StoryID, func(rec *storage.EnrichmentRecord) (bool, error) {
		ok, err := transition(rec, r)
		changed = ok
		return ok, err
	})
	if err != nil {
		return nil, err
	}

	metrics.EnrichmentReportsTotal.WithLabelValues(r.Status).Inc()
	if changed {
		g.store.InvalidateLatest(ctx)
		g.log.Info("enrichment reported", "snapshot_id", r.SnapshotID, "story_id", r.StoryID, "status", rec.Status)
	}
	return rec, nil
}

// ExpirePending 把发布后超过 olderThan 仍未回报的 pending 记录记为 failed
func (g *Gate) ExpirePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("expire pending: timeout must be positive, got %s", olderThan)
	}
	before := g.now().UTC().Add(-olderThan)
	n, err := g.store.ExpirePendingEnrichment(ctx, before, TimeoutReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.EnrichmentReportsTotal.WithLabelValues(TimeoutReason).Add(float64(n))
		g.store.InvalidateLatest(ctx)
		g.log.Warn("pending enrichment expired", "records", n, "before", before)
	}
	return n, nil
}

func validate(r Report) error {
	switch {
	case r.StoryID == "" || r.SnapshotID == "":
		return fmt.Errorf("%w: story_id and snapshot_id are required", apperr.ErrInvalidReport)
	case r.Status != storage.EnrichmentReady && r.Status != storage.EnrichmentFailed:
		return fmt.Errorf("%w: status %q must be ready or failed", apperr.ErrInvalidReport, r.Status)
	case r.Status == storage.EnrichmentReady && r.ArtifactRef == "":
		return fmt.Errorf("%w: ready requires artifact_ref", apperr.ErrInvalidReport)
	}
	return nil
}

func transition(rec *storage.EnrichmentRecord, r Report) (bool, error) {
	switch rec.Status {
	case storage.EnrichmentNotApplicable:
		return false, fmt.Errorf("story %s rank %d: %w", rec.StoryID, rec.Rank, apperr.ErrNotEligible)
	case storage.EnrichmentReady:
		if r.Status == storage.EnrichmentReady {
			return false, nil
		}
		return false, fmt.Errorf("%w: story %s is already ready", apperr.ErrInvalidReport, rec.StoryID)
	case storage.EnrichmentPending, storage.EnrichmentFailed:
	default:
		return false, fmt.Errorf("%w: unknown stored status %q", apperr.ErrInvalidReport, rec.Status)
	}

	rec.Reports++
	rec.Status = r.Status
	if r.Status == storage.EnrichmentReady {
		ref := r.ArtifactRef
		rec.ArtifactRef = &ref
		rec.LastError = ""
	} else {
		rec.ArtifactRef = nil
		rec.LastError = r.Error
	}
	return true, nil
}
