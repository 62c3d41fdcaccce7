package storage

import (
	"context"
	"sort"
	"time"
)

// IN 列表分批大小，避开 sqlite 的绑定参数上限
const inChunkSize = 500

// WindowRow 窗口内的一个候选：规范实体 + 截止窗口末尾的最近一次观测
type WindowRow struct {
	Story       Story
	Observation Observation
}

// ListWindowCandidates 选出发布时间或任一观测时间落在 [start, end] 内的 story，
// 并为每个 story 取 observed_at <= end 的最近一次观测（同一时刻取 id 较大者）。
// 没有任何观测的 story 没有指标，不参与排名。结果按 story_id 升序。
func (s *Store) ListWindowCandidates(ctx context.Context, start, end time.Time) ([]WindowRow, error) {
	start, end = start.UTC(), end.UTC()
	db := s.DB.WithContext(ctx)

	var published []string
	if err := db.Model(&Story{}).
		Where("publish_time IS NOT NULL AND publish_time >= ? AND publish_time <= ?", start, end).
		Pluck("story_id", &published).Error; err != nil {
		return nil, err
	}
	var observed []string
	if err := db.Model(&Observation{}).
		Distinct("story_id").
		Where("observed_at >= ? AND observed_at <= ?", start, end).
		Pluck("story_id", &observed).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(published)+len(observed))
	ids := make([]string, 0, len(published)+len(observed))
	for _, id := range append(published, observed...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]WindowRow, 0, len(ids))
	for from := 0; from < len(ids); from += inChunkSize {
		to := from + inChunkSize
		if to > len(ids) {
			to = len(ids)
		}
		chunk := ids[from:to]

		var stories []Story
		if err := db.Where("story_id IN ?", chunk).Order("story_id").Find(&stories).Error; err != nil {
			return nil, err
		}

		var observations []Observation
		if err := db.Where("story_id IN ? AND observed_at <= ?", chunk, end).
			Order("story_id").Order("observed_at DESC").Order("id DESC").
			Find(&observations).Error; err != nil {
			return nil, err
		}
		latest := make(map[string]Observation, len(chunk))
		for _, o := range observations {
			if _, ok := latest[o.StoryID]; !ok {
				latest[o.StoryID] = o
			}
		}

		for _, st := range stories {
			obs, ok := latest[st.StoryID]
			if !ok {
				s.log.Debug("story has no observation in window", "story_id", st.StoryID)
				continue
			}
			rows = append(rows, WindowRow{Story: st, Observation: obs})
		}
	}
	return rows, nil
}
