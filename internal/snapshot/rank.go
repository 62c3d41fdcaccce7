package snapshot

import (
	"sort"

	"github.com/LJTian/TrendingVault/internal/storage"
)

// DefaultTopN 默认参与富化的名次
const DefaultTopN = 3

// Rank 按 (popularity_score desc, story_id asc) 排序并就地赋值：
// rank 为 1..n 的稠密名次；popularity_rank 只看分数，同分同名次（1,2,2,4）；
// rank <= topN 的条目标记 is_top_n。返回排好序的切片。
func Rank(items []storage.SnapshotItem, topN int) []storage.SnapshotItem {
	if topN < 0 {
		topN = 0
	}
	out := make([]storage.SnapshotItem, len(items))
	copy(out, items)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PopularityScore != out[j].PopularityScore {
			return out[i].PopularityScore > out[j].PopularityScore
		}
		return out[i].StoryID < out[j].StoryID
	})

	for i := range out {
		out[i].Rank = i + 1
		if i > 0 && out[i].PopularityScore == out[i-1].PopularityScore {
			out[i].PopularityRank = out[i-1].PopularityRank
		} else {
			out[i].PopularityRank = i + 1
		}
		out[i].IsTopN = out[i].Rank <= topN
	}
	return out
}
