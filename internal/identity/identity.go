package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
)

// UnknownPublishTime 缺失发布时间时参与摘要的固定占位
const UnknownPublishTime = "unknown"

// ID 是由来源属性推导出的稳定 story_id
type ID struct {
	Value string
	// LowConfidence 为 true 表示发布时间缺失、使用了占位值，同一 source_id 的不同内容可能被合并
	LowConfidence bool
}

func (id ID) String() string {
	return id.Value
}

// Resolve 对 (source_id, platform, publish_time) 做规范化后取 sha256。
// 纯函数：相同输入永远得到相同结果，标题等内容字段不参与计算。
func Resolve(sourceID, platform string, publishTime time.Time) (ID, error) {
	src := strings.TrimSpace(sourceID)
	if src == "" {
		return ID{}, apperr.NewIdentity("source_id", "is empty")
	}
	plat := NormalizePlatform(platform)
	if plat == "" {
		return ID{}, apperr.NewIdentity("platform", "is empty")
	}
	if strings.ContainsRune(src, '\x00') {
		return ID{}, apperr.NewIdentity("source_id", "contains NUL byte")
	}

	ts := UnknownPublishTime
	low := publishTime.IsZero()
	if !low {
		// 截到秒：不同来源对亚秒精度的处理不一致
		ts = publishTime.UTC().Truncate(time.Second).Format(time.RFC3339)
	}

	h := sha256.New()
	h.Write([]byte(plat))
	h.Write([]byte{0})
	h.Write([]byte(src))
	h.Write([]byte{0})
	h.Write([]byte(ts))
	return ID{Value: hex.EncodeToString(h.Sum(nil)), LowConfidence: low}, nil
}

// NormalizePlatform 统一平台代码的大小写与空白
func NormalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
