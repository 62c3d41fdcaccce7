package apperr

import (
	"errors"
	"strconv"
	"time"
)

// 业务层统一错误；各层用 %w 包装，调用方通过 errors.Is / errors.As 判断
var (
	ErrNotFound         = errors.New("not found")
	ErrBuildInProgress  = errors.New("build in progress")
	ErrInsufficientData = errors.New("insufficient data")
	ErrPublishFailed    = errors.New("publish transaction failed")
	ErrUpsertConflict   = errors.New("upsert conflict")
	ErrNotEligible      = errors.New("story not eligible for enrichment")
	ErrInvalidReport    = errors.New("invalid enrichment report")
)

// IdentityError 表示来源属性不完整，无法推导 story_id；只跳过该条，不影响整批
type IdentityError struct {
	Field  string
	Reason string
}

func (e *IdentityError) Error() string {
	return "identity: " + e.Field + " " + e.Reason
}

func NewIdentity(field, reason string) *IdentityError {
	return &IdentityError{Field: field, Reason: reason}
}

// BuildInProgressError 携带正在构建的快照，errors.Is(err, ErrBuildInProgress) 为 true
type BuildInProgressError struct {
	SnapshotID string
	StartedAt  time.Time
}

func (e *BuildInProgressError) Error() string {
	return "build in progress: snapshot " + e.SnapshotID + " started at " + e.StartedAt.UTC().Format(time.RFC3339)
}

func (e *BuildInProgressError) Is(target error) bool {
	return target == ErrBuildInProgress
}

// InsufficientDataError 携带实际条数与阈值，errors.Is(err, ErrInsufficientData) 为 true
type InsufficientDataError struct {
	Got  int
	Want int
}

func (e *InsufficientDataError) Error() string {
	return "insufficient data: got " + strconv.Itoa(e.Got) + " items, need " + strconv.Itoa(e.Want)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}
