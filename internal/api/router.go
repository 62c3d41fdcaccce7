package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"github.com/LJTian/TrendingVault/internal/config"
	"github.com/LJTian/TrendingVault/internal/enrichment"
	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/LJTian/TrendingVault/internal/retention"
	"github.com/LJTian/TrendingVault/internal/snapshot"
	"github.com/LJTian/TrendingVault/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SnapshotReader 只读的快照查询
type SnapshotReader interface {
	GetLatest(ctx context.Context) (*storage.LatestView, error)
	HasNewerThan(ctx context.Context, snapshotID string) (bool, *storage.SnapshotPointer, error)
	HasNewerVersion(ctx context.Context, dataVersion string) (bool, *storage.SnapshotPointer, error)
}

type Builder interface {
	Build(ctx context.Context, trigger string) (snapshot.BuildResult, error)
}

type Pruner interface {
	Prune(ctx context.Context, horizon time.Duration) (retention.Report, error)
}

type EnrichmentGate interface {
	Report(ctx context.Context, r enrichment.Report) (*storage.EnrichmentRecord, error)
	Candidates(ctx context.Context, snapshotID string) ([]storage.EnrichmentRecord, error)
}

type Server struct {
	store   SnapshotReader
	builder Builder
	pruner  Pruner
	gate    EnrichmentGate
	cfg     *config.Config
	log     *logger.Logger
}

func NewServer(store SnapshotReader, builder Builder, pruner Pruner, gate EnrichmentGate, cfg *config.Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		store:   store,
		builder: builder,
		pruner:  pruner,
		gate:    gate,
		cfg:     cfg,
		log:     log.With("component", "api"),
	}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/snapshots/latest", s.getLatest)
		v1.GET("/snapshots/latest/newer", s.hasNewerVersion)
		v1.GET("/snapshots/:id/newer", s.hasNewerThan)
		v1.GET("/snapshots/:id/enrichment", s.listCandidates)
		v1.POST("/enrichment/reports", s.reportEnrichment)

		admin := v1.Group("/admin")
		admin.POST("/build", s.forceBuild)
		admin.POST("/prune", s.forcePrune)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getLatest(c *gin.Context) {
	view, err := s.store.GetLatest(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	etag := `"` + view.DataVersion + `"`
	c.Header("ETag", etag)
	c.Header("Cache-Control", "no-cache")
	if match := c.GetHeader("If-None-Match"); match != "" && etagMatches(match, view.DataVersion) {
		c.Status(http.StatusNotModified)
		return
	}
	ok(c, http.StatusOK, view)
}

// etagMatches 兼容带引号、弱校验前缀和逗号分隔的多个值
func etagMatches(header, version string) bool {
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(part)
		tag = strings.TrimPrefix(tag, "W/")
		tag = strings.Trim(tag, `"`)
		if tag == version || tag == "*" {
			return true
		}
	}
	return false
}

type newerResponse struct {
	HasNewer    bool   `json:"has_newer"`
	SnapshotID  string `json:"snapshot_id,omitempty"`
	DataVersion string `json:"data_version,omitempty"`
}

func (s *Server) hasNewerVersion(c *gin.Context) {
	version := strings.TrimSpace(c.Query("data_version"))
	if version == "" {
		fail(c, http.StatusBadRequest, "invalid_request", "data_version is required")
		return
	}
	newer, ptr, err := s.store.HasNewerVersion(c.Request.Context(), version)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, toNewer(newer, ptr))
}

func (s *Server) hasNewerThan(c *gin.Context) {
	newer, ptr, err := s.store.HasNewerThan(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, toNewer(newer, ptr))
}

func toNewer(newer bool, ptr *storage.SnapshotPointer) newerResponse {
	resp := newerResponse{HasNewer: newer}
	if ptr != nil {
		resp.SnapshotID = ptr.SnapshotID
		resp.DataVersion = ptr.DataVersion
	}
	return resp
}

func (s *Server) listCandidates(c *gin.Context) {
	records, err := s.gate.Candidates(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, records)
}

func (s *Server) reportEnrichment(c *gin.Context) {
	var req enrichment.Report
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", "malformed report body")
		return
	}
	rec, err := s.gate.Report(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// forceBuild 手动触发构建；已有构建在进行时返回 202 和进行中的快照，而不是报错
func (s *Server) forceBuild(c *gin.Context) {
	res, err := s.builder.Build(c.Request.Context(), "manual")
	switch {
	case err == nil:
		ok(c, http.StatusOK, res)
	case errors.Is(err, apperr.ErrBuildInProgress):
		c.JSON(http.StatusAccepted, gin.H{"code": "build_in_progress", "message": err.Error(), "data": res})
	case errors.Is(err, apperr.ErrInsufficientData):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "insufficient_data", "message": err.Error(), "data": res})
	default:
		s.writeError(c, err)
	}
}

func (s *Server) forcePrune(c *gin.Context) {
	horizon := s.cfg.Retention.Horizon()
	if v := c.Query("horizon_days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			fail(c, http.StatusBadRequest, "invalid_request", "horizon_days must be a positive integer")
			return
		}
		horizon = time.Duration(days) * 24 * time.Hour
	}
	rep, err := s.pruner.Prune(c.Request.Context(), horizon)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

// writeError 把业务错误映射为 HTTP 状态；未知错误不向外暴露细节
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperr.ErrInvalidReport):
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, apperr.ErrNotEligible):
		fail(c, http.StatusConflict, "not_eligible", err.Error())
	case errors.Is(err, apperr.ErrBuildInProgress):
		fail(c, http.StatusConflict, "build_in_progress", err.Error())
	default:
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
