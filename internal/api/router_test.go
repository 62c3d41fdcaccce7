package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"github.com/LJTian/TrendingVault/internal/config"
	"github.com/LJTian/TrendingVault/internal/enrichment"
	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/LJTian/TrendingVault/internal/retention"
	"github.com/LJTian/TrendingVault/internal/snapshot"
	"github.com/LJTian/TrendingVault/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type stubBuilder struct {
	res snapshot.BuildResult
	err error
}

func (b stubBuilder) Build(context.Context, string) (snapshot.BuildResult, error) {
	return b.res, b.err
}

type stubPruner struct {
	got time.Duration
}

func (p *stubPruner) Prune(_ context.Context, horizon time.Duration) (retention.Report, error) {
	p.got = horizon
	return retention.Report{Snapshots: 2}, nil
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	store  *storage.Store
	pruner *stubPruner
	engine *gin.Engine
}

func newFixture(t *testing.T, builder Builder) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.ReplaceAll(t.Name(), "/", "_")
	st, err := storage.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), nil, logger.Nop())
	require.NoError(t, err)
	sqlDB, err := st.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if builder == nil {
		builder = stubBuilder{}
	}
	p := &stubPruner{}
	gate := enrichment.NewGate(st, nil, nil)
	r := gin.New()
	NewServer(st, builder, p, gate, config.Default(), nil).RegisterRoutes(r)
	return &fixture{store: st, pruner: p, engine: r}
}

func (f *fixture) publish(t *testing.T, id, version string) {
	t.Helper()
	ctx := context.Background()
	items := []storage.SnapshotItem{
		{StoryID: "a", Rank: 1, IsTopN: true, Title: "A", PopularityScore: 9},
		{StoryID: "b", Rank: 2, Title: "B", PopularityScore: 1},
	}
	_, err := f.store.BeginBuild(ctx, storage.BeginBuildInput{SnapshotID: id, Now: now, StaleBefore: now.Add(-time.Hour)})
	require.NoError(t, err)
	require.NoError(t, f.store.Publish(ctx, storage.PublishInput{
		SnapshotID: id, Items: items, Records: enrichment.Plan(id, items), BuiltAt: now, DataVersion: version,
	}))
}

func (f *fixture) do(t *testing.T, method, path string, body any, header ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestLatest_NotFoundBeforeFirstPublish(t *testing.T) {
	f := newFixture(t, nil)
	w, env := f.do(t, http.MethodGet, "/api/v1/snapshots/latest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", env.Code)
}

func TestLatest_ServesSnapshotWithETag(t *testing.T) {
	f := newFixture(t, nil)
	f.publish(t, "snap-1", "1000-snap-1")

	w, env := f.do(t, http.MethodGet, "/api/v1/snapshots/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"1000-snap-1"`, w.Header().Get("ETag"))

	var view storage.LatestView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "snap-1", view.SnapshotID)
	assert.Equal(t, "1000-snap-1", view.DataVersion)
	require.Len(t, view.Items, 2)
	assert.Equal(t, storage.EnrichmentPending, view.Items[0].EnrichmentStatus)
	assert.Equal(t, storage.EnrichmentNotApplicable, view.Items[1].EnrichmentStatus)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &raw))
	first := raw["items"].([]any)[0].(map[string]any)
	assert.Equal(t, true, first["is_top_n"])
	assert.Equal(t, "a", first["story_id"])

	w, _ = f.do(t, http.MethodGet, "/api/v1/snapshots/latest", nil, "If-None-Match", `"1000-snap-1"`)
	assert.Equal(t, http.StatusNotModified, w.Code)
	w, _ = f.do(t, http.MethodGet, "/api/v1/snapshots/latest", nil, "If-None-Match", `"old"`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewerEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.publish(t, "snap-1", "v1")

	w, env := f.do(t, http.MethodGet, "/api/v1/snapshots/latest/newer?data_version=v1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"has_newer":false,"snapshot_id":"snap-1","data_version":"v1"}`, string(env.Data))

	_, env = f.do(t, http.MethodGet, "/api/v1/snapshots/latest/newer?data_version=v0", nil)
	assert.JSONEq(t, `{"has_newer":true,"snapshot_id":"snap-1","data_version":"v1"}`, string(env.Data))

	_, env = f.do(t, http.MethodGet, "/api/v1/snapshots/snap-0/newer", nil)
	assert.JSONEq(t, `{"has_newer":true,"snapshot_id":"snap-1","data_version":"v1"}`, string(env.Data))

	w, _ = f.do(t, http.MethodGet, "/api/v1/snapshots/latest/newer", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrichmentReportFlow(t *testing.T) {
	f := newFixture(t, nil)
	f.publish(t, "snap-1", "v1")

	w, env := f.do(t, http.MethodPost, "/api/v1/enrichment/reports",
		enrichment.Report{StoryID: "a", SnapshotID: "snap-1", Status: "ready", ArtifactRef: "s3://img/a.png"})
	require.Equal(t, http.StatusOK, w.Code)
	var rec storage.EnrichmentRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, storage.EnrichmentReady, rec.Status)

	w, env = f.do(t, http.MethodPost, "/api/v1/enrichment/reports",
		enrichment.Report{StoryID: "b", SnapshotID: "snap-1", Status: "ready", ArtifactRef: "x"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_eligible", env.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/enrichment/reports",
		enrichment.Report{StoryID: "a", SnapshotID: "snap-1", Status: "ready"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/enrichment/reports",
		enrichment.Report{StoryID: "a", SnapshotID: "nope", Status: "failed"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = f.do(t, http.MethodGet, "/api/v1/snapshots/snap-1/enrichment", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records []storage.EnrichmentRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].StoryID)
	require.NotNil(t, records[0].ArtifactRef)
}

func TestForceBuild_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		b      stubBuilder
		status int
		code   string
	}{
		{"published", stubBuilder{res: snapshot.BuildResult{SnapshotID: "s", Status: storage.StatusPublished}}, http.StatusOK, "ok"},
		{"in progress", stubBuilder{
			res: snapshot.BuildResult{SnapshotID: "running", Status: storage.StatusBuilding},
			err: &apperr.BuildInProgressError{SnapshotID: "running", StartedAt: now},
		}, http.StatusAccepted, "build_in_progress"},
		{"insufficient", stubBuilder{
			res: snapshot.BuildResult{SnapshotID: "s", Status: storage.StatusDiscarded},
			err: &apperr.InsufficientDataError{Got: 3, Want: 5},
		}, http.StatusUnprocessableEntity, "insufficient_data"},
		{"store down", stubBuilder{err: fmt.Errorf("dial tcp: refused")}, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.b)
			w, env := f.do(t, http.MethodPost, "/api/v1/admin/build", nil)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, env.Code)
			if tc.status == http.StatusAccepted {
				var res snapshot.BuildResult
				require.NoError(t, json.Unmarshal(env.Data, &res))
				assert.Equal(t, "running", res.SnapshotID)
				assert.Equal(t, storage.StatusBuilding, res.Status)
			}
		})
	}
}

func TestForcePrune_Horizon(t *testing.T) {
	f := newFixture(t, nil)

	w, _ := f.do(t, http.MethodPost, "/api/v1/admin/prune", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 28*24*time.Hour, f.pruner.got)

	w, _ = f.do(t, http.MethodPost, "/api/v1/admin/prune?horizon_days=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3*24*time.Hour, f.pruner.got)

	w, _ = f.do(t, http.MethodPost, "/api/v1/admin/prune?horizon_days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBasicAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BasicAuth("user", "pass"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/snapshots/latest", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve := func(path string, auth bool) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if auth {
			req.SetBasicAuth("user", "pass")
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, serve("/health", false))
	assert.Equal(t, http.StatusUnauthorized, serve("/api/v1/snapshots/latest", false))
	assert.Equal(t, http.StatusOK, serve("/api/v1/snapshots/latest", true))
}

func TestEtagMatches(t *testing.T) {
	assert.True(t, etagMatches(`"v1"`, "v1"))
	assert.True(t, etagMatches(`W/"v1"`, "v1"))
	assert.True(t, etagMatches(`"v0", "v1"`, "v1"))
	assert.True(t, etagMatches(`*`, "v1"))
	assert.False(t, etagMatches(`"v2"`, "v1"))
}
