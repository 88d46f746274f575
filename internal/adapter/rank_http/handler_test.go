package rank_http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rank-orchestrator/internal/adapter/rank_http"
	"rank-orchestrator/internal/domain"
	"rank-orchestrator/internal/usecase/ranking"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryAnalytics is an in-memory AnalyticsRepository that also serves as
// the pipeline's sink.
type memoryAnalytics struct {
	mu   sync.Mutex
	rows []domain.AnalyticsRow
}

func (m *memoryAnalytics) Log(row domain.AnalyticsRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
}

func (m *memoryAnalytics) InsertRows(_ context.Context, rows []domain.AnalyticsRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *memoryAnalytics) RowsByQuery(_ context.Context, queryID uuid.UUID) ([]domain.AnalyticsRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AnalyticsRow
	for _, r := range m.rows {
		if r.QueryID == queryID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryAnalytics) CountByStage(context.Context) ([]domain.StageCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[domain.StageTag]int64{}
	for _, r := range m.rows {
		counts[r.Stage]++
	}
	out := make([]domain.StageCounts, 0, len(counts))
	for stage, n := range counts {
		out = append(out, domain.StageCounts{Stage: stage, Rows: n})
	}
	return out, nil
}

func (m *memoryAnalytics) ExportTrainingExamples(context.Context, time.Time, int, int) ([]domain.TrainingExample, error) {
	return nil, nil
}

func newTestHandler(repo *memoryAnalytics) *rank_http.Handler {
	log := discardLogger()

	diversityCfg := ranking.DefaultDiversityConfig()
	diversityCfg.MinCandidates = 2

	modelCfg := ranking.ModelConfig{Mode: domain.ModelModeDisabled, ConfidenceThreshold: 0.8}

	shadow := ranking.NewShadowScorer(modelCfg, nil, repo, log)
	detector := domain.NewRuleBasedIntentDetector(diversityCfg.Lambda)
	diversity := ranking.NewDiversityReranker(diversityCfg, detector, repo, log)
	pipeline := ranking.NewPipeline(shadow, diversity, repo, nil, log)

	return rank_http.NewHandler(pipeline, repo, diversityCfg, modelCfg)
}

func rankBody() string {
	return `{
		"query": "best golang web frameworks",
		"candidates": [
			{"url": "https://a.example", "title": "Framework A", "relevance_score": 0.9,
			 "embedding": [1, 0], "retrieval_position": 0,
			 "scores": {"vector_score": 0.8, "bm25_score": 2.0, "final_score": 0.9}},
			{"url": "https://b.example", "title": "Framework B", "relevance_score": 0.7,
			 "embedding": [0.99, 0.05], "retrieval_position": 1,
			 "scores": {"vector_score": 0.7, "bm25_score": 1.5, "final_score": 0.7}},
			{"url": "https://c.example", "title": "Framework C", "relevance_score": 0.4,
			 "embedding": [0, 1], "retrieval_position": 2,
			 "scores": {"vector_score": 0.4, "bm25_score": 1.0, "final_score": 0.4}}
		]
	}`
}

func doRank(t *testing.T, h *rank_http.Handler, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/rank", bytes.NewReader([]byte(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	require.NoError(t, h.Rank(ctx))

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	return rec, parsed
}

func TestHandler_Rank(t *testing.T) {
	repo := &memoryAnalytics{}
	h := newTestHandler(repo)

	rec, parsed := doRank(t, h, rankBody())
	assert.Equal(t, http.StatusOK, rec.Code)

	results := parsed["results"].([]interface{})
	require.Len(t, results, 3)

	first := results[0].(map[string]interface{})
	assert.Equal(t, "https://a.example", first["url"])
	assert.Equal(t, float64(0), first["position"])
	assert.Equal(t, "exploratory", first["intent"])

	metadata := parsed["metadata"].(map[string]interface{})
	assert.NotEmpty(t, metadata["query_id"])
	assert.Equal(t, float64(3), metadata["candidates"])

	diversity := metadata["diversity"].(map[string]interface{})
	assert.Equal(t, true, diversity["applied"])
	assert.Equal(t, 0.5, diversity["lambda"])

	model := metadata["model"].(map[string]interface{})
	assert.Equal(t, "disabled", model["mode"])
	assert.Equal(t, false, model["used_model"])
}

func TestHandler_Rank_MissingQuery(t *testing.T) {
	h := newTestHandler(&memoryAnalytics{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/rank", bytes.NewReader([]byte(`{"candidates": []}`)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, h.Rank(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Rank_InvalidBody(t *testing.T) {
	h := newTestHandler(&memoryAnalytics{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/rank", bytes.NewReader([]byte(`{broken`)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, h.Rank(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_PipelineTrace(t *testing.T) {
	repo := &memoryAnalytics{}
	h := newTestHandler(repo)

	_, parsed := doRank(t, h, rankBody())
	queryID := parsed["metadata"].(map[string]interface{})["query_id"].(string)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetPath("/v1/analytics/pipeline/:query_id")
	ctx.SetParamNames("query_id")
	ctx.SetParamValues(queryID)

	require.NoError(t, h.PipelineTrace(ctx))
	assert.Equal(t, http.StatusOK, rec.Code)

	var trace map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trace))
	rows := trace["rows"].([]interface{})
	// Primary rows plus diversity rows; the model is disabled here.
	assert.Len(t, rows, 6)
}

func TestHandler_PipelineTrace_BadID(t *testing.T) {
	h := newTestHandler(&memoryAnalytics{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetPath("/v1/analytics/pipeline/:query_id")
	ctx.SetParamNames("query_id")
	ctx.SetParamValues("not-a-uuid")

	require.NoError(t, h.PipelineTrace(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_StageCounts(t *testing.T) {
	repo := &memoryAnalytics{}
	h := newTestHandler(repo)
	_, _ = doRank(t, h, rankBody())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/analytics/stages", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, h.StageCounts(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	var parsed map[string]map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	assert.Equal(t, int64(3), parsed["stages"]["primary"])
	assert.Equal(t, int64(3), parsed["stages"]["diversity"])
}

func TestHandler_RankingConfig(t *testing.T) {
	h := newTestHandler(&memoryAnalytics{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/analytics/config", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, h.RankingConfig(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	var parsed map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	assert.Equal(t, true, parsed["diversity"]["enabled"])
	assert.Equal(t, "disabled", parsed["model"]["mode"])
}
