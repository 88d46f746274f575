package rank_http

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"rank-orchestrator/internal/domain"
	"rank-orchestrator/internal/usecase/ranking"
)

type Handler struct {
	pipeline      *ranking.Pipeline
	analyticsRepo domain.AnalyticsRepository
	diversityCfg  ranking.DiversityConfig
	modelCfg      ranking.ModelConfig
}

func NewHandler(
	pipeline *ranking.Pipeline,
	analyticsRepo domain.AnalyticsRepository,
	diversityCfg ranking.DiversityConfig,
	modelCfg ranking.ModelConfig,
) *Handler {
	return &Handler{
		pipeline:      pipeline,
		analyticsRepo: analyticsRepo,
		diversityCfg:  diversityCfg,
		modelCfg:      modelCfg,
	}
}

// Register mounts all routes on the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/v1/rank", h.Rank)
	e.GET("/v1/analytics/pipeline/:query_id", h.PipelineTrace)
	e.GET("/v1/analytics/stages", h.StageCounts)
	e.GET("/v1/analytics/config", h.RankingConfig)
}

type retrievalScoresDTO struct {
	VectorScore   float64 `json:"vector_score"`
	BM25Score     float64 `json:"bm25_score"`
	KeywordBoost  float64 `json:"keyword_boost"`
	TemporalBoost float64 `json:"temporal_boost"`
	FinalScore    float64 `json:"final_score"`
}

type candidateDTO struct {
	URL               string                 `json:"url"`
	Title             string                 `json:"title"`
	Description       string                 `json:"description"`
	Site              string                 `json:"site"`
	Schema            map[string]interface{} `json:"schema,omitempty"`
	Author            string                 `json:"author,omitempty"`
	PublishedAt       *time.Time             `json:"published_at,omitempty"`
	Embedding         []float32              `json:"embedding,omitempty"`
	Scores            retrievalScoresDTO     `json:"scores"`
	RetrievalPosition int                    `json:"retrieval_position"`
	RelevanceScore    float64                `json:"relevance_score"`
	Snippet           string                 `json:"snippet,omitempty"`
}

type rankRequest struct {
	Query      string         `json:"query"`
	Candidates []candidateDTO `json:"candidates"`
}

type rankedResultDTO struct {
	Position        int      `json:"position"`
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Site            string   `json:"site,omitempty"`
	Snippet         string   `json:"snippet,omitempty"`
	RelevanceScore  float64  `json:"relevance_score"`
	DiversityScore  *float64 `json:"diversity_score,omitempty"`
	ModelScore      *float64 `json:"model_score,omitempty"`
	ModelConfidence *float64 `json:"model_confidence,omitempty"`
	Intent          string   `json:"intent"`
}

type diversityMetaDTO struct {
	Applied             bool    `json:"applied"`
	SkipReason          string  `json:"skip_reason,omitempty"`
	Intent              string  `json:"intent"`
	Lambda              float64 `json:"lambda"`
	AvgSimilarityBefore float64 `json:"avg_similarity_before"`
	AvgSimilarityAfter  float64 `json:"avg_similarity_after"`
}

type shadowMetaDTO struct {
	UsedModel         bool    `json:"used_model"`
	Mode              string  `json:"mode"`
	ModelVersion      string  `json:"model_version,omitempty"`
	AvgScore          float64 `json:"avg_score"`
	AvgConfidence     float64 `json:"avg_confidence"`
	TopKOverlap       float64 `json:"top_k_overlap"`
	AvgPositionChange float64 `json:"avg_position_change"`
}

type rankMetaDTO struct {
	QueryID    string           `json:"query_id"`
	Candidates int              `json:"candidates"`
	Dropped    int              `json:"dropped"`
	CacheHit   bool             `json:"cache_hit"`
	Model      shadowMetaDTO    `json:"model"`
	Diversity  diversityMetaDTO `json:"diversity"`
	DurationMs int64            `json:"duration_ms"`
}

type rankResponse struct {
	Results  []rankedResultDTO `json:"results"`
	Metadata rankMetaDTO       `json:"metadata"`
}

// Rank reorders the submitted candidates and returns the final presentation
// order with per-stage metadata.
// (POST /v1/rank)
func (h *Handler) Rank(ctx echo.Context) error {
	var req rankRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.Query == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing query"})
	}

	cands := make([]domain.Candidate, 0, len(req.Candidates))
	for _, dto := range req.Candidates {
		cands = append(cands, domain.Candidate{
			URL:         dto.URL,
			Title:       dto.Title,
			Description: dto.Description,
			Site:        dto.Site,
			Schema:      dto.Schema,
			Author:      dto.Author,
			PublishedAt: dto.PublishedAt,
			Embedding:   dto.Embedding,
			Retrieval: domain.RetrievalScores{
				VectorScore:   dto.Scores.VectorScore,
				BM25Score:     dto.Scores.BM25Score,
				KeywordBoost:  dto.Scores.KeywordBoost,
				TemporalBoost: dto.Scores.TemporalBoost,
				FinalScore:    dto.Scores.FinalScore,
			},
			RetrievalPosition: dto.RetrievalPosition,
			RelevanceScore:    dto.RelevanceScore,
			Snippet:           dto.Snippet,
			Intent:            domain.IntentUnknown,
		})
	}

	ranked, meta := h.pipeline.Rank(ctx.Request().Context(), req.Query, cands)

	results := make([]rankedResultDTO, 0, len(ranked))
	for i := range ranked {
		c := &ranked[i]
		results = append(results, rankedResultDTO{
			Position:        i,
			URL:             c.URL,
			Title:           c.Title,
			Description:     c.Description,
			Site:            c.Site,
			Snippet:         c.Snippet,
			RelevanceScore:  c.RelevanceScore,
			DiversityScore:  c.DiversityScore,
			ModelScore:      c.ModelScore,
			ModelConfidence: c.ModelConfidence,
			Intent:          c.Intent.String(),
		})
	}

	return ctx.JSON(http.StatusOK, rankResponse{
		Results: results,
		Metadata: rankMetaDTO{
			QueryID:    meta.QueryID.String(),
			Candidates: meta.Candidates,
			Dropped:    meta.Dropped,
			CacheHit:   meta.CacheHit,
			Model: shadowMetaDTO{
				UsedModel:         meta.Shadow.UsedModel,
				Mode:              string(meta.Shadow.Mode),
				ModelVersion:      meta.Shadow.ModelVersion,
				AvgScore:          meta.Shadow.AvgScore,
				AvgConfidence:     meta.Shadow.AvgConfidence,
				TopKOverlap:       meta.Shadow.TopKOverlap,
				AvgPositionChange: meta.Shadow.AvgPositionChange,
			},
			Diversity: diversityMetaDTO{
				Applied:             meta.Diversity.Applied,
				SkipReason:          meta.Diversity.SkipReason,
				Intent:              meta.Diversity.Intent.String(),
				Lambda:              meta.Diversity.Lambda,
				AvgSimilarityBefore: meta.Diversity.AvgSimilarityBefore,
				AvgSimilarityAfter:  meta.Diversity.AvgSimilarityAfter,
			},
			DurationMs: meta.Duration.Milliseconds(),
		},
	})
}

type analyticsRowDTO struct {
	QueryID   string    `json:"query_id"`
	QueryText string    `json:"query_text"`
	DocURL    string    `json:"doc_url"`
	Stage     string    `json:"stage"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`

	RelevanceScore  *float64 `json:"relevance_score,omitempty"`
	VectorScore     *float64 `json:"vector_score,omitempty"`
	BM25Score       *float64 `json:"bm25_score,omitempty"`
	FinalScore      *float64 `json:"final_score,omitempty"`
	ModelScore      *float64 `json:"model_score,omitempty"`
	ModelConfidence *float64 `json:"model_confidence,omitempty"`
	DiversityScore  *float64 `json:"diversity_score,omitempty"`
	Intent          *string  `json:"intent,omitempty"`
	Lambda          *float64 `json:"lambda,omitempty"`
}

// PipelineTrace returns every stage row recorded for one query, so a ranking
// decision can be reconstructed after the fact.
// (GET /v1/analytics/pipeline/:query_id)
func (h *Handler) PipelineTrace(ctx echo.Context) error {
	queryID, err := uuid.Parse(ctx.Param("query_id"))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid query_id"})
	}

	rows, err := h.analyticsRepo.RowsByQuery(ctx.Request().Context(), queryID)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	out := make([]analyticsRowDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, analyticsRowDTO{
			QueryID:         r.QueryID.String(),
			QueryText:       r.QueryText,
			DocURL:          r.DocURL,
			Stage:           string(r.Stage),
			Position:        r.Position,
			CreatedAt:       r.CreatedAt,
			RelevanceScore:  r.RelevanceScore,
			VectorScore:     r.VectorScore,
			BM25Score:       r.BM25Score,
			FinalScore:      r.FinalScore,
			ModelScore:      r.ModelScore,
			ModelConfidence: r.ModelConfidence,
			DiversityScore:  r.DiversityScore,
			Intent:          r.Intent,
			Lambda:          r.Lambda,
		})
	}

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"query_id": queryID.String(),
		"rows":     out,
	})
}

// StageCounts reports how many analytics rows each stage has written.
// (GET /v1/analytics/stages)
func (h *Handler) StageCounts(ctx echo.Context) error {
	counts, err := h.analyticsRepo.CountByStage(ctx.Request().Context())
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[string(c.Stage)] = c.Rows
	}
	return ctx.JSON(http.StatusOK, map[string]interface{}{"stages": out})
}

// RankingConfig echoes the live ranking configuration for debugging.
// (GET /v1/analytics/config)
func (h *Handler) RankingConfig(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"diversity": map[string]interface{}{
			"enabled":        h.diversityCfg.Enabled,
			"lambda":         h.diversityCfg.Lambda,
			"min_candidates": h.diversityCfg.MinCandidates,
			"top_k":          h.diversityCfg.TopK,
		},
		"model": map[string]interface{}{
			"mode":                 string(h.modelCfg.Mode),
			"path":                 h.modelCfg.Path,
			"confidence_threshold": h.modelCfg.ConfidenceThreshold,
		},
	})
}
