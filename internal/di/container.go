package di

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"rank-orchestrator/internal/adapter/cache"
	"rank-orchestrator/internal/adapter/gbdt"
	rank_http "rank-orchestrator/internal/adapter/rank_http"
	"rank-orchestrator/internal/adapter/repository"
	"rank-orchestrator/internal/analytics"
	"rank-orchestrator/internal/domain"
	"rank-orchestrator/internal/infra/config"
	"rank-orchestrator/internal/usecase/ranking"
)

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	AnalyticsRepo   domain.AnalyticsRepository
	AnalyticsWorker *analytics.Worker
	ResultsCache    *cache.ResultsCache

	Pipeline *ranking.Pipeline
	Handler  *rank_http.Handler

	DiversityConfig ranking.DiversityConfig
	ModelConfig     ranking.ModelConfig
}

// NewApplicationComponents wires all dependencies from config and database pool.
func NewApplicationComponents(cfg *config.Config, pool *pgxpool.Pool, log *slog.Logger) (*ApplicationComponents, error) {
	analyticsRepo := repository.NewAnalyticsRepository(pool)

	workerCfg := analytics.DefaultConfig()
	if cfg.AnalyticsBufferSize > 0 {
		workerCfg.BufferSize = cfg.AnalyticsBufferSize
	}
	if cfg.AnalyticsMaxRetries > 0 {
		workerCfg.MaxRetries = cfg.AnalyticsMaxRetries
	}
	worker := analytics.NewWorker(analyticsRepo, workerCfg, log)

	mode, err := domain.ParseModelMode(cfg.ModelMode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MODEL_MODE: %w", err)
	}
	modelCfg := ranking.ModelConfig{
		Mode:                mode,
		Path:                cfg.ModelPath,
		ConfidenceThreshold: cfg.ModelConfidenceThreshold,
	}
	if err := modelCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}

	diversityCfg := ranking.DiversityConfig{
		Enabled:       cfg.DiversityEnabled,
		Lambda:        cfg.DiversityLambda,
		MinCandidates: cfg.DiversityMinCandidates,
		TopK:          cfg.DiversityTopK,
	}
	if err := diversityCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid diversity config: %w", err)
	}

	modelStore := gbdt.NewStore(log)
	shadow := ranking.NewShadowScorer(modelCfg, modelStore, worker, log)

	detector := domain.NewRuleBasedIntentDetector(diversityCfg.Lambda)
	diversity := ranking.NewDiversityReranker(diversityCfg, detector, worker, log)

	resultsCache, err := cache.NewResultsCache(
		cfg.ResultsCacheURL,
		time.Duration(cfg.ResultsCacheTTLSeconds)*time.Second,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init results cache: %w", err)
	}

	pipeline := ranking.NewPipeline(shadow, diversity, worker, resultsCache, log)

	handler := rank_http.NewHandler(pipeline, analyticsRepo, diversityCfg, modelCfg)

	return &ApplicationComponents{
		AnalyticsRepo:   analyticsRepo,
		AnalyticsWorker: worker,
		ResultsCache:    resultsCache,
		Pipeline:        pipeline,
		Handler:         handler,
		DiversityConfig: diversityCfg,
		ModelConfig:     modelCfg,
	}, nil
}
