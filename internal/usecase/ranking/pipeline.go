package ranking

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"rank-orchestrator/internal/domain"
)

// ResultsCache stores final orderings so repeated identical requests skip
// recomputation. A nil or unavailable cache behaves as a permanent miss.
type ResultsCache interface {
	// Get returns the cached final URL order for the request, if present.
	Get(ctx context.Context, queryText string, urls []string) ([]string, bool)
	// Store saves the final URL order for the request.
	Store(ctx context.Context, queryText string, urls []string, order []string) error
}

// RankMetadata summarizes one pass through the ranking stage.
type RankMetadata struct {
	QueryID    uuid.UUID
	Candidates int
	Dropped    int
	CacheHit   bool
	Shadow     ShadowMetadata
	Diversity  DiversityMetadata
	Duration   time.Duration
}

// Pipeline is the ranking stage: primary analytics capture, shadow model
// scoring, then diversity reranking. Its only caller-visible failure mode is
// returning the input order unchanged; no internal error propagates.
type Pipeline struct {
	shadow    *ShadowScorer
	diversity *DiversityReranker
	sink      AnalyticsSink
	cache     ResultsCache
	logger    *slog.Logger
}

// NewPipeline wires the ranking stage. cache may be nil.
func NewPipeline(shadow *ShadowScorer, diversity *DiversityReranker, sink AnalyticsSink, cache ResultsCache, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		shadow:    shadow,
		diversity: diversity,
		sink:      sink,
		cache:     cache,
		logger:    logger,
	}
}

// Rank produces the final presentation order for one query's candidates.
// Candidates without a URL are dropped with a warning (caller bug); the
// pipeline continues for the rest.
func (p *Pipeline) Rank(ctx context.Context, queryText string, cands []domain.Candidate) ([]domain.Candidate, RankMetadata) {
	start := time.Now()
	queryID := uuid.New()
	meta := RankMetadata{QueryID: queryID}

	valid := cands[:0:0]
	for i := range cands {
		if cands[i].URL == "" {
			meta.Dropped++
			p.logger.Warn("candidate_dropped_missing_url",
				slog.String("query_id", queryID.String()),
				slog.Int("retrieval_position", cands[i].RetrievalPosition))
			continue
		}
		valid = append(valid, cands[i])
	}
	meta.Candidates = len(valid)

	if len(valid) == 0 {
		meta.Duration = time.Since(start)
		return valid, meta
	}

	urls := make([]string, len(valid))
	for i := range valid {
		urls[i] = valid[i].URL
	}

	if p.cache != nil {
		if order, ok := p.cache.Get(ctx, queryText, urls); ok {
			meta.CacheHit = true
			meta.Duration = time.Since(start)
			p.logger.Info("ranking_served_from_cache",
				slog.String("query_id", queryID.String()),
				slog.Int("candidates", len(valid)))
			return applyOrder(valid, order), meta
		}
	}

	p.logPrimaryStage(queryID, queryText, valid)

	valid, meta.Shadow = p.shadow.Score(ctx, queryID, queryText, valid)
	valid, meta.Diversity = p.diversity.Rerank(ctx, queryID, queryText, valid)

	if p.cache != nil {
		finalOrder := make([]string, len(valid))
		for i := range valid {
			finalOrder[i] = valid[i].URL
		}
		if err := p.cache.Store(ctx, queryText, urls, finalOrder); err != nil {
			p.logger.Warn("results_cache_store_failed",
				slog.String("query_id", queryID.String()),
				slog.String("error", err.Error()))
		}
	}

	meta.Duration = time.Since(start)
	p.logger.Info("ranking_completed",
		slog.String("query_id", queryID.String()),
		slog.Int("candidates", len(valid)),
		slog.Int("dropped", meta.Dropped),
		slog.Bool("used_model", meta.Shadow.UsedModel),
		slog.Bool("diversity_applied", meta.Diversity.Applied),
		slog.Int64("duration_ms", meta.Duration.Milliseconds()))

	return valid, meta
}

// logPrimaryStage records one row per candidate as the external relevance
// scorer handed it to this stage, embedding included so training examples
// can be rebuilt offline.
func (p *Pipeline) logPrimaryStage(queryID uuid.UUID, queryText string, cands []domain.Candidate) {
	for i := range cands {
		c := &cands[i]
		relevance := c.RelevanceScore
		vector := c.Retrieval.VectorScore
		bm25 := c.Retrieval.BM25Score
		final := c.Retrieval.FinalScore

		row := domain.AnalyticsRow{
			QueryID:        queryID,
			QueryText:      queryText,
			DocURL:         c.URL,
			Stage:          domain.StagePrimary,
			Position:       i,
			RelevanceScore: &relevance,
			VectorScore:    &vector,
			BM25Score:      &bm25,
			FinalScore:     &final,
		}
		if c.HasEmbedding() {
			v := pgvector.NewVector(c.Embedding)
			row.Embedding = &v
		}
		p.sink.Log(row)
	}
}

// applyOrder reorders candidates to match a cached URL order. URLs missing
// from the cached order keep their current relative order at the end.
func applyOrder(cands []domain.Candidate, order []string) []domain.Candidate {
	pos := make(map[string]int, len(order))
	for i, u := range order {
		pos[u] = i
	}
	rank := func(c *domain.Candidate) int {
		if p, ok := pos[c.URL]; ok {
			return p
		}
		return len(order)
	}
	out := make([]domain.Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(&out[i]) < rank(&out[j])
	})
	return out
}
