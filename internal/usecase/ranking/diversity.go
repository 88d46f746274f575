package ranking

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"rank-orchestrator/internal/domain"
)

// DiversityMetadata describes what the diversity reranker did for a request.
type DiversityMetadata struct {
	Applied    bool
	SkipReason string
	Intent     domain.Intent
	Lambda     float64

	// AvgSimilarityBefore/After are the mean pairwise cosine similarities
	// of the top-k set before and after reranking, for diagnostics.
	AvgSimilarityBefore float64
	AvgSimilarityAfter  float64
}

// DiversityReranker applies greedy MMR selection to a relevance-ordered
// candidate list: score(c) = lambda*normalizedRelevance(c) -
// (1-lambda)*maxSimilarityToSelected(c). It never drops candidates and never
// fails the pipeline; any internal error degrades to the input order.
type DiversityReranker struct {
	cfg      DiversityConfig
	detector domain.IntentDetector
	sink     AnalyticsSink
	logger   *slog.Logger
}

// NewDiversityReranker creates a reranker using the given intent detector
// for per-query lambda selection.
func NewDiversityReranker(cfg DiversityConfig, detector domain.IntentDetector, sink AnalyticsSink, logger *slog.Logger) *DiversityReranker {
	return &DiversityReranker{
		cfg:      cfg,
		detector: detector,
		sink:     sink,
		logger:   logger,
	}
}

// Rerank diversifies the candidate list in place and returns the new order.
// Skip conditions (disabled, too few candidates with embeddings) return the
// input unchanged, explicitly.
func (r *DiversityReranker) Rerank(ctx context.Context, queryID uuid.UUID, queryText string, cands []domain.Candidate) ([]domain.Candidate, DiversityMetadata) {
	meta := DiversityMetadata{Intent: domain.IntentUnknown}

	if !r.cfg.Enabled {
		meta.SkipReason = "disabled"
		return cands, meta
	}
	if len(cands) == 0 {
		meta.SkipReason = "no candidates"
		return cands, meta
	}

	// Intent is detected once per query and is immutable thereafter; it is
	// attached to every candidate even when reranking is skipped below, so
	// later feature extraction sees it.
	intent, lambda := r.detector.Detect(queryText)
	meta.Intent = intent
	meta.Lambda = lambda
	for i := range cands {
		cands[i].Intent = intent
	}

	withEmb := 0
	dim := 0
	for i := range cands {
		if cands[i].HasEmbedding() {
			withEmb++
			if dim == 0 {
				dim = len(cands[i].Embedding)
			} else if len(cands[i].Embedding) != dim {
				r.logger.Warn("diversity_rerank_skipped_dimension_mismatch",
					slog.String("query_id", queryID.String()),
					slog.Int("expected_dim", dim),
					slog.Int("got_dim", len(cands[i].Embedding)))
				meta.SkipReason = "embedding dimension mismatch"
				return cands, meta
			}
		}
	}
	if withEmb == 0 {
		meta.SkipReason = "no embeddings"
		r.logger.Info("diversity_rerank_skipped",
			slog.String("query_id", queryID.String()),
			slog.String("reason", meta.SkipReason))
		return cands, meta
	}
	if withEmb < r.cfg.MinCandidates {
		meta.SkipReason = "below min candidates"
		r.logger.Info("diversity_rerank_skipped",
			slog.String("query_id", queryID.String()),
			slog.String("reason", meta.SkipReason),
			slog.Int("with_embeddings", withEmb),
			slog.Int("min_candidates", r.cfg.MinCandidates))
		return cands, meta
	}

	reordered, ok := r.selectGreedy(queryID, cands, lambda, &meta)
	if !ok {
		// selectGreedy logged the cause; degrade to pass-through.
		return cands, meta
	}

	meta.Applied = true
	copy(cands, reordered)

	for i := range cands {
		intentStr := intent.String()
		r.sink.Log(domain.AnalyticsRow{
			QueryID:        queryID,
			QueryText:      queryText,
			DocURL:         cands[i].URL,
			Stage:          domain.StageDiversity,
			Position:       i,
			DiversityScore: cands[i].DiversityScore,
			Intent:         &intentStr,
			Lambda:         &lambda,
		})
	}

	r.logger.Info("diversity_rerank_completed",
		slog.String("query_id", queryID.String()),
		slog.String("intent", intent.String()),
		slog.Float64("lambda", lambda),
		slog.Int("candidates", len(cands)),
		slog.Float64("avg_similarity_before", meta.AvgSimilarityBefore),
		slog.Float64("avg_similarity_after", meta.AvgSimilarityAfter))

	return cands, meta
}

// selectGreedy runs the MMR loop over embedding-carrying candidates and
// appends the rest (beyond top-k, then embedding-less ones) in their
// original relevance order. Returns ok=false if similarity computation
// fails, in which case the caller must fall back to the input order.
func (r *DiversityReranker) selectGreedy(queryID uuid.UUID, cands []domain.Candidate, lambda float64, meta *DiversityMetadata) ([]domain.Candidate, bool) {
	pool := make([]domain.Candidate, 0, len(cands))
	rest := make([]domain.Candidate, 0)
	for i := range cands {
		if cands[i].HasEmbedding() {
			pool = append(pool, cands[i])
		} else {
			rest = append(rest, cands[i])
		}
	}

	k := r.cfg.TopK
	if k <= 0 || k > len(pool) {
		k = len(pool)
	}

	// Normalize relevance scores to [0,1] for the MMR formula.
	minScore, maxScore := pool[0].RelevanceScore, pool[0].RelevanceScore
	for i := range pool {
		s := pool[i].RelevanceScore
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}
	scoreRange := maxScore - minScore
	if scoreRange == 0 {
		scoreRange = 1
	}
	normRel := func(c *domain.Candidate) float64 {
		return (c.RelevanceScore - minScore) / scoreRange
	}

	before, err := avgPairwiseSimilarity(pool[:k])
	if err != nil {
		r.logger.Warn("diversity_rerank_failed_using_input_order",
			slog.String("query_id", queryID.String()),
			slog.String("error", err.Error()))
		return nil, false
	}
	meta.AvgSimilarityBefore = before

	selected := make([]domain.Candidate, 0, len(pool))
	remaining := make([]domain.Candidate, len(pool))
	copy(remaining, pool)

	// The first pick is always the top-relevance candidate; its recorded
	// diversity score is its normalized relevance.
	first := remaining[0]
	firstScore := normRel(&first)
	first.DiversityScore = &firstScore
	selected = append(selected, first)
	remaining = remaining[1:]

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0
		for i := range remaining {
			maxSim := 0.0
			for j := range selected {
				sim, err := domain.CosineSimilarity(remaining[i].Embedding, selected[j].Embedding)
				if err != nil {
					r.logger.Warn("diversity_rerank_failed_using_input_order",
						slog.String("query_id", queryID.String()),
						slog.String("error", err.Error()))
					return nil, false
				}
				if sim > maxSim {
					maxSim = sim
				}
			}

			score := lambda*normRel(&remaining[i]) - (1-lambda)*maxSim
			// Strict greater keeps ties on the earliest (highest original
			// relevance) candidate, making selection deterministic.
			if bestIdx == -1 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}

		pick := remaining[bestIdx]
		pick.DiversityScore = &bestScore
		selected = append(selected, pick)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	after, err := avgPairwiseSimilarity(selected)
	if err == nil {
		meta.AvgSimilarityAfter = after
	}

	out := make([]domain.Candidate, 0, len(cands))
	out = append(out, selected...)
	out = append(out, remaining...)
	out = append(out, rest...)
	return out, true
}

func avgPairwiseSimilarity(cands []domain.Candidate) (float64, error) {
	if len(cands) < 2 {
		return 0, nil
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			sim, err := domain.CosineSimilarity(cands[i].Embedding, cands[j].Embedding)
			if err != nil {
				return 0, err
			}
			sum += sim
			pairs++
		}
	}
	return sum / float64(pairs), nil
}
