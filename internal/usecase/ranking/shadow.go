package ranking

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"rank-orchestrator/internal/domain"
)

// overlapK is how many top positions the shadow comparison looks at.
const overlapK = 10

// ModelStore supplies loaded ranking models by path.
type ModelStore interface {
	GetOrLoad(path string) (domain.RankingModel, error)
}

// AnalyticsSink receives fire-and-forget analytics rows.
type AnalyticsSink interface {
	Log(row domain.AnalyticsRow)
}

// ShadowMetadata describes what the shadow scorer did for one request.
type ShadowMetadata struct {
	UsedModel     bool
	Mode          domain.ModelMode
	ModelVersion  string
	AvgScore      float64
	AvgConfidence float64

	// TopKOverlap and AvgPositionChange compare the incoming order with
	// the order the model would have produced. Only set when scoring ran.
	TopKOverlap       float64
	AvgPositionChange float64
}

// ShadowScorer scores candidates with a learned model and, depending on the
// execution mode, either leaves the ranking untouched (shadow) or re-sorts
// it by model score (production). It never raises out of Score: any failure
// degrades to pass-through.
type ShadowScorer struct {
	cfg    ModelConfig
	store  ModelStore
	sink   AnalyticsSink
	logger *slog.Logger

	// degraded latches a fatal configuration error (feature schema
	// mismatch) so it is logged once, not on every request.
	mu       sync.RWMutex
	degraded bool
}

// NewShadowScorer creates a scorer. The model itself is loaded lazily on
// first use through the store.
func NewShadowScorer(cfg ModelConfig, store ModelStore, sink AnalyticsSink, logger *slog.Logger) *ShadowScorer {
	return &ShadowScorer{
		cfg:    cfg,
		store:  store,
		sink:   sink,
		logger: logger,
	}
}

func (s *ShadowScorer) isDegraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *ShadowScorer) degrade(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return
	}
	s.degraded = true
	s.logger.Error("model_scoring_disabled",
		slog.String("model_path", s.cfg.Path),
		slog.String("reason", reason))
}

// Score runs the model over the candidate list in their current order.
// Candidates are mutated in place: model score and confidence are attached
// to every scored candidate regardless of mode. The returned slice is the
// input order in disabled/shadow mode and the model order in production
// mode.
func (s *ShadowScorer) Score(ctx context.Context, queryID uuid.UUID, queryText string, cands []domain.Candidate) ([]domain.Candidate, ShadowMetadata) {
	meta := ShadowMetadata{Mode: s.cfg.Mode}

	if s.cfg.Mode == domain.ModelModeDisabled || s.cfg.Path == "" || len(cands) == 0 || s.isDegraded() {
		return cands, meta
	}

	model, err := s.store.GetOrLoad(s.cfg.Path)
	if err != nil {
		// The store already logged the load failure once and latched it;
		// scoring silently falls back to pass-through from here on.
		return cands, meta
	}

	if model.NumFeatures() != domain.TotalFeatures {
		s.degrade("feature schema mismatch")
		return cands, meta
	}
	meta.ModelVersion = model.Version()

	agg := domain.NewQueryAggregates(queryText, cands)

	var sumScore, sumConf float64
	scored := 0
	for i := range cands {
		fv, err := domain.ExtractFeatures(queryText, &cands[i], i, agg)
		if err != nil {
			s.logger.Warn("feature_extraction_skipped",
				slog.String("query_id", queryID.String()),
				slog.Int("position", i),
				slog.String("error", err.Error()))
			continue
		}

		score, confidence := model.Predict(fv)
		cands[i].ModelScore = &score
		cands[i].ModelConfidence = &confidence
		sumScore += score
		sumConf += confidence
		scored++

		stage := domain.StageModelShadow
		if s.cfg.Mode == domain.ModelModeProduction {
			stage = domain.StageModelProduction
		}
		s.sink.Log(domain.AnalyticsRow{
			QueryID:         queryID,
			QueryText:       queryText,
			DocURL:          cands[i].URL,
			Stage:           stage,
			Position:        i,
			ModelScore:      &score,
			ModelConfidence: &confidence,
		})
	}

	if scored == 0 {
		return cands, meta
	}

	meta.AvgScore = sumScore / float64(scored)
	meta.AvgConfidence = sumConf / float64(scored)
	meta.TopKOverlap, meta.AvgPositionChange = compareWithModelOrder(cands)

	if s.cfg.Mode == domain.ModelModeShadow {
		s.logger.Info("shadow_scoring_completed",
			slog.String("query_id", queryID.String()),
			slog.String("model_version", meta.ModelVersion),
			slog.Int("scored", scored),
			slog.Float64("avg_score", meta.AvgScore),
			slog.Float64("avg_confidence", meta.AvgConfidence),
			slog.Float64("topk_overlap", meta.TopKOverlap),
			slog.Float64("avg_position_change", meta.AvgPositionChange))
		return cands, meta
	}

	// Production: re-sort by model score descending. The sort is stable so
	// equal scores (and unscored candidates) keep their relative order.
	sort.SliceStable(cands, func(i, j int) bool {
		return modelScoreOf(&cands[i]) > modelScoreOf(&cands[j])
	})
	meta.UsedModel = true

	s.logger.Info("model_reranking_completed",
		slog.String("query_id", queryID.String()),
		slog.String("model_version", meta.ModelVersion),
		slog.Int("scored", scored),
		slog.Float64("avg_confidence", meta.AvgConfidence))

	return cands, meta
}

func modelScoreOf(c *domain.Candidate) float64 {
	if c.ModelScore == nil {
		return -1
	}
	return *c.ModelScore
}

// compareWithModelOrder measures how far the model's preferred order is from
// the incoming order: overlap between the two top-k sets and the average
// absolute position change.
func compareWithModelOrder(cands []domain.Candidate) (float64, float64) {
	n := len(cands)
	if n == 0 {
		return 0, 0
	}

	modelOrder := make([]int, n)
	for i := range modelOrder {
		modelOrder[i] = i
	}
	sort.SliceStable(modelOrder, func(a, b int) bool {
		return modelScoreOf(&cands[modelOrder[a]]) > modelScoreOf(&cands[modelOrder[b]])
	})

	k := overlapK
	if n < k {
		k = n
	}
	inTop := make(map[int]struct{}, k)
	for i := 0; i < k; i++ {
		inTop[modelOrder[i]] = struct{}{}
	}
	overlap := 0
	for i := 0; i < k; i++ {
		if _, ok := inTop[i]; ok {
			overlap++
		}
	}

	var totalChange float64
	for modelPos, origPos := range modelOrder {
		change := modelPos - origPos
		if change < 0 {
			change = -change
		}
		totalChange += float64(change)
	}

	return float64(overlap) / float64(k), totalChange / float64(n)
}
