package ranking

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rank-orchestrator/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sinkStub collects analytics rows synchronously.
type sinkStub struct {
	rows []domain.AnalyticsRow
}

func (s *sinkStub) Log(row domain.AnalyticsRow) {
	s.rows = append(s.rows, row)
}

func (s *sinkStub) byStage(stage domain.StageTag) []domain.AnalyticsRow {
	var out []domain.AnalyticsRow
	for _, r := range s.rows {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}

// fixedDetector always reports the same intent and lambda.
type fixedDetector struct {
	intent domain.Intent
	lambda float64
}

func (d fixedDetector) Detect(string) (domain.Intent, float64) {
	return d.intent, d.lambda
}

func embCandidate(url string, relevance float64, emb []float32) domain.Candidate {
	return domain.Candidate{
		URL:            url,
		Title:          url,
		Embedding:      emb,
		RelevanceScore: relevance,
		Intent:         domain.IntentUnknown,
	}
}

func urls(cands []domain.Candidate) []string {
	out := make([]string, len(cands))
	for i := range cands {
		out[i] = cands[i].URL
	}
	return out
}

func TestRerank_Disabled(t *testing.T) {
	cfg := DefaultDiversityConfig()
	cfg.Enabled = false
	sink := &sinkStub{}
	r := NewDiversityReranker(cfg, fixedDetector{domain.IntentBalanced, 0.7}, sink, discardLogger())

	cands := []domain.Candidate{
		embCandidate("https://a.example", 0.9, []float32{1, 0}),
		embCandidate("https://b.example", 0.8, []float32{0, 1}),
	}
	out, meta := r.Rerank(context.Background(), uuid.New(), "query", cands)

	assert.False(t, meta.Applied)
	assert.Equal(t, "disabled", meta.SkipReason)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, urls(out))
	assert.Empty(t, sink.rows)
	assert.Equal(t, domain.IntentUnknown, out[0].Intent, "disabled reranker must not run intent detection")
}

func TestRerank_NoEmbeddings(t *testing.T) {
	cfg := DefaultDiversityConfig()
	r := NewDiversityReranker(cfg, fixedDetector{domain.IntentBalanced, 0.7}, &sinkStub{}, discardLogger())

	cands := []domain.Candidate{
		embCandidate("https://a.example", 0.9, nil),
		embCandidate("https://b.example", 0.8, nil),
	}
	out, meta := r.Rerank(context.Background(), uuid.New(), "query", cands)

	assert.False(t, meta.Applied)
	assert.Equal(t, "no embeddings", meta.SkipReason)
	assert.Equal(t, domain.IntentBalanced, out[0].Intent, "intent is attached even when reranking is skipped")
	assert.Equal(t, domain.IntentBalanced, out[1].Intent)
}

func TestRerank_BelowMinCandidates(t *testing.T) {
	cfg := DefaultDiversityConfig()
	cfg.MinCandidates = 4
	r := NewDiversityReranker(cfg, fixedDetector{domain.IntentBalanced, 0.7}, &sinkStub{}, discardLogger())

	cands := []domain.Candidate{
		embCandidate("https://a.example", 0.9, []float32{1, 0}),
		embCandidate("https://b.example", 0.8, []float32{0, 1}),
	}
	_, meta := r.Rerank(context.Background(), uuid.New(), "query", cands)

	assert.False(t, meta.Applied)
	assert.Equal(t, "below min candidates", meta.SkipReason)
}

func TestRerank_DimensionMismatch(t *testing.T) {
	cfg := DefaultDiversityConfig()
	cfg.MinCandidates = 2
	r := NewDiversityReranker(cfg, fixedDetector{domain.IntentBalanced, 0.7}, &sinkStub{}, discardLogger())

	cands := []domain.Candidate{
		embCandidate("https://a.example", 0.9, []float32{1, 0}),
		embCandidate("https://b.example", 0.8, []float32{0, 1, 0}),
	}
	out, meta := r.Rerank(context.Background(), uuid.New(), "query", cands)

	assert.False(t, meta.Applied)
	assert.Equal(t, "embedding dimension mismatch", meta.SkipReason)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, urls(out))
}

func TestRerank_FirstPickIsTopRelevance(t *testing.T) {
	cfg := DefaultDiversityConfig()
	cfg.MinCandidates = 2
	r := NewDiversityReranker(cfg, fixedDetector{domain.IntentExploratory, 0.5}, &sinkStub{}, discardLogger())

	cands := []domain.Candidate{
		embCandidate("https://top.example", 1.0, []float32{1, 0}),
		embCandidate("https://mid.example", 0.7, []float32{0.9, 0.1}),
		embCandidate("https://low.example", 0.3, []float32{0, 1}),
	}
	out, meta := r.Rerank(context.Background(), uuid.New(), "query", cands)

	require.True(t, meta.Applied)
	assert.Equal(t, "https://top.example", out[0].URL, "MMR must always start from the most relevant candidate")
	require.NotNil(t, out[0].DiversityScore)
	assert.Equal(t, 1.0, *out[0].DiversityScore, "first pick records its normalized relevance")
}

// Near-duplicates of the top result get demoted under an exploratory lambda
// but survive in relevance order under a specific lambda.
func TestRerank_LambdaControlsDuplicateDemotion(t *testing.T) {
	build := func() []domain.Candidate {
		return []domain.Candidate{
			embCandidate("https://orig.example", 1.0, []float32{1, 0}),
			embCandidate("https://dup.example", 0.9, []float32{0.999, 0.01}),
			embCandidate("https://other.example", 0.5, []float32{0, 1}),
		}
	}
	cfg := DefaultDiversityConfig()
	cfg.MinCandidates = 2

	exploratory := NewDiversityReranker(cfg, fixedDetector{domain.IntentExploratory, 0.5}, &sinkStub{}, discardLogger())
	out, meta := exploratory.Rerank(context.Background(), uuid.New(), "best options", build())
	require.True(t, meta.Applied)
	assert.Equal(t, []string{"https://orig.example", "https://other.example", "https://dup.example"}, urls(out))

	specific := NewDiversityReranker(cfg, fixedDetector{domain.IntentSpecific, 0.8}, &sinkStub{}, discardLogger())
	out, meta = specific.Rerank(context.Background(), uuid.New(), "how to", build())
	require.True(t, meta.Applied)
	assert.Equal(t, []string{"https://orig.example", "https://dup.example", "https://other.example"}, urls(out))
}

func TestRerank_TieBreaksOnEarliestCandidate(t *testing.T) {
	cfg := DefaultDiversityConfig()
	cfg.MinCandidates = 2

	// b and c are identical in relevance and orthogonal to a, so their MMR
	// scores tie; b entered first and must win.
	cands := []domain.Candidate{
		embCandidate("https://a.example", 1.0, []float32{1, 0, 0}),
		embCandidate("https://b.example", 0.5, []float32{0, 1, 0}),
		embCandidate("https://c.example", 0.5, []float32{0, 0, 1}),
	}
	r := NewDiversityReranker(cfg, fixedDetector{domain.IntentBalanced, 0.7}, &sinkStub{}, discardLogger())
	out, meta := r.Rerank(context.Background(), uuid.New(), "query", cands)

	require.True(t, meta.Applied)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, urls(out))
}

func TestRerank_EmbeddinglessKeptAtEnd(t *testing.T) {
	cfg := DefaultDiversityConfig()
	cfg.MinCandidates = 2

	cands := []domain.Candidate{
		embCandidate("https://a.example", 1.0, []float32{1, 0}),
		embCandidate("https://noemb.example", 0.9, nil),
		embCandidate("https://b.example", 0.8, []float32{0, 1}),
	}
	r := NewDiversityReranker(cfg, fixedDetector{domain.IntentBalanced, 0.7}, &sinkStub{}, discardLogger())
	out, meta := r.Rerank(context.Background(), uuid.New(), "query", cands)

	require.True(t, meta.Applied)
	assert.Len(t, out, 3, "reranking never drops candidates")
	assert.Equal(t, "https://noemb.example", out[2].URL)
}

func TestRerank_TopKBoundsSelection(t *testing.T) {
	cfg := DefaultDiversityConfig()
	cfg.MinCandidates = 2
	cfg.TopK = 2

	cands := []domain.Candidate{
		embCandidate("https://a.example", 1.0, []float32{1, 0}),
		embCandidate("https://b.example", 0.9, []float32{0.999, 0.01}),
		embCandidate("https://c.example", 0.5, []float32{0, 1}),
	}
	r := NewDiversityReranker(cfg, fixedDetector{domain.IntentExploratory, 0.5}, &sinkStub{}, discardLogger())
	out, meta := r.Rerank(context.Background(), uuid.New(), "query", cands)

	require.True(t, meta.Applied)
	assert.Len(t, out, 3)
	// Only two greedy picks; c displaces b inside top-k, b follows after.
	assert.Equal(t, []string{"https://a.example", "https://c.example", "https://b.example"}, urls(out))
}

func TestRerank_LogsDiversityRows(t *testing.T) {
	cfg := DefaultDiversityConfig()
	cfg.MinCandidates = 2
	sink := &sinkStub{}

	cands := []domain.Candidate{
		embCandidate("https://a.example", 1.0, []float32{1, 0}),
		embCandidate("https://b.example", 0.5, []float32{0, 1}),
	}
	r := NewDiversityReranker(cfg, fixedDetector{domain.IntentExploratory, 0.5}, sink, discardLogger())
	queryID := uuid.New()
	_, meta := r.Rerank(context.Background(), queryID, "query", cands)

	require.True(t, meta.Applied)
	rows := sink.byStage(domain.StageDiversity)
	require.Len(t, rows, 2)
	for i, row := range rows {
		assert.Equal(t, queryID, row.QueryID)
		assert.Equal(t, i, row.Position)
		require.NotNil(t, row.Intent)
		assert.Equal(t, "exploratory", *row.Intent)
		require.NotNil(t, row.Lambda)
		assert.Equal(t, 0.5, *row.Lambda)
		require.NotNil(t, row.DiversityScore)
	}
}

func TestRerank_SimilarityDiagnostics(t *testing.T) {
	cfg := DefaultDiversityConfig()
	cfg.MinCandidates = 2

	cands := []domain.Candidate{
		embCandidate("https://a.example", 1.0, []float32{1, 0}),
		embCandidate("https://a2.example", 0.95, []float32{0.999, 0.01}),
		embCandidate("https://a3.example", 0.9, []float32{0.998, 0.02}),
		embCandidate("https://b.example", 0.5, []float32{0, 1}),
	}
	r := NewDiversityReranker(cfg, fixedDetector{domain.IntentExploratory, 0.5}, &sinkStub{}, discardLogger())
	_, meta := r.Rerank(context.Background(), uuid.New(), "query", cands)

	require.True(t, meta.Applied)
	assert.Greater(t, meta.AvgSimilarityBefore, 0.0)
}

func TestDiversityConfig_Validate(t *testing.T) {
	cfg := DefaultDiversityConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Lambda = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultDiversityConfig()
	cfg.MinCandidates = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultDiversityConfig()
	cfg.TopK = -1
	assert.Error(t, cfg.Validate())
}
