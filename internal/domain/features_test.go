package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCandidate() Candidate {
	published := time.Now().Add(-48 * time.Hour)
	return Candidate{
		URL:         "https://example.com/articles/go-concurrency",
		Title:       "Go concurrency patterns",
		Description: "A practical guide to goroutines and channels in Go",
		Site:        "example.com",
		Author:      "Jordan Reed",
		PublishedAt: &published,
		Retrieval: RetrievalScores{
			VectorScore: 0.82,
			BM25Score:   3.1,
			FinalScore:  0.77,
		},
		RetrievalPosition: 2,
		RelevanceScore:    0.9,
		Intent:            IntentUnknown,
	}
}

func TestExtractFeatures_VectorShape(t *testing.T) {
	c := sampleCandidate()
	agg := NewQueryAggregates("go concurrency", []Candidate{c})

	fv, err := ExtractFeatures("go concurrency", &c, 0, agg)
	require.NoError(t, err)
	assert.Len(t, fv, TotalFeatures)
}

func TestExtractFeatures_Deterministic(t *testing.T) {
	c := sampleCandidate()
	agg := NewQueryAggregates("go concurrency", []Candidate{c})

	fv1, err := ExtractFeatures("go concurrency", &c, 1, agg)
	require.NoError(t, err)
	fv2, err := ExtractFeatures("go concurrency", &c, 1, agg)
	require.NoError(t, err)

	assert.Equal(t, fv1, fv2)
}

func TestExtractFeatures_MissingURL(t *testing.T) {
	c := sampleCandidate()
	c.URL = ""
	agg := NewQueryAggregates("query", []Candidate{c})

	_, err := ExtractFeatures("query", &c, 0, agg)
	assert.Error(t, err)
}

func TestExtractFeatures_MissingPublicationDate(t *testing.T) {
	c := sampleCandidate()
	c.PublishedAt = nil
	agg := NewQueryAggregates("query", []Candidate{c})

	fv, err := ExtractFeatures("query", &c, 0, agg)
	require.NoError(t, err)

	assert.Equal(t, float64(MissingRecencyDays), fv[FeatRecencyDays])
	assert.Equal(t, 0.0, fv[FeatHasPublicationDate])
}

func TestExtractFeatures_EmptyQuery(t *testing.T) {
	c := sampleCandidate()
	agg := NewQueryAggregates("", []Candidate{c})

	fv, err := ExtractFeatures("", &c, 0, agg)
	require.NoError(t, err)

	assert.Equal(t, 0.0, fv[FeatQueryLength])
	assert.Equal(t, 0.0, fv[FeatWordCount])
	assert.Equal(t, 0.0, fv[FeatHasQuestionWords])
	assert.Equal(t, 0.0, fv[FeatKeywordCount])
	assert.Equal(t, 0.0, fv[FeatKeywordOverlapRatio], "no query keywords means zero overlap, not NaN")
}

func TestExtractFeatures_QuestionWords(t *testing.T) {
	c := sampleCandidate()

	agg := NewQueryAggregates("how do goroutines work", []Candidate{c})
	fv, err := ExtractFeatures("how do goroutines work", &c, 0, agg)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fv[FeatHasQuestionWords])

	agg = NewQueryAggregates("為什麼需要 channel", []Candidate{c})
	fv, err = ExtractFeatures("為什麼需要 channel", &c, 0, agg)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fv[FeatHasQuestionWords])
}

func TestExtractFeatures_TitleExactMatch(t *testing.T) {
	c := sampleCandidate()
	c.Title = "Go Concurrency Patterns"

	agg := NewQueryAggregates("go concurrency", []Candidate{c})
	fv, err := ExtractFeatures("go concurrency", &c, 0, agg)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fv[FeatTitleExactMatch])

	agg = NewQueryAggregates("rust ownership", []Candidate{c})
	fv, err = ExtractFeatures("rust ownership", &c, 0, agg)
	require.NoError(t, err)
	assert.Equal(t, 0.0, fv[FeatTitleExactMatch])
}

func TestExtractFeatures_PositionChange(t *testing.T) {
	c := sampleCandidate()
	c.RetrievalPosition = 5
	agg := NewQueryAggregates("query", []Candidate{c})

	fv, err := ExtractFeatures("query", &c, 2, agg)
	require.NoError(t, err)

	assert.Equal(t, 5.0, fv[FeatRetrievalPosition])
	assert.Equal(t, 2.0, fv[FeatRankingPosition])
	assert.Equal(t, 3.0, fv[FeatPositionChange])
}

func TestExtractFeatures_DiversityDefaults(t *testing.T) {
	c := sampleCandidate()
	agg := NewQueryAggregates("query", []Candidate{c})

	fv, err := ExtractFeatures("query", &c, 0, agg)
	require.NoError(t, err)

	assert.Equal(t, 0.0, fv[FeatDiversityScore])
	assert.Equal(t, float64(IntentUnknown), fv[FeatDetectedIntent])

	ds := 0.45
	c.DiversityScore = &ds
	c.Intent = IntentExploratory
	fv, err = ExtractFeatures("query", &c, 0, agg)
	require.NoError(t, err)

	assert.Equal(t, 0.45, fv[FeatDiversityScore])
	assert.Equal(t, float64(IntentExploratory), fv[FeatDetectedIntent])
}

func TestRelativeScoreToTop_ZeroMax(t *testing.T) {
	cands := []Candidate{
		{URL: "https://a.example", RelevanceScore: 0},
		{URL: "https://b.example", RelevanceScore: 0},
	}
	agg := NewQueryAggregates("query", cands)

	assert.Equal(t, 1.0, agg.RelativeScoreToTop(0), "all-zero scores define relative score as 1.0")
}

func TestRelativeScoreToTop(t *testing.T) {
	cands := []Candidate{
		{URL: "https://a.example", RelevanceScore: 0.8},
		{URL: "https://b.example", RelevanceScore: 0.4},
	}
	agg := NewQueryAggregates("query", cands)

	assert.Equal(t, 1.0, agg.RelativeScoreToTop(0.8))
	assert.Equal(t, 0.5, agg.RelativeScoreToTop(0.4))
}

func TestScorePercentile_SingleCandidate(t *testing.T) {
	agg := NewQueryAggregates("query", []Candidate{{URL: "https://a.example", RelevanceScore: 0.9}})
	assert.Equal(t, 50.0, agg.ScorePercentile(0.9))
}

func TestScorePercentile(t *testing.T) {
	cands := []Candidate{
		{URL: "https://a.example", RelevanceScore: 0.2},
		{URL: "https://b.example", RelevanceScore: 0.5},
		{URL: "https://c.example", RelevanceScore: 0.8},
	}
	agg := NewQueryAggregates("query", cands)

	assert.Equal(t, 0.0, agg.ScorePercentile(0.2))
	assert.Equal(t, 50.0, agg.ScorePercentile(0.5))
	assert.Equal(t, 100.0, agg.ScorePercentile(0.8))
}

func TestKeywordOverlapRatio(t *testing.T) {
	c := sampleCandidate()
	c.Title = "go channels explained"
	c.Description = ""

	agg := NewQueryAggregates("go channels", []Candidate{c})
	fv, err := ExtractFeatures("go channels", &c, 0, agg)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fv[FeatKeywordOverlapRatio])

	agg = NewQueryAggregates("go generics tutorial", []Candidate{c})
	fv, err = ExtractFeatures("go generics tutorial", &c, 0, agg)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, fv[FeatKeywordOverlapRatio], 1e-9)
}

func TestSchemaCompleteness(t *testing.T) {
	full := sampleCandidate()
	assert.Equal(t, 1.0, schemaCompleteness(&full))

	sparse := Candidate{URL: "https://a.example"}
	assert.Equal(t, 0.2, schemaCompleteness(&sparse))
}

func TestRecencyDays_FutureDateClamped(t *testing.T) {
	future := time.Now().Add(72 * time.Hour)
	assert.Equal(t, 0.0, recencyDays(&future))
}
