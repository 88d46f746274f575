package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// FeatureVersion identifies the feature schema below. Models record the
// version they were trained against and refuse vectors of any other length.
const FeatureVersion = 2

// Feature index constants (0-based).
//
// DO NOT change the order or indices; trained models depend on this layout.
// New features are appended (29+), never inserted. Consumers must address
// the vector through these constants, never through raw indices.
const (
	// Query features (shared across all candidates of one query)
	FeatQueryLength      = 0
	FeatWordCount        = 1
	FeatHasQuotes        = 2
	FeatHasNumbers       = 3
	FeatHasQuestionWords = 4
	FeatKeywordCount     = 5

	// Document features
	FeatDocLength          = 6
	FeatRecencyDays        = 7
	FeatHasAuthor          = 8
	FeatHasPublicationDate = 9
	FeatSchemaCompleteness = 10
	FeatTitleLength        = 11
	FeatDescriptionLength  = 12
	FeatURLLength          = 13

	// Query-document interaction features
	FeatVectorSimilarity    = 14
	FeatBM25Score           = 15
	FeatKeywordBoost        = 16
	FeatTemporalBoost       = 17
	FeatFinalRetrievalScore = 18
	FeatKeywordOverlapRatio = 19
	FeatTitleExactMatch     = 20

	// Ranking context features
	FeatRetrievalPosition  = 21
	FeatRankingPosition    = 22
	FeatRelevanceScore     = 23
	FeatRelativeScoreToTop = 24
	FeatScorePercentile    = 25
	FeatPositionChange     = 26

	// Diversity context features
	FeatDiversityScore = 27
	FeatDetectedIntent = 28

	// TotalFeatures is the vector length for FeatureVersion 2.
	TotalFeatures = 29
)

// MissingRecencyDays is the sentinel for documents with no publication date.
// Zero would falsely claim "published today".
const MissingRecencyDays = 999999

// FeatureVector is a fixed-schema numeric representation of one
// (query, candidate) pair.
type FeatureVector []float64

var questionWords = []string{
	"什麼", "為什麼", "如何", "怎麼", "哪裡", "哪些", "誰", "何時",
	"what", "why", "how", "where", "which", "who", "when",
}

// QueryAggregates holds the per-query state feature extraction is allowed to
// read across candidates. It is computed once per query so extraction stays
// O(1) per candidate after an O(n log n) setup.
type QueryAggregates struct {
	queryLength      float64
	wordCount        float64
	hasQuotes        float64
	hasNumbers       float64
	hasQuestionWords float64
	keywordCount     float64

	queryKeywords map[string]struct{}

	// MaxRelevance is the maximum primary relevance score in the set.
	MaxRelevance float64
	// Count is the number of candidates in the set.
	Count int

	sortedScores []float64
}

// NewQueryAggregates precomputes query-level features and cross-candidate
// score statistics. An empty query yields all-zero query features, not an
// error.
func NewQueryAggregates(queryText string, candidates []Candidate) QueryAggregates {
	agg := QueryAggregates{Count: len(candidates)}

	if queryText != "" {
		words := strings.Fields(queryText)
		lower := strings.ToLower(queryText)

		agg.queryLength = float64(utf8.RuneCountInString(queryText))
		agg.wordCount = float64(len(words))
		if strings.ContainsAny(queryText, `"'`) {
			agg.hasQuotes = 1
		}
		if strings.IndexFunc(queryText, unicode.IsDigit) >= 0 {
			agg.hasNumbers = 1
		}
		for _, qw := range questionWords {
			if strings.Contains(lower, qw) {
				agg.hasQuestionWords = 1
				break
			}
		}

		agg.queryKeywords = make(map[string]struct{}, len(words))
		for _, w := range strings.Fields(lower) {
			agg.queryKeywords[w] = struct{}{}
		}
		for _, w := range words {
			if utf8.RuneCountInString(w) >= 2 {
				agg.keywordCount++
			}
		}
	}

	agg.sortedScores = make([]float64, 0, len(candidates))
	for i := range candidates {
		s := candidates[i].RelevanceScore
		agg.sortedScores = append(agg.sortedScores, s)
		if s > agg.MaxRelevance {
			agg.MaxRelevance = s
		}
	}
	sort.Float64s(agg.sortedScores)

	return agg
}

// RelativeScoreToTop returns score divided by the query's maximum relevance
// score. When every score is 0 the relative score is defined as 1.0 for all
// candidates; this keeps the feature bounded and is a deliberate policy.
func (a QueryAggregates) RelativeScoreToTop(score float64) float64 {
	if a.MaxRelevance <= 0 {
		return 1.0
	}
	return score / a.MaxRelevance
}

// ScorePercentile returns the candidate's rank among all primary scores,
// normalized to [0,100]. A single-candidate set is defined as 50.0.
func (a QueryAggregates) ScorePercentile(score float64) float64 {
	n := len(a.sortedScores)
	if n <= 1 {
		return 50.0
	}
	rank := sort.SearchFloat64s(a.sortedScores, score)
	if rank >= n || a.sortedScores[rank] != score {
		rank = 0
	}
	return float64(rank) / float64(n-1) * 100
}

// ExtractFeatures builds the fixed-schema feature vector for one candidate.
// It is deterministic and side-effect-free: re-extracting from the same
// candidate snapshot yields a bit-identical vector. Missing optional
// attributes resolve to documented sentinels/defaults; the only error is a
// candidate without a URL, which is a caller bug.
//
// rankingPosition is the candidate's 0-based position in the current order
// (after primary relevance ranking, before this stage reorders anything).
func ExtractFeatures(queryText string, c *Candidate, rankingPosition int, agg QueryAggregates) (FeatureVector, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("candidate at position %d has no URL", rankingPosition)
	}

	fv := make(FeatureVector, TotalFeatures)

	fv[FeatQueryLength] = agg.queryLength
	fv[FeatWordCount] = agg.wordCount
	fv[FeatHasQuotes] = agg.hasQuotes
	fv[FeatHasNumbers] = agg.hasNumbers
	fv[FeatHasQuestionWords] = agg.hasQuestionWords
	fv[FeatKeywordCount] = agg.keywordCount

	fv[FeatDocLength] = float64(len(strings.Fields(c.Description)))
	fv[FeatRecencyDays] = recencyDays(c.PublishedAt)
	if c.Author != "" {
		fv[FeatHasAuthor] = 1
	}
	if c.PublishedAt != nil {
		fv[FeatHasPublicationDate] = 1
	}
	fv[FeatSchemaCompleteness] = schemaCompleteness(c)
	fv[FeatTitleLength] = float64(utf8.RuneCountInString(c.Title))
	fv[FeatDescriptionLength] = float64(utf8.RuneCountInString(c.Description))
	fv[FeatURLLength] = float64(len(c.URL))

	fv[FeatVectorSimilarity] = c.Retrieval.VectorScore
	fv[FeatBM25Score] = c.Retrieval.BM25Score
	fv[FeatKeywordBoost] = c.Retrieval.KeywordBoost
	fv[FeatTemporalBoost] = c.Retrieval.TemporalBoost
	fv[FeatFinalRetrievalScore] = c.Retrieval.FinalScore
	fv[FeatKeywordOverlapRatio] = keywordOverlapRatio(agg.queryKeywords, c)
	if c.Title != "" && queryText != "" &&
		strings.Contains(strings.ToLower(c.Title), strings.ToLower(queryText)) {
		fv[FeatTitleExactMatch] = 1
	}

	fv[FeatRetrievalPosition] = float64(c.RetrievalPosition)
	fv[FeatRankingPosition] = float64(rankingPosition)
	fv[FeatRelevanceScore] = c.RelevanceScore
	fv[FeatRelativeScoreToTop] = agg.RelativeScoreToTop(c.RelevanceScore)
	fv[FeatScorePercentile] = agg.ScorePercentile(c.RelevanceScore)
	fv[FeatPositionChange] = float64(c.RetrievalPosition - rankingPosition)

	if c.DiversityScore != nil {
		fv[FeatDiversityScore] = *c.DiversityScore
	}
	fv[FeatDetectedIntent] = float64(c.Intent)

	return fv, nil
}

func recencyDays(published *time.Time) float64 {
	if published == nil {
		return MissingRecencyDays
	}
	days := time.Since(*published).Hours() / 24
	if days < 0 {
		days = 0
	}
	return float64(int(days))
}

// schemaCompleteness is the fraction of expected metadata fields populated.
// The denominator is a fixed field count, always >= 1.
func schemaCompleteness(c *Candidate) float64 {
	const expectedFields = 5
	populated := 0
	if c.Title != "" {
		populated++
	}
	if c.Description != "" {
		populated++
	}
	if c.PublishedAt != nil {
		populated++
	}
	if c.Author != "" {
		populated++
	}
	if c.URL != "" {
		populated++
	}
	return float64(populated) / float64(expectedFields)
}

// keywordOverlapRatio is |query keywords ∩ document keywords| divided by the
// query keyword count. Zero query keywords yields 0, not NaN.
func keywordOverlapRatio(queryKeywords map[string]struct{}, c *Candidate) float64 {
	if len(queryKeywords) == 0 {
		return 0
	}
	docWords := strings.Fields(strings.ToLower(c.Title + " " + c.Description))
	seen := make(map[string]struct{}, len(docWords))
	overlap := 0
	for _, w := range docWords {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := queryKeywords[w]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(queryKeywords))
}
