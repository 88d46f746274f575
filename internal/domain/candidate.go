package domain

import (
	"time"
)

// RetrievalScores holds the sub-scores attached by the upstream retriever.
// TemporalBoost is currently always 0.0: the retriever folds recency into
// FinalScore and does not yet expose it separately. The field is kept so the
// feature schema stays stable once it does.
type RetrievalScores struct {
	VectorScore   float64
	BM25Score     float64
	KeywordBoost  float64
	TemporalBoost float64
	FinalScore    float64
}

// Candidate represents one retrieved document for one query as it moves
// through the ranking stage. It is created by the retriever, enriched by the
// relevance scorer, then mutated in place by the shadow scorer and the
// diversity reranker. It is never persisted directly; analytics rows are the
// only durable trace.
type Candidate struct {
	// URL is the stable identifier. It is the only structurally required
	// field; a candidate without it is dropped from processing.
	URL         string
	Title       string
	Description string
	Site        string

	// Schema is the raw structured metadata object from the source document.
	Schema map[string]interface{}

	// Author and PublishedAt are resolved out of Schema by the retriever.
	// Both are optional; PublishedAt == nil means unknown publication date.
	Author      string
	PublishedAt *time.Time

	// Embedding is the document embedding vector, if the retriever supplied
	// one. Candidates without embeddings are excluded from diversity
	// similarity computations but are never dropped.
	Embedding []float32

	Retrieval RetrievalScores

	// RetrievalPosition is the 0-based position in the retriever's output,
	// unique and stable within a query.
	RetrievalPosition int

	// RelevanceScore and Snippet are assigned by the external relevance
	// scorer before this stage runs; this stage only reads them.
	RelevanceScore float64
	Snippet        string

	// DiversityScore is the MMR decision score, nil until the diversity
	// reranker assigns it.
	DiversityScore *float64

	// ModelScore and ModelConfidence are assigned by the shadow scorer,
	// nil until scored. ModelScore, once set, is in [0,1].
	ModelScore      *float64
	ModelConfidence *float64

	// Intent is the query-level detected intent, shared by every candidate
	// of the same query. IntentUnknown until the diversity stage detects it.
	Intent Intent
}

// HasEmbedding reports whether the candidate carries a usable embedding.
func (c *Candidate) HasEmbedding() bool {
	return len(c.Embedding) > 0
}
