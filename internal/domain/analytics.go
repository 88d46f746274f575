package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// StageTag identifies which pipeline stage produced an analytics row.
type StageTag string

const (
	// StagePrimary records the candidate as the external relevance scorer
	// handed it to this stage (retrieval sub-scores + primary score).
	StagePrimary StageTag = "primary"
	// StageModelShadow records model predictions computed in shadow mode.
	StageModelShadow StageTag = "model-shadow"
	// StageModelProduction records model predictions that reordered results.
	StageModelProduction StageTag = "model-production"
	// StageDiversity records the MMR decision scores.
	StageDiversity StageTag = "diversity"
)

// AnalyticsRow is one immutable fact keyed by (query_id, doc_url, stage).
// Multiple rows per (query, candidate) pair are expected, one per stage;
// each carries only the score fields relevant to its stage and nil for the
// rest. Rows are never updated: corrections are new rows under a new stage
// tag. Training examples are reconstructed by an outer join across stage
// tags on (query_id, doc_url).
type AnalyticsRow struct {
	QueryID   uuid.UUID
	QueryText string
	DocURL    string
	Stage     StageTag
	Position  int

	// Primary stage fields.
	RelevanceScore *float64
	VectorScore    *float64
	BM25Score      *float64
	FinalScore     *float64
	Embedding      *pgvector.Vector

	// Model stage fields.
	ModelScore      *float64
	ModelConfidence *float64

	// Diversity stage fields.
	DiversityScore *float64
	Intent         *string
	Lambda         *float64

	CreatedAt time.Time
}

// StageCounts summarizes how many rows each stage has written.
type StageCounts struct {
	Stage StageTag
	Rows  int64
}

// TrainingExample is one (query, candidate) pair joined across all stages,
// as exported for offline model training. Fields sourced from a stage that
// never ran for the pair are nil.
type TrainingExample struct {
	QueryID   uuid.UUID
	QueryText string
	DocURL    string

	PrimaryPosition *int
	RelevanceScore  *float64
	VectorScore     *float64
	BM25Score       *float64
	FinalScore      *float64

	ModelScore      *float64
	ModelConfidence *float64

	DiversityScore *float64
	Intent         *string
	Lambda         *float64
}

// AnalyticsRepository persists analytics rows append-only. No implementation
// may expose an update path; the event-log shape is intentional.
type AnalyticsRepository interface {
	// InsertRows appends a batch of rows. Rows for the same (query_id,
	// doc_url) under different stage tags must all be retained.
	InsertRows(ctx context.Context, rows []AnalyticsRow) error

	// RowsByQuery returns every stage row for one query, ordered by stage
	// then position, for the pipeline trace API.
	RowsByQuery(ctx context.Context, queryID uuid.UUID) ([]AnalyticsRow, error)

	// CountByStage returns row counts per stage tag.
	CountByStage(ctx context.Context) ([]StageCounts, error)

	// ExportTrainingExamples reconstructs training examples via an outer
	// join across stage tags, paged by limit/offset, oldest first.
	ExportTrainingExamples(ctx context.Context, since time.Time, limit, offset int) ([]TrainingExample, error)
}
