package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rank-orchestrator/internal/domain"
)

type analyticsRepository struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRepository creates the Postgres-backed analytics repository.
// The ranking_analytics table is append-only: this package intentionally has
// no UPDATE or DELETE path.
func NewAnalyticsRepository(pool *pgxpool.Pool) domain.AnalyticsRepository {
	return &analyticsRepository{pool: pool}
}

// analyticsColumns is the CopyFrom column list for ranking_analytics. The
// table has no unique constraint on (query_id, doc_url): the same pair is
// written once per stage tag and every row is retained.
var analyticsColumns = []string{
	"query_id", "query_text", "doc_url", "stage", "position",
	"relevance_score", "vector_score", "bm25_score", "final_score",
	"model_score", "model_confidence",
	"diversity_score", "intent", "lambda",
	"embedding", "created_at",
}

// copyFromSource converts rows into CopyFrom tuples, one tuple per row.
func copyFromSource(rows []domain.AnalyticsRow) [][]interface{} {
	src := make([][]interface{}, len(rows))
	for i, row := range rows {
		src[i] = []interface{}{
			row.QueryID,
			row.QueryText,
			row.DocURL,
			string(row.Stage),
			row.Position,
			row.RelevanceScore,
			row.VectorScore,
			row.BM25Score,
			row.FinalScore,
			row.ModelScore,
			row.ModelConfidence,
			row.DiversityScore,
			row.Intent,
			row.Lambda,
			row.Embedding,
			row.CreatedAt,
		}
	}
	return src
}

func (r *analyticsRepository) InsertRows(ctx context.Context, rows []domain.AnalyticsRow) error {
	if len(rows) == 0 {
		return nil
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"ranking_analytics"},
		analyticsColumns,
		pgx.CopyFromRows(copyFromSource(rows)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert analytics rows: %w", err)
	}

	return nil
}

func (r *analyticsRepository) RowsByQuery(ctx context.Context, queryID uuid.UUID) ([]domain.AnalyticsRow, error) {
	query := `
		SELECT query_id, query_text, doc_url, stage, position,
		       relevance_score, vector_score, bm25_score, final_score,
		       model_score, model_confidence,
		       diversity_score, intent, lambda,
		       created_at
		FROM ranking_analytics
		WHERE query_id = $1
		ORDER BY stage ASC, position ASC
	`
	rows, err := r.pool.Query(ctx, query, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics rows: %w", err)
	}
	defer rows.Close()

	var out []domain.AnalyticsRow
	for rows.Next() {
		var row domain.AnalyticsRow
		var stage string
		if err := rows.Scan(
			&row.QueryID, &row.QueryText, &row.DocURL, &stage, &row.Position,
			&row.RelevanceScore, &row.VectorScore, &row.BM25Score, &row.FinalScore,
			&row.ModelScore, &row.ModelConfidence,
			&row.DiversityScore, &row.Intent, &row.Lambda,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analytics row: %w", err)
		}
		row.Stage = domain.StageTag(stage)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (r *analyticsRepository) CountByStage(ctx context.Context) ([]domain.StageCounts, error) {
	query := `
		SELECT stage, COUNT(*)
		FROM ranking_analytics
		GROUP BY stage
		ORDER BY stage ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count analytics rows: %w", err)
	}
	defer rows.Close()

	var out []domain.StageCounts
	for rows.Next() {
		var sc domain.StageCounts
		var stage string
		if err := rows.Scan(&stage, &sc.Rows); err != nil {
			return nil, fmt.Errorf("failed to scan stage count: %w", err)
		}
		sc.Stage = domain.StageTag(stage)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// ExportTrainingExamples rebuilds training examples by outer-joining the
// three stage aliases on (query_id, doc_url). Pairs that never reached a
// stage keep NULLs for that stage's fields.
func (r *analyticsRepository) ExportTrainingExamples(ctx context.Context, since time.Time, limit, offset int) ([]domain.TrainingExample, error) {
	query := `
		WITH pairs AS (
			SELECT DISTINCT query_id, doc_url
			FROM ranking_analytics
			WHERE created_at >= $1
		)
		SELECT pr.query_id, pr.doc_url,
		       COALESCE(p.query_text, m.query_text, d.query_text, ''),
		       p.position, p.relevance_score, p.vector_score, p.bm25_score, p.final_score,
		       m.model_score, m.model_confidence,
		       d.diversity_score, d.intent, d.lambda
		FROM pairs pr
		LEFT JOIN ranking_analytics p
		       ON p.query_id = pr.query_id AND p.doc_url = pr.doc_url AND p.stage = 'primary'
		LEFT JOIN ranking_analytics m
		       ON m.query_id = pr.query_id AND m.doc_url = pr.doc_url
		      AND m.stage IN ('model-shadow', 'model-production')
		LEFT JOIN ranking_analytics d
		       ON d.query_id = pr.query_id AND d.doc_url = pr.doc_url AND d.stage = 'diversity'
		ORDER BY pr.query_id ASC, pr.doc_url ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to export training examples: %w", err)
	}
	defer rows.Close()

	var out []domain.TrainingExample
	for rows.Next() {
		var ex domain.TrainingExample
		if err := rows.Scan(
			&ex.QueryID, &ex.DocURL, &ex.QueryText,
			&ex.PrimaryPosition, &ex.RelevanceScore, &ex.VectorScore, &ex.BM25Score, &ex.FinalScore,
			&ex.ModelScore, &ex.ModelConfidence,
			&ex.DiversityScore, &ex.Intent, &ex.Lambda,
		); err != nil {
			return nil, fmt.Errorf("failed to scan training example: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
