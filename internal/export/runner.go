// Package export writes training examples out of the analytics event log as
// NDJSON, one joined (query, candidate) pair per line. Exports are resumable
// through a file cursor, so a long export interrupted mid-way continues from
// its last saved offset.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"rank-orchestrator/internal/domain"
)

// Config holds export parameters.
type Config struct {
	OutputPath  string
	CursorFile  string
	Since       time.Time
	BatchSize   int
	Concurrency int
	DryRun      bool
}

// DefaultConfig returns current defaults.
func DefaultConfig() Config {
	return Config{
		OutputPath:  "training_data.ndjson",
		CursorFile:  "export_cursor.json",
		BatchSize:   500,
		Concurrency: 4,
	}
}

// record is the NDJSON line shape. Nil fields are omitted so consumers can
// distinguish "stage never ran" from a zero score.
type record struct {
	QueryID   string `json:"query_id"`
	QueryText string `json:"query_text"`
	DocURL    string `json:"doc_url"`

	PrimaryPosition *int     `json:"primary_position,omitempty"`
	RelevanceScore  *float64 `json:"relevance_score,omitempty"`
	VectorScore     *float64 `json:"vector_score,omitempty"`
	BM25Score       *float64 `json:"bm25_score,omitempty"`
	FinalScore      *float64 `json:"final_score,omitempty"`

	ModelScore      *float64 `json:"model_score,omitempty"`
	ModelConfidence *float64 `json:"model_confidence,omitempty"`

	DiversityScore *float64 `json:"diversity_score,omitempty"`
	Intent         *string  `json:"intent,omitempty"`
	Lambda         *float64 `json:"lambda,omitempty"`
}

func toRecord(ex domain.TrainingExample) record {
	return record{
		QueryID:         ex.QueryID.String(),
		QueryText:       ex.QueryText,
		DocURL:          ex.DocURL,
		PrimaryPosition: ex.PrimaryPosition,
		RelevanceScore:  ex.RelevanceScore,
		VectorScore:     ex.VectorScore,
		BM25Score:       ex.BM25Score,
		FinalScore:      ex.FinalScore,
		ModelScore:      ex.ModelScore,
		ModelConfidence: ex.ModelConfidence,
		DiversityScore:  ex.DiversityScore,
		Intent:          ex.Intent,
		Lambda:          ex.Lambda,
	}
}

// Runner drives one export. Pages are fetched concurrently but written in
// offset order so the output is deterministic.
type Runner struct {
	cfg    Config
	repo   domain.AnalyticsRepository
	cursor *CursorManager
	logger *slog.Logger
}

// NewRunner creates an export runner.
func NewRunner(cfg Config, repo domain.AnalyticsRepository, logger *slog.Logger) (*Runner, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	return &Runner{
		cfg:    cfg,
		repo:   repo,
		cursor: NewCursorManager(cfg.CursorFile),
		logger: logger,
	}, nil
}

// GetCursor loads the saved cursor without locking.
func (r *Runner) GetCursor() (Cursor, error) {
	return r.cursor.Load()
}

// ResetCursor clears the saved cursor.
func (r *Runner) ResetCursor() error {
	return r.cursor.Reset()
}

// Run exports training examples until the repository is exhausted or the
// context is cancelled. The cursor is saved after every round, so a
// cancelled run resumes without duplicating lines.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.cursor.Lock(); err != nil {
		return err
	}
	defer func() {
		if err := r.cursor.Unlock(); err != nil {
			r.logger.Warn("failed to unlock cursor", slog.String("error", err.Error()))
		}
	}()

	cursor, err := r.cursor.Load()
	if err != nil {
		return err
	}
	if !cursor.IsEmpty() && !cursor.Since.Equal(r.cfg.Since) {
		r.logger.Warn("cursor since differs from requested, starting fresh",
			slog.Time("cursor_since", cursor.Since),
			slog.Time("requested_since", r.cfg.Since))
		cursor = Cursor{Version: CursorVersion}
	}
	cursor.Since = r.cfg.Since

	var enc *json.Encoder
	if !r.cfg.DryRun {
		flags := os.O_CREATE | os.O_WRONLY
		if cursor.Offset > 0 {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		out, err := os.OpenFile(r.cfg.OutputPath, flags, 0644)
		if err != nil {
			return fmt.Errorf("open output file: %w", err)
		}
		defer out.Close()
		enc = json.NewEncoder(out)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pages, err := r.fetchRound(ctx, cursor.Offset)
		if err != nil {
			return err
		}

		wrote := 0
		done := false
		for _, page := range pages {
			for _, ex := range page {
				if enc != nil {
					if err := enc.Encode(toRecord(ex)); err != nil {
						return fmt.Errorf("write record: %w", err)
					}
				}
				wrote++
			}
			if len(page) < r.cfg.BatchSize {
				done = true
				break
			}
		}

		cursor.Offset += wrote
		cursor.ExportedCount += wrote
		if err := r.cursor.Save(cursor); err != nil {
			return err
		}

		r.logger.Info("export_round_completed",
			slog.Int("rows", wrote),
			slog.Int("offset", cursor.Offset))

		if done {
			break
		}
	}

	r.logger.Info("export_completed",
		slog.Int("exported", cursor.ExportedCount),
		slog.String("output", r.cfg.OutputPath),
		slog.Bool("dry_run", r.cfg.DryRun))
	return nil
}

// fetchRound loads Concurrency consecutive pages in parallel.
func (r *Runner) fetchRound(ctx context.Context, baseOffset int) ([][]domain.TrainingExample, error) {
	pages := make([][]domain.TrainingExample, r.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		i := i
		g.Go(func() error {
			offset := baseOffset + i*r.cfg.BatchSize
			page, err := r.repo.ExportTrainingExamples(gctx, r.cfg.Since, r.cfg.BatchSize, offset)
			if err != nil {
				return fmt.Errorf("fetch page at offset %d: %w", offset, err)
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}
