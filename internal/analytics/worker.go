// Package analytics provides the append-only, asynchronous analytics sink.
// Logging is a best-effort side channel: a call never blocks the ranking
// critical path and a write failure never propagates to the ranking caller.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"rank-orchestrator/internal/domain"
)

const (
	defaultBufferSize    = 1024
	defaultBatchSize     = 64
	defaultFlushInterval = 500 * time.Millisecond
	defaultMaxRetries    = 3
	insertTimeout        = 5 * time.Second
	drainTimeout         = 10 * time.Second

	// Failed batches are retried at most twice per second across the whole
	// process so a down database cannot amplify write load.
	retryRatePerSecond = 2
)

// Config holds tunable parameters for the analytics worker.
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
}

// DefaultConfig returns current defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:    defaultBufferSize,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
		MaxRetries:    defaultMaxRetries,
	}
}

// Worker queues analytics rows and flushes them to the repository from a
// background goroutine. When the buffer is full, rows are dropped with a
// warning rather than blocking the caller.
type Worker struct {
	repo         domain.AnalyticsRepository
	logger       *slog.Logger
	cfg          Config
	rows         chan domain.AnalyticsRow
	stopChan     chan struct{}
	doneChan     chan struct{}
	retryLimiter *rate.Limiter
}

// NewWorker creates an analytics worker. Call Start to begin flushing.
func NewWorker(repo domain.AnalyticsRepository, cfg Config, logger *slog.Logger) *Worker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Worker{
		repo:         repo,
		logger:       logger,
		cfg:          cfg,
		rows:         make(chan domain.AnalyticsRow, cfg.BufferSize),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
		retryLimiter: rate.NewLimiter(rate.Limit(retryRatePerSecond), 1),
	}
}

// Log enqueues one row, fire-and-forget. It never blocks: if the buffer is
// full the row is dropped and a warning is logged.
func (w *Worker) Log(row domain.AnalyticsRow) {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	select {
	case w.rows <- row:
	default:
		w.logger.Warn("analytics_row_dropped_buffer_full",
			slog.String("query_id", row.QueryID.String()),
			slog.String("stage", string(row.Stage)))
	}
}

// Start launches the background flusher.
func (w *Worker) Start() {
	w.logger.Info("Starting analytics worker",
		slog.Int("buffer_size", w.cfg.BufferSize),
		slog.Int("batch_size", w.cfg.BatchSize))
	go w.run()
}

// Stop drains buffered rows and stops the flusher. Rows still in flight
// after the drain deadline are dropped; analytics is best-effort.
func (w *Worker) Stop() {
	w.logger.Info("Stopping analytics worker")
	close(w.stopChan)
	select {
	case <-w.doneChan:
	case <-time.After(drainTimeout):
		w.logger.Warn("analytics_drain_deadline_exceeded")
	}
}

func (w *Worker) run() {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.AnalyticsRow, 0, w.cfg.BatchSize)

	for {
		select {
		case row := <-w.rows:
			batch = append(batch, row)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.stopChan:
			batch = w.drain(batch)
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

// drain collects whatever is still buffered at shutdown.
func (w *Worker) drain(batch []domain.AnalyticsRow) []domain.AnalyticsRow {
	for {
		select {
		case row := <-w.rows:
			batch = append(batch, row)
		default:
			return batch
		}
	}
}

// flush writes one batch with bounded retries. After the retry budget is
// exhausted the batch is dropped with an error log; the error never reaches
// the ranking caller.
func (w *Worker) flush(batch []domain.AnalyticsRow) {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
			err := w.retryLimiter.Wait(ctx)
			cancel()
			if err != nil {
				break
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		lastErr = w.repo.InsertRows(ctx, batch)
		cancel()
		if lastErr == nil {
			return
		}
	}

	w.logger.Error("analytics_batch_dropped",
		slog.Int("rows", len(batch)),
		slog.Int("retries", w.cfg.MaxRetries),
		slog.String("error", lastErr.Error()))
}
