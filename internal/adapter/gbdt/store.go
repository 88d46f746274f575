package gbdt

import (
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"rank-orchestrator/internal/domain"
)

// cacheSize bounds how many distinct model paths one process keeps loaded.
const cacheSize = 8

// entry is the published result of one load attempt. A nil model with a
// non-nil err is a latched failure: the path is never retried.
type entry struct {
	model domain.RankingModel
	err   error
}

// Store is a process-wide, read-mostly cache of ranking models keyed by
// file path. The first access to a path loads the model once; every later
// access, including after a failed load, is a lock-free cache hit. Two
// concurrent first accesses may both load; the entry published last wins,
// which is tolerated as wasted duplicate work.
type Store struct {
	mu     sync.Mutex
	cache  *lru.Cache[string, entry]
	logger *slog.Logger
}

// NewStore creates an empty model store.
func NewStore(logger *slog.Logger) *Store {
	cache, _ := lru.New[string, entry](cacheSize)
	return &Store{cache: cache, logger: logger}
}

// GetOrLoad returns the model for path, loading it on first use. A load
// failure is logged once and cached so subsequent requests fail fast without
// touching the filesystem again.
func (s *Store) GetOrLoad(path string) (domain.RankingModel, error) {
	if e, ok := s.cache.Get(path); ok {
		return e.model, e.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another request may have finished loading while we waited.
	if e, ok := s.cache.Get(path); ok {
		return e.model, e.err
	}

	model, err := Load(path)
	if err != nil {
		s.logger.Warn("model_load_failed",
			slog.String("model_path", path),
			slog.String("error", err.Error()))
		s.cache.Add(path, entry{err: err})
		return nil, err
	}

	s.logger.Info("model_loaded",
		slog.String("model_path", path),
		slog.String("model_version", model.Version()),
		slog.Int("num_features", model.NumFeatures()))
	s.cache.Add(path, entry{model: model})
	return model, nil
}
