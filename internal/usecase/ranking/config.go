package ranking

import (
	"fmt"

	"rank-orchestrator/internal/domain"
)

// DiversityConfig holds settings for MMR diversity reranking.
// Lambda trades relevance (1.0) against diversity (0.0); the configured
// value applies to balanced-intent queries, while specific/exploratory
// queries use their bucket values from intent detection.
type DiversityConfig struct {
	// Enabled controls whether diversity reranking is applied at all.
	Enabled bool
	// Lambda is the balanced-bucket trade-off value, in [0,1].
	Lambda float64
	// MinCandidates is the minimum number of embedding-carrying candidates
	// required before reranking is worth doing.
	MinCandidates int
	// TopK bounds how many results are selected greedily. 0 means all.
	TopK int
}

// DefaultDiversityConfig returns current defaults.
func DefaultDiversityConfig() DiversityConfig {
	return DiversityConfig{
		Enabled:       true,
		Lambda:        domain.LambdaBalanced,
		MinCandidates: 4,
		TopK:          0,
	}
}

// Validate checks the diversity configuration values.
func (c DiversityConfig) Validate() error {
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("diversity lambda must be in [0,1], got %f", c.Lambda)
	}
	if c.MinCandidates < 2 {
		return fmt.Errorf("diversity min candidates must be >= 2, got %d", c.MinCandidates)
	}
	if c.TopK < 0 {
		return fmt.Errorf("diversity topK must be >= 0, got %d", c.TopK)
	}
	return nil
}

// ModelConfig holds settings for the learned ranking model.
type ModelConfig struct {
	// Mode gates the model's effect on ranking: disabled, shadow or
	// production. Shadow is the default and safest mode.
	Mode domain.ModelMode
	// Path is the model file location. Empty path means disabled.
	Path string
	// ConfidenceThreshold is reserved for future confidence-based
	// cascading. It is accepted and stored but not acted upon yet.
	ConfidenceThreshold float64
}

// DefaultModelConfig returns current defaults.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Mode:                domain.ModelModeShadow,
		ConfidenceThreshold: 0.8,
	}
}

// Validate checks the model configuration values.
func (c ModelConfig) Validate() error {
	if _, err := domain.ParseModelMode(string(c.Mode)); err != nil {
		return err
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("model confidence threshold must be in [0,1], got %f", c.ConfidenceThreshold)
	}
	return nil
}
