package domain

import "fmt"

// ModelMode controls how the learned ranking model participates in ranking.
type ModelMode string

const (
	// ModelModeDisabled: the scorer is a no-op.
	ModelModeDisabled ModelMode = "disabled"
	// ModelModeShadow: predictions are computed and logged but the ranking
	// is returned untouched. This is the default and safest mode.
	ModelModeShadow ModelMode = "shadow"
	// ModelModeProduction: the candidate list is re-sorted by model score.
	ModelModeProduction ModelMode = "production"
)

// ParseModelMode validates a mode string from configuration.
func ParseModelMode(s string) (ModelMode, error) {
	switch ModelMode(s) {
	case ModelModeDisabled, ModelModeShadow, ModelModeProduction:
		return ModelMode(s), nil
	default:
		return "", fmt.Errorf("unknown model mode %q (want disabled, shadow or production)", s)
	}
}

// RankingModel is a trained model that scores feature vectors.
// Implementations must be safe for concurrent use after loading; the model
// store publishes them behind an immutable handle.
type RankingModel interface {
	// NumFeatures returns the vector length the model was trained against.
	// Scoring a vector of any other length is a configuration error.
	NumFeatures() int

	// Predict returns a relevance score in [0,1] and a confidence in [0,1]
	// for one feature vector. Confidence is monotone in the prediction
	// margin: scores near 0 or 1 are confident, scores near 0.5 are not.
	Predict(fv FeatureVector) (score, confidence float64)

	// Version returns the model identifier for logging.
	Version() string
}
