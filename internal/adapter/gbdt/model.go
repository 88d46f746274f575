// Package gbdt loads gradient-boosted decision tree ranking models exported
// to JSON by the offline training pipeline, and serves them through a
// process-wide load-once store.
package gbdt

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"rank-orchestrator/internal/domain"
)

// node is one node of a regression tree. Leaf nodes carry Value; internal
// nodes route on fv[Feature] < Threshold.
type node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value"`
}

type tree struct {
	Nodes []node `json:"nodes"`
}

// modelFile is the on-disk JSON layout produced by the trainer's export step.
type modelFile struct {
	Version        string  `json:"version"`
	FeatureVersion int     `json:"feature_version"`
	NumFeatures    int     `json:"num_features"`
	BaseScore      float64 `json:"base_score"`
	Trees          []tree  `json:"trees"`
}

// Model is an immutable boosted-tree ensemble. Safe for concurrent use.
type Model struct {
	version     string
	numFeatures int
	baseScore   float64
	trees       []tree
}

var _ domain.RankingModel = (*Model)(nil)

// Load reads and validates a model file.
func Load(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var mf modelFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse model file: %w", err)
	}

	if mf.NumFeatures <= 0 {
		return nil, fmt.Errorf("model declares invalid feature count %d", mf.NumFeatures)
	}
	if mf.FeatureVersion != domain.FeatureVersion {
		return nil, fmt.Errorf("model feature version %d does not match extractor version %d",
			mf.FeatureVersion, domain.FeatureVersion)
	}
	if len(mf.Trees) == 0 {
		return nil, fmt.Errorf("model has no trees")
	}
	for ti, t := range mf.Trees {
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= mf.NumFeatures {
				return nil, fmt.Errorf("tree %d node %d routes on out-of-range feature %d", ti, ni, n.Feature)
			}
			// Children must point forward so evaluation terminates.
			if n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return nil, fmt.Errorf("tree %d node %d has invalid children (%d, %d)", ti, ni, n.Left, n.Right)
			}
		}
	}

	return &Model{
		version:     mf.Version,
		numFeatures: mf.NumFeatures,
		baseScore:   mf.BaseScore,
		trees:       mf.Trees,
	}, nil
}

// NumFeatures returns the feature vector length the model expects.
func (m *Model) NumFeatures() int { return m.numFeatures }

// Version returns the model identifier from the file.
func (m *Model) Version() string { return m.version }

// Predict sums the leaf values across all trees and squashes through a
// sigmoid into [0,1]. Confidence is the prediction margin scaled to [0,1]:
// scores near 0.5 are uncertain, scores near the extremes are confident.
func (m *Model) Predict(fv domain.FeatureVector) (float64, float64) {
	margin := m.baseScore
	for i := range m.trees {
		margin += m.trees[i].eval(fv)
	}
	score := sigmoid(margin)
	confidence := math.Abs(score-0.5) * 2
	return score, confidence
}

func (t *tree) eval(fv domain.FeatureVector) float64 {
	idx := 0
	for {
		n := &t.Nodes[idx]
		if n.Leaf {
			return n.Value
		}
		if fv[n.Feature] < n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
