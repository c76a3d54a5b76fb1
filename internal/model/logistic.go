package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
)

// maxWeight bounds intercept and coefficients so w·x stays finite for any float32 vector.
const maxWeight = 1e200

// LogisticModel scores a feature vector with a fitted logistic regression:
// P(y=1) = 1 / (1 + exp(-(intercept + w·x))).
type LogisticModel struct {
	Intercept    float64
	Coefficients []float64
	Threshold    float64

	artifact string
}

type logisticArtifact struct {
	Format       string    `json:"format"`
	FeatureCount int       `json:"feature_count"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	Threshold    *float64  `json:"threshold"`
}

// LoadLogistic reads a JSON logistic-regression artifact.
func LoadLogistic(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseLogistic(data)
	if err != nil {
		return nil, err
	}
	m.artifact = filepath.Base(path)
	return m, nil
}

// ParseLogistic decodes and validates a logistic-regression artifact.
func ParseLogistic(data []byte) (*LogisticModel, error) {
	var raw logisticArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse logistic artifact: %w", err)
	}
	if raw.Format != FormatLogistic {
		return nil, fmt.Errorf("unsupported artifact format %q", raw.Format)
	}
	if len(raw.Coefficients) == 0 {
		return nil, errors.New("logistic artifact has no coefficients")
	}
	if raw.FeatureCount != 0 && raw.FeatureCount != len(raw.Coefficients) {
		return nil, fmt.Errorf("feature_count %d does not match %d coefficients",
			raw.FeatureCount, len(raw.Coefficients))
	}
	for i, w := range raw.Coefficients {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("coefficient %d is not finite", i)
		}
		if math.Abs(w) > maxWeight {
			return nil, fmt.Errorf("coefficient %d exceeds %g in magnitude", i, maxWeight)
		}
	}
	if math.Abs(raw.Intercept) > maxWeight {
		return nil, fmt.Errorf("intercept exceeds %g in magnitude", maxWeight)
	}

	threshold := 0.5
	if raw.Threshold != nil {
		threshold = *raw.Threshold
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold %v outside (0,1)", threshold)
	}

	return &LogisticModel{
		Intercept:    raw.Intercept,
		Coefficients: raw.Coefficients,
		Threshold:    threshold,
	}, nil
}

func (m *LogisticModel) ExpectedFeatureCount() int { return len(m.Coefficients) }

func (m *LogisticModel) Predict(features []float32) (Prediction, error) {
	if len(features) != len(m.Coefficients) {
		return Prediction{}, fmt.Errorf("expected %d features, got %d", len(m.Coefficients), len(features))
	}

	x := make([]float64, len(features))
	for i, v := range features {
		x[i] = float64(v)
	}
	z := m.Intercept + floats.Dot(m.Coefficients, x)
	p, err := clampProbability(float32(1 / (1 + math.Exp(-z))))
	if err != nil {
		return Prediction{}, err
	}

	label := 0
	if float64(p) >= m.Threshold {
		label = 1
	}
	return Prediction{Label: label, Probability: p}, nil
}

func (m *LogisticModel) Info() Info {
	return Info{Format: FormatLogistic, FeatureCount: len(m.Coefficients), Artifact: m.artifact}
}

func (m *LogisticModel) Close() error { return nil }
