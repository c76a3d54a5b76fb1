package model

import "fmt"

// Handle is a loaded, read-only predictor artifact.
type Handle interface {
	ExpectedFeatureCount() int
	Predict(features []float32) (Prediction, error)
	Info() Info
	Close() error
}

// Prediction is the result of scoring one feature vector.
type Prediction struct {
	Label       int
	Probability float32
}

// Info describes the loaded artifact without exposing its location.
type Info struct {
	Format       string `json:"format"`
	FeatureCount int    `json:"features"`
	Artifact     string `json:"artifact"`
}

// Metadata is the optional sidecar describing an ONNX classifier's graph.
type Metadata struct {
	InputName         string `json:"input_name"`
	LabelOutput       string `json:"label_output"`
	ProbabilityOutput string `json:"probability_output"`
	FeatureCount      int    `json:"feature_count"`
	PositiveIndex     int    `json:"positive_index"`
}

// Options configures how an artifact is opened.
type Options struct {
	MetadataPath string
	LibraryPath  string
	Sessions     int
}

// ArtifactLoadError is returned when an artifact cannot be opened. It is fatal at startup.
type ArtifactLoadError struct {
	Path string
	Err  error
}

func (e *ArtifactLoadError) Error() string {
	return fmt.Sprintf("load artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error { return e.Err }
