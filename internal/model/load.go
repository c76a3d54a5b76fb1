package model

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

const (
	FormatONNX     = "onnx"
	FormatLogistic = "logistic"
)

// Load opens the artifact at path, choosing the backend from its extension.
// Every failure is reported as *ArtifactLoadError.
func Load(path string, opts Options) (Handle, error) {
	fail := func(err error) (Handle, error) {
		return nil, &ArtifactLoadError{Path: path, Err: err}
	}

	st, err := os.Stat(path)
	if err != nil {
		return fail(err)
	}
	if st.IsDir() {
		return fail(errors.New("artifact is a directory"))
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".onnx":
		h, err := loadONNX(path, opts)
		if err != nil {
			return fail(err)
		}
		return h, nil
	case ".json":
		h, err := LoadLogistic(path)
		if err != nil {
			return fail(err)
		}
		return h, nil
	default:
		return fail(fmt.Errorf("unsupported artifact format %q", ext))
	}
}

// clampProbability keeps a score inside [0,1]. NaN is rejected.
func clampProbability(p float32) (float32, error) {
	if math.IsNaN(float64(p)) {
		return 0, errors.New("model returned NaN probability")
	}
	return float32(math.Min(1, math.Max(0, float64(p)))), nil
}
