// Package inference turns a raw prediction request into a validated feature vector, scores it,
// and assembles the response. It knows nothing about the transport carrying the payload.
package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Brownie44l1/riskscore-api/internal/model"
)

// Predictor is the part of a model handle the handler needs.
type Predictor interface {
	ExpectedFeatureCount() int
	Predict(features []float32) (model.Prediction, error)
}

// Classifier names the risk band of a prediction.
type Classifier interface {
	Classify(label int, probability float64) (string, error)
}

// Observer is told about every HandlePredict call.
type Observer interface {
	ObservePredict(outcome string, resp *Response, elapsed time.Duration)
}

// Response is the success body of a prediction.
type Response struct {
	Prediccion   int     `json:"prediccion"`
	Probabilidad float64 `json:"probabilidad"`
	Riesgo       string  `json:"riesgo,omitempty"`
}

type Handler struct {
	model    Predictor
	bands    Classifier
	observer Observer
}

type Option func(*Handler)

// WithClassifier attaches a risk band to every response.
func WithClassifier(c Classifier) Option {
	return func(h *Handler) { h.bands = c }
}

func WithObserver(o Observer) Option {
	return func(h *Handler) { h.observer = o }
}

func NewHandler(m Predictor, opts ...Option) *Handler {
	h := &Handler{model: m}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ExpectedFeatureCount reports the input width requests must match.
func (h *Handler) ExpectedFeatureCount() int { return h.model.ExpectedFeatureCount() }

// HandlePredict decodes raw, validates it against the model's input width and scores it.
// Errors are one of the request error types in this package, or *PredictionError.
func (h *Handler) HandlePredict(raw []byte) (*Response, error) {
	start := time.Now()
	resp, err := h.predict(raw)
	if h.observer != nil {
		h.observer.ObservePredict(Outcome(err), resp, time.Since(start))
	}
	return resp, err
}

func (h *Handler) predict(raw []byte) (*Response, error) {
	payload, err := decode(raw)
	if err != nil {
		return nil, err
	}
	features, err := Validate(payload, h.model.ExpectedFeatureCount())
	if err != nil {
		return nil, err
	}

	p, err := h.model.Predict(features)
	if err != nil {
		return nil, &PredictionError{Err: err}
	}

	resp := &Response{
		Prediccion:   p.Label,
		Probabilidad: widen(p.Probability),
	}
	if h.bands != nil {
		band, err := h.bands.Classify(resp.Prediccion, resp.Probabilidad)
		if err != nil {
			return nil, &PredictionError{Err: err}
		}
		resp.Riesgo = band
	}
	return resp, nil
}

// HandleHealth reports liveness only. It does not look at the model.
func HandleHealth() map[string]string {
	return map[string]string{"status": "ok"}
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		return nil, &MalformedRequestError{Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &MalformedRequestError{Err: errors.New("unexpected data after JSON value")}
	}
	return v, nil
}

// Validate checks a decoded payload is a list of n finite numbers and converts it.
func Validate(payload any, n int) ([]float32, error) {
	list, ok := payload.([]any)
	if !ok {
		return nil, &InvalidPayloadTypeError{Kind: kindOf(payload)}
	}
	if len(list) != n {
		return nil, &FeatureCountMismatchError{Expected: n, Got: len(list)}
	}

	features := make([]float32, n)
	for i, v := range list {
		f, ok := toFeature(v)
		if !ok {
			return nil, &InvalidFeatureValueError{Position: i}
		}
		features[i] = f
	}
	return features, nil
}

// toFeature accepts JSON numbers and decimal numeric strings that fit a finite float32.
// Go literal forms such as hex floats and digit separators are not decimal.
func toFeature(v any) (float32, bool) {
	var s string
	switch val := v.(type) {
	case json.Number:
		s = val.String()
	case float64:
		s = strconv.FormatFloat(val, 'g', -1, 64)
	case string:
		s = strings.TrimSpace(val)
		if strings.ContainsAny(s, "xX_") {
			return 0, false
		}
	default:
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxFloat32 {
		return 0, false
	}
	return float32(f), true
}

func kindOf(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case bool:
		return "bool"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}

// widen converts a float32 score to the float64 with the same shortest decimal form.
func widen(p float32) float64 {
	f, err := strconv.ParseFloat(strconv.FormatFloat(float64(p), 'g', -1, 32), 64)
	if err != nil {
		return float64(p)
	}
	return f
}

// Outcome labels the result of a HandlePredict call for metrics and logs.
func Outcome(err error) string {
	var (
		malformed *MalformedRequestError
		payload   *InvalidPayloadTypeError
		count     *FeatureCountMismatchError
		value     *InvalidFeatureValueError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &malformed):
		return "malformed_request"
	case errors.As(err, &payload):
		return "invalid_payload_type"
	case errors.As(err, &count):
		return "feature_count_mismatch"
	case errors.As(err, &value):
		return "invalid_feature_value"
	default:
		return "prediction_error"
	}
}

// IsClientError reports whether err was caused by the request rather than the server.
func IsClientError(err error) bool {
	switch Outcome(err) {
	case "ok", "prediction_error":
		return false
	}
	return true
}
