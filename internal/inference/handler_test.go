package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Brownie44l1/riskscore-api/internal/model"
)

type stubModel struct {
	n     int
	calls int
	mu    sync.Mutex
	got   []float32
	err   error
}

func (s *stubModel) ExpectedFeatureCount() int { return s.n }

func (s *stubModel) Predict(features []float32) (model.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.got = append([]float32(nil), features...)
	if s.err != nil {
		return model.Prediction{}, s.err
	}
	return model.Prediction{Label: 0, Probability: 0.1234}, nil
}

func logistic(t *testing.T) *model.LogisticModel {
	t.Helper()
	m, err := model.ParseLogistic([]byte(`{"format":"logistic","intercept":-1,"coefficients":[2,0.1,-0.5]}`))
	if err != nil {
		t.Fatalf("ParseLogistic: %v", err)
	}
	return m
}

func TestHandlePredictSuccess(t *testing.T) {
	stub := &stubModel{n: 3}
	h := NewHandler(stub)

	resp, err := h.HandlePredict([]byte(`[0.5, 12.0, 1]`))
	if err != nil {
		t.Fatalf("HandlePredict: %v", err)
	}
	if resp.Prediccion != 0 || resp.Probabilidad != 0.1234 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	want := []float32{0.5, 12, 1}
	for i := range want {
		if stub.got[i] != want[i] {
			t.Fatalf("model got %v, want %v", stub.got, want)
		}
	}

	body, _ := json.Marshal(resp)
	if string(body) != `{"prediccion":0,"probabilidad":0.1234}` {
		t.Fatalf("unexpected JSON: %s", body)
	}
}

func TestHandlePredictErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, err error)
	}{
		{"empty body", ``, isType[*MalformedRequestError]},
		{"broken json", `[0.5, 12.0`, isType[*MalformedRequestError]},
		{"trailing data", `[0.5, 12.0, 1] [1]`, isType[*MalformedRequestError]},
		{"object", `{"a": 1}`, func(t *testing.T, err error) {
			e := as[*InvalidPayloadTypeError](t, err)
			if e.Error() != "payload is not a list" || e.Kind != "object" {
				t.Errorf("got %q kind %q", e.Error(), e.Kind)
			}
		}},
		{"bare number", `42`, isType[*InvalidPayloadTypeError]},
		{"string", `"0.5,12,1"`, isType[*InvalidPayloadTypeError]},
		{"null", `null`, isType[*InvalidPayloadTypeError]},
		{"too short", `[0.5, 12.0]`, func(t *testing.T, err error) {
			e := as[*FeatureCountMismatchError](t, err)
			if e.Expected != 3 || e.Got != 2 || e.Error() != "expected 3 features, got 2" {
				t.Errorf("got %+v %q", e, e.Error())
			}
		}},
		{"too long", `[1, 2, 3, 4]`, func(t *testing.T, err error) {
			e := as[*FeatureCountMismatchError](t, err)
			if e.Got != 4 {
				t.Errorf("got %d", e.Got)
			}
		}},
		{"empty list", `[]`, isType[*FeatureCountMismatchError]},
		{"non numeric string", `[0.5, "abc", 1]`, position(1)},
		{"bool", `[true, 1, 1]`, position(0)},
		{"null element", `[1, 1, null]`, position(2)},
		{"nested list", `[1, [2], 3]`, position(1)},
		{"nan string", `[1, 2, "NaN"]`, position(2)},
		{"overflow", `[1, 1e400, 3]`, position(1)},
		{"float32 overflow", `[1e39, 1, 3]`, position(0)},
		{"hex float string", `["0x1p4", 1, 1]`, position(0)},
		{"upper hex string", `[1, "0X10", 1]`, position(1)},
		{"digit separator string", `[1, 1, "1_000"]`, position(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubModel{n: 3}
			h := NewHandler(stub)
			resp, err := h.HandlePredict([]byte(tt.payload))
			if err == nil {
				t.Fatalf("expected error, got %+v", resp)
			}
			if !IsClientError(err) {
				t.Errorf("expected client error, got %v", err)
			}
			tt.check(t, err)
			if stub.calls != 0 {
				t.Errorf("model called %d times for an invalid request", stub.calls)
			}
		})
	}
}

func TestNumericStringsAccepted(t *testing.T) {
	stub := &stubModel{n: 3}
	h := NewHandler(stub)
	if _, err := h.HandlePredict([]byte(`["0.5", " 12 ", 1e-3]`)); err != nil {
		t.Fatalf("HandlePredict: %v", err)
	}
	if stub.got[1] != 12 || stub.got[2] != float32(1e-3) {
		t.Fatalf("unexpected coercion: %v", stub.got)
	}
}

func TestPredictionErrorIsServerFault(t *testing.T) {
	stub := &stubModel{n: 1, err: errors.New("session run failed")}
	_, err := NewHandler(stub).HandlePredict([]byte(`[1]`))
	as[*PredictionError](t, err)
	if IsClientError(err) {
		t.Error("prediction failure must not be a client error")
	}
}

// Every valid vector yields a binary label and a probability in [0,1], and the same
// vector always yields the same result.
func TestValidVectorsProperty(t *testing.T) {
	h := NewHandler(logistic(t))
	for i := 0; i < 200; i++ {
		a, b, c := float64(i)/7-10, float64(i%13)*3.5, -float64(i)/50
		payload := fmt.Sprintf(`[%g, %g, %g]`, a, b, c)

		first, err := h.HandlePredict([]byte(payload))
		if err != nil {
			t.Fatalf("%s: %v", payload, err)
		}
		if first.Prediccion != 0 && first.Prediccion != 1 {
			t.Fatalf("%s: label %d", payload, first.Prediccion)
		}
		if first.Probabilidad < 0 || first.Probabilidad > 1 || math.IsNaN(first.Probabilidad) {
			t.Fatalf("%s: probability %v", payload, first.Probabilidad)
		}
		again, _ := h.HandlePredict([]byte(payload))
		if *again != *first {
			t.Fatalf("%s: %+v != %+v", payload, again, first)
		}
	}
}

type fixedBands struct{}

func (fixedBands) Classify(label int, p float64) (string, error) {
	if p < 0.3 {
		return "bajo", nil
	}
	return "alto", nil
}

type recorder struct {
	outcomes []string
}

func (r *recorder) ObservePredict(outcome string, _ *Response, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func TestOptions(t *testing.T) {
	rec := &recorder{}
	h := NewHandler(&stubModel{n: 3}, WithClassifier(fixedBands{}), WithObserver(rec))

	resp, err := h.HandlePredict([]byte(`[1, 2, 3]`))
	if err != nil {
		t.Fatalf("HandlePredict: %v", err)
	}
	if resp.Riesgo != "bajo" {
		t.Errorf("band: got %q", resp.Riesgo)
	}
	h.HandlePredict([]byte(`{}`))
	h.HandlePredict([]byte(`[1]`))

	want := []string{"ok", "invalid_payload_type", "feature_count_mismatch"}
	if fmt.Sprint(rec.outcomes) != fmt.Sprint(want) {
		t.Errorf("outcomes: got %v, want %v", rec.outcomes, want)
	}
}

func TestHandleHealth(t *testing.T) {
	if got := HandleHealth()["status"]; got != "ok" {
		t.Fatalf("status: got %q", got)
	}
}

func TestWiden(t *testing.T) {
	if got := widen(float32(0.1234)); got != 0.1234 {
		t.Fatalf("widen: got %v", got)
	}
}

func as[T error](t *testing.T, err error) T {
	t.Helper()
	var target T
	if !errors.As(err, &target) {
		t.Fatalf("expected %T, got %T: %v", target, err, err)
	}
	return target
}

func isType[T error](t *testing.T, err error) {
	t.Helper()
	as[T](t, err)
}

func position(i int) func(t *testing.T, err error) {
	return func(t *testing.T, err error) {
		t.Helper()
		e := as[*InvalidFeatureValueError](t, err)
		if e.Position != i {
			t.Errorf("position: got %d, want %d", e.Position, i)
		}
	}
}
