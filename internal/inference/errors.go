package inference

import "fmt"

// MalformedRequestError means the payload is not well-formed JSON.
type MalformedRequestError struct {
	Err error
}

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("malformed request body: %v", e.Err)
}

func (e *MalformedRequestError) Unwrap() error { return e.Err }

// InvalidPayloadTypeError means the payload parsed but is not a JSON array.
type InvalidPayloadTypeError struct {
	Kind string
}

func (e *InvalidPayloadTypeError) Error() string { return "payload is not a list" }

// FeatureCountMismatchError means the array length differs from the model's input width.
type FeatureCountMismatchError struct {
	Expected int
	Got      int
}

func (e *FeatureCountMismatchError) Error() string {
	return fmt.Sprintf("expected %d features, got %d", e.Expected, e.Got)
}

// InvalidFeatureValueError means the element at Position is not a finite number.
type InvalidFeatureValueError struct {
	Position int
}

func (e *InvalidFeatureValueError) Error() string {
	return fmt.Sprintf("feature %d is not a finite number", e.Position)
}

// PredictionError wraps a failure inside the model. It is a server fault, not a client one.
type PredictionError struct {
	Err error
}

func (e *PredictionError) Error() string { return fmt.Sprintf("prediction failed: %v", e.Err) }

func (e *PredictionError) Unwrap() error { return e.Err }
