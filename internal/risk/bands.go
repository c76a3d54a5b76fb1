// Package risk maps a prediction onto a named risk band using CEL rules.
//
// Rules see two variables:
//   - probability: double, the positive-class probability
//   - label: int, the predicted class
//
// Example:
//
//	bands:
//	  - name: bajo
//	    when: probability < 0.3
//	  - name: medio
//	    when: probability < 0.6
//	  - name: alto
//	    when: "true"
package risk

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Band is one rule as written in configuration.
type Band struct {
	Name string `yaml:"name"`
	When string `yaml:"when"`
}

type compiledBand struct {
	name string
	prg  cel.Program
}

// Classifier evaluates bands in order; the first rule that holds wins.
type Classifier struct {
	bands []compiledBand
}

// ErrNoBand is returned when no rule matches a prediction.
var ErrNoBand = errors.New("no risk band matched")

// DefaultBands are the thresholds used by the web dashboard.
func DefaultBands() []Band {
	return []Band{
		{Name: "bajo", When: "probability < 0.3"},
		{Name: "medio", When: "probability < 0.6"},
		{Name: "alto", When: "true"},
	}
}

// NewClassifier compiles every rule up front. Programs are safe for concurrent use.
func NewClassifier(bands []Band) (*Classifier, error) {
	if len(bands) == 0 {
		return nil, errors.New("at least one risk band is required")
	}
	env, err := cel.NewEnv(
		cel.Variable("probability", cel.DoubleType),
		cel.Variable("label", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	c := &Classifier{}
	for i, b := range bands {
		if b.Name == "" {
			return nil, fmt.Errorf("band %d has no name", i)
		}
		ast, issues := env.Compile(b.When)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("band %q: compile error: %w", b.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("band %q: rule must return bool, returns %s", b.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("band %q: program error: %w", b.Name, err)
		}
		c.bands = append(c.bands, compiledBand{name: b.Name, prg: prg})
	}
	return c, nil
}

func (c *Classifier) Classify(label int, probability float64) (string, error) {
	input := map[string]any{
		"probability": probability,
		"label":       int64(label),
	}
	for _, b := range c.bands {
		out, _, err := b.prg.Eval(input)
		if err != nil {
			return "", fmt.Errorf("band %q: eval error: %w", b.name, err)
		}
		if ok, _ := out.Value().(bool); ok {
			return b.name, nil
		}
	}
	return "", ErrNoBand
}
