package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"
)

// Names produced by the standard sklearn/LightGBM ONNX converters with zipmap disabled.
const (
	defaultLabelOutput       = "label"
	defaultProbabilityOutput = "probabilities"
)

type onnxSession struct {
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	label       *ort.Tensor[int64]
	probability *ort.Tensor[float32]
}

// run scores one vector. The returned slice is the session's output tensor and is only
// valid until the session is handed to another caller.
func (s *onnxSession) run(features []float32) (int64, []float32, error) {
	copy(s.input.GetData(), features)
	if err := s.session.Run(); err != nil {
		return 0, nil, err
	}
	return s.label.GetData()[0], s.probability.GetData(), nil
}

func (s *onnxSession) destroy() {
	if s.input != nil {
		s.input.Destroy()
	}
	if s.label != nil {
		s.label.Destroy()
	}
	if s.probability != nil {
		s.probability.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
}

type runner interface {
	run(features []float32) (label int64, probabilities []float32, err error)
}

// sessionPool lends out at most len(sessions) runners at a time.
type sessionPool struct {
	free chan runner
}

func newSessionPool(sessions ...runner) *sessionPool {
	p := &sessionPool{free: make(chan runner, len(sessions))}
	for _, s := range sessions {
		p.free <- s
	}
	return p
}

// with blocks until a runner is free, calls fn with it and returns it to the pool.
func (p *sessionPool) with(fn func(runner) error) error {
	r := <-p.free
	defer func() { p.free <- r }()
	return fn(r)
}

// environment is the process-wide ONNX Runtime lifecycle.
var environment = struct {
	initialized func() bool
	initialize  func() error
	destroy     func() error
}{
	initialized: func() bool { return ort.IsInitialized() },
	initialize:  func() error { return ort.InitializeEnvironment() },
	destroy:     func() error { return ort.DestroyEnvironment() },
}

// ONNXModel runs a binary classifier through ONNX Runtime.
//
// Each session owns pre-allocated input and output tensors, so a session can only serve one
// call at a time. Calls borrow a session from the pool and return it when done.
type ONNXModel struct {
	Metadata Metadata

	artifact string
	classes  int
	sessions []*onnxSession
	pool     *sessionPool
}

func loadONNX(modelPath string, opts Options) (*ONNXModel, error) {
	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if environment.initialized() {
		return newONNXModel(modelPath, opts)
	}
	if err := environment.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	m, err := newONNXModel(modelPath, opts)
	if err != nil {
		environment.destroy()
		return nil, err
	}
	return m, nil
}

func newONNXModel(modelPath string, opts Options) (*ONNXModel, error) {
	meta, err := readMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model: %w", err)
	}
	classes, err := resolveMetadata(&meta, inputs, outputs)
	if err != nil {
		return nil, err
	}

	n := opts.Sessions
	if n <= 0 {
		n = 1
	}
	m := &ONNXModel{
		Metadata: meta,
		artifact: filepath.Base(modelPath),
		classes:  classes,
	}
	runners := make([]runner, 0, n)
	for i := 0; i < n; i++ {
		s, err := newONNXSession(modelPath, meta, classes)
		if err != nil {
			m.destroySessions()
			return nil, err
		}
		m.sessions = append(m.sessions, s)
		runners = append(runners, s)
	}
	m.pool = newSessionPool(runners...)
	return m, nil
}

func readMetadata(path string) (Metadata, error) {
	meta := Metadata{PositiveIndex: 1}
	if path == "" {
		return meta, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

// resolveMetadata fills unset metadata fields from the graph and checks they agree with it.
// It returns the number of classes in the probability output.
func resolveMetadata(meta *Metadata, inputs, outputs []ort.InputOutputInfo) (int, error) {
	if len(inputs) != 1 {
		return 0, fmt.Errorf("model must have exactly one input, has %d", len(inputs))
	}
	in := inputs[0]
	if meta.InputName == "" {
		meta.InputName = in.Name
	}
	if meta.InputName != in.Name {
		return 0, fmt.Errorf("model input is %q, metadata names %q", in.Name, meta.InputName)
	}

	if dims := in.Dimensions; len(dims) == 2 && dims[1] > 0 {
		if meta.FeatureCount != 0 && meta.FeatureCount != int(dims[1]) {
			return 0, fmt.Errorf("model expects %d features, metadata declares %d", dims[1], meta.FeatureCount)
		}
		meta.FeatureCount = int(dims[1])
	}
	if meta.FeatureCount <= 0 {
		return 0, errors.New("feature count is not fixed by the model or the metadata")
	}

	if meta.LabelOutput == "" {
		meta.LabelOutput = defaultLabelOutput
	}
	if meta.ProbabilityOutput == "" {
		meta.ProbabilityOutput = defaultProbabilityOutput
	}

	classes := 2
	var haveLabel, haveProb bool
	for _, out := range outputs {
		switch out.Name {
		case meta.LabelOutput:
			haveLabel = true
		case meta.ProbabilityOutput:
			haveProb = true
			if dims := out.Dimensions; len(dims) == 2 && dims[1] > 0 {
				classes = int(dims[1])
			}
		}
	}
	if !haveLabel {
		return 0, fmt.Errorf("model has no output %q", meta.LabelOutput)
	}
	if !haveProb {
		return 0, fmt.Errorf("model has no output %q", meta.ProbabilityOutput)
	}
	if meta.PositiveIndex < 0 || meta.PositiveIndex >= classes {
		return 0, fmt.Errorf("positive_index %d outside %d classes", meta.PositiveIndex, classes)
	}
	return classes, nil
}

func newONNXSession(modelPath string, meta Metadata, classes int) (*onnxSession, error) {
	s := &onnxSession{}
	var err error

	s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(meta.FeatureCount)))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	s.label, err = ort.NewEmptyTensor[int64](ort.NewShape(1))
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create label tensor: %w", err)
	}
	s.probability, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(classes)))
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create probability tensor: %w", err)
	}

	s.session, err = ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.LabelOutput, meta.ProbabilityOutput},
		[]ort.ArbitraryTensor{s.input}, []ort.ArbitraryTensor{s.label, s.probability},
		nil)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return s, nil
}

func (m *ONNXModel) ExpectedFeatureCount() int { return m.Metadata.FeatureCount }

func (m *ONNXModel) Predict(features []float32) (Prediction, error) {
	if len(features) != m.Metadata.FeatureCount {
		return Prediction{}, fmt.Errorf("expected %d features, got %d", m.Metadata.FeatureCount, len(features))
	}

	var pred Prediction
	err := m.pool.with(func(r runner) error {
		label, probs, err := r.run(features)
		if err != nil {
			return fmt.Errorf("inference failed: %w", err)
		}
		pred, err = m.decode(label, probs)
		return err
	})
	if err != nil {
		return Prediction{}, err
	}
	return pred, nil
}

func (m *ONNXModel) decode(label int64, probs []float32) (Prediction, error) {
	if label != 0 && label != 1 {
		return Prediction{}, fmt.Errorf("model returned non-binary label %d", label)
	}
	if m.Metadata.PositiveIndex >= len(probs) {
		return Prediction{}, fmt.Errorf("model returned %d probabilities, positive_index is %d",
			len(probs), m.Metadata.PositiveIndex)
	}
	p, err := clampProbability(probs[m.Metadata.PositiveIndex])
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Label: int(label), Probability: p}, nil
}

func (m *ONNXModel) Info() Info {
	return Info{Format: FormatONNX, FeatureCount: m.Metadata.FeatureCount, Artifact: m.artifact}
}

func (m *ONNXModel) destroySessions() {
	for _, s := range m.sessions {
		s.destroy()
	}
	m.sessions = nil
}

// Close releases every session and the ONNX environment. It must not race with Predict.
func (m *ONNXModel) Close() error {
	m.destroySessions()
	return environment.destroy()
}
