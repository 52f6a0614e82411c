package ml

import (
	"os"
	"sync"

	onnxruntime "github.com/yalue/onnxruntime_go"

	"sleepdx/pkg/errors"
)

// ONNXConfig names the runtime library and the graph's tensors.
// Defaults match a classifier exported with a single "input" tensor and
// "output" (class) plus "probabilities" outputs.
type ONNXConfig struct {
	SharedLibraryPath string
	InputName         string
	LabelOutput       string
	ProbabilityOutput string
}

func (c ONNXConfig) withDefaults() ONNXConfig {
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.LabelOutput == "" {
		c.LabelOutput = "output"
	}
	if c.ProbabilityOutput == "" {
		c.ProbabilityOutput = "probabilities"
	}
	return c
}

var (
	envOnce sync.Once
	envErr  error
)

// initRuntime initializes the ONNX runtime environment once per process
func initRuntime(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			onnxruntime.SetSharedLibraryPath(libraryPath)
		}
		if !onnxruntime.IsInitialized() {
			envErr = onnxruntime.InitializeEnvironment()
		}
	})
	return envErr
}

// ONNXModel wraps ONNX Runtime session for ML inference
type ONNXModel struct {
	session     *onnxruntime.DynamicAdvancedSession
	inputName   string
	outputNames []string
	features    int
	classes     int
}

// LoadONNXModel creates a session from a serialized model held in memory,
// as stored inside an artifact
func LoadONNXModel(data []byte, features, classes int, cfg ONNXConfig) (*ONNXModel, error) {
	if len(data) == 0 {
		return nil, errors.New("onnx model is empty")
	}
	if features <= 0 || classes < 2 {
		return nil, errors.Newf("invalid onnx model shape %d features x %d classes", features, classes)
	}
	cfg = cfg.withDefaults()

	if err := initRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, errors.Wrap(err, "failed to initialize ONNX runtime")
	}
	if err := checkONNXShape(data, cfg, features, classes); err != nil {
		return nil, err
	}

	options, err := onnxruntime.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer options.Destroy()

	outputs := []string{cfg.LabelOutput, cfg.ProbabilityOutput}
	session, err := onnxruntime.NewDynamicAdvancedSessionWithONNXData(data,
		[]string{cfg.InputName}, outputs, options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ONNX model")
	}

	return &ONNXModel{
		session:     session,
		inputName:   cfg.InputName,
		outputNames: outputs,
		features:    features,
		classes:     classes,
	}, nil
}

// checkONNXShape compares the widths declared by the graph with the expected
// shape. Dynamic dimensions are accepted as they are only known at run time.
func checkONNXShape(data []byte, cfg ONNXConfig, features, classes int) error {
	inputs, outputs, err := onnxruntime.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return errors.Wrap(err, "failed to read ONNX graph")
	}

	in, ok := findTensor(inputs, cfg.InputName)
	if !ok {
		return errors.Wrapf(errors.ErrValidation, "onnx graph has no input %q", cfg.InputName)
	}
	if _, ok := findTensor(outputs, cfg.LabelOutput); !ok {
		return errors.Wrapf(errors.ErrValidation, "onnx graph has no output %q", cfg.LabelOutput)
	}
	probs, ok := findTensor(outputs, cfg.ProbabilityOutput)
	if !ok {
		return errors.Wrapf(errors.ErrValidation, "onnx graph has no output %q", cfg.ProbabilityOutput)
	}

	if err := checkWidth(in.Dimensions, features); err != nil {
		return errors.Wrapf(err, "input %q", cfg.InputName)
	}
	if err := checkWidth(probs.Dimensions, classes); err != nil {
		return errors.Wrapf(err, "output %q", cfg.ProbabilityOutput)
	}
	return nil
}

func findTensor(infos []onnxruntime.InputOutputInfo, name string) (onnxruntime.InputOutputInfo, bool) {
	for _, info := range infos {
		if info.Name == name {
			return info, true
		}
	}
	return onnxruntime.InputOutputInfo{}, false
}

// checkWidth checks the last dimension of a [batch, width] tensor
func checkWidth(dims onnxruntime.Shape, want int) error {
	if len(dims) == 0 {
		return nil
	}
	got := dims[len(dims)-1]
	if got > 0 && got != int64(want) {
		return errors.Wrapf(errors.ErrValidation, "declares width %d, expected %d", got, want)
	}
	return nil
}

// LoadONNXModelFile loads an ONNX model from file
func LoadONNXModelFile(path string, features, classes int, cfg ONNXConfig) (*ONNXModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read ONNX model")
	}
	return LoadONNXModel(data, features, classes, cfg)
}

// Predict runs inference on one encoded feature vector
func (m *ONNXModel) Predict(features []float64) (*Prediction, error) {
	if m.session == nil {
		return nil, errors.New("model session is nil")
	}
	if len(features) != m.features {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "got %d features, model expects %d", len(features), m.features)
	}

	// Input: shape [1, num_features], float32 as exported by most converters
	input := make([]float32, len(features))
	for i, v := range features {
		input[i] = float32(v)
	}
	inputTensor, err := onnxruntime.NewTensor(onnxruntime.NewShape(1, int64(m.features)), input)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	defer inputTensor.Destroy()

	// Output 1: predicted class (int64, shape [1])
	classOutput := make([]int64, 1)
	classTensor, err := onnxruntime.NewTensor(onnxruntime.NewShape(1), classOutput)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create class output tensor")
	}
	defer classTensor.Destroy()

	// Output 2: probabilities (float32, shape [1, num_classes])
	probOutput := make([]float32, m.classes)
	probTensor, err := onnxruntime.NewTensor(onnxruntime.NewShape(1, int64(m.classes)), probOutput)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create probabilities output tensor")
	}
	defer probTensor.Destroy()

	err = m.session.Run([]onnxruntime.Value{inputTensor}, []onnxruntime.Value{classTensor, probTensor})
	if err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	class := int(classOutput[0])
	if class < 0 || class >= m.classes {
		return nil, errors.Newf("invalid class index: %d", class)
	}

	probs := make([]float64, m.classes)
	for i, p := range probOutput {
		probs[i] = float64(p)
	}

	return &Prediction{
		Class:         class,
		Confidence:    probs[class],
		Probabilities: probs,
	}, nil
}

// NumFeatures returns the expected feature vector width
func (m *ONNXModel) NumFeatures() int { return m.features }

// NumClasses returns the number of target classes
func (m *ONNXModel) NumClasses() int { return m.classes }

// Close cleans up the ONNX session
func (m *ONNXModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
