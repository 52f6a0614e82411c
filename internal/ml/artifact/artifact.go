package artifact

import (
	"time"

	"github.com/google/uuid"

	"sleepdx/internal/ml"
	"sleepdx/internal/ml/encoding"
	"sleepdx/pkg/errors"
)

// Model kinds
const (
	KindForest = "forest"
	KindONNX   = "onnx"
)

// ModelSpec carries the fitted model in one of the supported forms
type ModelSpec struct {
	Kind   string     `json:"kind"`
	Forest *ml.Forest `json:"forest,omitempty"`
	ONNX   []byte     `json:"onnx,omitempty"`
}

// CorpusInfo describes the data a model was fitted on
type CorpusInfo struct {
	Source  string   `json:"source"`
	Rows    int      `json:"rows"`
	Classes []int    `json:"classes"` // row count per target code
	Ignored []string `json:"ignored,omitempty"`
}

// Artifact is the unit of deployment: a model bundled with the registry and
// contract it was trained against. They are always published and loaded
// together so serving cannot pair a model with a different encoding.
type Artifact struct {
	Version    string             `json:"version"`
	CreatedAt  time.Time          `json:"created_at"`
	Contract   encoding.Contract  `json:"contract"`
	Registry   *encoding.Registry `json:"registry"`
	Model      ModelSpec          `json:"model"`
	Evaluation *ml.Evaluation     `json:"evaluation,omitempty"`
	Corpus     CorpusInfo         `json:"corpus"`
	Params     *ml.ForestConfig   `json:"params,omitempty"`
}

// New creates an artifact with a fresh version id
func New(contract encoding.Contract, reg *encoding.Registry, model ModelSpec) *Artifact {
	return &Artifact{
		Version:   uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Contract:  contract,
		Registry:  reg,
		Model:     model,
	}
}

// Validate checks the artifact is internally consistent: the contract is
// sound, the registry covers it, and the model shape matches both
func (a *Artifact) Validate() error {
	if a.Version == "" {
		return errors.New("artifact has no version")
	}
	if err := a.Contract.Validate(); err != nil {
		return errors.Wrap(err, "contract")
	}
	if err := a.Contract.ValidateRegistry(a.Registry); err != nil {
		return errors.Wrap(err, "registry")
	}

	switch a.Model.Kind {
	case KindForest:
		f := a.Model.Forest
		if f == nil {
			return errors.New("forest model missing")
		}
		if err := f.Validate(); err != nil {
			return errors.Wrap(err, "forest")
		}
		if f.Features != a.Contract.Width() {
			return errors.Newf("model expects %d features, contract has %d", f.Features, a.Contract.Width())
		}
		if f.Classes != len(a.Contract.TargetLabels) {
			return errors.Newf("model has %d classes, contract has %d labels", f.Classes, len(a.Contract.TargetLabels))
		}
	case KindONNX:
		if len(a.Model.ONNX) == 0 {
			return errors.New("onnx model missing")
		}
	default:
		return errors.Newf("unknown model kind %q", a.Model.Kind)
	}
	return nil
}

// Classifier instantiates the bundled model. ONNX models need the runtime
// settings; forests ignore them.
func (a *Artifact) Classifier(onnx ml.ONNXConfig) (ml.Classifier, error) {
	switch a.Model.Kind {
	case KindForest:
		if a.Model.Forest == nil {
			return nil, errors.New("forest model missing")
		}
		return a.Model.Forest, nil
	case KindONNX:
		return ml.LoadONNXModel(a.Model.ONNX, a.Contract.Width(), len(a.Contract.TargetLabels), onnx)
	}
	return nil, errors.Newf("unknown model kind %q", a.Model.Kind)
}

// Label decodes a target code through the registry
func (a *Artifact) Label(code int) (string, error) {
	return a.Registry.Decode(a.Contract.Target, code)
}
