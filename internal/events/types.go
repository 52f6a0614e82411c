package events

import "time"

// PredictionMade is emitted after every successful prediction
type PredictionMade struct {
	Base
	RequestID     string    `json:"request_id,omitempty"`
	ModelVersion  string    `json:"model_version"`
	Code          int       `json:"prediction_code"`
	Label         string    `json:"prediction_label"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
	Features      []float64 `json:"features"`
	SkewFields    []string  `json:"skew_fields,omitempty"`
	LatencyMs     float64   `json:"latency_ms"`
}

// EncodingSkew reports a categorical label that was unseen at training time
// and served with the field's default code
type EncodingSkew struct {
	Base
	RequestID    string `json:"request_id,omitempty"`
	ModelVersion string `json:"model_version"`
	Field        string `json:"field"`
	Raw          string `json:"raw"`
	DefaultCode  int    `json:"default_code"`
	DefaultLabel string `json:"default_label"`
}

// ModelPublished is emitted by the trainer once a new artifact is stored
type ModelPublished struct {
	Base
	ModelVersion string    `json:"model_version"`
	Kind         string    `json:"kind"`
	Key          string    `json:"key"`
	VersionKey   string    `json:"version_key"`
	Accuracy     float64   `json:"accuracy"`
	MacroF1      float64   `json:"macro_f1"`
	TrainSize    int       `json:"train_size"`
	TestSize     int       `json:"test_size"`
	CreatedAt    time.Time `json:"created_at"`
}

// ModelReloadRequest asks every serving instance to reload its artifact
type ModelReloadRequest struct {
	Base
	Requester string `json:"requester,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
