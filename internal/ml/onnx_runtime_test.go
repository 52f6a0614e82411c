package ml

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	onnxruntime "github.com/yalue/onnxruntime_go"

	"sleepdx/pkg/errors"
)

// Requires an onnxruntime shared library and a 12-feature, 3-class model:
// SLEEPDX_ONNX_LIB=/usr/lib/libonnxruntime.so SLEEPDX_ONNX_MODEL=model.onnx
func TestONNXModel_Predict(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ONNX test in short mode")
	}
	modelPath := os.Getenv("SLEEPDX_ONNX_MODEL")
	if modelPath == "" {
		t.Skip("SLEEPDX_ONNX_MODEL not set, skipping test")
	}

	model, err := LoadONNXModelFile(modelPath, 12, 3, ONNXConfig{
		SharedLibraryPath: os.Getenv("SLEEPDX_ONNX_LIB"),
	})
	require.NoError(t, err)
	defer model.Close()

	p, err := model.Predict([]float64{1, 35, 1, 6.5, 6, 45, 6, 0, 72, 6000, 126, 83})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Class, 0)
	assert.Less(t, p.Class, 3)
	assert.Len(t, p.Probabilities, 3)
	assert.GreaterOrEqual(t, p.Confidence, 0.0)
	assert.LessOrEqual(t, p.Confidence, 1.0)

	_, err = model.Predict([]float64{1, 2})
	assert.Error(t, err)

	// The graph declares 12 features and 3 classes
	_, err = LoadONNXModelFile(modelPath, 11, 3, ONNXConfig{})
	assert.ErrorIs(t, err, errors.ErrValidation)
	_, err = LoadONNXModelFile(modelPath, 12, 4, ONNXConfig{})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestCheckWidth(t *testing.T) {
	tests := []struct {
		name    string
		dims    onnxruntime.Shape
		want    int
		wantErr bool
	}{
		{"matching", onnxruntime.NewShape(1, 12), 12, false},
		{"dynamic batch", onnxruntime.NewShape(-1, 12), 12, false},
		{"dynamic width", onnxruntime.NewShape(-1, -1), 12, false},
		{"scalar", onnxruntime.Shape{}, 12, false},
		{"too narrow", onnxruntime.NewShape(1, 11), 12, true},
		{"too many classes", onnxruntime.NewShape(-1, 4), 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkWidth(tt.dims, tt.want)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadONNXModel_Rejects(t *testing.T) {
	_, err := LoadONNXModel(nil, 12, 3, ONNXConfig{})
	assert.Error(t, err)

	_, err = LoadONNXModel([]byte{1}, 0, 3, ONNXConfig{})
	assert.Error(t, err)
}
