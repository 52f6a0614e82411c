package artifact_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepdx/internal/domain/sleep"
	"sleepdx/internal/ml"
	"sleepdx/internal/ml/artifact"
	"sleepdx/internal/ml/encoding"
	"sleepdx/internal/testsupport"
	"sleepdx/pkg/errors"
)

func TestEncodeDecode(t *testing.T) {
	a := testsupport.NewArtifact(t)

	blob, err := artifact.Encode(a)
	require.NoError(t, err)

	restored, err := artifact.Decode(blob)
	require.NoError(t, err)

	assert.Equal(t, a.Version, restored.Version)
	assert.True(t, a.CreatedAt.Equal(restored.CreatedAt))
	assert.Equal(t, a.Contract, restored.Contract)
	assert.Equal(t, a.Registry.Fields(), restored.Registry.Fields())
	assert.Equal(t, a.Corpus, restored.Corpus)

	// The restored pair must encode and classify exactly like the original
	rec := &sleep.RawRecord{}
	rec.SetText(sleep.FieldGender, "Female")
	rec.SetInt(sleep.FieldAge, 50)
	rec.SetText(sleep.FieldOccupation, "Nurse")
	rec.SetReal(sleep.FieldSleepDuration, 6.1)
	rec.SetInt(sleep.FieldQualityOfSleep, 6)
	rec.SetInt(sleep.FieldPhysicalActivityLevel, 90)
	rec.SetInt(sleep.FieldStressLevel, 8)
	rec.SetText(sleep.FieldBMICategory, "Overweight")
	rec.SetText(sleep.FieldBloodPressure, "140/95")
	rec.SetInt(sleep.FieldHeartRate, 75)
	rec.SetInt(sleep.FieldDailySteps, 10000)

	want, err := encoding.EncodeOne(rec, a.Registry, a.Contract)
	require.NoError(t, err)
	got, err := encoding.EncodeOne(rec, restored.Registry, restored.Contract)
	require.NoError(t, err)
	assert.Equal(t, want.Vector, got.Vector)

	original, err := a.Classifier(ml.ONNXConfig{})
	require.NoError(t, err)
	reloaded, err := restored.Classifier(ml.ONNXConfig{})
	require.NoError(t, err)

	p1, err := original.Predict(want.Vector)
	require.NoError(t, err)
	p2, err := reloaded.Predict(got.Vector)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	label, err := restored.Label(p2.Class)
	require.NoError(t, err)
	assert.True(t, sleep.Diagnosis(label).Valid())
}

func TestDecode_Corrupt(t *testing.T) {
	blob := testsupport.NewArtifactBlob(t)

	truncated := blob[:len(blob)/2]
	flipped := append([]byte{}, blob...)
	flipped[len(flipped)/2] ^= 0xFF

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"not zstd", []byte("definitely not an artifact")},
		{"truncated", truncated},
		{"flipped byte", flipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := artifact.Decode(tt.blob)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCorruptArtifact), "got %v", err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *artifact.Artifact)
	}{
		{"no version", func(a *artifact.Artifact) { a.Version = "" }},
		{"no registry", func(a *artifact.Artifact) { a.Registry = nil }},
		{"unknown kind", func(a *artifact.Artifact) { a.Model.Kind = "svm" }},
		{"missing forest", func(a *artifact.Artifact) { a.Model.Forest = nil }},
		{"missing onnx", func(a *artifact.Artifact) { a.Model = artifact.ModelSpec{Kind: artifact.KindONNX} }},
		{"width mismatch", func(a *artifact.Artifact) {
			a.Contract = encoding.NewContract(encoding.DefaultColumns[:11], a.Contract.TargetLabels)
		}},
		{"label mismatch", func(a *artifact.Artifact) {
			a.Contract.TargetLabels = []string{"None", "Insomnia", "Sleep Apnea"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testsupport.NewArtifact(t)
			require.NoError(t, a.Validate())

			tt.mutate(a)
			assert.Error(t, a.Validate())

			_, err := artifact.Encode(a)
			assert.Error(t, err)
		})
	}
}

func TestEncodeDecode_ONNX(t *testing.T) {
	ds := testsupport.SleepDataset(t)
	graph := []byte("\x08\x07\x12\x0bskl2onnx graph")
	a := artifact.New(ds.Contract, ds.Registry, artifact.ModelSpec{Kind: artifact.KindONNX, ONNX: graph})
	a.Evaluation = &ml.Evaluation{Accuracy: 0.85, TestSize: 14, FeatureSize: 12}

	blob, err := artifact.Encode(a)
	require.NoError(t, err)

	restored, err := artifact.Decode(blob)
	require.NoError(t, err)
	require.NoError(t, restored.Validate())

	assert.Equal(t, artifact.KindONNX, restored.Model.Kind)
	assert.Equal(t, graph, restored.Model.ONNX)
	assert.Nil(t, restored.Model.Forest)
	assert.Equal(t, a.Contract, restored.Contract)
	assert.Equal(t, a.Registry.Fields(), restored.Registry.Fields())
	assert.Equal(t, a.Evaluation.Accuracy, restored.Evaluation.Accuracy)
}
