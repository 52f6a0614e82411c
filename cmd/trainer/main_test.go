package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepdx/internal/testsupport"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("ARTIFACT_BACKEND", "fs")
	t.Setenv("ARTIFACT_ROOT", root)
	t.Setenv("TRAINING_SOURCE", "file")
	t.Setenv("TRAINING_CORPUS_PATH", testsupport.SleepCorpusPath())
	t.Setenv("TRAINING_TREES", "5")
	t.Setenv("LOG_LEVEL", "error")
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		a.close(context.Background())
		dryRun, inspectJSON, importTable, onnxPath = false, false, "", ""
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrainer_TrainThenInspect(t *testing.T) {
	root := setupEnv(t)

	out, err := execute(t, "train")
	require.NoError(t, err)
	assert.Contains(t, out, "Published")
	assert.Contains(t, out, "accuracy")

	_, err = os.Stat(filepath.Join(root, "models", "artifact.art"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "models", "metrics.json"))
	require.NoError(t, err)

	out, err = execute(t, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "Target:   sleep_disorder [Insomnia None Sleep Apnea]")
	assert.Contains(t, out, "occupation")
}

func TestTrainer_DryRunPublishesNothing(t *testing.T) {
	root := setupEnv(t)

	out, err := execute(t, "train", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Dry run")

	_, err = os.Stat(filepath.Join(root, "models", "artifact.art"))
	assert.True(t, os.IsNotExist(err))
}

func TestTrainer_Clean(t *testing.T) {
	root := setupEnv(t)

	out, err := execute(t, "clean")
	require.NoError(t, err)
	assert.Contains(t, out, "Encoded 66 rows x 12 features")

	_, err = os.Stat(filepath.Join(root, "processed", "sleep_data_clean.csv"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "processed", "registry.json"))
	require.NoError(t, err)
}

func TestTrainer_MissingCorpusFails(t *testing.T) {
	setupEnv(t)
	t.Setenv("TRAINING_CORPUS_PATH", filepath.Join(t.TempDir(), "missing.csv"))

	_, err := execute(t, "train")
	assert.Error(t, err)
}

func TestTrainer_ImportNeedsPostgres(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "import", testsupport.SleepCorpusPath())
	assert.Error(t, err)
}

func TestTrainer_BundleRejectsBadModels(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) []string
	}{
		{"flag missing", func(t *testing.T) []string { return []string{"bundle"} }},
		{"file missing", func(t *testing.T) []string {
			return []string{"bundle", "--onnx", filepath.Join(t.TempDir(), "missing.onnx")}
		}},
		{"empty file", func(t *testing.T) []string {
			path := filepath.Join(t.TempDir(), "empty.onnx")
			require.NoError(t, os.WriteFile(path, nil, 0o644))
			return []string{"bundle", "--onnx", path}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := setupEnv(t)

			_, err := execute(t, tt.setup(t)...)
			assert.Error(t, err)

			_, err = os.Stat(filepath.Join(root, "models", "artifact.art"))
			assert.True(t, os.IsNotExist(err))
		})
	}
}
