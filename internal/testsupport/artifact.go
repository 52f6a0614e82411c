package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"sleepdx/internal/ml"
	"sleepdx/internal/ml/artifact"
	"sleepdx/internal/ml/encoding"
)

// SleepCorpusPath returns the path of the bundled sleep-health corpus
func SleepCorpusPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "ml", "encoding", "testdata", "sleep_health.csv")
}

// SleepTable reads the bundled corpus
func SleepTable(t testing.TB) *encoding.Table {
	t.Helper()

	f, err := os.Open(SleepCorpusPath())
	if err != nil {
		t.Fatalf("failed to open corpus: %v", err)
	}
	defer f.Close()

	table, err := encoding.ReadCSV(f)
	if err != nil {
		t.Fatalf("failed to read corpus: %v", err)
	}
	return table
}

// SleepDataset fits the registry and encodes the bundled corpus
func SleepDataset(t testing.TB) *encoding.Dataset {
	t.Helper()

	ds, err := encoding.FitAndEncode(SleepTable(t))
	if err != nil {
		t.Fatalf("failed to encode corpus: %v", err)
	}
	return ds
}

// NewArtifact trains a small forest on the bundled corpus and bundles it
func NewArtifact(t testing.TB) *artifact.Artifact {
	t.Helper()

	ds := SleepDataset(t)
	cfg := ml.DefaultForestConfig()
	cfg.Trees = 10

	forest, err := ml.TrainForest(context.Background(), ds.Features, ds.Targets, len(ds.Contract.TargetLabels), cfg)
	if err != nil {
		t.Fatalf("failed to train forest: %v", err)
	}

	a := artifact.New(ds.Contract, ds.Registry, artifact.ModelSpec{Kind: artifact.KindForest, Forest: forest})
	a.Params = &cfg
	a.Corpus = artifact.CorpusInfo{
		Source:  "testdata/sleep_health.csv",
		Rows:    len(ds.Features),
		Classes: ds.ClassCounts(),
	}
	return a
}

// NewArtifactBlob returns an encoded artifact
func NewArtifactBlob(t testing.TB) []byte {
	t.Helper()

	blob, err := artifact.Encode(NewArtifact(t))
	if err != nil {
		t.Fatalf("failed to encode artifact: %v", err)
	}
	return blob
}
