package training

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"sleepdx/internal/adapters/config"
	"sleepdx/internal/domain/sleep"
	"sleepdx/internal/ml/encoding"
	"sleepdx/pkg/errors"
)

// CorpusSource yields the raw training corpus. Every read failure wraps
// ErrCorpusRead and aborts the run.
type CorpusSource interface {
	Read(ctx context.Context) (*encoding.Table, error)
	Describe() string
}

// BlobGetter reads blobs from the artifact store
type BlobGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// FileSource reads a CSV file from disk
type FileSource struct {
	Path string
}

// Read implements CorpusSource
func (s FileSource) Read(ctx context.Context) (*encoding.Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, corpusErr(err, s.Describe())
	}
	defer f.Close()

	t, err := encoding.ReadCSV(f)
	if err != nil {
		return nil, corpusErr(err, s.Describe())
	}
	return t, nil
}

// Describe implements CorpusSource
func (s FileSource) Describe() string { return "file:" + s.Path }

// BlobSource reads a CSV blob from the artifact store
type BlobSource struct {
	Store BlobGetter
	Key   string
}

// Read implements CorpusSource
func (s BlobSource) Read(ctx context.Context) (*encoding.Table, error) {
	data, err := s.Store.Get(ctx, s.Key)
	if err != nil {
		return nil, corpusErr(err, s.Describe())
	}
	t, err := encoding.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, corpusErr(err, s.Describe())
	}
	return t, nil
}

// Describe implements CorpusSource
func (s BlobSource) Describe() string { return "blob:" + s.Key }

// TableSource reads a database table
type TableSource struct {
	Repo  sleep.CorpusRepository
	Table string
}

// Read implements CorpusSource
func (s TableSource) Read(ctx context.Context) (*encoding.Table, error) {
	columns, rows, err := s.Repo.LoadCorpus(ctx, s.Table)
	if err != nil {
		return nil, corpusErr(err, s.Describe())
	}
	return &encoding.Table{Columns: columns, Rows: rows}, nil
}

// Describe implements CorpusSource
func (s TableSource) Describe() string { return "postgres:" + s.Table }

// NewCorpusSource selects the configured source. repo may be nil unless
// the postgres source is configured.
func NewCorpusSource(cfg config.TrainingConfig, store BlobGetter, repo sleep.CorpusRepository) (CorpusSource, error) {
	switch cfg.Source {
	case config.SourceFile:
		return FileSource{Path: cfg.CorpusPath}, nil
	case config.SourceBlob:
		if store == nil {
			return nil, errors.Wrap(errors.ErrInvalidInput, "blob corpus source needs an artifact store")
		}
		return BlobSource{Store: store, Key: cfg.CorpusKey}, nil
	case config.SourcePostgres:
		if repo == nil {
			return nil, errors.Wrap(errors.ErrInvalidInput, "postgres corpus source needs a database")
		}
		return TableSource{Repo: repo, Table: cfg.CorpusTable}, nil
	}
	return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown corpus source %q", cfg.Source)
}

func corpusErr(err error, source string) error {
	return fmt.Errorf("%w: %s: %w", errors.ErrCorpusRead, source, err)
}
