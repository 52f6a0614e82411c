package workers

import (
	"context"
	"encoding/json"
	"time"

	"sleepdx/internal/metrics"
	"sleepdx/pkg/errors"
)

// BlobGetter reads published documents from the artifact store
type BlobGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// ArtifactWatcher compares the version the trainer last published with the
// version being served and flags the difference. It never reloads; reloads
// stay an operator action.
type ArtifactWatcher struct {
	*BaseWorker
	store      BlobGetter
	metricsKey string
	serving    metrics.ModelInfoSource

	lastWarned string
}

// NewArtifactWatcher creates a watcher over the published metrics document.
// interval <= 0 disables it.
func NewArtifactWatcher(store BlobGetter, metricsKey string, serving metrics.ModelInfoSource, interval time.Duration) *ArtifactWatcher {
	return &ArtifactWatcher{
		BaseWorker: NewBaseWorker("artifact_watcher", interval, true),
		store:      store,
		metricsKey: metricsKey,
		serving:    serving,
	}
}

// publishedDoc is the subset of the metrics document the watcher reads
type publishedDoc struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Run checks once
func (w *ArtifactWatcher) Run(ctx context.Context) error {
	blob, err := w.store.Get(ctx, w.metricsKey)
	if errors.Is(err, errors.ErrNotFound) {
		metrics.SetArtifactPending(false)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read %s", w.metricsKey)
	}

	var doc publishedDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return errors.Wrapf(err, "decode %s", w.metricsKey)
	}
	if doc.Version == "" {
		return errors.Wrapf(errors.ErrInvalidInput, "%s has no version", w.metricsKey)
	}

	info, ok := w.serving()
	pending := !ok || info.Version != doc.Version
	metrics.SetArtifactPending(pending)

	if !pending {
		w.lastWarned = ""
		return nil
	}
	if w.lastWarned != doc.Version {
		w.lastWarned = doc.Version
		w.Log().Warnw("Published artifact is not serving, reload required",
			"published", doc.Version,
			"published_at", doc.CreatedAt,
			"serving", info.Version,
		)
	}
	return nil
}

// Pending reports whether the last check found an unserved version
func (w *ArtifactWatcher) Pending() bool {
	return w.lastWarned != ""
}
