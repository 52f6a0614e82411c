package workers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepdx/internal/metrics"
	"sleepdx/pkg/errors"
)

type docStore map[string][]byte

func (d docStore) Get(_ context.Context, key string) ([]byte, error) {
	blob, ok := d[key]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "key %s", key)
	}
	return blob, nil
}

func serving(version string) metrics.ModelInfoSource {
	return func() (metrics.ModelInfo, bool) {
		if version == "" {
			return metrics.ModelInfo{}, false
		}
		return metrics.ModelInfo{Version: version}, true
	}
}

func doc(version string) []byte {
	return []byte(fmt.Sprintf(`{"version":%q,"created_at":"2026-01-02T03:04:05Z"}`, version))
}

func TestArtifactWatcher_Run(t *testing.T) {
	const key = "models/metrics.json"

	tests := []struct {
		name        string
		store       docStore
		serving     string
		wantPending bool
		wantErr     bool
	}{
		{name: "nothing published", store: docStore{}, serving: "v1"},
		{name: "same version", store: docStore{key: doc("v1")}, serving: "v1"},
		{name: "newer version", store: docStore{key: doc("v2")}, serving: "v1", wantPending: true},
		{name: "nothing serving", store: docStore{key: doc("v1")}, wantPending: true},
		{name: "corrupt document", store: docStore{key: []byte("{")}, serving: "v1", wantErr: true},
		{name: "missing version", store: docStore{key: []byte(`{}`)}, serving: "v1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewArtifactWatcher(tt.store, key, serving(tt.serving), time.Minute)

			err := w.Run(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPending, w.Pending())
		})
	}
}

func TestArtifactWatcher_ClearsAfterReload(t *testing.T) {
	const key = "models/metrics.json"
	version := "v1"
	store := docStore{key: doc("v2")}
	w := NewArtifactWatcher(store, key, func() (metrics.ModelInfo, bool) {
		return metrics.ModelInfo{Version: version}, true
	}, time.Minute)

	require.NoError(t, w.Run(context.Background()))
	assert.True(t, w.Pending())

	version = "v2"
	require.NoError(t, w.Run(context.Background()))
	assert.False(t, w.Pending())
}

func TestArtifactWatcher_DisabledWithoutInterval(t *testing.T) {
	w := NewArtifactWatcher(docStore{}, "k", serving("v1"), 0)
	assert.False(t, w.Enabled())
}
