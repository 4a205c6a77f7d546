package predictors

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/reliability"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlobStore(t *testing.T) *reliability.BlobStore {
	bs, err := reliability.NewBlobStore(t.TempDir(), nil, zerolog.Nop())
	require.NoError(t, err)
	return bs
}

func putBlob(t *testing.T, bs *reliability.BlobStore, w linearWeights) string {
	t.Helper()
	data, err := json.Marshal(w)
	require.NoError(t, err)
	ref, _, err := bs.Put(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	return ref
}

func TestLinearModelRuntime_Invoke(t *testing.T) {
	bs := newTestBlobStore(t)
	ref := putBlob(t, bs, linearWeights{Weights: []float64{1, 2}, Bias: 0.5})

	r := NewLinearModelRuntime(bs)
	readout, confidence, err := r.Invoke(context.Background(), domain.PredictorArtifact{ModelBlobRef: ref}, []float64{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 3.5, readout, 1e-9)
	assert.InDelta(t, math.Tanh(3.5/4.0), confidence, 1e-9)
}

func TestLinearModelRuntime_Invoke_CachesBlob(t *testing.T) {
	bs := newTestBlobStore(t)
	ref := putBlob(t, bs, linearWeights{Weights: []float64{1}, Bias: 0})

	r := NewLinearModelRuntime(bs)
	_, _, err := r.Invoke(context.Background(), domain.PredictorArtifact{ModelBlobRef: ref}, []float64{2})
	require.NoError(t, err)

	// Second call hits the in-process cache, not the blob store, so it
	// succeeds even against a ref that no longer resolves.
	r2 := &LinearModelRuntime{blobs: newTestBlobStore(t), cache: r.cache}
	readout, _, err := r2.Invoke(context.Background(), domain.PredictorArtifact{ModelBlobRef: ref}, []float64{2})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, readout, 1e-9)
}

func TestLinearModelRuntime_Invoke_FeatureCountMismatch(t *testing.T) {
	bs := newTestBlobStore(t)
	ref := putBlob(t, bs, linearWeights{Weights: []float64{1, 2}, Bias: 0})

	r := NewLinearModelRuntime(bs)
	_, _, err := r.Invoke(context.Background(), domain.PredictorArtifact{ModelBlobRef: ref}, []float64{1})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPredictor))
}

func TestLinearModelRuntime_Invoke_MissingBlob(t *testing.T) {
	r := NewLinearModelRuntime(newTestBlobStore(t))
	_, _, err := r.Invoke(context.Background(), domain.PredictorArtifact{ModelBlobRef: "sha256:deadbeef"}, []float64{1})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPredictor))
}
