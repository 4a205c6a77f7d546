package predictors

import (
	"context"
	"encoding/json"
	"io"
	"math"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/reliability"
)

// linearWeights is the on-disk shape of a model blob this runtime can load:
// a flat weight vector plus bias, the common export format for the linear
// head a trained model reduces to at inference time. Anything beyond a
// linear readout (the LSTM/CNN/transformer/RL bodies themselves) is the
// out-of-scope training pipeline's concern per domain.PredictorArtifact's
// doc comment; this runtime only ever sees the already-computed readout.
type linearWeights struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// LinearModelRuntime implements ModelRuntime by loading a weight vector
// through a content-addressed BlobStore (local-first, mirrored to/fetched
// from S3-compatible object storage when configured) and scoring scaled
// features against it. Confidence is derived from the magnitude of the
// readout relative to a saturation constant, since no trained model here
// reports its own calibrated confidence.
type LinearModelRuntime struct {
	blobs *reliability.BlobStore
	cache map[string]linearWeights
}

// NewLinearModelRuntime builds a runtime backed by blobs (rooted at
// config.ModelBlobPath, optionally mirrored to remote storage).
func NewLinearModelRuntime(blobs *reliability.BlobStore) *LinearModelRuntime {
	return &LinearModelRuntime{blobs: blobs, cache: make(map[string]linearWeights)}
}

// Invoke implements ModelRuntime.
func (r *LinearModelRuntime) Invoke(ctx context.Context, artifact domain.PredictorArtifact, scaledFeatures []float64) (float64, float64, error) {
	w, err := r.load(ctx, artifact.ModelBlobRef)
	if err != nil {
		return 0, 0, err
	}
	if len(w.Weights) != len(scaledFeatures) {
		return 0, 0, apperr.WithReason(apperr.KindPredictor, "model blob weight count does not match feature count", artifact.ModelBlobRef)
	}

	readout := w.Bias
	for i, f := range scaledFeatures {
		readout += w.Weights[i] * f
	}

	const saturation = 4.0
	confidence := math.Tanh(math.Abs(readout) / saturation)
	return readout, confidence, nil
}

func (r *LinearModelRuntime) load(ctx context.Context, blobRef string) (linearWeights, error) {
	if w, ok := r.cache[blobRef]; ok {
		return w, nil
	}
	rc, err := r.blobs.Get(ctx, blobRef)
	if err != nil {
		return linearWeights{}, apperr.Wrap(apperr.KindPredictor, "read model blob", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return linearWeights{}, apperr.Wrap(apperr.KindPredictor, "read model blob", err)
	}
	var w linearWeights
	if err := json.Unmarshal(data, &w); err != nil {
		return linearWeights{}, apperr.Wrap(apperr.KindPredictor, "decode model blob", err)
	}
	r.cache[blobRef] = w
	return w, nil
}
