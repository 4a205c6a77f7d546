package domain

import "time"

// PredictorKind enumerates the model architectures the registry can host.
type PredictorKind string

const (
	PredictorLSTM        PredictorKind = "lstm"
	PredictorCNN         PredictorKind = "cnn"
	PredictorTransformer PredictorKind = "transformer"
	PredictorRLPPO       PredictorKind = "rl-ppo"
	PredictorRLA2C       PredictorKind = "rl-a2c"
	PredictorRLDQN       PredictorKind = "rl-dqn"
	PredictorRLSAC       PredictorKind = "rl-sac"
)

// PredictorStatus is the lifecycle state of a PredictorArtifact.
type PredictorStatus string

const (
	PredictorCreated  PredictorStatus = "created"
	PredictorTraining PredictorStatus = "training"
	PredictorTrained  PredictorStatus = "trained"
	PredictorError    PredictorStatus = "error"
)

// PredictorArtifact is the read-only contract the core consumes from the
// (out-of-scope) training pipeline.
type PredictorArtifact struct {
	ID           string          `json:"id"`
	Kind         PredictorKind   `json:"kind"`
	FeatureList  []string        `json:"feature_list"`
	InputShape   []int           `json:"input_shape"`
	ScalerParams ScalerParams    `json:"scaler_params"`
	ModelBlobRef string          `json:"model_blob_ref"`
	Metrics      map[string]float64 `json:"metrics"`
	Status       PredictorStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ScalerParams holds the per-feature scaling parameters applied before inference.
type ScalerParams struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Transition validates a status change per the registry's allowed lifecycle:
// created -> training -> trained, or created -> training -> error.
func (s PredictorStatus) Transition(to PredictorStatus) bool {
	switch s {
	case PredictorCreated:
		return to == PredictorTraining
	case PredictorTraining:
		return to == PredictorTrained || to == PredictorError
	default:
		return false
	}
}
