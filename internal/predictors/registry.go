// Package predictors implements the Predictor Registry (§4.D) and the
// Prediction Dispatcher (§4.E). The registry is CRUD over PredictorArtifact
// manifests; it is not responsible for running predictors.
package predictors

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/domain"
	"github.com/aristath/quant-core/internal/events"
	"github.com/rs/zerolog"
)

// manifest is the on-disk shape of registry.json.
type manifest struct {
	Version   int                          `json:"version"`
	Artifacts map[string]domain.PredictorArtifact `json:"artifacts"`
}

// Registry persists PredictorArtifact manifests to a single registry.json
// file guarded by a sentinel lock file, so concurrent processes (and
// concurrent goroutines within this process) never interleave writes.
// Readers take the in-memory snapshot under mu, which is refreshed only
// from a fully-written file.
type Registry struct {
	dir      string
	manifestPath string
	lock     *fileLock

	mu        sync.RWMutex
	artifacts map[string]domain.PredictorArtifact

	bus *events.Bus
	log zerolog.Logger
}

// NewRegistry opens (creating if absent) the registry manifest under dir.
func NewRegistry(dir string, bus *events.Bus, log zerolog.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	r := &Registry{
		dir:          dir,
		manifestPath: filepath.Join(dir, "registry.json"),
		lock:         newFileLock(filepath.Join(dir, "registry.json.lock")),
		artifacts:    make(map[string]domain.PredictorArtifact),
		bus:          bus,
		log:          log.With().Str("component", "predictor_registry").Logger(),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Create registers a new artifact in PredictorCreated status.
func (r *Registry) Create(artifact domain.PredictorArtifact) error {
	if artifact.ID == "" {
		return apperr.New(apperr.KindValidation, "predictor id required")
	}
	now := time.Now().UTC()
	artifact.Status = domain.PredictorCreated
	artifact.CreatedAt = now
	artifact.UpdatedAt = now

	return r.withLock(func() error {
		if _, exists := r.artifacts[artifact.ID]; exists {
			return apperr.New(apperr.KindValidation, fmt.Sprintf("predictor %s already exists", artifact.ID))
		}
		r.artifacts[artifact.ID] = artifact
		return r.persist()
	})
}

// Get returns a snapshot of the artifact, or apperr.KindNotFound.
func (r *Registry) Get(id string) (domain.PredictorArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.artifacts[id]
	if !ok {
		return domain.PredictorArtifact{}, apperr.New(apperr.KindNotFound, "predictor "+id+" not found")
	}
	return a, nil
}

// List returns a consistent snapshot of every registered artifact.
func (r *Registry) List() []domain.PredictorArtifact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PredictorArtifact, 0, len(r.artifacts))
	for _, a := range r.artifacts {
		out = append(out, a)
	}
	return out
}

// UpdateStatus validates and applies a lifecycle transition (§4.D:
// created -> training -> {trained, error}), publishing PredictorStatusChanged.
func (r *Registry) UpdateStatus(id string, to domain.PredictorStatus) error {
	return r.withLock(func() error {
		a, ok := r.artifacts[id]
		if !ok {
			return apperr.New(apperr.KindNotFound, "predictor "+id+" not found")
		}
		if !a.Status.Transition(to) {
			return apperr.WithReason(apperr.KindValidation, "invalid predictor status transition", "invalid_transition")
		}
		from := a.Status
		a.Status = to
		a.UpdatedAt = time.Now().UTC()
		r.artifacts[id] = a
		if err := r.persist(); err != nil {
			return err
		}
		if r.bus != nil {
			r.bus.Publish(events.Event{
				Type:      events.PredictorStatusChanged,
				Timestamp: a.UpdatedAt,
				Component: "predictor_registry",
				Data: &events.PredictorStatusChangedData{
					PredictorID: id,
					From:        string(from),
					To:          string(to),
				},
			})
		}
		return nil
	})
}

// Update replaces mutable artifact fields (feature list, scaler params,
// model blob ref, metrics) without touching status or timestamps outside
// UpdatedAt. Used once training completes to attach the trained blob.
func (r *Registry) Update(id string, mutate func(*domain.PredictorArtifact)) error {
	return r.withLock(func() error {
		a, ok := r.artifacts[id]
		if !ok {
			return apperr.New(apperr.KindNotFound, "predictor "+id+" not found")
		}
		mutate(&a)
		a.UpdatedAt = time.Now().UTC()
		r.artifacts[id] = a
		return r.persist()
	})
}

// Delete removes an artifact from the manifest.
func (r *Registry) Delete(id string) error {
	return r.withLock(func() error {
		if _, ok := r.artifacts[id]; !ok {
			return apperr.New(apperr.KindNotFound, "predictor "+id+" not found")
		}
		delete(r.artifacts, id)
		return r.persist()
	})
}

// withLock takes the write lock file, reloads the on-disk state so this
// process observes any other writer's last write, runs fn against the
// in-memory map, then releases the lock. fn is expected to call r.persist().
func (r *Registry) withLock(fn func() error) error {
	if err := r.lock.Lock(5 * time.Second); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "acquire registry lock", err)
	}
	defer r.lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.reloadLocked(); err != nil {
		return err
	}
	return fn()
}

// reload refreshes the in-memory snapshot from disk, taking mu itself.
func (r *Registry) reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked()
}

// reloadLocked refreshes the in-memory snapshot from disk; caller holds mu.
func (r *Registry) reloadLocked() error {
	data, err := os.ReadFile(r.manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		r.artifacts = make(map[string]domain.PredictorArtifact)
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "read registry manifest", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "decode registry manifest", err)
	}
	if m.Artifacts == nil {
		m.Artifacts = make(map[string]domain.PredictorArtifact)
	}
	r.artifacts = m.Artifacts
	return nil
}

// persist writes the in-memory snapshot to disk atomically (write to a
// temp file in the same directory, then rename). Caller holds mu and the
// file lock.
func (r *Registry) persist() error {
	m := manifest{Version: 1, Artifacts: r.artifacts}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "encode registry manifest", err)
	}

	tmp, err := os.CreateTemp(r.dir, "registry-*.json.tmp")
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "create registry temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.KindUpstream, "write registry temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.KindUpstream, "close registry temp file", err)
	}
	if err := os.Rename(tmpPath, r.manifestPath); err != nil {
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.KindUpstream, "rename registry manifest", err)
	}
	return nil
}
