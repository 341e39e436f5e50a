// internal/registry/registry.go
package registry

import (
	"sync"
	"time"

	apperrors "evworth/internal/common/errors"
	"evworth/internal/common/logger"
	"evworth/internal/common/metrics"
	"evworth/internal/mlmodel"
)

// Registry owns the loaded price model and its feature-schema metadata.
// Reads are lock-free in spirit (RLock), Reload swaps both under the write
// lock so predictions never observe a model/schema mix.
type Registry struct {
	mu         sync.RWMutex
	modelPath  string
	metaPath   string
	model      *mlmodel.Artifact
	metadata   *Metadata
	loadedTime time.Time
	logger     logger.Logger
}

// Status describes the registry for the model-info endpoint.
type Status struct {
	Loaded      bool                   `json:"loaded"`
	LoadTime    *time.Time             `json:"load_time,omitempty"`
	ModelInfo   map[string]interface{} `json:"model_info"`
	Performance map[string]interface{} `json:"performance"`
}

// New constructs an empty registry. Call Load before serving; a registry
// that failed to load keeps answering status queries and reports
// MODEL_UNAVAILABLE on prediction paths.
func New(modelPath, metaPath string, log logger.Logger) *Registry {
	return &Registry{
		modelPath: modelPath,
		metaPath:  metaPath,
		logger:    log.WithFields(map[string]interface{}{"component": "registry"}),
	}
}

// Load reads both artifacts and installs them atomically.
func (r *Registry) Load() error {
	md, err := LoadMetadata(r.metaPath)
	if err != nil {
		r.logger.WithError(err).Error("metadata load failed", map[string]interface{}{"path": r.metaPath})
		metrics.ModelReloads.WithLabelValues("failure").Inc()
		return err
	}

	model, err := mlmodel.LoadArtifact(r.modelPath)
	if err != nil {
		r.logger.WithError(err).Error("model load failed", map[string]interface{}{"path": r.modelPath})
		metrics.ModelReloads.WithLabelValues("failure").Inc()
		return apperrors.NewModelUnavailableError(err.Error())
	}

	r.mu.Lock()
	r.model = model
	r.metadata = md
	r.loadedTime = time.Now().UTC()
	r.mu.Unlock()

	metrics.ModelReloads.WithLabelValues("success").Inc()
	r.logger.Info("price model loaded", map[string]interface{}{
		"numericFeatures":     len(md.Features.Numeric),
		"categoricalFeatures": len(md.Features.Categorical),
		"schemaVersion":       md.SchemaVersion,
	})
	return nil
}

// Reload re-reads the artifacts in place. On failure the previous model
// stays installed.
func (r *Registry) Reload() error {
	return r.Load()
}

// Model returns the loaded price model, or a MODEL_UNAVAILABLE error.
func (r *Registry) Model() (*mlmodel.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.model == nil {
		return nil, apperrors.NewModelUnavailableError("no model installed")
	}
	return r.model, nil
}

// Schema returns the feature schema, or a MODEL_UNAVAILABLE error.
func (r *Registry) Schema() (FeatureSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.metadata == nil {
		return FeatureSchema{}, apperrors.NewModelUnavailableError("no metadata installed")
	}
	return r.metadata.Features, nil
}

// Defaults returns the schema-supplied default values for optional fields.
func (r *Registry) Defaults() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.metadata == nil {
		return nil
	}
	return r.metadata.DefaultValues
}

// Categories returns the valid category sets for raw attributes, keyed by
// column. Columns without a set are unconstrained.
func (r *Registry) Categories() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.metadata == nil {
		return nil
	}
	return r.metadata.ValidCategories
}

// Status reports whether a model is installed plus the training pipeline's
// model_info and performance blocks.
func (r *Registry) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		Loaded:      r.model != nil,
		ModelInfo:   map[string]interface{}{},
		Performance: map[string]interface{}{},
	}
	if r.metadata != nil {
		if r.metadata.ModelInfo != nil {
			st.ModelInfo = r.metadata.ModelInfo
		}
		if r.metadata.Performance != nil {
			st.Performance = r.metadata.Performance
		}
	}
	if !r.loadedTime.IsZero() {
		t := r.loadedTime
		st.LoadTime = &t
	}
	return st
}
