// internal/mlmodel/artifact.go
package mlmodel

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Artifact bundles a trained forest with the feature list, target column and
// categorical encoding it was trained against.
type Artifact struct {
	TrainedAt     time.Time                     `json:"trained_at"`
	Features      []string                      `json:"features"`
	Target        string                        `json:"target"`
	CategoryCodes map[string]map[string]float64 `json:"category_codes,omitempty"`
	Performance   Performance                   `json:"performance"`
	Forest        *Forest                       `json:"forest"`
}

// Performance holds the held-out evaluation recorded at training time.
type Performance struct {
	MAE    float64 `json:"mae"`
	NTrain int     `json:"n_train"`
}

// LoadArtifact reads a serialized model artifact from disk.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if a.Forest == nil || len(a.Forest.Trees) == 0 {
		return nil, fmt.Errorf("artifact %s has no trees", path)
	}
	if len(a.Features) == 0 {
		return nil, fmt.Errorf("artifact %s has no feature list", path)
	}
	return &a, nil
}

// Save writes the artifact atomically: temp file in the target directory,
// then rename. Concurrent readers never observe a partial write.
func (a *Artifact) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename artifact into place: %w", err)
	}
	return nil
}

// Vectorize maps a feature row onto the artifact's feature order. Numeric
// values pass through; categorical values go through the stored codes, with
// unknown categories coded as -1. A feature absent from the row is an error
// unless fillMissing is set, in which case it becomes 0.
func (a *Artifact) Vectorize(row map[string]interface{}, fillMissing bool) ([]float64, error) {
	x := make([]float64, len(a.Features))
	for i, name := range a.Features {
		raw, ok := row[name]
		if !ok || raw == nil {
			if !fillMissing {
				return nil, fmt.Errorf("feature %q missing from input row", name)
			}
			x[i] = 0
			continue
		}

		if codes, categorical := a.CategoryCodes[name]; categorical {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("feature %q: expected category string, got %T", name, raw)
			}
			code, known := codes[s]
			if !known {
				code = -1
			}
			x[i] = code
			continue
		}

		v, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", name, err)
		}
		x[i] = v
	}
	return x, nil
}

// PredictRow vectorizes and predicts in one step, rejecting non-finite
// inputs so a division blow-up upstream surfaces as an inference failure.
func (a *Artifact) PredictRow(row map[string]interface{}, fillMissing bool) (float64, error) {
	x, err := a.Vectorize(row, fillMissing)
	if err != nil {
		return 0, err
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("feature %q is not finite", a.Features[i])
		}
	}
	return a.Forest.Predict(x), nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
