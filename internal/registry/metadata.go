// internal/registry/metadata.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"

	apperrors "evworth/internal/common/errors"
)

// SchemaVersion is the metadata layout this build of the code understands.
// The training pipeline stamps the same number into the metadata artifact;
// a mismatch fails the load instead of producing silently wrong predictions.
const SchemaVersion = 1

// FeatureSchema describes the columns the price model expects at inference
// time: ordered numeric and categorical feature lists, per-feature defaults
// and the valid category sets.
type FeatureSchema struct {
	Numeric     []string `json:"numeric"`
	Categorical []string `json:"categorical"`
}

// Expected returns the full ordered column list (numeric then categorical).
func (s FeatureSchema) Expected() []string {
	out := make([]string, 0, len(s.Numeric)+len(s.Categorical))
	out = append(out, s.Numeric...)
	out = append(out, s.Categorical...)
	return out
}

// Metadata is the price model's companion artifact.
type Metadata struct {
	SchemaVersion   int                    `json:"schema_version"`
	Features        FeatureSchema          `json:"features"`
	DefaultValues   map[string]interface{} `json:"default_values"`
	ValidCategories map[string][]string    `json:"valid_categories"`
	ModelInfo       map[string]interface{} `json:"model_info"`
	Performance     map[string]interface{} `json:"performance"`
}

// metadataSchema validates the artifact's shape before any field is trusted.
const metadataSchema = `{
	"type": "object",
	"required": ["schema_version", "features"],
	"properties": {
		"schema_version": {"type": "integer", "minimum": 1},
		"features": {
			"type": "object",
			"required": ["numeric", "categorical"],
			"properties": {
				"numeric": {"type": "array", "items": {"type": "string"}},
				"categorical": {"type": "array", "items": {"type": "string"}}
			}
		},
		"default_values": {"type": "object"},
		"valid_categories": {"type": "object"},
		"model_info": {"type": "object"},
		"performance": {"type": "object"}
	}
}`

// LoadMetadata reads, validates and version-checks the metadata artifact.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", path, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(metadataSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, apperrors.NewMetadataInvalidError(err.Error())
	}
	if !result.Valid() {
		details := ""
		for _, e := range result.Errors() {
			if details != "" {
				details += "; "
			}
			details += e.String()
		}
		return nil, apperrors.NewMetadataInvalidError(details)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", path, err)
	}

	if md.SchemaVersion != SchemaVersion {
		return nil, apperrors.NewSchemaVersionMismatchError(SchemaVersion, md.SchemaVersion)
	}

	if len(md.Features.Numeric)+len(md.Features.Categorical) == 0 {
		return nil, apperrors.NewMetadataInvalidError("feature lists are empty")
	}

	return &md, nil
}
