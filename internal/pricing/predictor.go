// internal/pricing/predictor.go
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "evworth/internal/common/errors"
	"evworth/internal/common/logger"
	"evworth/internal/features"
	"evworth/internal/registry"
)

// MarketAdjustments holds the fixed per-country multipliers applied to the
// model's single base estimate. All six markets are always returned.
var MarketAdjustments = map[string]float64{
	"Finland": 1.12,
	"Germany": 1.08,
	"Spain":   0.93,
	"France":  1.02,
	"Belgium": 1.01,
	"Italy":   0.97,
}

// Predictor turns raw vehicle attributes into a per-market price map.
type Predictor struct {
	registry *registry.Registry
	logger   logger.Logger
}

func New(reg *registry.Registry, log logger.Logger) *Predictor {
	return &Predictor{
		registry: reg,
		logger:   log.WithFields(map[string]interface{}{"component": "pricing"}),
	}
}

// Predict builds the feature row, runs the price model once and fans the
// base estimate out across the market adjustment table.
//
// Error contract: MODEL_UNAVAILABLE when no model is installed,
// INVALID_REQUEST for attribute values outside the schema's valid category
// sets, MISSING_FEATURE verbatim from the feature builder, PREDICTION_FAILED
// for anything the model itself rejects (including non-finite derived
// values).
func (p *Predictor) Predict(raw map[string]interface{}) (map[string]float64, error) {
	schema, err := p.registry.Schema()
	if err != nil {
		return nil, err
	}
	model, err := p.registry.Model()
	if err != nil {
		return nil, err
	}

	attrs := p.applyDefaults(raw)
	if err := p.validateCategories(attrs); err != nil {
		return nil, err
	}

	row, err := features.Build(attrs, schema)
	if err != nil {
		return nil, err
	}

	base, err := model.PredictRow(row, false)
	if err != nil {
		p.logger.WithError(err).Warn("inference failed", map[string]interface{}{
			"columns": len(row),
		})
		return nil, apperrors.NewPredictionFailedError(err)
	}

	basePrice := decimal.NewFromFloat(base)
	result := make(map[string]float64, len(MarketAdjustments))
	for country, factor := range MarketAdjustments {
		adjusted := basePrice.Mul(decimal.NewFromFloat(factor)).Round(2)
		result[country], _ = adjusted.Float64()
	}
	return result, nil
}

// applyDefaults fills absent optional attributes from the schema metadata.
// The caller's map is never mutated.
func (p *Predictor) applyDefaults(raw map[string]interface{}) map[string]interface{} {
	defaults := p.registry.Defaults()
	if len(defaults) == 0 {
		return raw
	}

	attrs := make(map[string]interface{}, len(raw)+len(defaults))
	for k, v := range raw {
		attrs[k] = v
	}
	for k, v := range defaults {
		if _, ok := attrs[k]; !ok {
			attrs[k] = v
		}
	}
	return attrs
}

// validateCategories rejects string attributes whose value is outside the
// schema's valid set for that column.
func (p *Predictor) validateCategories(attrs map[string]interface{}) error {
	for column, valid := range p.registry.Categories() {
		v, present := attrs[column]
		if !present {
			continue
		}
		s, isString := v.(string)
		if !isString {
			continue
		}

		known := false
		for _, allowed := range valid {
			if s == allowed {
				known = true
				break
			}
		}
		if !known {
			return apperrors.NewInvalidRequestError(
				fmt.Sprintf("%s: %q is not a known value", column, s))
		}
	}
	return nil
}
