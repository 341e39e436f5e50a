// internal/features/builder.go
package features

import (
	"encoding/json"
	"sort"
	"strconv"

	apperrors "evworth/internal/common/errors"
	"evworth/internal/registry"
)

// Engineered column names added on top of the raw request attributes.
const (
	ColVehicleAge          = "vehicle_age"
	ColKmPerYear           = "km_per_year"
	ColAgeCategory         = "age_category"
	ColMileageCategory     = "mileage_category"
	ColBrandYear           = "brand_year"
	ColPowerToBatteryRatio = "power_to_battery_ratio"
	ColPowerAgeInteraction = "power_age_interaction"
	ColKmPerTorque         = "km_per_torque"
	ColKmPerSpeed          = "km_per_speed"
)

// UnknownCategory is the explicit bucket for values outside the defined
// breakpoints (negative age, age above 20 years, mileage above 200000 km).
const UnknownCategory = "unknown"

// Build derives every engineered column the price model's schema requires
// and selects exactly the schema's numeric+categorical columns. Columns
// that cannot be derived (missing base attributes) are reported in one
// batch MissingFeature error together with the expected and received lists.
func Build(raw map[string]interface{}, schema registry.FeatureSchema) (map[string]interface{}, error) {
	row := make(map[string]interface{}, len(raw)+9)
	for k, v := range raw {
		row[k] = v
	}

	age, hasAge := number(row, "age_years")
	km, hasKm := number(row, "km")
	torque, hasTorque := number(row, "torque_nm")
	battery, hasBattery := number(row, "battery_capacity_kWh")
	speed, hasSpeed := number(row, "top_speed_kmh")
	brand, hasBrand := row["brand"].(string)

	if hasAge {
		row[ColVehicleAge] = age
		row[ColAgeCategory] = bucket(age, 3, 7, 20, "new", "mid", "old")
		if hasTorque {
			row[ColPowerAgeInteraction] = torque / floorOne(age)
		}
	}
	if hasKm {
		row[ColMileageCategory] = bucket(km, 30000, 60000, 200000, "low", "med", "high")
		if hasAge {
			row[ColKmPerYear] = km / floorOne(age)
		}
		if hasTorque {
			row[ColKmPerTorque] = km / floorOne(torque)
		}
		if hasSpeed {
			row[ColKmPerSpeed] = km / floorOne(speed)
		}
	}
	if hasBrand && hasAge {
		row[ColBrandYear] = brand + "_" + formatNumber(age)
	}
	if hasTorque && hasBattery {
		// No zero-guard here: battery capacity 0 yields +Inf and must
		// surface as a prediction failure downstream.
		row[ColPowerToBatteryRatio] = torque / battery
	}

	expected := schema.Expected()
	out := make(map[string]interface{}, len(expected))
	var missing []string
	for _, col := range expected {
		v, ok := row[col]
		if !ok || v == nil {
			missing = append(missing, col)
			continue
		}
		out[col] = v
	}

	if len(missing) > 0 {
		return nil, apperrors.NewMissingFeatureError(missing, expected, receivedColumns(row))
	}
	return out, nil
}

// floorOne treats a zero divisor as 1. Deliberate floor, not an error.
func floorOne(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// bucket assigns (0,b1] -> l1, (b1,b2] -> l2, (b2,b3] -> l3, everything
// else the explicit unknown category.
func bucket(v, b1, b2, b3 float64, l1, l2, l3 string) string {
	switch {
	case v > 0 && v <= b1:
		return l1
	case v > b1 && v <= b2:
		return l2
	case v > b2 && v <= b3:
		return l3
	default:
		return UnknownCategory
	}
}

// formatNumber renders an age the way the training pipeline concatenated
// it: integral values without a decimal point.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func number(row map[string]interface{}, key string) (float64, bool) {
	raw, ok := row[key]
	if !ok || raw == nil {
		return 0, false
	}
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		v, err := n.Float64()
		return v, err == nil
	default:
		return 0, false
	}
}

func receivedColumns(row map[string]interface{}) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
