// internal/soh/theoretical.go
package soh

// Canonical input features of the secondary SOH regression model, in
// training order.
var ModelFeatures = []string{
	"battery_capacity_kWh",
	"degradation_rate_annual",
	"charge_ratio",
	"drive_factor",
	"eff_penalty",
	"fast_charging_power_kw_dc",
}

// TargetColumn names the training target.
const TargetColumn = "soh_target"

// TheoreticalSoh computes the closed-form SOH percentage for one row, in
// priority order: remaining/rated capacity ratio, then first-year
// degradation, then the annual degradation rate. Clamped to [0,100].
// Returns nil when none of the inputs are present.
func TheoreticalSoh(r FleetRow) *float64 {
	if r.RemainingCapacity1yKWh != nil && r.BatteryCapacityKWh != nil && *r.BatteryCapacityKWh > 0 {
		return clamp01(*r.RemainingCapacity1yKWh / *r.BatteryCapacityKWh * 100.0)
	}
	if r.Deg1yPct != nil {
		return clamp01(100.0 - *r.Deg1yPct)
	}
	if r.DegradationRateAnnual != nil {
		return clamp01(100.0 - *r.DegradationRateAnnual*100.0)
	}
	return nil
}

// TrainingTarget computes the supervised target: capacity ratio, else
// first-year degradation. The annual-rate fallback applies only to the
// theoretical column.
func TrainingTarget(r FleetRow) *float64 {
	if r.RemainingCapacity1yKWh != nil && r.BatteryCapacityKWh != nil && *r.BatteryCapacityKWh > 0 {
		v := *r.RemainingCapacity1yKWh / *r.BatteryCapacityKWh * 100.0
		return &v
	}
	if r.Deg1yPct != nil {
		v := 100.0 - *r.Deg1yPct
		return &v
	}
	return nil
}

// featureVector maps a row onto ModelFeatures. With fillMissing, absent
// values become 0 (the permissive apply-time policy); otherwise the row is
// rejected for training.
func featureVector(r FleetRow, fillMissing bool) ([]float64, bool) {
	ptrs := []*float64{
		r.BatteryCapacityKWh,
		r.DegradationRateAnnual,
		r.ChargeRatio,
		r.DriveFactor,
		r.EffPenalty,
		r.FastChargingPowerKwDC,
	}
	x := make([]float64, len(ptrs))
	for i, p := range ptrs {
		if p == nil {
			if !fillMissing {
				return nil, false
			}
			x[i] = 0
			continue
		}
		x[i] = *p
	}
	return x, true
}

func clamp01(v float64) *float64 {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}
