// internal/soh/store.go
package soh

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	apperrors "evworth/internal/common/errors"
)

// FleetRow is one vehicle record from the degradation table. Telemetry
// columns are nullable; the estimator decides per-column how to degrade.
type FleetRow struct {
	Brand                  string
	Model                  string
	BatteryCapacityKWh     *float64
	RemainingCapacity1yKWh *float64
	Deg1yPct               *float64
	Deg2yPct               *float64
	Deg3yPct               *float64
	DegradationRateAnnual  *float64
	ChargeRatio            *float64
	DriveFactor            *float64
	EffPenalty             *float64
	FastChargingPowerKwDC  *float64
}

// FleetSource is the read surface the estimator needs.
type FleetSource interface {
	LoadFiltered(ctx context.Context, brand, model string) ([]FleetRow, error)
	LoadSampled(ctx context.Context, limitPerBrand int) ([]FleetRow, error)
}

// Store reads the fleet degradation table from Postgres.
type Store struct {
	db    *sql.DB
	table string
}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewStore validates the configured table name once; it is interpolated
// into queries (identifiers cannot be bound as parameters).
func NewStore(db *sql.DB, table string) (*Store, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid fleet table name: %q", table)
	}
	return &Store{db: db, table: table}, nil
}

const fleetColumns = `brand, model, "battery_capacity_kWh", "battery_capacity_remaining_1y_kWh", ` +
	`battery_deg_1y_pct, battery_deg_2y_pct, battery_deg_3y_pct, degradation_rate_annual, ` +
	`charge_ratio, drive_factor, eff_penalty, fast_charging_power_kw_dc`

// LoadFiltered returns rows matching the optional brand/model filter,
// case-insensitively. Empty filter arguments match everything.
func (s *Store) LoadFiltered(ctx context.Context, brand, model string) ([]FleetRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE ($1 = '' OR LOWER(brand) = LOWER($1)) AND ($2 = '' OR LOWER(model) = LOWER($2))`,
		fleetColumns, s.table)

	rows, err := s.db.QueryContext(ctx, query, brand, model)
	if err != nil {
		return nil, apperrors.NewQueryExecutionError(err)
	}
	defer rows.Close()
	return scanFleetRows(rows)
}

// LoadSampled returns at most limitPerBrand rows per (brand, model) group,
// bounding cost on large tables.
func (s *Store) LoadSampled(ctx context.Context, limitPerBrand int) ([]FleetRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM (SELECT *, ROW_NUMBER() OVER (PARTITION BY brand, model) AS rn FROM %s) sampled WHERE rn <= $1`,
		fleetColumns, s.table)

	rows, err := s.db.QueryContext(ctx, query, limitPerBrand)
	if err != nil {
		return nil, apperrors.NewQueryExecutionError(err)
	}
	defer rows.Close()
	return scanFleetRows(rows)
}

func scanFleetRows(rows *sql.Rows) ([]FleetRow, error) {
	var out []FleetRow
	for rows.Next() {
		var r FleetRow
		var capacity, remaining, deg1, deg2, deg3, rate, charge, drive, eff, fast sql.NullFloat64
		if err := rows.Scan(
			&r.Brand, &r.Model, &capacity, &remaining,
			&deg1, &deg2, &deg3, &rate,
			&charge, &drive, &eff, &fast,
		); err != nil {
			return nil, apperrors.NewQueryExecutionError(err)
		}
		r.BatteryCapacityKWh = nullableFloat(capacity)
		r.RemainingCapacity1yKWh = nullableFloat(remaining)
		r.Deg1yPct = nullableFloat(deg1)
		r.Deg2yPct = nullableFloat(deg2)
		r.Deg3yPct = nullableFloat(deg3)
		r.DegradationRateAnnual = nullableFloat(rate)
		r.ChargeRatio = nullableFloat(charge)
		r.DriveFactor = nullableFloat(drive)
		r.EffPenalty = nullableFloat(eff)
		r.FastChargingPowerKwDC = nullableFloat(fast)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionError(err)
	}
	return out, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
