// internal/market/store.go
package market

import (
	"context"
	"database/sql"

	apperrors "evworth/internal/common/errors"
)

// Data feeds the market charts: per-country average price plus the raw
// battery capacity and range series.
type Data struct {
	Country         []string  `json:"country"`
	PriceAvg        []float64 `json:"price_avg"`
	BatteryCapacity []float64 `json:"battery_capacity"`
	ElectricRangeKm []float64 `json:"electric_range_km"`
}

// Store reads the vehicles listing table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load aggregates average price per country and collects the capacity and
// range series for scatter plots.
func (s *Store) Load(ctx context.Context) (*Data, error) {
	data := &Data{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT country, AVG(price_in_euro) FROM vehicles GROUP BY country ORDER BY country`)
	if err != nil {
		return nil, apperrors.NewQueryExecutionError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var country string
		var avg float64
		if err := rows.Scan(&country, &avg); err != nil {
			return nil, apperrors.NewQueryExecutionError(err)
		}
		data.Country = append(data.Country, country)
		data.PriceAvg = append(data.PriceAvg, avg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionError(err)
	}

	series, err := s.db.QueryContext(ctx,
		`SELECT "battery_capacity_kWh", electric_range_km FROM vehicles WHERE "battery_capacity_kWh" IS NOT NULL AND electric_range_km IS NOT NULL`)
	if err != nil {
		return nil, apperrors.NewQueryExecutionError(err)
	}
	defer series.Close()
	for series.Next() {
		var capacity, rng float64
		if err := series.Scan(&capacity, &rng); err != nil {
			return nil, apperrors.NewQueryExecutionError(err)
		}
		data.BatteryCapacity = append(data.BatteryCapacity, capacity)
		data.ElectricRangeKm = append(data.ElectricRangeKm, rng)
	}
	if err := series.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionError(err)
	}

	return data, nil
}
