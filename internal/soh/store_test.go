// internal/soh/store_test.go
package soh

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "evworth/internal/common/errors"
)

var fleetTestColumns = []string{
	"brand", "model", "battery_capacity_kWh", "battery_capacity_remaining_1y_kWh",
	"battery_deg_1y_pct", "battery_deg_2y_pct", "battery_deg_3y_pct", "degradation_rate_annual",
	"charge_ratio", "drive_factor", "eff_penalty", "fast_charging_power_kw_dc",
}

func TestNewStore_RejectsUnsafeTableName(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewStore(db, "fleet; DROP TABLE users")
	assert.Error(t, err)

	_, err = NewStore(db, "ev_database_with_degradation")
	assert.NoError(t, err)
}

func TestStore_LoadFiltered(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows(fleetTestColumns).
		AddRow("Tesla", "Model 3", 75.0, 71.2, 5.1, 8.2, 11.0, 0.051, 0.6, 1.1, 0.08, 170.0).
		AddRow("Tesla", "Model 3", 75.0, nil, nil, nil, nil, nil, nil, nil, nil, nil)

	mock.ExpectQuery(`SELECT .+ FROM ev_fleet WHERE \(\$1 = '' OR LOWER\(brand\) = LOWER\(\$1\)\)`).
		WithArgs("Tesla", "Model 3").
		WillReturnRows(rows)

	store, err := NewStore(db, "ev_fleet")
	require.NoError(t, err)

	got, err := store.LoadFiltered(context.Background(), "Tesla", "Model 3")
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NotNil(t, got[0].BatteryCapacityKWh)
	assert.InDelta(t, 75.0, *got[0].BatteryCapacityKWh, 1e-9)
	require.NotNil(t, got[0].Deg1yPct)
	assert.InDelta(t, 5.1, *got[0].Deg1yPct, 1e-9)

	// NULL telemetry surfaces as nil pointers, not zeros.
	assert.Nil(t, got[1].RemainingCapacity1yKWh)
	assert.Nil(t, got[1].Deg1yPct)
	assert.Nil(t, got[1].FastChargingPowerKwDC)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadSampled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows(fleetTestColumns).
		AddRow("BMW", "i4", 80.0, 77.0, 3.7, 6.5, 9.1, 0.037, 0.5, 1.0, 0.05, 200.0)

	mock.ExpectQuery(`ROW_NUMBER\(\) OVER \(PARTITION BY brand, model\)`).
		WithArgs(50).
		WillReturnRows(rows)

	store, err := NewStore(db, "ev_fleet")
	require.NoError(t, err)

	got, err := store.LoadSampled(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BMW", got[0].Brand)
	assert.Equal(t, "i4", got[0].Model)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM ev_fleet`).
		WillReturnError(errors.New("connection reset"))

	store, err := NewStore(db, "ev_fleet")
	require.NoError(t, err)

	_, err = store.LoadFiltered(context.Background(), "", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeQueryExecutionFailed))
}
