// internal/market/store_test.go
package market

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "evworth/internal/common/errors"
)

func TestStore_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT country, AVG\(price_in_euro\) FROM vehicles GROUP BY country`).
		WillReturnRows(sqlmock.NewRows([]string{"country", "avg"}).
			AddRow("Finland", 41250.75).
			AddRow("Germany", 38900.10))

	mock.ExpectQuery(`SELECT "battery_capacity_kWh", electric_range_km FROM vehicles`).
		WillReturnRows(sqlmock.NewRows([]string{"battery_capacity_kWh", "electric_range_km"}).
			AddRow(75.0, 480.0).
			AddRow(58.0, 390.0).
			AddRow(100.0, 560.0))

	data, err := NewStore(db).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Finland", "Germany"}, data.Country)
	assert.Equal(t, []float64{41250.75, 38900.10}, data.PriceAvg)
	assert.Equal(t, []float64{75, 58, 100}, data.BatteryCapacity)
	assert.Equal(t, []float64{480, 390, 560}, data.ElectricRangeKm)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadEmptyTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`GROUP BY country`).
		WillReturnRows(sqlmock.NewRows([]string{"country", "avg"}))
	mock.ExpectQuery(`electric_range_km`).
		WillReturnRows(sqlmock.NewRows([]string{"battery_capacity_kWh", "electric_range_km"}))

	data, err := NewStore(db).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data.Country)
	assert.Empty(t, data.BatteryCapacity)
}

func TestStore_LoadQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`GROUP BY country`).
		WillReturnError(errors.New("relation does not exist"))

	_, err = NewStore(db).Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeQueryExecutionFailed))
}
