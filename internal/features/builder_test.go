// internal/features/builder_test.go
package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "evworth/internal/common/errors"
	"evworth/internal/registry"
)

func testSchema() registry.FeatureSchema {
	return registry.FeatureSchema{
		Numeric: []string{
			"vehicle_age", "km_per_year", "power_to_battery_ratio",
			"power_age_interaction", "km_per_torque", "km_per_speed",
		},
		Categorical: []string{"age_category", "mileage_category", "brand_year"},
	}
}

func validAttributes() map[string]interface{} {
	return map[string]interface{}{
		"brand":                "Tesla",
		"model":                "Model 3",
		"age_years":            float64(2),
		"km":                   float64(40000),
		"torque_nm":            float64(420),
		"battery_capacity_kWh": float64(75),
		"top_speed_kmh":        float64(225),
	}
}

func TestBuild_ProducesExactlySchemaColumns(t *testing.T) {
	schema := testSchema()

	row, err := Build(validAttributes(), schema)
	require.NoError(t, err)

	expected := schema.Expected()
	assert.Len(t, row, len(expected))
	for _, col := range expected {
		assert.Contains(t, row, col)
	}
}

func TestBuild_Derivations(t *testing.T) {
	row, err := Build(validAttributes(), testSchema())
	require.NoError(t, err)

	assert.Equal(t, float64(2), row["vehicle_age"])
	assert.InDelta(t, 20000.0, row["km_per_year"].(float64), 1e-9)
	assert.InDelta(t, 420.0/75.0, row["power_to_battery_ratio"].(float64), 1e-9)
	assert.InDelta(t, 210.0, row["power_age_interaction"].(float64), 1e-9)
	assert.InDelta(t, 40000.0/420.0, row["km_per_torque"].(float64), 1e-9)
	assert.InDelta(t, 40000.0/225.0, row["km_per_speed"].(float64), 1e-9)
	assert.Equal(t, "new", row["age_category"])
	assert.Equal(t, "med", row["mileage_category"])
	assert.Equal(t, "Tesla_2", row["brand_year"])
}

func TestBuild_ZeroFloors(t *testing.T) {
	attrs := validAttributes()
	attrs["age_years"] = float64(0)

	row, err := Build(attrs, testSchema())
	require.NoError(t, err)

	// Divisor floored to 1, so km_per_year equals km.
	assert.InDelta(t, 40000.0, row["km_per_year"].(float64), 1e-9)
	assert.InDelta(t, 420.0, row["power_age_interaction"].(float64), 1e-9)

	attrs = validAttributes()
	attrs["torque_nm"] = float64(0)
	row, err = Build(attrs, testSchema())
	require.NoError(t, err)

	// The floor applies to denominators only: zero torque over age stays 0.
	assert.InDelta(t, 0.0, row["power_age_interaction"].(float64), 1e-9)
	assert.InDelta(t, 40000.0, row["km_per_torque"].(float64), 1e-9)
}

func TestBuild_ZeroNumeratorOverFlooredDenominator(t *testing.T) {
	attrs := validAttributes()
	attrs["km"] = float64(0)
	attrs["age_years"] = float64(0)

	row, err := Build(attrs, testSchema())
	require.NoError(t, err)
	assert.InDelta(t, 0.0, row["km_per_year"].(float64), 1e-9)
}

func TestBuild_AgeBucketBoundaries(t *testing.T) {
	tests := []struct {
		age  float64
		want string
	}{
		{0.5, "new"},
		{3, "new"},
		{3.0001, "mid"},
		{7, "mid"},
		{7.0001, "old"},
		{20, "old"},
		{20.5, UnknownCategory},
		{0, UnknownCategory},
		{-1, UnknownCategory},
	}
	for _, tt := range tests {
		attrs := validAttributes()
		attrs["age_years"] = tt.age
		row, err := Build(attrs, testSchema())
		require.NoError(t, err)
		assert.Equal(t, tt.want, row["age_category"], "age_years=%v", tt.age)
	}
}

func TestBuild_MileageBucketBoundaries(t *testing.T) {
	tests := []struct {
		km   float64
		want string
	}{
		{15000, "low"},
		{30000, "low"},
		{30001, "med"},
		{60000, "med"},
		{60001, "high"},
		{200000, "high"},
		{250000, UnknownCategory},
	}
	for _, tt := range tests {
		attrs := validAttributes()
		attrs["km"] = tt.km
		row, err := Build(attrs, testSchema())
		require.NoError(t, err)
		assert.Equal(t, tt.want, row["mileage_category"], "km=%v", tt.km)
	}
}

func TestBuild_BrandYearFormatting(t *testing.T) {
	attrs := validAttributes()
	attrs["age_years"] = 3.5
	row, err := Build(attrs, testSchema())
	require.NoError(t, err)
	assert.Equal(t, "Tesla_3.5", row["brand_year"])
}

func TestBuild_MissingColumnsBatchReported(t *testing.T) {
	attrs := validAttributes()
	delete(attrs, "battery_capacity_kWh")
	delete(attrs, "top_speed_kmh")

	_, err := Build(attrs, testSchema())
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingFeature))

	stdErr := apperrors.Normalize(err)
	missing := stdErr.Metadata["missing"].([]string)
	assert.ElementsMatch(t, []string{"power_to_battery_ratio", "km_per_speed"}, missing)

	expected := stdErr.Metadata["expected"].([]string)
	assert.Equal(t, testSchema().Expected(), expected)

	received := stdErr.Metadata["received"].([]string)
	assert.Contains(t, received, "km_per_torque")
	assert.Contains(t, received, "brand")
}

func TestBuild_PassesThroughRawSchemaColumns(t *testing.T) {
	schema := registry.FeatureSchema{
		Numeric:     []string{"vehicle_age", "seats"},
		Categorical: []string{"drivetrain"},
	}
	attrs := validAttributes()
	attrs["seats"] = float64(5)
	attrs["drivetrain"] = "AWD"

	row, err := Build(attrs, schema)
	require.NoError(t, err)
	assert.Equal(t, float64(5), row["seats"])
	assert.Equal(t, "AWD", row["drivetrain"])
}
