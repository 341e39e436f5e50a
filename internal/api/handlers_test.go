// internal/api/handlers_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evworth/internal/common/config"
	"evworth/internal/common/logger"
	"evworth/internal/market"
	"evworth/internal/mlmodel"
	"evworth/internal/pricing"
	"evworth/internal/registry"
	"evworth/internal/soh"
)

// ==========================
// Test Helper Functions
// ==========================

type stubFleetSource struct {
	rows []soh.FleetRow
	err  error
}

func (s *stubFleetSource) LoadFiltered(ctx context.Context, brand, model string) ([]soh.FleetRow, error) {
	return s.rows, s.err
}

func (s *stubFleetSource) LoadSampled(ctx context.Context, limitPerBrand int) ([]soh.FleetRow, error) {
	return s.rows, s.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

var testNumeric = []string{
	"vehicle_age", "km_per_year", "power_to_battery_ratio",
	"power_age_interaction", "km_per_torque", "km_per_speed",
}
var testCategorical = []string{"age_category", "mileage_category", "brand_year"}

func writeModelArtifacts(t *testing.T, dir string, basePrice float64) (modelPath, metaPath string) {
	t.Helper()

	artifact := &mlmodel.Artifact{
		TrainedAt: time.Now().UTC(),
		Features:  append(append([]string{}, testNumeric...), testCategorical...),
		Target:    "price_in_euro",
		CategoryCodes: map[string]map[string]float64{
			"age_category":     {"new": 0, "mid": 1, "old": 2, "unknown": 3},
			"mileage_category": {"low": 0, "med": 1, "high": 2, "unknown": 3},
			"brand_year":       {},
		},
		Forest: &mlmodel.Forest{Trees: []mlmodel.Tree{
			{Nodes: []mlmodel.Node{{Feature: -1, Left: -1, Right: -1, Value: basePrice}}},
		}},
	}
	modelPath = filepath.Join(dir, "model.json")
	require.NoError(t, artifact.Save(modelPath))

	md := map[string]interface{}{
		"schema_version": registry.SchemaVersion,
		"features": map[string]interface{}{
			"numeric":     testNumeric,
			"categorical": testCategorical,
		},
	}
	data, err := json.Marshal(md)
	require.NoError(t, err)
	metaPath = filepath.Join(dir, "metadata.json")
	require.NoError(t, os.WriteFile(metaPath, data, 0o644))
	return modelPath, metaPath
}

type serverFixture struct {
	server    *Server
	registry  *registry.Registry
	modelPath string
	fleet     *stubFleetSource
	dbMock    sqlmock.Sqlmock
	checks    map[string]Pinger
}

func newTestServer(t *testing.T, basePrice float64) *serverFixture {
	t.Helper()
	dir := t.TempDir()
	log := logger.NewNoOpLogger()

	modelPath, metaPath := writeModelArtifacts(t, dir, basePrice)
	reg := registry.New(modelPath, metaPath, log)
	require.NoError(t, reg.Load())

	fleet := &stubFleetSource{}
	estimator := soh.NewEstimator(fleet, nil, config.SohConfig{
		MinTrainingRows: 10,
		TestFraction:    0.2,
		Trees:           5,
		MaxDepth:        4,
		Seed:            42,
		LimitPerBrand:   50,
		MaxGroups:       200,
	}, filepath.Join(dir, "soh_model.json"), log)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	checks := map[string]Pinger{}
	fx := &serverFixture{
		registry:  reg,
		modelPath: modelPath,
		fleet:     fleet,
		dbMock:    mock,
		checks:    checks,
	}
	fx.server = NewServer(reg, pricing.New(reg, log), estimator, market.NewStore(db), nil, checks, log)
	return fx
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func validPredictBody() map[string]interface{} {
	return map[string]interface{}{
		"brand":                "Tesla",
		"model":                "Model 3",
		"age_years":            2,
		"km":                   40000,
		"torque_nm":            420,
		"battery_capacity_kWh": 75,
		"top_speed_kmh":        225,
	}
}

// ==========================
// Prediction endpoint
// ==========================

func TestHandlePredict_Success(t *testing.T) {
	fx := newTestServer(t, 30000)

	rr := doRequest(t, fx.server, http.MethodPost, "/api/v1/predict", validPredictBody())
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var prices map[string]float64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &prices))
	assert.Len(t, prices, 6)
	assert.Equal(t, 33600.00, prices["Finland"])
	assert.Equal(t, 27900.00, prices["Spain"])
}

func TestHandlePredict_MissingFeaturePayload(t *testing.T) {
	fx := newTestServer(t, 30000)

	body := validPredictBody()
	delete(body, "battery_capacity_kWh")

	rr := doRequest(t, fx.server, http.MethodPost, "/api/v1/predict", body)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	resp := decodeBody(t, rr)
	assert.NotEmpty(t, resp["error"])
	assert.Contains(t, resp["expected"], "power_to_battery_ratio")
	received, ok := resp["received"].([]interface{})
	require.True(t, ok)
	assert.NotContains(t, received, "power_to_battery_ratio")
}

func TestHandlePredict_ModelUnavailable(t *testing.T) {
	log := logger.NewNoOpLogger()
	reg := registry.New("/nonexistent/model.json", "/nonexistent/meta.json", log)
	_ = reg.Load()

	estimator := soh.NewEstimator(&stubFleetSource{}, nil, config.SohConfig{MinTrainingRows: 10},
		filepath.Join(t.TempDir(), "soh_model.json"), log)
	srv := NewServer(reg, pricing.New(reg, log), estimator, nil, nil, nil, log)

	rr := doRequest(t, srv, http.MethodPost, "/api/v1/predict", validPredictBody())
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	resp := decodeBody(t, rr)
	assert.Equal(t, "MODEL_UNAVAILABLE", resp["type"])
}

func TestHandlePredict_InvalidJSON(t *testing.T) {
	fx := newTestServer(t, 30000)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	fx.server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decodeBody(t, rr)
	assert.Equal(t, "INVALID_REQUEST", resp["type"])
}

// ==========================
// Model endpoints
// ==========================

func TestHandleModelInfo(t *testing.T) {
	fx := newTestServer(t, 30000)

	rr := doRequest(t, fx.server, http.MethodGet, "/api/v1/model/info", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody(t, rr)
	assert.Equal(t, true, resp["loaded"])
	assert.NotNil(t, resp["load_time"])
}

func TestHandleModelReload(t *testing.T) {
	fx := newTestServer(t, 30000)

	rr := doRequest(t, fx.server, http.MethodPost, "/api/v1/model/reload", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeBody(t, rr)["loaded"])

	require.NoError(t, os.Remove(fx.modelPath))
	rr = doRequest(t, fx.server, http.MethodPost, "/api/v1/model/reload", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

// ==========================
// SOH endpoints
// ==========================

func TestHandleVehicleSoh_NoDataIsExplicitEmptyResult(t *testing.T) {
	fx := newTestServer(t, 30000)

	rr := doRequest(t, fx.server, http.MethodGet, "/api/v1/soh/vehicle?brand=nosuch", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody(t, rr)
	assert.NotEmpty(t, resp["error"])
	assert.Equal(t, float64(0), resp["count"])
}

func TestHandleVehicleSoh_WithRows(t *testing.T) {
	fx := newTestServer(t, 30000)
	deg := 5.0
	fx.fleet.rows = []soh.FleetRow{
		{Brand: "Nissan", Model: "Leaf", Deg1yPct: &deg},
		{Brand: "Nissan", Model: "Leaf", Deg1yPct: &deg},
	}

	rr := doRequest(t, fx.server, http.MethodGet, "/api/v1/soh/vehicle?brand=Nissan&model=Leaf", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody(t, rr)
	assert.Equal(t, float64(2), resp["count"])
	assert.Equal(t, 95.0, resp["soh_theoretical_median"])
	assert.Equal(t, 95.0, resp["soh_final"])
	assert.Nil(t, resp["soh_ml_median"])
}

func TestHandleFleetSoh_InvalidLimit(t *testing.T) {
	fx := newTestServer(t, 30000)

	for _, limit := range []string{"abc", "0", "-5"} {
		rr := doRequest(t, fx.server, http.MethodGet, "/api/v1/soh/fleet?limit_per_brand="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "limit=%s", limit)
	}
}

func TestHandleFleetSoh_NoDataIsExplicitEmptyResult(t *testing.T) {
	fx := newTestServer(t, 30000)

	rr := doRequest(t, fx.server, http.MethodGet, "/api/v1/soh/fleet", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody(t, rr)
	assert.NotEmpty(t, resp["error"])
	assert.Empty(t, resp["summary"])
}

// ==========================
// Market & health
// ==========================

func TestHandleMarketData(t *testing.T) {
	fx := newTestServer(t, 30000)

	fx.dbMock.ExpectQuery(`GROUP BY country`).
		WillReturnRows(sqlmock.NewRows([]string{"country", "avg"}).AddRow("Finland", 41000.5))
	fx.dbMock.ExpectQuery(`electric_range_km`).
		WillReturnRows(sqlmock.NewRows([]string{"battery_capacity_kWh", "electric_range_km"}).AddRow(75.0, 480.0))

	rr := doRequest(t, fx.server, http.MethodGet, "/api/v1/market", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody(t, rr)
	assert.Equal(t, []interface{}{"Finland"}, resp["country"])
	assert.NoError(t, fx.dbMock.ExpectationsWereMet())
}

func TestHandleHealth(t *testing.T) {
	fx := newTestServer(t, 30000)
	fx.checks["postgres"] = stubPinger{}

	rr := doRequest(t, fx.server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody(t, rr)
	assert.Equal(t, "healthy", resp["status"])

	fx.checks["redis"] = stubPinger{err: errors.New("connection refused")}
	rr = doRequest(t, fx.server, http.MethodGet, "/health", nil)
	resp = decodeBody(t, rr)
	assert.Equal(t, "degraded", resp["status"])
}
