// internal/soh/estimator.go
package soh

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"evworth/internal/common/config"
	apperrors "evworth/internal/common/errors"
	"evworth/internal/common/logger"
	"evworth/internal/common/metrics"
	"evworth/internal/mlmodel"
)

// VehicleSoh is the aggregate record for one brand/model filter.
type VehicleSoh struct {
	Count                     int      `json:"count"`
	SohTheoreticalMedian      *float64 `json:"soh_theoretical_median"`
	SohMLMedian               *float64 `json:"soh_ml_median"`
	SohFinal                  *float64 `json:"soh_final"`
	DegradationYear1PctMedian *float64 `json:"degradation_year1_pct_median"`
	DegradationYear2PctMedian *float64 `json:"degradation_year2_pct_median"`
	DegradationYear3PctMedian *float64 `json:"degradation_year3_pct_median"`
}

// FleetGroup is one (brand, model) entry of the fleet summary.
type FleetGroup struct {
	Brand                     string   `json:"brand"`
	Model                     string   `json:"model"`
	Count                     int      `json:"count"`
	SohTheoreticalMedian      *float64 `json:"soh_theoretical_median"`
	SohMLMedian               *float64 `json:"soh_ml_median"`
	SohFinal                  *float64 `json:"soh_final"`
	DegradationYear1PctMedian *float64 `json:"degradation_year1_pct_median"`
	DegradationYear3PctMedian *float64 `json:"degradation_year3_pct_median"`
	AvgFastChargingKw         *float64 `json:"avg_fast_charging_kw"`
	AvgChargeRatio            *float64 `json:"avg_charge_ratio"`
}

// FleetSummary is the full fleet response: per-group records sorted by
// final SOH descending (groups without a final value last), truncated, plus
// training info and the fleet-median KPI.
type FleetSummary struct {
	Summary   []FleetGroup         `json:"summary"`
	ModelInfo *mlmodel.Performance `json:"model_info,omitempty"`
	SohAvg    *float64             `json:"soh_avg"`
}

// Estimator blends theoretical and ML battery-health estimates. The
// secondary model is trained lazily on first use, persisted, and reused.
type Estimator struct {
	source FleetSource
	cache  *redis.Client
	cfg    config.SohConfig
	path   string
	logger logger.Logger

	// trainMu serializes lazy training and guards the in-memory artifact;
	// concurrent callers observing no artifact wait for the first trainer
	// instead of duplicating work.
	trainMu  sync.Mutex
	artifact *mlmodel.Artifact
}

func NewEstimator(source FleetSource, cache *redis.Client, cfg config.SohConfig, modelPath string, log logger.Logger) *Estimator {
	return &Estimator{
		source: source,
		cache:  cache,
		cfg:    cfg,
		path:   modelPath,
		logger: log.WithFields(map[string]interface{}{"component": "soh"}),
	}
}

// VehicleSoh computes the blended aggregate for one brand/model filter.
// A filter matching zero rows yields a NO_DATA error, which the API layer
// renders as an explicit empty result.
func (e *Estimator) VehicleSoh(ctx context.Context, brand, model string) (*VehicleSoh, error) {
	metrics.SohQueriesTotal.WithLabelValues("vehicle").Inc()

	rows, err := e.source.LoadFiltered(ctx, brand, model)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNoDataError(fmt.Sprintf("brand=%q model=%q", brand, model))
	}

	theoMedian := medianOf(rows, TheoreticalSoh)

	artifact := e.ensureModel(ctx, rows)
	mlMedian := e.applyModel(artifact, rows)

	return &VehicleSoh{
		Count:                     len(rows),
		SohTheoreticalMedian:      theoMedian,
		SohMLMedian:               mlMedian,
		SohFinal:                  Blend(theoMedian, mlMedian),
		DegradationYear1PctMedian: medianOf(rows, func(r FleetRow) *float64 { return r.Deg1yPct }),
		DegradationYear2PctMedian: medianOf(rows, func(r FleetRow) *float64 { return r.Deg2yPct }),
		DegradationYear3PctMedian: medianOf(rows, func(r FleetRow) *float64 { return r.Deg3yPct }),
	}, nil
}

// FleetSoh computes the per-group summary over a bounded sample of the
// fleet table. Results are cached per sample limit.
func (e *Estimator) FleetSoh(ctx context.Context, limitPerBrand int) (*FleetSummary, error) {
	metrics.SohQueriesTotal.WithLabelValues("fleet").Inc()

	if limitPerBrand <= 0 {
		limitPerBrand = e.cfg.LimitPerBrand
	}

	cacheKey := fmt.Sprintf("soh:fleet:%d", limitPerBrand)
	if cached := e.cacheGet(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	rows, err := e.source.LoadSampled(ctx, limitPerBrand)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNoDataError("fleet table is empty")
	}

	artifact := e.ensureModel(ctx, rows)

	// Per-row ML predictions over the whole sample, grouped afterwards.
	preds := make([]*float64, len(rows))
	if artifact != nil {
		for i, r := range rows {
			x, _ := featureVector(r, true)
			v := artifact.Forest.Predict(x)
			preds[i] = &v
		}
	}

	groups := map[string][]int{}
	var order []string
	for i, r := range rows {
		key := r.Brand + "\x00" + r.Model
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	summary := make([]FleetGroup, 0, len(order))
	for _, key := range order {
		idx := groups[key]
		g := FleetGroup{
			Brand: rows[idx[0]].Brand,
			Model: rows[idx[0]].Model,
			Count: len(idx),
		}

		var theoVals, mlVals []float64
		for _, i := range idx {
			if t := TheoreticalSoh(rows[i]); t != nil {
				theoVals = append(theoVals, *t)
			}
			if preds[i] != nil {
				mlVals = append(mlVals, *preds[i])
			}
		}
		g.SohTheoreticalMedian = medianPtr(theoVals)
		g.SohMLMedian = medianPtr(mlVals)
		g.SohFinal = Blend(g.SohTheoreticalMedian, g.SohMLMedian)
		g.DegradationYear1PctMedian = medianOfIdx(rows, idx, func(r FleetRow) *float64 { return r.Deg1yPct })
		g.DegradationYear3PctMedian = medianOfIdx(rows, idx, func(r FleetRow) *float64 { return r.Deg3yPct })
		g.AvgFastChargingKw = medianOfIdx(rows, idx, func(r FleetRow) *float64 { return r.FastChargingPowerKwDC })
		g.AvgChargeRatio = medianOfIdx(rows, idx, func(r FleetRow) *float64 { return r.ChargeRatio })

		summary = append(summary, g)
	}

	sort.SliceStable(summary, func(i, j int) bool {
		a, b := summary[i].SohFinal, summary[j].SohFinal
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
	if len(summary) > e.cfg.MaxGroups {
		summary = summary[:e.cfg.MaxGroups]
	}

	var finals []float64
	for _, g := range summary {
		if g.SohFinal != nil {
			finals = append(finals, *g.SohFinal)
		}
	}

	result := &FleetSummary{
		Summary: summary,
		SohAvg:  roundPtr(medianPtr(finals)),
	}
	if artifact != nil {
		perf := artifact.Performance
		result.ModelInfo = &perf
	}

	e.cacheSet(ctx, cacheKey, result)
	return result, nil
}

// Blend combines the theoretical and ML medians 0.6/0.4, rounded to two
// decimals. A single available side is used alone; neither yields nil.
func Blend(theo, ml *float64) *float64 {
	switch {
	case theo != nil && ml != nil:
		return roundPtrV(0.6**theo + 0.4**ml)
	case theo != nil:
		return roundPtrV(*theo)
	case ml != nil:
		return roundPtrV(*ml)
	default:
		return nil
	}
}

// ensureModel returns the secondary model, loading a persisted artifact or
// lazily training one from the given rows. Returns nil when the ML half of
// the blend is unavailable; that is a degradation, never an error.
func (e *Estimator) ensureModel(ctx context.Context, rows []FleetRow) *mlmodel.Artifact {
	e.trainMu.Lock()
	defer e.trainMu.Unlock()

	if e.artifact != nil {
		return e.artifact
	}

	// Re-check durable storage inside the lock: another process may have
	// trained and persisted while we waited.
	if _, err := os.Stat(e.path); err == nil {
		artifact, err := mlmodel.LoadArtifact(e.path)
		if err == nil {
			e.artifact = artifact
			return artifact
		}
		e.logger.WithError(err).Warn("persisted SOH artifact unreadable, retraining", map[string]interface{}{"path": e.path})
	}

	artifact := e.train(ctx, rows)
	if artifact != nil {
		e.artifact = artifact
	}
	return artifact
}

func (e *Estimator) train(ctx context.Context, rows []FleetRow) *mlmodel.Artifact {
	start := time.Now()

	var X [][]float64
	var y []float64
	for _, r := range rows {
		target := TrainingTarget(r)
		if target == nil {
			continue
		}
		x, ok := featureVector(r, false)
		if !ok {
			continue
		}
		X = append(X, x)
		y = append(y, *target)
	}

	if len(X) < e.cfg.MinTrainingRows {
		metrics.SohTrainingRuns.WithLabelValues("insufficient_data").Inc()
		e.logger.Warn("not enough rows to train SOH model", map[string]interface{}{
			"validRows": len(X),
			"required":  e.cfg.MinTrainingRows,
		})
		return nil
	}

	trainX, testX, trainY, testY := mlmodel.TrainTestSplit(X, y, e.cfg.TestFraction, e.cfg.Seed)

	forest, err := mlmodel.TrainForest(trainX, trainY, mlmodel.TrainConfig{
		Trees:    e.cfg.Trees,
		MaxDepth: e.cfg.MaxDepth,
		MinLeaf:  1,
		Seed:     e.cfg.Seed,
	})
	if err != nil {
		metrics.SohTrainingRuns.WithLabelValues("failure").Inc()
		e.logger.WithError(err).Error("SOH model training failed", nil)
		return nil
	}

	testPreds := make([]float64, len(testX))
	for i, x := range testX {
		testPreds[i] = forest.Predict(x)
	}
	mae := mlmodel.MeanAbsoluteError(testPreds, testY)

	artifact := &mlmodel.Artifact{
		TrainedAt:   time.Now().UTC(),
		Features:    ModelFeatures,
		Target:      TargetColumn,
		Performance: mlmodel.Performance{MAE: mae, NTrain: len(trainX)},
		Forest:      forest,
	}

	if err := artifact.Save(e.path); err != nil {
		// The in-memory model still serves this process.
		e.logger.WithError(err).Error("failed to persist SOH artifact", map[string]interface{}{"path": e.path})
	}

	metrics.SohTrainingRuns.WithLabelValues("success").Inc()
	metrics.SohTrainingDuration.Observe(time.Since(start).Seconds())
	e.logger.Info("SOH model trained", map[string]interface{}{
		"mae":    mae,
		"nTrain": len(trainX),
		"nTest":  len(testX),
	})
	return artifact
}

// applyModel predicts SOH for every row and takes the median. Prediction
// errors degrade the ML half of the blend rather than failing the query.
func (e *Estimator) applyModel(artifact *mlmodel.Artifact, rows []FleetRow) *float64 {
	if artifact == nil {
		return nil
	}
	vals := make([]float64, 0, len(rows))
	for _, r := range rows {
		x, _ := featureVector(r, true)
		vals = append(vals, artifact.Forest.Predict(x))
	}
	return medianPtr(vals)
}

func (e *Estimator) cacheGet(ctx context.Context, key string) *FleetSummary {
	if e.cache == nil {
		return nil
	}
	val, err := e.cache.Get(ctx, key).Result()
	if err != nil {
		return nil
	}
	var summary FleetSummary
	if err := json.Unmarshal([]byte(val), &summary); err != nil {
		return nil
	}
	return &summary
}

func (e *Estimator) cacheSet(ctx context.Context, key string, summary *FleetSummary) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	ttl := time.Duration(e.cfg.CacheTTL) * time.Second
	if err := e.cache.Set(ctx, key, data, ttl).Err(); err != nil {
		e.logger.WithError(err).Warn("fleet summary cache write failed", map[string]interface{}{"key": key})
	}
}

func medianOf(rows []FleetRow, get func(FleetRow) *float64) *float64 {
	var vals []float64
	for _, r := range rows {
		if v := get(r); v != nil {
			vals = append(vals, *v)
		}
	}
	return medianPtr(vals)
}

func medianOfIdx(rows []FleetRow, idx []int, get func(FleetRow) *float64) *float64 {
	var vals []float64
	for _, i := range idx {
		if v := get(rows[i]); v != nil {
			vals = append(vals, *v)
		}
	}
	return medianPtr(vals)
}

func medianPtr(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	m := mlmodel.Median(vals)
	return &m
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return roundPtrV(*v)
}

func roundPtrV(v float64) *float64 {
	r, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return &r
}
