// internal/api/handlers.go
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apperrors "evworth/internal/common/errors"
	"evworth/internal/common/metrics"
	"evworth/internal/history"
)

// handlePredict serves the per-market price prediction.
//
// Success: 200 with the country -> price map. Missing-column validation
// failures come back as 400 {error, expected, received}; a missing model is
// 503; every other failure is 400 {error, type}.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		metrics.PredictionErrors.WithLabelValues(string(apperrors.ErrCodeInvalidRequest)).Inc()
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid JSON body",
			"type":  apperrors.ErrCodeInvalidRequest,
		})
		return
	}

	prices, err := s.predictor.Predict(raw)
	if err != nil {
		s.respondPredictionError(w, r, err)
		return
	}

	metrics.PredictionsTotal.Inc()
	metrics.PredictionDuration.Observe(time.Since(start).Seconds())

	if s.indexer != nil {
		s.indexer.IndexAsync(history.Record{
			RequestID:  requestID(r),
			Timestamp:  time.Now().UTC(),
			Attributes: raw,
			Prices:     prices,
		})
	}

	respondJSON(w, http.StatusOK, prices)
}

func (s *Server) respondPredictionError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := apperrors.Normalize(err)
	metrics.PredictionErrors.WithLabelValues(string(stdErr.Code)).Inc()

	s.logger.WithError(err).Warn("prediction failed", map[string]interface{}{
		"requestId": requestID(r),
		"code":      stdErr.Code,
	})

	if stdErr.Code == apperrors.ErrCodeMissingFeature {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    stdErr.Message,
			"expected": stdErr.Metadata["expected"],
			"received": stdErr.Metadata["received"],
		})
		return
	}

	respondJSON(w, apperrors.HTTPStatus(stdErr.Code), map[string]interface{}{
		"error": stdErr.Message,
		"type":  stdErr.Code,
	})
}

// handleModelInfo reports registry status.
func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.Status())
}

// handleModelReload re-reads the price model artifacts in place.
func (s *Server) handleModelReload(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Reload(); err != nil {
		stdErr := apperrors.Normalize(err)
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": stdErr.Message,
			"type":  stdErr.Code,
		})
		return
	}
	respondJSON(w, http.StatusOK, s.registry.Status())
}

// handleMarketData serves the chart series for the market dashboard.
func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	data, err := s.market.Load(r.Context())
	if err != nil {
		stdErr := apperrors.Normalize(err)
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": stdErr.Message,
			"type":  stdErr.Code,
		})
		return
	}
	respondJSON(w, http.StatusOK, data)
}

// handleVehicleSoh serves the blended SOH aggregate for one brand/model
// filter. Zero matches yield an explicit empty result, not an error status.
func (s *Server) handleVehicleSoh(w http.ResponseWriter, r *http.Request) {
	brand := r.URL.Query().Get("brand")
	model := r.URL.Query().Get("model")

	result, err := s.estimator.VehicleSoh(r.Context(), brand, model)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeNoData) {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"error": "no data for requested brand/model",
				"count": 0,
			})
			return
		}
		stdErr := apperrors.Normalize(err)
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": stdErr.Message,
			"type":  stdErr.Code,
		})
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleFleetSoh serves the per-group fleet summary.
func (s *Server) handleFleetSoh(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit_per_brand"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			respondJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": "limit_per_brand must be a positive integer",
				"type":  apperrors.ErrCodeInvalidRequest,
			})
			return
		}
		limit = parsed
	}

	summary, err := s.estimator.FleetSoh(r.Context(), limit)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeNoData) {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"error":   "no data in fleet table",
				"summary": []interface{}{},
			})
			return
		}
		stdErr := apperrors.Normalize(err)
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": stdErr.Message,
			"type":  stdErr.Code,
		})
		return
	}

	respondJSON(w, http.StatusOK, summary)
}
