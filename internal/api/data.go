package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/forest-iot/forest/internal/timeseries"
)

func (s *Server) handleMetricRange(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	device := r.PathValue("device")
	metric := r.PathValue("metric")

	from, to := int64(0), time.Now().Unix()
	if v := r.URL.Query().Get("start"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid start")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("end"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid end")
			return
		}
		to = parsed
	}

	points, err := s.store.GetMetric(tenant, device, metric, from, to)
	if err != nil {
		s.writeErr(w, "GetMetric", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, points, s.logger)
}

func (s *Server) handleLastMetric(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	device := r.PathValue("device")
	metric := r.PathValue("metric")

	limit := 1
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			s.errorResponse(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	points, err := s.store.GetLastMetric(tenant, device, metric, limit)
	if err != nil {
		s.writeErr(w, "GetLastMetric", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, struct {
		Limit  int                `json:"limit"`
		Points []timeseries.Point `json:"points"`
	}{Limit: limit, Points: points}, s.logger)
}

// handleInjectTelemetry runs a raw payload through the same
// GetDataConfig/ExtractMetrics/PutMetric path the processor uses for
// MQTT-originated telemetry, bypassing MQTT entirely. Useful for
// testing data configs and for backfilling historical readings.
func (s *Server) handleInjectTelemetry(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	device := r.PathValue("device")

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg, err := s.store.GetDataConfig(tenant, device)
	if err != nil {
		s.writeErr(w, "GetDataConfig", err)
		return
	}

	now := time.Now().Unix()
	written := 0
	for _, nv := range cfg.ExtractMetrics(payload) {
		point := timeseries.Point{
			TenantID:      tenant,
			DeviceID:      device,
			MetricName:    nv.Name,
			TimestampSecs: now,
			Value:         nv.Value,
		}
		if err := s.store.PutMetric(point); err != nil {
			s.writeErr(w, "PutMetric", err)
			return
		}
		written++
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]int{"metrics_written": written}, s.logger)
}
