package store

import (
	"database/sql"

	"github.com/forest-iot/forest/internal/apperr"
	"github.com/forest-iot/forest/internal/timeseries"
)

// PutMetric records a single time-series point.
func (s *Store) PutMetric(p timeseries.Point) error {
	var (
		valFloat, valLat, valLong sql.NullFloat64
		valInt                    sql.NullInt64
	)

	switch p.Value.Kind {
	case timeseries.KindFloat:
		valFloat = sql.NullFloat64{Float64: p.Value.Float, Valid: true}
	case timeseries.KindInt:
		valInt = sql.NullInt64{Int64: p.Value.Int, Valid: true}
	case timeseries.KindLocation:
		valLat = sql.NullFloat64{Float64: p.Value.Location.Lat, Valid: true}
		valLong = sql.NullFloat64{Float64: p.Value.Location.Long, Valid: true}
	}

	_, err := s.tsDB.Exec(`
		INSERT INTO timeseries (tenant_id, device_id, metric, ts, value_kind, value_float, value_int, value_lat, value_long)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.TenantID, p.DeviceID, p.MetricName, p.TimestampSecs, int(p.Value.Kind), valFloat, valInt, valLat, valLong)
	if err != nil {
		return apperr.Storage("PutMetric", err)
	}
	return nil
}

// GetMetric returns every point recorded for (tenantID, deviceID,
// metricName) in [fromSecs, toSecs], ordered by timestamp ascending.
func (s *Store) GetMetric(tenantID, deviceID, metricName string, fromSecs, toSecs int64) ([]timeseries.Point, error) {
	rows, err := s.tsDB.Query(`
		SELECT ts, value_kind, value_float, value_int, value_lat, value_long
		FROM timeseries
		WHERE tenant_id = ? AND device_id = ? AND metric = ? AND ts BETWEEN ? AND ?
		ORDER BY ts ASC
	`, tenantID, deviceID, metricName, fromSecs, toSecs)
	if err != nil {
		return nil, apperr.Storage("GetMetric", err)
	}
	defer rows.Close()

	var out []timeseries.Point
	for rows.Next() {
		p, err := scanPoint(rows, tenantID, deviceID, metricName)
		if err != nil {
			return nil, apperr.Storage("GetMetric", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetLastMetric returns the most recently recorded limit points for
// (tenantID, deviceID, metricName), in ascending order (oldest first),
// per spec.md §4.1. Fewer than limit points are returned when fewer
// exist; an empty (not error) slice when none do.
func (s *Store) GetLastMetric(tenantID, deviceID, metricName string, limit int) ([]timeseries.Point, error) {
	rows, err := s.tsDB.Query(`
		SELECT ts, value_kind, value_float, value_int, value_lat, value_long
		FROM timeseries
		WHERE tenant_id = ? AND device_id = ? AND metric = ?
		ORDER BY ts DESC LIMIT ?
	`, tenantID, deviceID, metricName, limit)
	if err != nil {
		return nil, apperr.Storage("GetLastMetric", err)
	}
	defer rows.Close()

	var out []timeseries.Point
	for rows.Next() {
		p, err := scanPoint(rows, tenantID, deviceID, metricName)
		if err != nil {
			return nil, apperr.Storage("GetLastMetric", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("GetLastMetric", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanPoint(row scanner, tenantID, deviceID, metricName string) (timeseries.Point, error) {
	var (
		ts                        int64
		kind                      int
		valFloat, valLat, valLong sql.NullFloat64
		valInt                    sql.NullInt64
	)
	if err := row.Scan(&ts, &kind, &valFloat, &valInt, &valLat, &valLong); err != nil {
		return timeseries.Point{}, err
	}

	var v timeseries.MetricValue
	switch timeseries.Kind(kind) {
	case timeseries.KindFloat:
		v = timeseries.FloatValue(valFloat.Float64)
	case timeseries.KindInt:
		v = timeseries.IntValue(valInt.Int64)
	case timeseries.KindLocation:
		v = timeseries.LocationValue(timeseries.NewLatLong(valLat.Float64, valLong.Float64))
	}

	return timeseries.Point{
		TenantID:      tenantID,
		DeviceID:      deviceID,
		MetricName:    metricName,
		TimestampSecs: ts,
		Value:         v,
	}, nil
}
