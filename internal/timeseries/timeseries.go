// Package timeseries defines the metric value tagged union and the
// row-per-point time-series model. This module supersedes the two
// divergent stores the original carried (bucketed-binary vs.
// row-per-point) by adopting row-per-point as authoritative, per the
// open question recorded in the design notes.
package timeseries

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which variant of MetricValue is populated.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindLocation
)

// LatLong is a geographic point.
type LatLong struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// NewLatLong builds a LatLong from (lat, long).
func NewLatLong(lat, long float64) LatLong {
	return LatLong{Lat: lat, Long: long}
}

// MetricValue is the tagged union Float(f64) | Int(i64) | Location(lat,lon).
// Only the field matching Kind is meaningful.
type MetricValue struct {
	Kind     Kind
	Float    float64
	Int      int64
	Location LatLong
}

// FloatValue builds a Float MetricValue.
func FloatValue(v float64) MetricValue { return MetricValue{Kind: KindFloat, Float: v} }

// IntValue builds an Int MetricValue.
func IntValue(v int64) MetricValue { return MetricValue{Kind: KindInt, Int: v} }

// LocationValue builds a Location MetricValue.
func LocationValue(ll LatLong) MetricValue { return MetricValue{Kind: KindLocation, Location: ll} }

// MarshalJSON renders the value in its natural JSON shape: a bare
// number for Float/Int, or {"lat":...,"long":...} for Location.
func (v MetricValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindFloat:
		return json.Marshal(v.Float)
	case KindInt:
		return json.Marshal(v.Int)
	case KindLocation:
		return json.Marshal(v.Location)
	default:
		return nil, fmt.Errorf("timeseries: unknown MetricValue kind %d", v.Kind)
	}
}

// Point is one time-series sample: {tenant_id, device_id, metric_name,
// timestamp_seconds, value}. Sorted by timestamp per (tenant, device,
// metric).
type Point struct {
	TenantID       string      `json:"tenant_id"`
	DeviceID       string      `json:"device_id"`
	MetricName     string      `json:"metric_name"`
	TimestampSecs  int64       `json:"timestamp_seconds"`
	Value          MetricValue `json:"value"`
}
