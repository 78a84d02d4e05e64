// Package dataconfig implements the hierarchical telemetry-extraction
// configuration: named JSON-pointer rules that convert a device
// payload into typed time-series points, plus the by-name merge used
// to compute a tenant+device "effective config".
package dataconfig

import (
	"encoding/json"
	"fmt"

	"github.com/forest-iot/forest/internal/timeseries"
	"github.com/xeipuuv/gojsonpointer"
)

// DataType is the conversion applied to the JSON value a MetricConfig
// points at.
type DataType string

const (
	DataTypeFloat          DataType = "float"
	DataTypeInt            DataType = "int"
	DataTypeLocationObject DataType = "location_object"
	DataTypeLocationTuple  DataType = "location_tuple"
)

// MetricConfig is one named extraction rule.
type MetricConfig struct {
	Name        string   `json:"name"`
	JSONPointer string   `json:"json_pointer"`
	DataType    DataType `json:"data_type"`
}

// DataConfig is an ordered list of metric extraction rules, stored
// under a (tenant_id, device_prefix) key. device_prefix="" denotes the
// tenant-wide default.
type DataConfig struct {
	Metrics []MetricConfig `json:"metrics"`
}

// Entry is a DataConfig as returned from a listing, annotated with the
// tenant and prefix it was stored under (nil prefix means tenant-wide).
type Entry struct {
	TenantID     string      `json:"tenant_id"`
	DevicePrefix *string     `json:"device_prefix"`
	Metrics      []MetricConfig `json:"metrics"`
}

// MergeWith returns a new DataConfig where any metric in other whose
// Name matches a metric in d overrides it in place; metrics present
// only in other are appended in order. d is not mutated.
func (d DataConfig) MergeWith(other DataConfig) DataConfig {
	merged := make([]MetricConfig, len(d.Metrics))
	copy(merged, d.Metrics)

	for _, om := range other.Metrics {
		replaced := false
		for i, m := range merged {
			if m.Name == om.Name {
				merged[i] = om
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, om)
		}
	}
	return DataConfig{Metrics: merged}
}

// ToJSON serializes the config for storage.
func (d DataConfig) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

// FromJSON parses a stored config.
func FromJSON(data []byte) (DataConfig, error) {
	var d DataConfig
	if err := json.Unmarshal(data, &d); err != nil {
		return DataConfig{}, fmt.Errorf("dataconfig: parse: %w", err)
	}
	return d, nil
}

// ExtractMetrics resolves every configured JSON pointer against
// payload and converts the resolved value per its DataType. Missing
// pointers and type-incompatible values are silently skipped — this is
// not an error, since a payload legitimately may not carry every
// configured metric.
func (d DataConfig) ExtractMetrics(payload map[string]any) []NamedValue {
	var out []NamedValue
	for _, m := range d.Metrics {
		ptr, err := gojsonpointer.NewJsonPointer(m.JSONPointer)
		if err != nil {
			continue
		}
		raw, _, err := ptr.Get(map[string]interface{}(payload))
		if err != nil {
			continue
		}

		value, ok := convert(raw, m.DataType)
		if !ok {
			continue
		}
		out = append(out, NamedValue{Name: m.Name, Value: value})
	}
	return out
}

// NamedValue pairs an extracted metric name with its typed value.
type NamedValue struct {
	Name  string
	Value timeseries.MetricValue
}

func convert(raw any, dt DataType) (timeseries.MetricValue, bool) {
	switch dt {
	case DataTypeFloat:
		f, ok := asFloat(raw)
		if !ok {
			return timeseries.MetricValue{}, false
		}
		return timeseries.FloatValue(f), true

	case DataTypeInt:
		if i, ok := asInt(raw); ok {
			return timeseries.IntValue(i), true
		}
		return timeseries.MetricValue{}, false

	case DataTypeLocationObject:
		obj, ok := raw.(map[string]any)
		if !ok {
			return timeseries.MetricValue{}, false
		}
		lat, latOK := asFloat(obj["lat"])
		// The field is literally "long", not "lon" — matching
		// original_source/src/dataconfig.rs exactly.
		long, longOK := asFloat(obj["long"])
		if !latOK || !longOK {
			return timeseries.MetricValue{}, false
		}
		return timeseries.LocationValue(timeseries.NewLatLong(lat, long)), true

	case DataTypeLocationTuple:
		arr, ok := raw.([]any)
		if !ok || len(arr) < 2 {
			return timeseries.MetricValue{}, false
		}
		lat, latOK := asFloat(arr[0])
		long, longOK := asFloat(arr[1])
		if !latOK || !longOK {
			return timeseries.MetricValue{}, false
		}
		return timeseries.LocationValue(timeseries.NewLatLong(lat, long)), true

	default:
		return timeseries.MetricValue{}, false
	}
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		// JSON numbers decode as float64; truncate toward zero.
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
