package processor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/forest-iot/forest/internal/shadow"
	"github.com/forest-iot/forest/internal/timeseries"
)

// handleShadowUpdate parses body as a shadow update (flat or nested
// form, see shadow.ParseUpdateBody), applies it via the store, and, if
// the resulting shadow carries a non-empty delta, publishes the delta
// envelope back to the device.
func (p *Processor) handleShadowUpdate(t Topic, body []byte) error {
	state, err := shadow.ParseUpdateBody(body)
	if err != nil {
		return fmt.Errorf("parse shadow update body: %w", err)
	}

	update := &shadow.StateUpdateDocument{
		DeviceID:   t.DeviceID,
		ShadowName: t.ShadowName,
		TenantID:   t.TenantID,
		State:      state,
	}

	updated, err := p.store.UpsertShadow(update)
	if err != nil {
		return fmt.Errorf("upsert shadow: %w", err)
	}

	env, ok := shadow.DeltaResponseJSON(updated)
	if !ok {
		return nil
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal delta envelope: %w", err)
	}

	topic := DeltaTopic(p.cfg.ShadowTopicPrefix, t.DeviceID, t.ShadowName)
	if err := p.sender.Publish(topic, payload); err != nil {
		return fmt.Errorf("publish delta: %w", err)
	}
	return nil
}

// handleTelemetry extracts every metric the device's effective data
// config names from body and writes each as a time-series point.
// Missing or type-incompatible pointers are silently skipped by
// ExtractMetrics, not treated as an error.
func (p *Processor) handleTelemetry(t Topic, body []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("parse telemetry body: %w", err)
	}

	cfg, err := p.store.GetDataConfig(t.TenantID.String(), t.DeviceID)
	if err != nil {
		return fmt.Errorf("get data config: %w", err)
	}

	now := time.Now().Unix()
	for _, nv := range cfg.ExtractMetrics(payload) {
		point := timeseries.Point{
			TenantID:      t.TenantID.String(),
			DeviceID:      t.DeviceID,
			MetricName:    nv.Name,
			TimestampSecs: now,
			Value:         nv.Value,
		}
		if err := p.store.PutMetric(point); err != nil {
			return fmt.Errorf("put metric %s: %w", nv.Name, err)
		}
	}
	return nil
}

// timeRequestBody is the optional inbound payload for a time request.
type timeRequestBody struct {
	DeviceTime *uint64 `json:"device_time"`
}

// timeResponseBody is the response envelope published back to the
// device, echoing device_time when the request carried one.
type timeResponseBody struct {
	ServerTime int64   `json:"server_time"`
	DeviceTime *uint64 `json:"device_time,omitempty"`
}

// handleTimeRequest responds with the server's current time in epoch
// milliseconds, echoing the device's reported time if present. The
// request body may be empty or malformed; that is not an error, it
// simply omits device_time from the response.
func (p *Processor) handleTimeRequest(t Topic, body []byte) error {
	var req timeRequestBody
	_ = json.Unmarshal(body, &req) // malformed/empty body: device_time stays nil

	resp := timeResponseBody{
		ServerTime: time.Now().UnixMilli(),
		DeviceTime: req.DeviceTime,
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal time response: %w", err)
	}

	topic := TimeResponseTopic(p.cfg.ShadowTopicPrefix, t.DeviceID)
	if err := p.sender.Publish(topic, payload); err != nil {
		return fmt.Errorf("publish time response: %w", err)
	}
	return nil
}
