// Package processor classifies inbound MQTT messages by topic and
// dispatches them to the shadow-update, telemetry-extraction, and
// time-request handlers. Grounded on
// original_source/src/processor/{mod,topics,shadow,time,timeseries}.rs.
package processor

import (
	"strings"

	"github.com/forest-iot/forest/internal/model"
)

// TopicKind classifies a topic after the shadow-topic-prefix strip and
// telemetry-pattern match.
type TopicKind int

const (
	TopicOther TopicKind = iota
	TopicShadowUpdate
	TopicShadowDelta
	TopicDataUpdate
	TopicTimeRequest
)

// Topic is the result of classifying one inbound message's topic.
type Topic struct {
	Kind       TopicKind
	TenantID   model.TenantId
	DeviceID   string
	ShadowName model.ShadowName
}

// splitDeviceID splits "<tenant>.<device>" into (tenant, device); a
// device id with no "." belongs to the default tenant.
func splitDeviceID(raw string) (model.TenantId, string) {
	if tenant, device, found := strings.Cut(raw, "."); found {
		return model.NewDefaultString(tenant), device
	}
	return model.Default, raw
}

// matchTelemetryPattern reports whether topic matches pattern (single
// "+" wildcards only, one segment each) and, if so, returns the
// segment captured by the first "+".
func matchTelemetryPattern(pattern, topic string) (string, bool) {
	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")
	if len(patternParts) != len(topicParts) {
		return "", false
	}

	var captured string
	haveCaptured := false
	for i, p := range patternParts {
		if p == "+" {
			if !haveCaptured {
				captured = topicParts[i]
				haveCaptured = true
			}
			continue
		}
		if p != topicParts[i] {
			return "", false
		}
	}
	if !haveCaptured {
		return "", false
	}
	return captured, true
}

// ClassifyTopic determines a message's Topic given the configured
// shadowTopicPrefix and telemetryTopics patterns. Telemetry patterns
// are checked first, matching the original dispatcher's order.
func ClassifyTopic(topic, shadowTopicPrefix string, telemetryTopics []string) Topic {
	for _, pattern := range telemetryTopics {
		if deviceIDStr, ok := matchTelemetryPattern(pattern, topic); ok {
			tenant, device := splitDeviceID(deviceIDStr)
			return Topic{Kind: TopicDataUpdate, TenantID: tenant, DeviceID: device}
		}
	}

	rest, ok := strings.CutPrefix(topic, shadowTopicPrefix)
	if !ok {
		return Topic{Kind: TopicOther}
	}

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 3 && parts[1] == "shadow" && parts[2] == "update":
		tenant, device := splitDeviceID(parts[0])
		return Topic{Kind: TopicShadowUpdate, TenantID: tenant, DeviceID: device, ShadowName: model.Default}

	case len(parts) == 4 && parts[1] == "shadow" && parts[3] == "update":
		tenant, device := splitDeviceID(parts[0])
		return Topic{Kind: TopicShadowUpdate, TenantID: tenant, DeviceID: device, ShadowName: model.NewDefaultString(parts[2])}

	case len(parts) == 2 && parts[1] == "data":
		tenant, device := splitDeviceID(parts[0])
		return Topic{Kind: TopicDataUpdate, TenantID: tenant, DeviceID: device}

	case len(parts) == 4 && parts[1] == "shadow" && parts[2] == "update" && parts[3] == "delta":
		tenant, device := splitDeviceID(parts[0])
		return Topic{Kind: TopicShadowDelta, TenantID: tenant, DeviceID: device, ShadowName: model.Default}

	case len(parts) == 5 && parts[1] == "shadow" && parts[3] == "update" && parts[4] == "delta":
		tenant, device := splitDeviceID(parts[0])
		return Topic{Kind: TopicShadowDelta, TenantID: tenant, DeviceID: device, ShadowName: model.NewDefaultString(parts[2])}

	case len(parts) == 3 && parts[1] == "time" && parts[2] == "request":
		tenant, device := splitDeviceID(parts[0])
		return Topic{Kind: TopicTimeRequest, TenantID: tenant, DeviceID: device}

	default:
		return Topic{Kind: TopicOther}
	}
}

// DeltaTopic returns the topic a shadow's delta is published to.
func DeltaTopic(shadowTopicPrefix, deviceID string, shadowName model.ShadowName) string {
	if shadowName.IsDefault() {
		return shadowTopicPrefix + deviceID + "/shadow/update/delta"
	}
	return shadowTopicPrefix + deviceID + "/shadow/" + shadowName.String() + "/update/delta"
}

// TimeResponseTopic returns the topic a time response is published to.
func TimeResponseTopic(shadowTopicPrefix, deviceID string) string {
	return shadowTopicPrefix + deviceID + "/time/response"
}

// SubscriptionTopics returns the patterns the broker subscribes to on
// startup: shadow updates, named-shadow updates, time requests, plus
// every configured telemetry pattern.
func SubscriptionTopics(shadowTopicPrefix string, telemetryTopics []string) []string {
	topics := []string{
		shadowTopicPrefix + "+/shadow/update",
		shadowTopicPrefix + "+/shadow/+/update",
		shadowTopicPrefix + "+/time/request",
	}
	return append(topics, telemetryTopics...)
}
