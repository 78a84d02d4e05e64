// Package shadow implements the pure, in-memory device-shadow merge
// algorithm: recursive reported/desired merge with per-leaf metadata
// timestamps, delta computation, and the update/delta-response
// envelope used by the processor and the API.
package shadow

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/forest-iot/forest/internal/model"
)

// ErrDeviceIDMismatch is returned when an update's device_id does not
// match the shadow it is being applied to.
var ErrDeviceIDMismatch = errors.New("shadow: device id mismatch")

// ErrShadowNameMismatch is returned when an update's shadow_name does
// not match the shadow it is being applied to.
var ErrShadowNameMismatch = errors.New("shadow: shadow name mismatch")

// State holds reported/desired/delta as freeform JSON trees. nil means
// "absent", not JSON null.
type State struct {
	Reported any `json:"reported"`
	Desired  any `json:"desired"`
	Delta    any `json:"delta"`
}

// Metadata mirrors State's shape with a Unix-second timestamp at every
// leaf actually present in the corresponding state tree.
type Metadata struct {
	Reported any `json:"reported"`
	Desired  any `json:"desired"`
}

// Shadow is the persisted per-device state document.
type Shadow struct {
	DeviceID    string          `json:"device_id"`
	ShadowName  model.ShadowName `json:"shadow_name"`
	TenantID    model.TenantId   `json:"tenant_id"`
	State       State           `json:"state"`
	Metadata    Metadata        `json:"metadata"`
	Version     uint64          `json:"version"`
	LastUpdated int64           `json:"last_updated"`
}

// New creates an empty shadow for (deviceID, shadowName, tenantID).
func New(deviceID string, shadowName model.ShadowName, tenantID model.TenantId) *Shadow {
	return &Shadow{
		DeviceID:   deviceID,
		ShadowName: shadowName,
		TenantID:   tenantID,
	}
}

// StateUpdateDocument is an inbound update: reported/desired leaves
// carrying a JSON null mean "delete this key" during merge.
type StateUpdateDocument struct {
	DeviceID   string
	ShadowName model.ShadowName
	TenantID   model.TenantId
	State      State
}

// Update applies the merge algorithm to s in place and returns s. now
// is used for both the leaf-metadata timestamps and LastUpdated so a
// single call sees a consistent clock reading.
//
// Preconditions: u's DeviceID and ShadowName must equal s's. TenantID
// is not compared.
func Update(s *Shadow, u *StateUpdateDocument, now time.Time) (*Shadow, error) {
	if u.DeviceID != s.DeviceID {
		return nil, ErrDeviceIDMismatch
	}
	if u.ShadowName != s.ShadowName {
		return nil, ErrShadowNameMismatch
	}

	nowSecs := now.Unix()

	s.State.Reported, s.Metadata.Reported = merge(s.State.Reported, u.State.Reported, s.Metadata.Reported, nowSecs)
	s.State.Desired, s.Metadata.Desired = merge(s.State.Desired, u.State.Desired, s.Metadata.Desired, nowSecs)
	s.State.Delta = delta(s.State.Reported, s.State.Desired)

	s.Version++
	s.LastUpdated = nowSecs

	return s, nil
}

// merge implements the recursive merge from the spec: a nil patch is a
// no-op; an object patch recurses key by key, deleting keys whose
// value is JSON null and stamping a metadata timestamp on every other
// leaf; any other patch (scalar or array) replaces target wholesale
// and collapses its metadata to a single timestamp.
func merge(target, patch, meta any, now int64) (any, any) {
	if patch == nil {
		return target, meta
	}

	patchObj, isObj := patch.(map[string]any)
	if !isObj {
		return patch, now
	}

	targetObj, ok := target.(map[string]any)
	if !ok {
		targetObj = map[string]any{}
	}
	metaObj, ok := meta.(map[string]any)
	if !ok {
		metaObj = map[string]any{}
	}

	for k, v := range patchObj {
		if v == nil {
			delete(targetObj, k)
			delete(metaObj, k)
			continue
		}
		if _, sub := v.(map[string]any); sub {
			targetObj[k], metaObj[k] = merge(targetObj[k], v, metaObj[k], now)
			continue
		}
		targetObj[k] = v
		metaObj[k] = now
	}

	return targetObj, metaObj
}

// delta computes the subset of desired whose values differ from the
// corresponding reported values, recursing into nested objects and
// dropping keys that match exactly. Returns nil when desired is nil or
// the result is empty.
func delta(reported, desired any) any {
	if desired == nil {
		return nil
	}

	desiredObj, isObj := desired.(map[string]any)
	if !isObj {
		if !jsonEqual(desired, reported) {
			return desired
		}
		return nil
	}

	reportedObj, _ := reported.(map[string]any)

	out := map[string]any{}
	for k, dv := range desiredObj {
		var rv any
		if reportedObj != nil {
			rv = reportedObj[k]
		}
		if jsonEqual(rv, dv) {
			continue
		}
		dvObj, dvIsObj := dv.(map[string]any)
		rvObj, rvIsObj := rv.(map[string]any)
		if dvIsObj && rvIsObj {
			sub := delta(rvObj, dvObj)
			if sub != nil {
				out[k] = sub
			}
			continue
		}
		out[k] = dv
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// jsonEqual compares two decoded-JSON values (map[string]any, []any,
// string, float64, bool, nil) for deep equality via round-trip
// marshaling, which is sufficient for the small documents shadows hold
// and avoids writing a bespoke deep-equal for every JSON shape.
func jsonEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}

// ParseUpdateBody accepts either the "flat" form
// {"reported":{...},"desired":{...}} or the "nested" form
// {"state":{"reported":{...},"desired":{...}}} and returns the
// resulting State. Both forms are accepted per the external interface
// contract; nested takes precedence when both a top-level "state" key
// and top-level reported/desired keys are present.
func ParseUpdateBody(body []byte) (State, error) {
	var nested struct {
		State *State `json:"state"`
	}
	if err := json.Unmarshal(body, &nested); err != nil {
		return State{}, err
	}
	if nested.State != nil {
		return *nested.State, nil
	}

	var flat State
	if err := json.Unmarshal(body, &flat); err != nil {
		return State{}, err
	}
	return flat, nil
}

// ToJSON serializes s for storage.
func (s *Shadow) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON parses a stored shadow document.
func FromJSON(data []byte) (*Shadow, error) {
	var s Shadow
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeltaEnvelope is the serialized payload published to the
// shadow-delta topic.
type DeltaEnvelope struct {
	State     any   `json:"state"`
	Metadata  any   `json:"metadata"`
	Version   uint64 `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

// DeltaResponseJSON returns the serialized delta envelope for s, or
// ok=false when the delta is empty/null (in which case nothing should
// be published).
func DeltaResponseJSON(s *Shadow) (env DeltaEnvelope, ok bool) {
	if s.State.Delta == nil {
		return DeltaEnvelope{}, false
	}
	if m, isObj := s.State.Delta.(map[string]any); isObj && len(m) == 0 {
		return DeltaEnvelope{}, false
	}

	return DeltaEnvelope{
		State:     s.State.Delta,
		Metadata:  metadataSubset(s.State.Delta, s.Metadata.Desired),
		Version:   s.Version,
		Timestamp: s.LastUpdated,
	}, true
}

// metadataSubset walks delta and meta in lockstep, keeping only the
// metadata leaves that correspond to a key present in delta: the
// envelope's "metadata" is scoped to the delta's keys, not the entire
// desired-metadata tree.
func metadataSubset(delta, meta any) any {
	deltaObj, isObj := delta.(map[string]any)
	if !isObj {
		return meta
	}

	metaObj, _ := meta.(map[string]any)
	out := map[string]any{}
	for k, dv := range deltaObj {
		if metaObj == nil {
			continue
		}
		mv, ok := metaObj[k]
		if !ok {
			continue
		}
		if _, dvIsObj := dv.(map[string]any); dvIsObj {
			out[k] = metadataSubset(dv, mv)
			continue
		}
		out[k] = mv
	}
	return out
}
