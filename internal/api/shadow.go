package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/forest-iot/forest/internal/model"
	"github.com/forest-iot/forest/internal/processor"
	"github.com/forest-iot/forest/internal/shadow"
)

func (s *Server) handleGetShadow(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	device := r.PathValue("device")
	name := shadowNameParam(r)

	sh, err := s.store.GetShadow(tenant, device, name)
	if err != nil {
		s.writeErr(w, "GetShadow", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, sh, s.logger)
}

func (s *Server) handleDeleteShadow(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	device := r.PathValue("device")
	name := shadowNameParam(r)

	if err := s.store.DeleteShadow(tenant, device, name); err != nil {
		s.writeErr(w, "DeleteShadow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateShadow applies an inbound update, the same way the
// processor does for an MQTT-originated one. ?send_delta=true forces a
// delta publish via the broker sender even when the HTTP client never
// reads the response body, matching the original's dashboard use case
// of pushing a desired-state change straight to the device.
func (s *Server) handleUpdateShadow(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	device := r.PathValue("device")
	name := shadowNameParam(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	state, err := shadow.ParseUpdateBody(body)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "parse shadow update: "+err.Error())
		return
	}

	update := &shadow.StateUpdateDocument{
		DeviceID:   device,
		ShadowName: model.NewDefaultString(name),
		TenantID:   model.NewDefaultString(tenant),
		State:      state,
	}

	updated, err := s.store.UpsertShadow(update)
	if err != nil {
		s.writeErr(w, "UpsertShadow", err)
		return
	}

	if r.URL.Query().Get("send_delta") == "true" {
		if env, ok := shadow.DeltaResponseJSON(updated); ok {
			if payload, err := json.Marshal(env); err == nil {
				topic := processor.DeltaTopic(s.shadowTopicPrefix, device, model.NewDefaultString(name))
				if err := s.sender.Publish(topic, payload); err != nil {
					s.logger.Warn("send_delta publish failed", "device_id", device, "error", err)
				}
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, updated, s.logger)
}
