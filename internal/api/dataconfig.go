package api

import (
	"encoding/json"
	"net/http"

	"github.com/forest-iot/forest/internal/dataconfig"
)

func (s *Server) handleListDataConfigs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListDataConfigs(tenantParam(r))
	if err != nil {
		s.writeErr(w, "ListDataConfigs", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, entries, s.logger)
}

func (s *Server) handleGetTenantDataConfig(w http.ResponseWriter, r *http.Request) {
	s.getDataConfigFor(w, r, "")
}

func (s *Server) handleGetDeviceDataConfig(w http.ResponseWriter, r *http.Request) {
	s.getDataConfigFor(w, r, r.PathValue("prefix"))
}

func (s *Server) getDataConfigFor(w http.ResponseWriter, r *http.Request, prefix string) {
	entries, err := s.store.ListDataConfigs(tenantParam(r))
	if err != nil {
		s.writeErr(w, "ListDataConfigs", err)
		return
	}
	for _, e := range entries {
		if (e.DevicePrefix == nil && prefix == "") || (e.DevicePrefix != nil && *e.DevicePrefix == prefix) {
			w.Header().Set("Content-Type", "application/json")
			writeJSON(w, e, s.logger)
			return
		}
	}
	s.errorResponse(w, http.StatusNotFound, "data config not found")
}

func (s *Server) handlePutTenantDataConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.decodeDataConfig(w, r)
	if !ok {
		return
	}
	if err := s.store.StoreTenantDataConfig(tenantParam(r), cfg); err != nil {
		s.writeErr(w, "StoreTenantDataConfig", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutDeviceDataConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.decodeDataConfig(w, r)
	if !ok {
		return
	}
	if err := s.store.StoreDeviceDataConfig(tenantParam(r), r.PathValue("prefix"), cfg); err != nil {
		s.writeErr(w, "StoreDeviceDataConfig", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteTenantDataConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDataConfig(tenantParam(r), ""); err != nil {
		s.writeErr(w, "DeleteDataConfig", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteDeviceDataConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDataConfig(tenantParam(r), r.PathValue("prefix")); err != nil {
		s.writeErr(w, "DeleteDataConfig", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeDataConfig(w http.ResponseWriter, r *http.Request) (dataconfig.DataConfig, bool) {
	var cfg dataconfig.DataConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return dataconfig.DataConfig{}, false
	}
	return cfg, true
}
