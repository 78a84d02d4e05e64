package api

import (
	"encoding/json"
	"net/http"

	"github.com/forest-iot/forest/internal/model"
)

type createTenantRequest struct {
	TenantID          string `json:"tenant_id"`
	AllowPasswords    *bool  `json:"allow_passwords,omitempty"`
	AllowCertificates *bool  `json:"allow_certificates,omitempty"`
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TenantID == "" {
		s.errorResponse(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	tenant := model.NewTenant(model.NewDefaultString(req.TenantID))
	if req.AllowPasswords != nil {
		tenant.AuthConfig.AllowPasswords = *req.AllowPasswords
	}
	if req.AllowCertificates != nil {
		tenant.AuthConfig.AllowCertificates = *req.AllowCertificates
	}

	if err := s.store.PutTenant(tenant); err != nil {
		s.writeErr(w, "PutTenant", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, tenant, s.logger)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.store.GetTenant(r.PathValue("id"))
	if err != nil {
		s.writeErr(w, "GetTenant", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, tenant, s.logger)
}
