package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/forest-iot/forest/internal/apperr"
	"github.com/forest-iot/forest/internal/model"
)

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDeviceMetadata(tenantParam(r))
	if err != nil {
		s.writeErr(w, "ListDeviceMetadata", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, devices, s.logger)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetDeviceMetadata(tenantParam(r), r.PathValue("device"))
	if err != nil {
		s.writeErr(w, "GetDeviceMetadata", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, m, s.logger)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDeviceMetadata(tenantParam(r), r.PathValue("device")); err != nil {
		s.writeErr(w, "DeleteDeviceMetadata", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type provisionDeviceRequest struct {
	IssueCertificate bool `json:"issue_certificate"`
}

// handleProvisionDevice registers a device and, unless the caller opts
// out, issues it a client certificate signed by the tenant's CA in the
// same call — the original's create_device service combined both
// steps so a freshly provisioned device always has working mTLS
// credentials without a second round trip.
func (s *Server) handleProvisionDevice(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	device := r.PathValue("device")

	var req provisionDeviceRequest
	req.IssueCertificate = true
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	meta := model.NewDeviceMetadata(device, model.NewDefaultString(tenant))

	if req.IssueCertificate {
		tenantCerts, err := s.certs.ForTenant(tenant)
		if err != nil {
			s.writeErr(w, "ForTenant", err)
			return
		}
		cert, err := tenantCerts.CreateClientCert(device)
		if err != nil {
			s.writeErr(w, "CreateClientCert", err)
			return
		}
		meta = meta.WithCredentials(cert.Cert, cert.Key)
	}

	if err := s.store.PutDeviceMetadata(meta); err != nil {
		s.writeErr(w, "PutDeviceMetadata", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, meta, s.logger)
}

// handleDeviceInfo combines persisted metadata with live connection
// state and the shadow's last-updated timestamp into the richer
// DeviceInformation view, grounded on the original's
// get_device_info_handler.
func (s *Server) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	device := r.PathValue("device")

	meta, err := s.store.GetDeviceMetadata(tenant, device)
	if err != nil {
		s.writeErr(w, "GetDeviceMetadata", err)
		return
	}

	info := model.DeviceInformation{
		DeviceID:    meta.DeviceID,
		TenantID:    meta.TenantID,
		Certificate: meta.Certificate,
		Connected:   s.conns.Contains(device),
	}

	if sh, err := s.store.GetShadow(tenant, device, model.Default.String()); err == nil {
		t := time.Unix(sh.LastUpdated, 0).UTC()
		info.LastShadowUpdate = &t
	} else if !apperr.Is(err, apperr.KindNotFound) {
		s.writeErr(w, "GetShadow", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, info, s.logger)
}

func (s *Server) handleListPasswords(w http.ResponseWriter, r *http.Request) {
	usernames, err := s.store.ListDevicePasswords(tenantParam(r), r.PathValue("device"))
	if err != nil {
		s.writeErr(w, "ListDevicePasswords", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, usernames, s.logger)
}

type addPasswordRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleAddPassword(w http.ResponseWriter, r *http.Request) {
	var req addPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		s.errorResponse(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if err := s.store.AddDevicePassword(tenantParam(r), r.PathValue("device"), req.Username, req.Password); err != nil {
		s.writeErr(w, "AddDevicePassword", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConnected reports the client ids currently connected under the
// requested tenant. Tenant membership comes from the broker's own
// accept-time resolution (certificate Organization, or the default
// tenant), not from any convention embedded in the client id itself.
func (s *Server) handleConnected(w http.ResponseWriter, r *http.Request) {
	connected := s.conns.SnapshotForTenant(tenantParam(r))

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, connected, s.logger)
}
