package api

import (
	"io"
	"net/http"
)

// handleGetServerCert returns the shared server CA certificate in PEM
// form, used by devices and dashboards to verify the broker's TLS
// listener.
func (s *Server) handleGetServerCert(w http.ResponseWriter, r *http.Request) {
	pem, err := s.certs.GetCACertPEM()
	if err != nil {
		s.writeErr(w, "GetCACertPEM", err)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write([]byte(pem))
}

// handleGenerateServerCert issues the server certificate for the
// configured server name/hostnames when the stored one is missing or
// does not cover them, generating the CA first if it doesn't exist
// yet, and responds with the CA certificate.
func (s *Server) handleGenerateServerCert(w http.ResponseWriter, r *http.Request) {
	if err := s.certs.Setup(s.serverName, s.hostNames); err != nil {
		s.writeErr(w, "Setup", err)
		return
	}
	pem, err := s.certs.GetCACertPEM()
	if err != nil {
		s.writeErr(w, "GetCACertPEM", err)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write([]byte(pem))
}

// handleGetTenantCACert returns the tenant's own CA certificate (stored
// as cacerts/<tenant>_ca.pem), the CA that signs the client
// certificates issued for that tenant's devices. It is a different
// file from the untenanted CA served by /cacert/server.
func (s *Server) handleGetTenantCACert(w http.ResponseWriter, r *http.Request) {
	tenantCerts, err := s.certs.ForTenant(r.PathValue("id"))
	if err != nil {
		s.writeErr(w, "ForTenant", err)
		return
	}
	pem, err := tenantCerts.GetCACertPEM()
	if err != nil {
		s.writeErr(w, "GetCACertPEM", err)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write([]byte(pem))
}

// handleGenerateTenantCACert accepts an optional caller-supplied CA
// certificate in the request body (the original's "bring your own CA"
// escape hatch); an empty body just ensures the tenant's CA exists.
func (s *Server) handleGenerateTenantCACert(w http.ResponseWriter, r *http.Request) {
	tenantCerts, err := s.certs.ForTenant(r.PathValue("id"))
	if err != nil {
		s.writeErr(w, "ForTenant", err)
		return
	}

	if r.ContentLength > 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}
		if err := tenantCerts.SaveCustomCA(body); err != nil {
			s.writeErr(w, "SaveCustomCA", err)
			return
		}
	} else if err := tenantCerts.EnsureCAExists(); err != nil {
		s.writeErr(w, "EnsureCAExists", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGenerateClientCert issues a client certificate for a device,
// without writing device metadata (use the provisioning endpoint for
// the combined flow).
func (s *Server) handleGenerateClientCert(w http.ResponseWriter, r *http.Request) {
	tenantCerts, err := s.certs.ForTenant(r.PathValue("id"))
	if err != nil {
		s.writeErr(w, "ForTenant", err)
		return
	}

	cert, err := tenantCerts.CreateClientCert(r.PathValue("device"))
	if err != nil {
		s.writeErr(w, "CreateClientCert", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, cert, s.logger)
}
