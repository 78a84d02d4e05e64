// Package api implements the tenant-scoped HTTP management surface:
// shadow CRUD, telemetry query/injection, data-config CRUD, device and
// tenant provisioning, and certificate issuance. Grounded on
// internal/api/server.go's ServeMux-with-patterns style, adapted from
// an OpenAI-compatible chat API to this platform's route table.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/forest-iot/forest/internal/apperr"
	"github.com/forest-iot/forest/internal/buildinfo"
	"github.com/forest-iot/forest/internal/certs"
	"github.com/forest-iot/forest/internal/dataconfig"
	"github.com/forest-iot/forest/internal/model"
	"github.com/forest-iot/forest/internal/shadow"
	"github.com/forest-iot/forest/internal/timeseries"
	"github.com/google/uuid"
)

// Store is the subset of internal/store.Store the API serves.
type Store interface {
	GetShadow(tenantID, deviceID, shadowName string) (*shadow.Shadow, error)
	DeleteShadow(tenantID, deviceID, shadowName string) error
	UpsertShadow(update *shadow.StateUpdateDocument) (*shadow.Shadow, error)

	GetMetric(tenantID, deviceID, metricName string, fromSecs, toSecs int64) ([]timeseries.Point, error)
	GetLastMetric(tenantID, deviceID, metricName string, limit int) ([]timeseries.Point, error)
	PutMetric(p timeseries.Point) error

	StoreTenantDataConfig(tenantID string, cfg dataconfig.DataConfig) error
	StoreDeviceDataConfig(tenantID, prefix string, cfg dataconfig.DataConfig) error
	DeleteDataConfig(tenantID, prefix string) error
	ListDataConfigs(tenantID string) ([]dataconfig.Entry, error)
	GetDataConfig(tenantID, deviceID string) (dataconfig.DataConfig, error)

	PutTenant(t model.Tenant) error
	GetTenant(tenantID string) (*model.Tenant, error)

	AddDevicePassword(tenantID, deviceID, username, plaintext string) error
	ListDevicePasswords(tenantID, deviceID string) ([]string, error)

	PutDeviceMetadata(m model.DeviceMetadata) error
	GetDeviceMetadata(tenantID, deviceID string) (*model.DeviceMetadata, error)
	ListDeviceMetadata(tenantID string) ([]model.DeviceMetadata, error)
	DeleteDeviceMetadata(tenantID, deviceID string) error
}

// Sender is the publish half of the broker link, used for ?send_delta
// delta publishes.
type Sender interface {
	Publish(topic string, payload []byte) error
}

// ConnectionSet reports which client IDs are currently connected.
type ConnectionSet interface {
	Contains(clientID string) bool
	Snapshot() []string
	SnapshotForTenant(tenantID string) []string
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP management API server.
type Server struct {
	addr              string
	store             Store
	sender            Sender
	conns             ConnectionSet
	certs             *certs.Manager
	shadowTopicPrefix string
	serverName        string
	hostNames         []string
	logger            *slog.Logger
	server            *http.Server
}

// NewServer builds a Server. shadowTopicPrefix matches the processor's
// configured prefix, so delta publishes from the API land on the same
// topics the broker/processor use.
func NewServer(addr string, store Store, sender Sender, conns ConnectionSet, certMgr *certs.Manager, shadowTopicPrefix, serverName string, hostNames []string, logger *slog.Logger) *Server {
	return &Server{
		addr:              addr,
		store:             store,
		sender:            sender,
		conns:             conns,
		certs:             certMgr,
		shadowTopicPrefix: shadowTopicPrefix,
		serverName:        serverName,
		hostNames:         hostNames,
		logger:            logger,
	}
}

// Start begins serving HTTP requests. It blocks until the server stops
// (via Shutdown or an unrecoverable listener error).
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	mux.HandleFunc("GET /{tenant}/things/{device}/shadow", s.handleGetShadow)
	mux.HandleFunc("POST /{tenant}/things/{device}/shadow", s.handleUpdateShadow)
	mux.HandleFunc("DELETE /{tenant}/things/{device}/shadow", s.handleDeleteShadow)

	mux.HandleFunc("GET /{tenant}/data/{device}/{metric}/last", s.handleLastMetric)
	mux.HandleFunc("GET /{tenant}/data/{device}/{metric}", s.handleMetricRange)
	mux.HandleFunc("POST /{tenant}/data/{device}", s.handleInjectTelemetry)

	mux.HandleFunc("GET /{tenant}/dataconfig/all", s.handleListDataConfigs)
	mux.HandleFunc("GET /{tenant}/dataconfig", s.handleGetTenantDataConfig)
	mux.HandleFunc("PUT /{tenant}/dataconfig", s.handlePutTenantDataConfig)
	mux.HandleFunc("DELETE /{tenant}/dataconfig", s.handleDeleteTenantDataConfig)
	mux.HandleFunc("GET /{tenant}/dataconfig/device/{prefix}", s.handleGetDeviceDataConfig)
	mux.HandleFunc("PUT /{tenant}/dataconfig/device/{prefix}", s.handlePutDeviceDataConfig)
	mux.HandleFunc("DELETE /{tenant}/dataconfig/device/{prefix}", s.handleDeleteDeviceDataConfig)

	mux.HandleFunc("GET /{tenant}/connected", s.handleConnected)

	mux.HandleFunc("GET /{tenant}/devices", s.handleListDevices)
	mux.HandleFunc("GET /{tenant}/devices/{device}/info", s.handleDeviceInfo)
	mux.HandleFunc("GET /{tenant}/devices/{device}", s.handleGetDevice)
	mux.HandleFunc("POST /{tenant}/devices/{device}", s.handleProvisionDevice)
	mux.HandleFunc("DELETE /{tenant}/devices/{device}", s.handleDeleteDevice)

	mux.HandleFunc("GET /{tenant}/devices/{device}/passwords", s.handleListPasswords)
	mux.HandleFunc("POST /{tenant}/devices/{device}/passwords", s.handleAddPassword)

	mux.HandleFunc("POST /tenants", s.handleCreateTenant)
	mux.HandleFunc("GET /tenants/{id}", s.handleGetTenant)

	mux.HandleFunc("GET /cacert/server", s.handleGetServerCert)
	mux.HandleFunc("POST /cacert/server", s.handleGenerateServerCert)
	mux.HandleFunc("GET /tenants/{id}/cacert", s.handleGetTenantCACert)
	mux.HandleFunc("POST /tenants/{id}/cacert/generate", s.handleGenerateTenantCACert)
	mux.HandleFunc("POST /tenants/{id}/devices/{device}/client_cert/generate", s.handleGenerateClientCert)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.withLogging(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.logger.Info("starting API server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.New().String()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "forest",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{"message": message, "code": code},
	}, s.logger)
}

// writeErr maps an apperr.Kind (or a generic error) to the right HTTP
// status and writes it as the response body.
func (s *Server) writeErr(w http.ResponseWriter, op string, err error) {
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		s.errorResponse(w, http.StatusNotFound, err.Error())
	case apperr.Is(err, apperr.KindConflict):
		s.errorResponse(w, http.StatusConflict, err.Error())
	case apperr.Is(err, apperr.KindValidation):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
	case apperr.Is(err, apperr.KindCert):
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Warn(op+" failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("%s: internal error", op))
	}
}

func tenantParam(r *http.Request) string {
	t := r.PathValue("tenant")
	if t == "" {
		return model.Default.String()
	}
	return t
}

func shadowNameParam(r *http.Request) string {
	name := r.URL.Query().Get("name")
	if name == "" {
		return model.Default.String()
	}
	return name
}
