// Package broker wraps the embedded mochi-mqtt server: listener and
// TLS setup, the connect-time auth hook, a bounded publish link, the
// admin stream of all broker traffic, and the connection-status
// broadcast the processor's connection monitor consumes. Grounded on
// original_source/src/mqtt/{auth,handlers}.rs, wired to
// github.com/mochi-mqtt/server/v2 per DESIGN.md's domain-stack
// wiring (adopted from other_examples/manifests/sandrolain-events-bridge).
package broker

import (
	"fmt"

	"github.com/forest-iot/forest/internal/apperr"
	"github.com/forest-iot/forest/internal/model"
)

// TenantLoader resolves a tenant's auth policy by id. A tenant that has
// not been provisioned is reported as a KindNotFound error, for which
// Authenticate synthesizes a default-policy tenant.
type TenantLoader interface {
	GetTenant(tenantID string) (*model.Tenant, error)
}

// PasswordVerifier checks a device credential against its stored hash.
type PasswordVerifier interface {
	VerifyDevicePassword(tenantID, deviceID, username, password string) bool
}

// AuthStore is the subset of the Store the accept hook reads.
type AuthStore interface {
	TenantLoader
	PasswordVerifier
}

// ConnectAttempt carries everything the broker's accept hook observes
// about one CONNECT packet.
type ConnectAttempt struct {
	ClientID string
	Username string
	Password string
	CertCN   string
	CertOrg  string
}

// AcceptRecord is returned on a successful authentication decision.
type AcceptRecord struct {
	ClientID string
	TenantID model.TenantId
}

// Authenticate implements the decision procedure from spec.md §4.5: the
// tenant is resolved from the certificate's Organization field (or the
// default tenant when absent); certificate CN wins over username/
// password when present. Any store error is reported as a
// KindStorage *apperr.Error and treated as a reject by the caller.
func Authenticate(store AuthStore, a ConnectAttempt) (*AcceptRecord, error) {
	tenantIDStr := "default"
	if a.CertOrg != "" {
		tenantIDStr = a.CertOrg
	}
	tenantID := model.NewDefaultString(tenantIDStr)

	tenant, err := store.GetTenant(tenantIDStr)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			synthesized := model.NewTenant(tenantID)
			tenant = &synthesized
		} else {
			return nil, apperr.Storage("Authenticate", err)
		}
	}

	switch {
	case a.CertCN != "":
		if !tenant.AuthConfig.AllowCertificates {
			return nil, apperr.New(apperr.KindAuthReject, "Authenticate", fmt.Errorf("certificates not allowed for tenant %q", tenantIDStr))
		}
		if a.CertCN != a.ClientID {
			return nil, apperr.New(apperr.KindAuthReject, "Authenticate", fmt.Errorf("certificate CN %q does not match client id %q", a.CertCN, a.ClientID))
		}
		return &AcceptRecord{ClientID: a.ClientID, TenantID: tenantID}, nil

	case a.Username != "":
		if !tenant.AuthConfig.AllowPasswords {
			return nil, apperr.New(apperr.KindAuthReject, "Authenticate", fmt.Errorf("passwords not allowed for tenant %q", tenantIDStr))
		}
		if !store.VerifyDevicePassword(tenantIDStr, a.ClientID, a.Username, a.Password) {
			return nil, apperr.New(apperr.KindAuthReject, "Authenticate", fmt.Errorf("bad credentials for %q/%q", tenantIDStr, a.ClientID))
		}
		return &AcceptRecord{ClientID: a.ClientID, TenantID: tenantID}, nil

	default:
		return nil, apperr.New(apperr.KindAuthReject, "Authenticate", fmt.Errorf("no username or certificate presented"))
	}
}
