package broker

import (
	"testing"

	"github.com/forest-iot/forest/internal/apperr"
	"github.com/forest-iot/forest/internal/model"
)

type fakeAuthStore struct {
	tenants map[string]model.Tenant
	creds   map[string]string // "tenant/device/user" -> password
}

func (f *fakeAuthStore) GetTenant(tenantID string) (*model.Tenant, error) {
	t, ok := f.tenants[tenantID]
	if !ok {
		return nil, apperr.NotFound("GetTenant", errNotFound)
	}
	return &t, nil
}

func (f *fakeAuthStore) VerifyDevicePassword(tenantID, deviceID, username, password string) bool {
	want, ok := f.creds[tenantID+"/"+deviceID+"/"+username]
	return ok && want == password
}

type errString string

func (e errString) Error() string { return string(e) }

var errNotFound error = errString("not found")

func TestAuthenticate_Matrix(t *testing.T) {
	store := &fakeAuthStore{
		tenants: map[string]model.Tenant{
			"default": {
				TenantID:   model.Default,
				AuthConfig: model.AuthConfig{AllowPasswords: true, AllowCertificates: true},
			},
		},
		creds: map[string]string{
			"default/device1/user": "secret",
		},
	}

	t.Run("password accept", func(t *testing.T) {
		rec, err := Authenticate(store, ConnectAttempt{ClientID: "device1", Username: "user", Password: "secret"})
		if err != nil || rec == nil {
			t.Fatalf("expected accept, got rec=%v err=%v", rec, err)
		}
	})

	t.Run("password reject wrong pass", func(t *testing.T) {
		_, err := Authenticate(store, ConnectAttempt{ClientID: "device1", Username: "user", Password: "wrong"})
		if !apperr.Is(err, apperr.KindAuthReject) {
			t.Fatalf("expected auth reject, got %v", err)
		}
	})

	t.Run("cert accept matching CN", func(t *testing.T) {
		rec, err := Authenticate(store, ConnectAttempt{ClientID: "device1", CertCN: "device1"})
		if err != nil || rec == nil {
			t.Fatalf("expected accept, got rec=%v err=%v", rec, err)
		}
	})

	t.Run("cert reject mismatched CN", func(t *testing.T) {
		_, err := Authenticate(store, ConnectAttempt{ClientID: "device1", CertCN: "device2"})
		if !apperr.Is(err, apperr.KindAuthReject) {
			t.Fatalf("expected auth reject, got %v", err)
		}
	})

	t.Run("neither username nor cert rejects", func(t *testing.T) {
		_, err := Authenticate(store, ConnectAttempt{ClientID: "device1"})
		if !apperr.Is(err, apperr.KindAuthReject) {
			t.Fatalf("expected auth reject, got %v", err)
		}
	})

	t.Run("passwords disallowed rejects even with valid creds", func(t *testing.T) {
		restricted := &fakeAuthStore{
			tenants: map[string]model.Tenant{
				"default": {TenantID: model.Default, AuthConfig: model.AuthConfig{AllowPasswords: false, AllowCertificates: true}},
			},
			creds: store.creds,
		}
		_, err := Authenticate(restricted, ConnectAttempt{ClientID: "device1", Username: "user", Password: "secret"})
		if !apperr.Is(err, apperr.KindAuthReject) {
			t.Fatalf("expected auth reject, got %v", err)
		}
	})

	t.Run("certificates disallowed rejects even with matching CN", func(t *testing.T) {
		restricted := &fakeAuthStore{
			tenants: map[string]model.Tenant{
				"default": {TenantID: model.Default, AuthConfig: model.AuthConfig{AllowPasswords: true, AllowCertificates: false}},
			},
		}
		_, err := Authenticate(restricted, ConnectAttempt{ClientID: "device1", CertCN: "device1"})
		if !apperr.Is(err, apperr.KindAuthReject) {
			t.Fatalf("expected auth reject, got %v", err)
		}
	})

	t.Run("unknown tenant synthesizes spec defaults (passwords off, certs on)", func(t *testing.T) {
		empty := &fakeAuthStore{tenants: map[string]model.Tenant{}, creds: map[string]string{}}

		if _, err := Authenticate(empty, ConnectAttempt{ClientID: "d", CertCN: "d", CertOrg: "newtenant"}); err != nil {
			t.Fatalf("expected cert accept under synthesized defaults, got %v", err)
		}
		if _, err := Authenticate(empty, ConnectAttempt{ClientID: "d", Username: "u", Password: "p", CertOrg: "newtenant"}); !apperr.Is(err, apperr.KindAuthReject) {
			t.Fatalf("expected password reject under synthesized defaults, got %v", err)
		}
	})

	t.Run("certificate Organization resolves tenant", func(t *testing.T) {
		multi := &fakeAuthStore{
			tenants: map[string]model.Tenant{
				"default": {TenantID: model.Default, AuthConfig: model.AuthConfig{AllowCertificates: false}},
				"acme":    {TenantID: model.NewDefaultString("acme"), AuthConfig: model.AuthConfig{AllowCertificates: true}},
			},
		}
		rec, err := Authenticate(multi, ConnectAttempt{ClientID: "device1", CertCN: "device1", CertOrg: "acme"})
		if err != nil {
			t.Fatalf("expected accept via acme tenant, got %v", err)
		}
		if rec.TenantID.String() != "acme" {
			t.Fatalf("expected tenant acme, got %s", rec.TenantID.String())
		}
	})
}
