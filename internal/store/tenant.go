package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/forest-iot/forest/internal/apperr"
	"github.com/forest-iot/forest/internal/model"
)

// PutTenant inserts or updates a tenant's auth configuration.
func (s *Store) PutTenant(t model.Tenant) error {
	_, err := s.db.Exec(`
		INSERT INTO tenants (tenant_id, allow_passwords, allow_certificates, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			allow_passwords = excluded.allow_passwords,
			allow_certificates = excluded.allow_certificates
	`, t.TenantID.String(), t.AuthConfig.AllowPasswords, t.AuthConfig.AllowCertificates, t.CreatedAt.Unix())
	if err != nil {
		return apperr.Storage("PutTenant", err)
	}
	return nil
}

// GetTenant looks up a tenant by ID.
func (s *Store) GetTenant(tenantID string) (*model.Tenant, error) {
	row := s.db.QueryRow(`
		SELECT tenant_id, allow_passwords, allow_certificates, created_at
		FROM tenants WHERE tenant_id = ?
	`, tenantID)

	var (
		id                string
		allowPw, allowCrt bool
		createdAt         int64
	)
	if err := row.Scan(&id, &allowPw, &allowCrt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("GetTenant", fmt.Errorf("tenant %q", tenantID))
		}
		return nil, apperr.Storage("GetTenant", err)
	}

	return &model.Tenant{
		TenantID:   model.NewDefaultString(id),
		AuthConfig: model.AuthConfig{AllowPasswords: allowPw, AllowCertificates: allowCrt},
		CreatedAt:  time.Unix(createdAt, 0).UTC(),
	}, nil
}
