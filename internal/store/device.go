package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/forest-iot/forest/internal/apperr"
	"github.com/forest-iot/forest/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// AddDevicePassword hashes plaintext with bcrypt and stores it as a
// login credential for (tenantID, deviceID, username). An existing
// credential for the same username is replaced.
func (s *Store) AddDevicePassword(tenantID, deviceID, username, plaintext string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return apperr.Storage("AddDevicePassword", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO device_credentials (tenant_id, device_id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, device_id, username) DO UPDATE SET
			password_hash = excluded.password_hash
	`, tenantID, deviceID, username, string(hash), time.Now().Unix())
	if err != nil {
		return apperr.Storage("AddDevicePassword", err)
	}
	return nil
}

// VerifyDevicePassword reports whether username/plaintext is a valid
// credential for (tenantID, deviceID). It never returns an error for a
// missing row or a wrong password: both simply report false, since from
// the caller's perspective they are the same outcome (auth reject).
func (s *Store) VerifyDevicePassword(tenantID, deviceID, username, plaintext string) bool {
	row := s.db.QueryRow(`
		SELECT password_hash FROM device_credentials
		WHERE tenant_id = ? AND device_id = ? AND username = ?
	`, tenantID, deviceID, username)

	var hash string
	if err := row.Scan(&hash); err != nil {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// ListDevicePasswords returns the usernames registered for a device.
func (s *Store) ListDevicePasswords(tenantID, deviceID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT username FROM device_credentials
		WHERE tenant_id = ? AND device_id = ?
		ORDER BY username
	`, tenantID, deviceID)
	if err != nil {
		return nil, apperr.Storage("ListDevicePasswords", err)
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, apperr.Storage("ListDevicePasswords", err)
		}
		usernames = append(usernames, u)
	}
	return usernames, rows.Err()
}

// PutDeviceMetadata inserts or updates a device's metadata record,
// including its certificate and key when present.
func (s *Store) PutDeviceMetadata(m model.DeviceMetadata) error {
	_, err := s.db.Exec(`
		INSERT INTO device_metadata (tenant_id, device_id, certificate, key, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, device_id) DO UPDATE SET
			certificate = excluded.certificate,
			key = excluded.key
	`, m.TenantID.String(), m.DeviceID, m.Certificate, m.Key, m.CreatedAt.Unix())
	if err != nil {
		return apperr.Storage("PutDeviceMetadata", err)
	}
	return nil
}

// GetDeviceMetadata looks up a device's metadata record.
func (s *Store) GetDeviceMetadata(tenantID, deviceID string) (*model.DeviceMetadata, error) {
	row := s.db.QueryRow(`
		SELECT tenant_id, device_id, certificate, key, created_at
		FROM device_metadata WHERE tenant_id = ? AND device_id = ?
	`, tenantID, deviceID)

	m, err := scanDeviceMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("GetDeviceMetadata", fmt.Errorf("device %q/%q", tenantID, deviceID))
		}
		return nil, apperr.Storage("GetDeviceMetadata", err)
	}
	return m, nil
}

// ListDeviceMetadata returns every device registered under a tenant.
func (s *Store) ListDeviceMetadata(tenantID string) ([]model.DeviceMetadata, error) {
	rows, err := s.db.Query(`
		SELECT tenant_id, device_id, certificate, key, created_at
		FROM device_metadata WHERE tenant_id = ?
		ORDER BY device_id
	`, tenantID)
	if err != nil {
		return nil, apperr.Storage("ListDeviceMetadata", err)
	}
	defer rows.Close()

	var out []model.DeviceMetadata
	for rows.Next() {
		m, err := scanDeviceMetadataRows(rows)
		if err != nil {
			return nil, apperr.Storage("ListDeviceMetadata", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DeleteDeviceMetadata removes a device's metadata record, if present.
func (s *Store) DeleteDeviceMetadata(tenantID, deviceID string) error {
	_, err := s.db.Exec(`
		DELETE FROM device_metadata WHERE tenant_id = ? AND device_id = ?
	`, tenantID, deviceID)
	if err != nil {
		return apperr.Storage("DeleteDeviceMetadata", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeviceMetadata(row scanner) (*model.DeviceMetadata, error) {
	return scanDeviceMetadataRows(row)
}

func scanDeviceMetadataRows(row scanner) (*model.DeviceMetadata, error) {
	var (
		tenantID, deviceID string
		cert, key          sql.NullString
		createdAt          int64
	)
	if err := row.Scan(&tenantID, &deviceID, &cert, &key, &createdAt); err != nil {
		return nil, err
	}

	m := &model.DeviceMetadata{
		DeviceID:  deviceID,
		TenantID:  model.NewDefaultString(tenantID),
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}
	if cert.Valid {
		m.Certificate = &cert.String
	}
	if key.Valid {
		m.Key = &key.String
	}
	return m, nil
}
