package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/forest-iot/forest/internal/apperr"
	"github.com/forest-iot/forest/internal/shadow"
)

// GetShadow returns the current shadow for (tenantID, deviceID,
// shadowName), or a NotFound error if none exists yet.
func (s *Store) GetShadow(tenantID, deviceID, shadowName string) (*shadow.Shadow, error) {
	sh, err := s.getShadow(s.db, tenantID, deviceID, shadowName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("GetShadow", fmt.Errorf("shadow %q/%q/%q", tenantID, deviceID, shadowName))
		}
		return nil, apperr.Storage("GetShadow", err)
	}
	return sh, nil
}

// DeleteShadow removes a shadow document entirely.
func (s *Store) DeleteShadow(tenantID, deviceID, shadowName string) error {
	_, err := s.db.Exec(`
		DELETE FROM shadows WHERE tenant_id = ? AND device_id = ? AND shadow_name = ?
	`, tenantID, deviceID, shadowName)
	if err != nil {
		return apperr.Storage("DeleteShadow", err)
	}
	return nil
}

// UpsertShadow applies a state update document to the named shadow,
// creating it if it does not yet exist. The read-modify-write cycle
// runs inside a BEGIN IMMEDIATE transaction so concurrent updates to
// the same shadow serialize rather than interleave, standing in for
// the original's SERIALIZABLE isolation level.
func (s *Store) UpsertShadow(update *shadow.StateUpdateDocument) (*shadow.Shadow, error) {
	ctx := context.Background()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, apperr.Storage("UpsertShadow", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, apperr.Storage("UpsertShadow", err)
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	current, err := s.getShadowConn(ctx, conn, update.TenantID.String(), update.DeviceID, update.ShadowName.String())
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Storage("UpsertShadow", err)
		}
		current = shadow.New(update.DeviceID, update.ShadowName, update.TenantID)
	}

	next, err := shadow.Update(current, update, time.Now())
	if err != nil {
		return nil, apperr.Validation("UpsertShadow", err)
	}

	data, err := next.ToJSON()
	if err != nil {
		return nil, apperr.Storage("UpsertShadow", err)
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO shadows (tenant_id, device_id, shadow_name, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, device_id, shadow_name) DO UPDATE SET data = excluded.data
	`, next.TenantID.String(), next.DeviceID, next.ShadowName.String(), data)
	if err != nil {
		return nil, apperr.Storage("UpsertShadow", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, apperr.Storage("UpsertShadow", err)
	}
	committed = true

	return next, nil
}

func (s *Store) getShadow(db *sql.DB, tenantID, deviceID, shadowName string) (*shadow.Shadow, error) {
	row := db.QueryRow(`
		SELECT data FROM shadows WHERE tenant_id = ? AND device_id = ? AND shadow_name = ?
	`, tenantID, deviceID, shadowName)

	var data string
	if err := row.Scan(&data); err != nil {
		return nil, err
	}

	return shadow.FromJSON([]byte(data))
}

func (s *Store) getShadowConn(ctx context.Context, conn *sql.Conn, tenantID, deviceID, shadowName string) (*shadow.Shadow, error) {
	row := conn.QueryRowContext(ctx, `
		SELECT data FROM shadows WHERE tenant_id = ? AND device_id = ? AND shadow_name = ?
	`, tenantID, deviceID, shadowName)

	var data string
	if err := row.Scan(&data); err != nil {
		return nil, err
	}

	return shadow.FromJSON([]byte(data))
}
