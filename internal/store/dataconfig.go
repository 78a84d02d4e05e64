package store

import (
	"errors"
	"strings"

	"github.com/forest-iot/forest/internal/apperr"
	"github.com/forest-iot/forest/internal/dataconfig"
)

// StoreTenantDataConfig sets the tenant-wide default data config (the
// entry with no device prefix).
func (s *Store) StoreTenantDataConfig(tenantID string, cfg dataconfig.DataConfig) error {
	return s.putDataConfig(tenantID, "", cfg)
}

// StoreDeviceDataConfig sets the data config that applies to devices
// whose ID starts with prefix, overriding the tenant-wide default.
func (s *Store) StoreDeviceDataConfig(tenantID, prefix string, cfg dataconfig.DataConfig) error {
	if prefix == "" {
		return apperr.Validation("StoreDeviceDataConfig", errors.New("device prefix must be non-empty"))
	}
	return s.putDataConfig(tenantID, prefix, cfg)
}

func (s *Store) putDataConfig(tenantID, prefix string, cfg dataconfig.DataConfig) error {
	data, err := cfg.ToJSON()
	if err != nil {
		return apperr.Storage("putDataConfig", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO data_configs (tenant_id, device_prefix, config)
		VALUES (?, ?, ?)
		ON CONFLICT (tenant_id, device_prefix) DO UPDATE SET config = excluded.config
	`, tenantID, prefix, data)
	if err != nil {
		return apperr.Storage("putDataConfig", err)
	}
	return nil
}

// DeleteDataConfig removes the data config stored under (tenantID,
// prefix). Pass "" for prefix to remove the tenant-wide default.
func (s *Store) DeleteDataConfig(tenantID, prefix string) error {
	_, err := s.db.Exec(`
		DELETE FROM data_configs WHERE tenant_id = ? AND device_prefix = ?
	`, tenantID, prefix)
	if err != nil {
		return apperr.Storage("DeleteDataConfig", err)
	}
	return nil
}

// ListDataConfigs returns every data config entry stored for a tenant,
// tenant-wide default included.
func (s *Store) ListDataConfigs(tenantID string) ([]dataconfig.Entry, error) {
	rows, err := s.db.Query(`
		SELECT tenant_id, device_prefix, config FROM data_configs
		WHERE tenant_id = ?
		ORDER BY device_prefix
	`, tenantID)
	if err != nil {
		return nil, apperr.Storage("ListDataConfigs", err)
	}
	defer rows.Close()

	var out []dataconfig.Entry
	for rows.Next() {
		var (
			tid, prefix string
			raw         string
		)
		if err := rows.Scan(&tid, &prefix, &raw); err != nil {
			return nil, apperr.Storage("ListDataConfigs", err)
		}
		cfg, err := dataconfig.FromJSON([]byte(raw))
		if err != nil {
			return nil, apperr.Storage("ListDataConfigs", err)
		}

		entry := dataconfig.Entry{TenantID: tid, Metrics: cfg.Metrics}
		if prefix != "" {
			p := prefix
			entry.DevicePrefix = &p
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// GetDataConfig computes the effective data config for (tenantID,
// deviceID): the tenant-wide default merged with the longest matching
// device-prefix override, by-name override with append.
func (s *Store) GetDataConfig(tenantID, deviceID string) (dataconfig.DataConfig, error) {
	entries, err := s.ListDataConfigs(tenantID)
	if err != nil {
		return dataconfig.DataConfig{}, err
	}

	var base dataconfig.DataConfig
	var bestPrefix string
	var best *dataconfig.DataConfig

	for _, e := range entries {
		if e.DevicePrefix == nil {
			base = dataconfig.DataConfig{Metrics: e.Metrics}
			continue
		}
		prefix := *e.DevicePrefix
		if !strings.HasPrefix(deviceID, prefix) {
			continue
		}
		if best == nil || len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			cfg := dataconfig.DataConfig{Metrics: e.Metrics}
			best = &cfg
		}
	}

	if best == nil {
		return base, nil
	}
	return base.MergeWith(*best), nil
}
