package store

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	tenant_id TEXT PRIMARY KEY,
	allow_passwords INTEGER NOT NULL,
	allow_certificates INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS device_metadata (
	tenant_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	certificate TEXT,
	key TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, device_id)
);

CREATE TABLE IF NOT EXISTS device_credentials (
	tenant_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	username TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, device_id, username)
);

CREATE TABLE IF NOT EXISTS shadows (
	tenant_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	shadow_name TEXT NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (tenant_id, device_id, shadow_name)
);

CREATE TABLE IF NOT EXISTS data_configs (
	tenant_id TEXT NOT NULL,
	device_prefix TEXT NOT NULL,
	config TEXT NOT NULL,
	PRIMARY KEY (tenant_id, device_prefix)
);

CREATE TABLE IF NOT EXISTS kv_store (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

const timeseriesSchema = `
CREATE TABLE IF NOT EXISTS timeseries (
	tenant_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	metric TEXT NOT NULL,
	ts INTEGER NOT NULL,
	value_kind INTEGER NOT NULL,
	value_float REAL,
	value_int INTEGER,
	value_lat REAL,
	value_long REAL
);

CREATE INDEX IF NOT EXISTS idx_timeseries_lookup
	ON timeseries (tenant_id, device_id, metric, ts);
`
