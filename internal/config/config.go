// Package config handles forest configuration loading.
package config

import (
	"fmt"
	"os"

	"github.com/forest-iot/forest/internal/logging"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config) is checked first. Then: ./config.yaml,
// /config/config.yaml (container convention), /etc/forest/config.yaml.
func DefaultSearchPaths() []string {
	return []string{"config.yaml", "/config/config.yaml", "/etc/forest/config.yaml"}
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all forest configuration.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Processor ProcessorConfig `yaml:"processor"`
	Database  DatabaseConfig  `yaml:"database"`
	BindAPI   string          `yaml:"bind_api"`
	TenantID  string          `yaml:"tenant_id"` // single-tenant hint; advisory only
	Certs     CertsConfig     `yaml:"certs"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
}

// MQTTConfig controls the embedded broker.
type MQTTConfig struct {
	BindV3          string `yaml:"bind_v3"`
	BindV5          string `yaml:"bind_v5"`
	BindWS          string `yaml:"bind_ws"`
	EnableSSL       bool   `yaml:"enable_ssl"`
	SSLCAPath       string `yaml:"ssl_ca_path"`
	SSLCertPath     string `yaml:"ssl_cert_path"`
	SSLKeyPath      string `yaml:"ssl_key_path"`
	EnableHeartbeat bool   `yaml:"enable_heartbeat"`
	MaxConnections  int    `yaml:"max_connections"`
}

// ProcessorConfig controls topic parsing and telemetry extraction.
type ProcessorConfig struct {
	ShadowTopicPrefix string   `yaml:"shadow_topic_prefix"`
	TelemetryTopics   []string `yaml:"telemetry_topics"`
}

// DatabaseConfig points at the SQL store(s).
type DatabaseConfig struct {
	Path           string `yaml:"path"`
	TimeseriesPath string `yaml:"timeseries_path"` // optional separate pool
}

// CertsConfig controls certificate issuance.
type CertsConfig struct {
	CertDir   string   `yaml:"cert_dir"`
	ServerName string  `yaml:"server_name"`
	HostNames []string `yaml:"host_names"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.MQTT.BindV3 == "" {
		c.MQTT.BindV3 = ":1883"
	}
	if c.MQTT.MaxConnections == 0 {
		c.MQTT.MaxConnections = 1000
	}
	if c.Processor.ShadowTopicPrefix == "" {
		c.Processor.ShadowTopicPrefix = "things/"
	}
	if len(c.Processor.TelemetryTopics) == 0 {
		c.Processor.TelemetryTopics = []string{c.Processor.ShadowTopicPrefix + "+/data"}
	}
	if c.Database.Path == "" {
		c.Database.Path = "./forest.db"
	}
	if c.BindAPI == "" {
		c.BindAPI = ":8080"
	}
	if c.Certs.CertDir == "" {
		c.Certs.CertDir = "./certs"
	}
	if c.Certs.ServerName == "" {
		c.Certs.ServerName = "forest"
	}

	// Derive SSL paths from cert_dir when SSL is enabled but paths are
	// not explicitly set, mirroring the original's post-load derivation.
	// The file names are the ones the untenanted certs.Manager writes.
	if c.MQTT.EnableSSL {
		if c.MQTT.SSLCAPath == "" {
			c.MQTT.SSLCAPath = c.Certs.CertDir + "/cacerts/ca.pem"
		}
		if c.MQTT.SSLCertPath == "" {
			c.MQTT.SSLCertPath = c.Certs.CertDir + "/server.pem"
		}
		if c.MQTT.SSLKeyPath == "" {
			c.MQTT.SSLKeyPath = c.Certs.CertDir + "/server-key.pem"
		}
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.MQTT.EnableSSL {
		if c.MQTT.SSLCAPath == "" || c.MQTT.SSLCertPath == "" || c.MQTT.SSLKeyPath == "" {
			return fmt.Errorf("mqtt.enable_ssl is set but ca/cert/key paths are incomplete")
		}
	}
	if c.LogLevel != "" {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development. All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
