package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("bind_api: \":9090\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BindAPI != ":9090" {
		t.Errorf("BindAPI = %q, want explicit value preserved", cfg.BindAPI)
	}
	if cfg.Processor.ShadowTopicPrefix != "things/" {
		t.Errorf("ShadowTopicPrefix default = %q", cfg.Processor.ShadowTopicPrefix)
	}
	if len(cfg.Processor.TelemetryTopics) != 1 {
		t.Errorf("TelemetryTopics default not applied: %v", cfg.Processor.TelemetryTopics)
	}
	if cfg.Database.Path == "" {
		t.Errorf("Database.Path default not applied")
	}
}

func TestValidateRejectsIncompleteSSL(t *testing.T) {
	cfg := Default()
	cfg.MQTT.EnableSSL = true
	cfg.MQTT.SSLCAPath = ""
	cfg.MQTT.SSLCertPath = ""
	cfg.MQTT.SSLKeyPath = ""

	if err := cfg.Validate(); err == nil {
		t.Errorf("expected validation error for incomplete SSL config")
	}
}

func TestFindConfigExplicitMustExist(t *testing.T) {
	if _, err := FindConfig("/nonexistent/path/config.yaml"); err == nil {
		t.Errorf("expected error for nonexistent explicit path")
	}
}
