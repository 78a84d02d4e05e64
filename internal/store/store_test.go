package store

import (
	"path/filepath"
	"testing"

	"github.com/forest-iot/forest/internal/dataconfig"
	"github.com/forest-iot/forest/internal/model"
	"github.com/forest-iot/forest/internal/shadow"
	"github.com/forest-iot/forest/internal/timeseries"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "forest.db"), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTenantRoundTrip(t *testing.T) {
	s := newTestStore(t)

	tenant := model.NewTenant(model.NewDefaultString("acme"))
	if err := s.PutTenant(tenant); err != nil {
		t.Fatalf("PutTenant: %v", err)
	}

	got, err := s.GetTenant("acme")
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if got.TenantID.String() != "acme" {
		t.Errorf("TenantID = %q", got.TenantID.String())
	}
	if !got.AuthConfig.AllowCertificates || got.AuthConfig.AllowPasswords {
		t.Errorf("AuthConfig = %+v, want default", got.AuthConfig)
	}

	if _, err := s.GetTenant("missing"); err == nil {
		t.Errorf("expected error for missing tenant")
	}
}

func TestDevicePasswordVerify(t *testing.T) {
	s := newTestStore(t)

	if err := s.AddDevicePassword("acme", "sensor-1", "device", "hunter2"); err != nil {
		t.Fatalf("AddDevicePassword: %v", err)
	}

	if !s.VerifyDevicePassword("acme", "sensor-1", "device", "hunter2") {
		t.Errorf("expected correct password to verify")
	}
	if s.VerifyDevicePassword("acme", "sensor-1", "device", "wrong") {
		t.Errorf("expected wrong password to reject")
	}
	if s.VerifyDevicePassword("acme", "sensor-1", "nouser", "hunter2") {
		t.Errorf("expected unknown username to reject")
	}

	users, err := s.ListDevicePasswords("acme", "sensor-1")
	if err != nil {
		t.Fatalf("ListDevicePasswords: %v", err)
	}
	if len(users) != 1 || users[0] != "device" {
		t.Errorf("ListDevicePasswords = %v", users)
	}
}

func TestDeviceMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)

	m := model.NewDeviceMetadata("sensor-1", model.NewDefaultString("acme")).WithCredentials("CERT", "KEY")
	if err := s.PutDeviceMetadata(m); err != nil {
		t.Fatalf("PutDeviceMetadata: %v", err)
	}

	got, err := s.GetDeviceMetadata("acme", "sensor-1")
	if err != nil {
		t.Fatalf("GetDeviceMetadata: %v", err)
	}
	if got.Certificate == nil || *got.Certificate != "CERT" {
		t.Errorf("Certificate = %v", got.Certificate)
	}

	list, err := s.ListDeviceMetadata("acme")
	if err != nil {
		t.Fatalf("ListDeviceMetadata: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListDeviceMetadata = %d entries, want 1", len(list))
	}

	if err := s.DeleteDeviceMetadata("acme", "sensor-1"); err != nil {
		t.Fatalf("DeleteDeviceMetadata: %v", err)
	}
	if _, err := s.GetDeviceMetadata("acme", "sensor-1"); err == nil {
		t.Errorf("expected error after delete")
	}
}

func TestUpsertShadowVersionMonotonic(t *testing.T) {
	s := newTestStore(t)

	update := &shadow.StateUpdateDocument{
		DeviceID:   "sensor-1",
		ShadowName: model.Default,
		TenantID:   model.NewDefaultString("acme"),
		State: shadow.State{
			Reported: map[string]any{"temperature": 21.5},
		},
	}

	sh, err := s.UpsertShadow(update)
	if err != nil {
		t.Fatalf("UpsertShadow: %v", err)
	}
	if sh.Version != 1 {
		t.Errorf("Version = %d, want 1", sh.Version)
	}

	sh, err = s.UpsertShadow(update)
	if err != nil {
		t.Fatalf("UpsertShadow second call: %v", err)
	}
	if sh.Version != 2 {
		t.Errorf("Version = %d, want 2", sh.Version)
	}

	fetched, err := s.GetShadow("acme", "sensor-1", "default")
	if err != nil {
		t.Fatalf("GetShadow: %v", err)
	}
	if fetched.Version != 2 {
		t.Errorf("fetched Version = %d, want 2", fetched.Version)
	}

	if err := s.DeleteShadow("acme", "sensor-1", "default"); err != nil {
		t.Fatalf("DeleteShadow: %v", err)
	}
	if _, err := s.GetShadow("acme", "sensor-1", "default"); err == nil {
		t.Errorf("expected error after delete")
	}
}

func TestEffectiveDataConfigLongestPrefixMerge(t *testing.T) {
	s := newTestStore(t)

	tenantWide := dataconfig.DataConfig{Metrics: []dataconfig.MetricConfig{
		{Name: "temperature", JSONPointer: "/temp", DataType: dataconfig.DataTypeFloat},
		{Name: "battery", JSONPointer: "/batt", DataType: dataconfig.DataTypeInt},
	}}
	if err := s.StoreTenantDataConfig("acme", tenantWide); err != nil {
		t.Fatalf("StoreTenantDataConfig: %v", err)
	}

	shortPrefix := dataconfig.DataConfig{Metrics: []dataconfig.MetricConfig{
		{Name: "battery", JSONPointer: "/power/batt", DataType: dataconfig.DataTypeInt},
	}}
	if err := s.StoreDeviceDataConfig("acme", "sensor-", shortPrefix); err != nil {
		t.Fatalf("StoreDeviceDataConfig short: %v", err)
	}

	longPrefix := dataconfig.DataConfig{Metrics: []dataconfig.MetricConfig{
		{Name: "location", JSONPointer: "/gps", DataType: dataconfig.DataTypeLocationObject},
	}}
	if err := s.StoreDeviceDataConfig("acme", "sensor-gps-", longPrefix); err != nil {
		t.Fatalf("StoreDeviceDataConfig long: %v", err)
	}

	effective, err := s.GetDataConfig("acme", "sensor-gps-42")
	if err != nil {
		t.Fatalf("GetDataConfig: %v", err)
	}

	byName := map[string]dataconfig.MetricConfig{}
	for _, m := range effective.Metrics {
		byName[m.Name] = m
	}

	if byName["temperature"].JSONPointer != "/temp" {
		t.Errorf("temperature should come from tenant-wide config, got %+v", byName["temperature"])
	}
	if byName["location"].JSONPointer != "/gps" {
		t.Errorf("location should come from the longest matching prefix, got %+v", byName["location"])
	}
	// "sensor-gps-" is the longest matching prefix and is the only one
	// merged in; "sensor-"'s battery override is shadowed entirely, so
	// battery falls back to the tenant-wide default.
	if byName["battery"].JSONPointer != "/batt" {
		t.Errorf("battery should fall back to tenant-wide config, got %+v", byName["battery"])
	}

	list, err := s.ListDataConfigs("acme")
	if err != nil {
		t.Fatalf("ListDataConfigs: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("ListDataConfigs = %d entries, want 3", len(list))
	}
}

func TestMetricPutAndGet(t *testing.T) {
	s := newTestStore(t)

	points := []timeseries.Point{
		{TenantID: "acme", DeviceID: "sensor-1", MetricName: "temperature", TimestampSecs: 100, Value: timeseries.FloatValue(21.5)},
		{TenantID: "acme", DeviceID: "sensor-1", MetricName: "temperature", TimestampSecs: 200, Value: timeseries.FloatValue(22.0)},
	}
	for _, p := range points {
		if err := s.PutMetric(p); err != nil {
			t.Fatalf("PutMetric: %v", err)
		}
	}

	got, err := s.GetMetric("acme", "sensor-1", "temperature", 0, 1000)
	if err != nil {
		t.Fatalf("GetMetric: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetMetric = %d points, want 2", len(got))
	}
	if got[0].TimestampSecs != 100 || got[1].TimestampSecs != 200 {
		t.Errorf("GetMetric not ordered by timestamp: %+v", got)
	}

	last, err := s.GetLastMetric("acme", "sensor-1", "temperature", 1)
	if err != nil {
		t.Fatalf("GetLastMetric: %v", err)
	}
	if len(last) != 1 || last[0].TimestampSecs != 200 || last[0].Value.Float != 22.0 {
		t.Errorf("GetLastMetric = %+v", last)
	}

	lastTwo, err := s.GetLastMetric("acme", "sensor-1", "temperature", 2)
	if err != nil {
		t.Fatalf("GetLastMetric: %v", err)
	}
	if len(lastTwo) != 2 || lastTwo[0].TimestampSecs != 100 || lastTwo[1].TimestampSecs != 200 {
		t.Errorf("GetLastMetric not ascending: %+v", lastTwo)
	}

	none, err := s.GetLastMetric("acme", "sensor-1", "humidity", 1)
	if err != nil {
		t.Fatalf("GetLastMetric: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no points for metric with no data, got %+v", none)
	}
}
