package certs

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSetupIssuesCAAndServerCert(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Setup("forest", []string{"broker.local", "mqtt.local"}); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if !m.CAExists() {
		t.Fatalf("expected CA to exist after Setup")
	}

	valid, err := m.IsServerCertValid("forest", []string{"broker.local", "mqtt.local"})
	if err != nil {
		t.Fatalf("IsServerCertValid: %v", err)
	}
	if !valid {
		t.Errorf("expected server cert to be valid for its own hostnames")
	}

	valid, err = m.IsServerCertValid("forest", []string{"broker.local", "other.local"})
	if err != nil {
		t.Fatalf("IsServerCertValid: %v", err)
	}
	if valid {
		t.Errorf("expected server cert to be invalid for an unlisted hostname")
	}
}

func TestCreateClientCertIsSignedByCA(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, "acme")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := m.CreateClientCert("sensor-1")
	if err != nil {
		t.Fatalf("CreateClientCert: %v", err)
	}

	caPEM, err := m.GetCACertPEM()
	if err != nil {
		t.Fatalf("GetCACertPEM: %v", err)
	}

	caBlock, _ := pem.Decode([]byte(caPEM))
	caCert, err := x509.ParseCertificate(caBlock.Bytes)
	if err != nil {
		t.Fatalf("parse CA cert: %v", err)
	}

	clientBlock, _ := pem.Decode([]byte(data.Cert))
	clientCert, err := x509.ParseCertificate(clientBlock.Bytes)
	if err != nil {
		t.Fatalf("parse client cert: %v", err)
	}

	if err := clientCert.CheckSignatureFrom(caCert); err != nil {
		t.Errorf("client cert was not signed by the tenant CA: %v", err)
	}
	if clientCert.Subject.CommonName != "sensor-1" {
		t.Errorf("CommonName = %q", clientCert.Subject.CommonName)
	}
	if clientCert.Subject.Organization[0] != "acme" {
		t.Errorf("Organization = %v, want tenant id", clientCert.Subject.Organization)
	}
	if clientCert.NotAfter.Sub(clientCert.NotBefore) < 9*365*24*time.Hour {
		t.Errorf("client cert validity too short: %v", clientCert.NotAfter.Sub(clientCert.NotBefore))
	}
}

func TestCreateCABacksUpPreviousCert(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.EnsureCAExists(); err != nil {
		t.Fatalf("EnsureCAExists: %v", err)
	}

	key, err := generatePrivateKey()
	if err != nil {
		t.Fatalf("generatePrivateKey: %v", err)
	}
	if err := m.createCA(key); err != nil {
		t.Fatalf("createCA: %v", err)
	}

	if _, err := os.Stat(m.caCertPath() + ".bak"); err != nil {
		t.Errorf("expected a .bak backup of the previous CA cert, got: %v", err)
	}
}

func TestNewRejectsInvalidTenantID(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir, "bad tenant id!"); err == nil {
		t.Errorf("expected error for tenant id with invalid characters")
	}
}

func TestForTenantSharesBaseDir(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tm, err := m.ForTenant("acme")
	if err != nil {
		t.Fatalf("ForTenant: %v", err)
	}

	if filepath.Dir(tm.caCertPath()) != filepath.Join(dir, "cacerts") {
		t.Errorf("tenant CA path not under shared cacerts dir: %s", tm.caCertPath())
	}
}
