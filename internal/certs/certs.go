// Package certs issues and rotates the X.509 material the broker and
// its devices use for mutual TLS: a self-signed CA, a server
// certificate carrying the configured hostnames, and per-device client
// certificates signed by that CA. Grounded on
// original_source/src/certs.rs, translated from openssl to the
// standard library's crypto/x509 — no certificate-issuance library
// appears anywhere in the retrieved example pack, so this is one of
// the few components built on the standard library by necessity.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/forest-iot/forest/internal/apperr"
)

const (
	caCertFilename     = "ca.pem"
	caKeyFilename      = "ca-key.pem"
	serverCertFilename = "server.pem"
	serverKeyFilename  = "server-key.pem"

	caValidity     = 20 * 365 * 24 * time.Hour
	serverValidity = 5 * 365 * 24 * time.Hour
	clientValidity = 10 * 365 * 24 * time.Hour

	rsaKeyBits = 2048
)

// CertificateData is an issued certificate/key pair in PEM form.
type CertificateData struct {
	Cert string
	Key  string
}

// Manager issues and stores certificates under a base directory,
// scoped to an optional tenant subdirectory.
type Manager struct {
	certDir  string
	tenantID string // empty means untenanted ("Forest" org, shared CA)
}

// New builds a Manager rooted at certDir. tenantID may be empty; when
// set it must contain only letters, digits, and hyphens and scopes
// server/client files under certDir/tenantID while CA files live under
// certDir/cacerts/<tenantID>_*.
func New(certDir, tenantID string) (*Manager, error) {
	if tenantID != "" && !isValidTenantID(tenantID) {
		return nil, apperr.Validation("certs.New", fmt.Errorf("tenant id %q must contain only alphanumerics and hyphens", tenantID))
	}

	m := &Manager{certDir: certDir, tenantID: tenantID}
	if err := m.ensureDirsExist(); err != nil {
		return nil, apperr.Cert("certs.New", err)
	}
	return m, nil
}

// ForTenant returns a Manager scoped to tenantID sharing m's base
// directory.
func (m *Manager) ForTenant(tenantID string) (*Manager, error) {
	return New(m.certDir, tenantID)
}

func isValidTenantID(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}

func (m *Manager) ensureDirsExist() error {
	if err := os.MkdirAll(m.certDir, 0o755); err != nil {
		return err
	}
	if m.tenantID != "" {
		if err := os.MkdirAll(filepath.Join(m.certDir, m.tenantID), 0o755); err != nil {
			return err
		}
	}
	return os.MkdirAll(filepath.Join(m.certDir, "cacerts"), 0o755)
}

func (m *Manager) filePath(filename string) string {
	if m.tenantID != "" {
		return filepath.Join(m.certDir, m.tenantID, filename)
	}
	return filepath.Join(m.certDir, filename)
}

func (m *Manager) caCertPath() string {
	if m.tenantID != "" {
		return filepath.Join(m.certDir, "cacerts", m.tenantID+"_"+caCertFilename)
	}
	return filepath.Join(m.certDir, "cacerts", caCertFilename)
}

func (m *Manager) caKeyPath() string {
	if m.tenantID != "" {
		return filepath.Join(m.certDir, "cacerts", m.tenantID+"_"+caKeyFilename)
	}
	return filepath.Join(m.certDir, "cacerts", caKeyFilename)
}

func (m *Manager) orgName() string {
	if m.tenantID != "" {
		return m.tenantID
	}
	return "Forest"
}

// Setup ensures a CA exists and, if the server certificate is missing
// or doesn't cover serverName/hostNames, (re)issues it.
func (m *Manager) Setup(serverName string, hostNames []string) error {
	if err := m.EnsureCAExists(); err != nil {
		return err
	}

	valid, err := m.IsServerCertValid(serverName, hostNames)
	if err != nil {
		return err
	}
	if valid {
		return nil
	}

	serverKey, err := m.loadOrGenerateServerKey()
	if err != nil {
		return apperr.Cert("Setup", err)
	}

	return m.createServerCertWithKey(serverName, hostNames, serverKey)
}

func (m *Manager) loadOrGenerateServerKey() (*rsa.PrivateKey, error) {
	if _, err := os.Stat(m.filePath(serverKeyFilename)); err == nil {
		return loadPrivateKey(m.filePath(serverKeyFilename))
	}
	return generatePrivateKey()
}

func generatePrivateKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, rsaKeyBits)
}

// CAExists reports whether both the CA certificate and key are present.
func (m *Manager) CAExists() bool {
	_, certErr := os.Stat(m.caCertPath())
	_, keyErr := os.Stat(m.caKeyPath())
	return certErr == nil && keyErr == nil
}

// EnsureCAExists creates the CA (key + self-signed certificate) if it
// does not already exist. If only the key is present, a certificate is
// reissued from it.
func (m *Manager) EnsureCAExists() error {
	if m.CAExists() {
		return nil
	}

	if _, err := os.Stat(m.caKeyPath()); err == nil {
		key, err := loadPrivateKey(m.caKeyPath())
		if err != nil {
			return apperr.Cert("EnsureCAExists", err)
		}
		return m.createCA(key)
	}

	key, err := generatePrivateKey()
	if err != nil {
		return apperr.Cert("EnsureCAExists", err)
	}
	return m.createCA(key)
}

// createCA self-signs a new CA certificate with caKey and backs up any
// existing CA certificate to a ".bak" file before overwriting it.
func (m *Manager) createCA(caKey *rsa.PrivateKey) error {
	serial, err := randomSerial()
	if err != nil {
		return apperr.Cert("createCA", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "Forest CA",
			Organization: []string{m.orgName()},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &caKey.PublicKey, caKey)
	if err != nil {
		return apperr.Cert("createCA", err)
	}

	backupIfExists(m.caCertPath())

	if err := writeKeyPEM(m.caKeyPath(), caKey); err != nil {
		return apperr.Cert("createCA", err)
	}
	if err := writeCertPEM(m.caCertPath(), der); err != nil {
		return apperr.Cert("createCA", err)
	}
	return nil
}

// SaveCustomCA installs an externally provided CA certificate,
// backing up the previous one if present. The CA key is left
// untouched, matching the original's "bring your own CA cert" escape
// hatch.
func (m *Manager) SaveCustomCA(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return apperr.Validation("SaveCustomCA", errors.New("no PEM block found"))
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return apperr.Validation("SaveCustomCA", err)
	}

	backupIfExists(m.caCertPath())
	return os.WriteFile(m.caCertPath(), pemBytes, 0o644)
}

// GetCACertPEM returns the CA certificate in PEM form.
func (m *Manager) GetCACertPEM() (string, error) {
	data, err := os.ReadFile(m.caCertPath())
	if err != nil {
		return "", apperr.Cert("GetCACertPEM", err)
	}
	return string(data), nil
}

// CreateClientCert issues a new client certificate signed by the CA for
// clientName, ensuring the CA exists first.
func (m *Manager) CreateClientCert(clientName string) (CertificateData, error) {
	if err := m.EnsureCAExists(); err != nil {
		return CertificateData{}, err
	}

	caKey, err := loadPrivateKey(m.caKeyPath())
	if err != nil {
		return CertificateData{}, apperr.Cert("CreateClientCert", err)
	}
	caCert, err := loadCertificate(m.caCertPath())
	if err != nil {
		return CertificateData{}, apperr.Cert("CreateClientCert", err)
	}

	clientKey, err := generatePrivateKey()
	if err != nil {
		return CertificateData{}, apperr.Cert("CreateClientCert", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return CertificateData{}, apperr.Cert("CreateClientCert", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   clientName,
			Organization: []string{m.orgName()},
		},
		NotBefore:          time.Now(),
		NotAfter:           time.Now().Add(clientValidity),
		KeyUsage:           x509.KeyUsageDigitalSignature,
		ExtKeyUsage:        []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &clientKey.PublicKey, caKey)
	if err != nil {
		return CertificateData{}, apperr.Cert("CreateClientCert", err)
	}

	certFilename := clientName + "-cert.pem"
	keyFilename := clientName + "-key.pem"

	if err := writeKeyPEM(m.filePath(keyFilename), clientKey); err != nil {
		return CertificateData{}, apperr.Cert("CreateClientCert", err)
	}
	if err := writeCertPEM(m.filePath(certFilename), der); err != nil {
		return CertificateData{}, apperr.Cert("CreateClientCert", err)
	}

	return CertificateData{
		Cert: string(pemEncodeCert(der)),
		Key:  string(pemEncodeKey(clientKey)),
	}, nil
}

// IsServerCertValid reports whether the stored server certificate
// exists, has CommonName == serverName, and lists every entry of
// hostNames among its DNS Subject Alternative Names.
func (m *Manager) IsServerCertValid(serverName string, hostNames []string) (bool, error) {
	certPath := m.filePath(serverCertFilename)
	keyPath := m.filePath(serverKeyFilename)

	if _, err := os.Stat(certPath); err != nil {
		return false, nil
	}
	if _, err := os.Stat(keyPath); err != nil {
		return false, nil
	}

	cert, err := loadCertificate(certPath)
	if err != nil {
		return false, apperr.Cert("IsServerCertValid", err)
	}

	if cert.Subject.CommonName != serverName {
		return false, nil
	}

	have := make(map[string]bool, len(cert.DNSNames))
	for _, n := range cert.DNSNames {
		have[n] = true
	}
	for _, want := range hostNames {
		if !have[want] {
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) createServerCertWithKey(serverName string, hostNames []string, serverKey *rsa.PrivateKey) error {
	caKey, err := loadPrivateKey(m.caKeyPath())
	if err != nil {
		return apperr.Cert("createServerCertWithKey", fmt.Errorf("load CA key: %w", err))
	}
	caCert, err := loadCertificate(m.caCertPath())
	if err != nil {
		return apperr.Cert("createServerCertWithKey", fmt.Errorf("load CA cert: %w", err))
	}

	serial, err := randomSerial()
	if err != nil {
		return apperr.Cert("createServerCertWithKey", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   serverName,
			Organization: []string{m.orgName()},
		},
		NotBefore:          time.Now(),
		NotAfter:           time.Now().Add(serverValidity),
		KeyUsage:           x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:        []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:           hostNames,
		SignatureAlgorithm: x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &serverKey.PublicKey, caKey)
	if err != nil {
		return apperr.Cert("createServerCertWithKey", err)
	}

	if err := writeKeyPEM(m.filePath(serverKeyFilename), serverKey); err != nil {
		return apperr.Cert("createServerCertWithKey", err)
	}
	if err := writeCertPEM(m.filePath(serverCertFilename), der); err != nil {
		return apperr.Cert("createServerCertWithKey", err)
	}
	return nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

func backupIfExists(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	os.WriteFile(path+".bak", data, 0o644)
}

func pemEncodeCert(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func pemEncodeKey(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func writeCertPEM(path string, der []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, pemEncodeCert(der), 0o644)
}

func writeKeyPEM(path string, key *rsa.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, pemEncodeKey(key), 0o600)
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("certs: no PEM block in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certs: parse key %s: %w", path, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("certs: key %s is not RSA", path)
	}
	return rsaKey, nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("certs: no PEM block in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}
