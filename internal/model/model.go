package model

import "time"

// AuthConfig gates how a tenant's devices may authenticate at connect
// time. Defaults favor certificates over passwords.
type AuthConfig struct {
	AllowPasswords    bool `json:"allow_passwords" db:"allow_passwords"`
	AllowCertificates bool `json:"allow_certificates" db:"allow_certificates"`
}

// DefaultAuthConfig returns the spec defaults: passwords disabled,
// certificates enabled.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{AllowPasswords: false, AllowCertificates: true}
}

// Tenant is a logical partition owning devices, credentials, shadows,
// and data configs. Read on every auth attempt; never mutated
// implicitly once created.
type Tenant struct {
	TenantID   TenantId   `json:"tenant_id"`
	AuthConfig AuthConfig `json:"auth_config"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewTenant builds a Tenant with the default auth policy.
func NewTenant(id TenantId) Tenant {
	return Tenant{TenantID: id, AuthConfig: DefaultAuthConfig(), CreatedAt: time.Now().UTC()}
}

// DeviceCredential is one (tenant, device, username) password
// credential. Multiple credentials per device are allowed.
type DeviceCredential struct {
	TenantID     TenantId  `json:"tenant_id"`
	DeviceID     string    `json:"device_id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// DeviceMetadata records a provisioned device's identity and, when
// provisioned with a client certificate, the PEM material issued to it.
type DeviceMetadata struct {
	DeviceID    string    `json:"device_id"`
	TenantID    TenantId  `json:"tenant_id"`
	Certificate *string   `json:"certificate,omitempty"`
	Key         *string   `json:"key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewDeviceMetadata builds bare metadata with no issued credentials yet.
func NewDeviceMetadata(deviceID string, tenantID TenantId) DeviceMetadata {
	return DeviceMetadata{DeviceID: deviceID, TenantID: tenantID, CreatedAt: time.Now().UTC()}
}

// WithCredentials attaches issued certificate/key PEM to the metadata.
func (m DeviceMetadata) WithCredentials(certPEM, keyPEM string) DeviceMetadata {
	m.Certificate = &certPEM
	m.Key = &keyPEM
	return m
}

// MinuteRate is a single minute's observed inbound MQTT message rate,
// used to populate DeviceInformation.PastMinuteRates.
type MinuteRate struct {
	Timestamp        time.Time `json:"timestamp"`
	MQTTMessageRateIn uint32   `json:"mqtt_message_rate_in"`
}

// DeviceInformation combines persisted metadata with live connection
// state and the shadow's last-updated timestamp, for the device-info
// API endpoint. Supplements spec.md's terse device model with the
// fields original_source/src/models.rs actually carries.
type DeviceInformation struct {
	DeviceID         string       `json:"device_id"`
	TenantID         TenantId     `json:"tenant_id"`
	Certificate      *string      `json:"certificate,omitempty"`
	Connected        bool         `json:"connected"`
	PastMinuteRates  []MinuteRate `json:"past_minute_rates,omitempty"`
	LastShadowUpdate *time.Time   `json:"last_shadow_update,omitempty"`
}
