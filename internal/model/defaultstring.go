// Package model holds the core data types shared across the platform:
// tenant and shadow identifiers, tenants, device credentials and
// metadata, and the richer device-information view served by the API.
package model

import (
	"encoding/json"
	"strings"
)

// DefaultString is either the sentinel "default" or a custom name. It
// backs both TenantId and ShadowName: both partition keys share the
// same case-insensitive "default" parsing and plain-string wire form.
type DefaultString struct {
	custom string
	isCustom bool
}

// Default is the zero-value DefaultString and compares equal to a
// DefaultString parsed from "default" (any case).
var Default = DefaultString{}

// NewDefaultString parses a raw partition-key string into a
// DefaultString. A case-insensitive match of "default" yields the
// Default sentinel; anything else is kept verbatim as a custom value.
func NewDefaultString(s string) DefaultString {
	if strings.EqualFold(s, "default") {
		return Default
	}
	return DefaultString{custom: s, isCustom: true}
}

// FromOption mirrors the original's from_option: an empty/absent
// pointer means Default.
func FromOption(s *string) DefaultString {
	if s == nil || *s == "" {
		return Default
	}
	return NewDefaultString(*s)
}

// String returns the wire/display form: "default" or the custom name.
func (d DefaultString) String() string {
	if !d.isCustom {
		return "default"
	}
	return d.custom
}

// IsDefault reports whether d is the Default sentinel.
func (d DefaultString) IsDefault() bool { return !d.isCustom }

func (d DefaultString) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DefaultString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*d = NewDefaultString(s)
	return nil
}

// TenantId partitions all tenant-scoped entities.
type TenantId = DefaultString

// ShadowName allows multiple named shadows per device.
type ShadowName = DefaultString
