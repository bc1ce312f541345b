// Package gateway implements the request-authorization and
// header-transformation pipeline: secret interpolation of server
// configuration, merging of legacy and modern auth fields, the
// two-tier (global + per-server) authentication decision, and the
// header rules applied to requests that pass it.
package gateway

import (
	"bytes"
	"encoding/json"
)

// defaultLegacyAuthHeader is the header name used for the legacy
// single-value auth field when legacyAuthHeader is not set.
const defaultLegacyAuthHeader = "Authorization"

// AuthEntry is one authentication requirement: a request satisfies it
// when the named header is present (name compared case-insensitively)
// with exactly the expected value (compared byte-for-byte).
type AuthEntry struct {
	Header string `json:"header"`
	Value  string `json:"value"`
}

// ServerConfig is the stored shape of one backend's configuration.
// LegacyAuthValue/LegacyAuthHeader predate AuthEntries and are kept
// for configs written before the list form existed.
type ServerConfig struct {
	URL              string            `json:"url"`
	Headers          map[string]string `json:"headers,omitempty"`
	LegacyAuthValue  string            `json:"legacyAuthValue,omitempty"`
	LegacyAuthHeader string            `json:"legacyAuthHeader,omitempty"`
	AuthEntries      []AuthEntry       `json:"authEntries,omitempty"`
}

// ProcessedServerConfig is a ServerConfig whose value fields have been
// passed through secret interpolation. Only this form is handed to the
// validator, merger, and checker.
type ProcessedServerConfig struct {
	URL              string
	Headers          map[string]string
	LegacyAuthValue  string
	LegacyAuthHeader string
	AuthEntries      []AuthEntry
}

// ParseServerConfig decodes a raw stored record into a ServerConfig.
// Unknown fields are rejected so typos in stored configs surface as
// errors instead of silently disabling auth requirements.
func ParseServerConfig(raw json.RawMessage) (ServerConfig, error) {
	var cfg ServerConfig
	if err := unmarshalStrict(raw, &cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func unmarshalStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
