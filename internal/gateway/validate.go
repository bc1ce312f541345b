package gateway

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/portierproxy/portier/internal/httpheader"
)

// ValidateConfig checks a processed configuration before it is
// trusted, stopping at the first failure. Either the whole
// configuration is accepted or the request fails closed before any
// auth check or forwarding happens.
func ValidateConfig(cfg ProcessedServerConfig) error {
	if err := validateTargetURL(cfg.URL); err != nil {
		return err
	}

	if cfg.LegacyAuthValue != "" {
		legacyHeader := cfg.LegacyAuthHeader
		if legacyHeader == "" {
			legacyHeader = defaultLegacyAuthHeader
		}
		if err := validateAuthEntry(AuthEntry{Header: legacyHeader, Value: cfg.LegacyAuthValue}); err != nil {
			return fmt.Errorf("legacy auth: %w", err)
		}
	}
	for i, entry := range cfg.AuthEntries {
		if err := validateAuthEntry(entry); err != nil {
			return fmt.Errorf("auth entry %d: %w", i, err)
		}
	}
	return nil
}

func validateTargetURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url does not parse: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("url must be absolute")
	}
	if u.Scheme != "https" {
		return fmt.Errorf("url scheme must be https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

func validateAuthEntry(entry AuthEntry) error {
	if entry.Header == "" {
		return fmt.Errorf("header name is required")
	}
	if !httpheader.ValidFieldName(entry.Header) {
		return fmt.Errorf("invalid header name %q", entry.Header)
	}
	if strings.TrimSpace(entry.Value) == "" {
		return fmt.Errorf("value for header %q is required", entry.Header)
	}
	if !httpheader.ValidFieldValue(entry.Value) {
		return fmt.Errorf("value for header %q contains control characters", entry.Header)
	}
	return nil
}
