package gateway

import "strings"

// MergeAuthEntries normalizes a server's legacy single-header auth
// fields and its modern auth entry list into one ordered list.
//
// The modern entries come first, in their configured order. A legacy
// value is appended under its effective header name (legacyAuthHeader,
// defaulting to Authorization) unless a modern entry already uses that
// name, compared case-insensitively, in which case the legacy value is
// dropped entirely and plays no further role.
func MergeAuthEntries(cfg ProcessedServerConfig) []AuthEntry {
	merged := make([]AuthEntry, 0, len(cfg.AuthEntries)+1)
	merged = append(merged, cfg.AuthEntries...)

	if cfg.LegacyAuthValue == "" {
		return merged
	}

	legacyHeader := cfg.LegacyAuthHeader
	if legacyHeader == "" {
		legacyHeader = defaultLegacyAuthHeader
	}
	for _, entry := range merged {
		if strings.EqualFold(entry.Header, legacyHeader) {
			return merged
		}
	}
	return append(merged, AuthEntry{Header: legacyHeader, Value: cfg.LegacyAuthValue})
}
