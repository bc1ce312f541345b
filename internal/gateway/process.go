package gateway

import (
	"fmt"

	"github.com/portierproxy/portier/internal/secrets"
)

// ProcessConfig resolves ${NAME} placeholders in every value field of
// cfg against the given secret map.
//
// Values that participate in an authentication decision (the legacy
// auth value and each auth entry value) are resolved strictly: a
// missing secret is a hard error, because leaving the literal
// placeholder in place would make the requirement either impossible to
// satisfy or satisfiable by anyone who sends the placeholder text.
// The URL and the forwarded header values are resolved non-strictly:
// a missing secret leaves the literal text in place and forwarding
// continues. Header names are never interpolated.
func ProcessConfig(cfg ServerConfig, secretMap map[string]string) (ProcessedServerConfig, error) {
	out := ProcessedServerConfig{
		LegacyAuthHeader: cfg.LegacyAuthHeader,
	}

	url, err := secrets.Interpolate(cfg.URL, secretMap, false)
	if err != nil {
		return ProcessedServerConfig{}, fmt.Errorf("url: %w", err)
	}
	out.URL = url

	if len(cfg.Headers) > 0 {
		out.Headers = make(map[string]string, len(cfg.Headers))
		for name, value := range cfg.Headers {
			resolved, err := secrets.Interpolate(value, secretMap, false)
			if err != nil {
				return ProcessedServerConfig{}, fmt.Errorf("header %q: %w", name, err)
			}
			out.Headers[name] = resolved
		}
	}

	if cfg.LegacyAuthValue != "" {
		resolved, err := secrets.Interpolate(cfg.LegacyAuthValue, secretMap, true)
		if err != nil {
			return ProcessedServerConfig{}, fmt.Errorf("legacy auth value: %w", err)
		}
		out.LegacyAuthValue = resolved
	}

	if len(cfg.AuthEntries) > 0 {
		out.AuthEntries = make([]AuthEntry, 0, len(cfg.AuthEntries))
		for _, entry := range cfg.AuthEntries {
			resolved, err := secrets.Interpolate(entry.Value, secretMap, true)
			if err != nil {
				return ProcessedServerConfig{}, fmt.Errorf("auth entry %q: %w", entry.Header, err)
			}
			out.AuthEntries = append(out.AuthEntries, AuthEntry{Header: entry.Header, Value: resolved})
		}
	}

	return out, nil
}
