package gateway

import (
	"net/http"
	"strings"
)

// connectionHeaders holds the RFC 9110 connection-specific fields. They
// describe a single hop and a proxy must not forward them in either
// direction.
var connectionHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"proxy-connection":    {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// IsConnectionHeader reports whether name is a hop-by-hop field that
// must stay on its own connection.
func IsConnectionHeader(name string) bool {
	_, ok := connectionHeaders[strings.ToLower(name)]
	return ok
}

// BuildOutboundHeaders computes the header set forwarded to a backend.
//
// Every header name used for authentication at either tier is stripped
// from the incoming set, regardless of which tier actually matched:
// either could have carried a credential and neither may reach the
// backend. Hop-by-hop fields are dropped as well. Remaining incoming
// headers are copied with their original casing and all values.
// Configured headers are then added, but only under names not already
// present case-insensitively, so incoming client headers always win
// over configured defaults.
func BuildOutboundHeaders(incoming http.Header, globalEntries, serverEntries []AuthEntry, configured map[string]string) http.Header {
	excluded := make(map[string]struct{}, len(globalEntries)+len(serverEntries))
	for _, entry := range globalEntries {
		excluded[strings.ToLower(entry.Header)] = struct{}{}
	}
	for _, entry := range serverEntries {
		excluded[strings.ToLower(entry.Header)] = struct{}{}
	}
	// Connection can name additional per-hop fields.
	for _, v := range incoming.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				excluded[strings.ToLower(tok)] = struct{}{}
			}
		}
	}

	out := make(http.Header, len(incoming)+len(configured))
	for name, values := range incoming {
		if _, drop := excluded[strings.ToLower(name)]; drop {
			continue
		}
		if IsConnectionHeader(name) {
			continue
		}
		out[name] = append([]string(nil), values...)
	}

	for name, value := range configured {
		if headerPresent(out, name) {
			continue
		}
		out[name] = append(out[name], value)
	}

	return out
}

func headerPresent(h http.Header, name string) bool {
	for existing := range h {
		if strings.EqualFold(existing, name) {
			return true
		}
	}
	return false
}
