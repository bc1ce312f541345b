package gateway

import "net/http"

// Tier names the authentication layer that produced an ALLOW decision.
type Tier string

const (
	TierNone   Tier = "none"
	TierGlobal Tier = "global"
	TierServer Tier = "server"
)

// Decision is the outcome of the two-tier authentication check.
type Decision struct {
	Allowed bool
	Tier    Tier
}

// Decide evaluates the two-tier authentication procedure.
//
// With no global entries configured, the per-server entries alone
// decide: an empty server list means nothing is required anywhere and
// the request is allowed with tier none.
//
// With global entries configured, a global match allows immediately
// and the server entries are never consulted. A global miss falls back
// to the server entries, but only when the server actually configures
// some: a backend with no auth requirements of its own does NOT fall
// open once a global policy exists, otherwise an under-configured
// backend would silently bypass an administrator's global lockdown.
func Decide(headers http.Header, globalEntries, serverEntries []AuthEntry) Decision {
	if len(globalEntries) == 0 {
		if len(serverEntries) == 0 {
			return Decision{Allowed: true, Tier: TierNone}
		}
		if anyMatch(serverEntries, headers) {
			return Decision{Allowed: true, Tier: TierServer}
		}
		return Decision{Allowed: false, Tier: TierNone}
	}

	if anyMatch(globalEntries, headers) {
		return Decision{Allowed: true, Tier: TierGlobal}
	}
	if len(serverEntries) > 0 && anyMatch(serverEntries, headers) {
		return Decision{Allowed: true, Tier: TierServer}
	}
	return Decision{Allowed: false, Tier: TierNone}
}

// anyMatch reports whether any entry's header is present in the
// request with exactly the expected value. Header names are compared
// case-insensitively via the canonical http.Header lookup; values are
// compared byte-for-byte against every value of a multi-valued header.
func anyMatch(entries []AuthEntry, headers http.Header) bool {
	for _, entry := range entries {
		for _, got := range headers.Values(entry.Header) {
			if got == entry.Value {
				return true
			}
		}
	}
	return false
}
