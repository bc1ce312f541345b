package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/portierproxy/portier/internal/configstore"
	"github.com/portierproxy/portier/internal/secrets"
)

const (
	// GlobalAuthEnvVar overrides the store-backed global auth policy.
	GlobalAuthEnvVar = "GLOBAL_AUTH_CONFIGS"
	// GlobalAuthStoreKey is the reserved store record consulted when
	// the environment variable is absent.
	GlobalAuthStoreKey = "__global_auth_configs__"
)

// GlobalAuthLoader resolves the process-wide authentication policy: a
// JSON array of auth entries read from GLOBAL_AUTH_CONFIGS, falling
// back to a reserved store record when the variable is unset.
//
// The environment binding is immutable for the process lifetime, so
// its parse is memoized; the store fallback is read fresh per request.
// A malformed policy from either source is a hard error and is never
// treated as "no global auth configured".
type GlobalAuthLoader struct {
	store     configstore.Store
	secretMap map[string]string

	envOnce    sync.Once
	envEntries []AuthEntry
	envSet     bool
	envErr     error
}

func NewGlobalAuthLoader(store configstore.Store, secretMap map[string]string) *GlobalAuthLoader {
	return &GlobalAuthLoader{store: store, secretMap: secretMap}
}

// Load returns the effective global auth entries. An empty list means
// no global policy is configured.
func (l *GlobalAuthLoader) Load(ctx context.Context) ([]AuthEntry, error) {
	l.envOnce.Do(func() {
		raw := strings.TrimSpace(os.Getenv(GlobalAuthEnvVar))
		if raw == "" {
			return
		}
		l.envSet = true
		l.envEntries, l.envErr = l.parseEntries([]byte(raw), GlobalAuthEnvVar)
	})
	if l.envSet {
		return l.envEntries, l.envErr
	}

	if l.store == nil {
		return nil, nil
	}
	raw, ok, err := l.store.Get(ctx, GlobalAuthStoreKey)
	if err != nil {
		return nil, fmt.Errorf("%w: global auth record: %v", ErrConfigLoadFailure, err)
	}
	if !ok {
		return nil, nil
	}
	return l.parseEntries(raw, GlobalAuthStoreKey)
}

func (l *GlobalAuthLoader) parseEntries(raw []byte, source string) ([]AuthEntry, error) {
	return ParseGlobalAuthEntries(raw, source, l.secretMap)
}

// ParseGlobalAuthEntries decodes a global auth policy record: a JSON
// array of auth entries whose values are strict-interpolated and then
// validated. Every defect maps to ErrGlobalAuthInvalid so that tools
// checking a record offline reject exactly what the loader rejects at
// runtime.
func ParseGlobalAuthEntries(raw []byte, source string, secretMap map[string]string) ([]AuthEntry, error) {
	var parsed []AuthEntry
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %s does not parse as an auth entry array", ErrGlobalAuthInvalid, source)
	}

	entries := make([]AuthEntry, 0, len(parsed))
	for i, entry := range parsed {
		value, err := secrets.Interpolate(entry.Value, secretMap, true)
		if err != nil {
			return nil, fmt.Errorf("%w: %s entry %d: %v", ErrGlobalAuthInvalid, source, i, err)
		}
		resolved := AuthEntry{Header: entry.Header, Value: value}
		if err := validateAuthEntry(resolved); err != nil {
			return nil, fmt.Errorf("%w: %s entry %d: %v", ErrGlobalAuthInvalid, source, i, err)
		}
		entries = append(entries, resolved)
	}
	return entries, nil
}
