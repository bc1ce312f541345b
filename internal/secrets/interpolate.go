// Package secrets resolves ${NAME} placeholders in configuration values
// against an explicit secret map.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrMissingSecret = errors.New("missing secret")

// Interpolate resolves every ${NAME} placeholder in value against the
// provided secret map in a single left-to-right pass. Resolved values are
// inserted literally and never re-expanded, so a secret containing ${...}
// cannot trigger recursive expansion.
//
// Name matching is case-sensitive. NAME is limited to [A-Za-z0-9_-]+; a
// dollar-brace sequence with any other content is not a placeholder and is
// copied through unchanged.
//
// In strict mode a reference to an absent secret returns ErrMissingSecret.
// In non-strict mode the literal ${NAME} text is kept; this is the intended
// fallback for values that do not participate in authentication decisions.
func Interpolate(value string, secrets map[string]string, strict bool) (string, error) {
	var out strings.Builder
	out.Grow(len(value))

	for i := 0; i < len(value); {
		if !strings.HasPrefix(value[i:], "${") {
			out.WriteByte(value[i])
			i++
			continue
		}

		end := strings.IndexByte(value[i+2:], '}')
		if end == -1 {
			out.WriteString(value[i:])
			break
		}
		name := value[i+2 : i+2+end]
		if !validSecretName(name) {
			out.WriteString(value[i : i+2+end+1])
			i += 2 + end + 1
			continue
		}

		resolved, ok := secrets[name]
		if !ok {
			if strict {
				return "", fmt.Errorf("%w: %q", ErrMissingSecret, name)
			}
			out.WriteString(value[i : i+2+end+1])
			i += 2 + end + 1
			continue
		}
		out.WriteString(resolved)
		i += 2 + end + 1
	}

	return out.String(), nil
}

func validSecretName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		b := name[i]
		switch {
		case b >= 'a' && b <= 'z':
		case b >= 'A' && b <= 'Z':
		case b >= '0' && b <= '9':
		case b == '_' || b == '-':
		default:
			return false
		}
	}
	return true
}

// Snapshot captures the process environment as a secret map. The snapshot is
// taken once at startup and passed explicitly so the pipeline never reads
// ambient global state.
func Snapshot() map[string]string {
	environ := os.Environ()
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		out[key] = val
	}
	return out
}
