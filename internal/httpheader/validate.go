// Package httpheader validates HTTP header field names and values before a
// configuration is trusted, so bad headers fail fast instead of failing at
// forward time.
package httpheader

// ValidFieldName reports whether name is a valid HTTP header field name
// (RFC 9110 token syntax).
func ValidFieldName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isTokenByte(name[i]) {
			return false
		}
	}
	return true
}

func isTokenByte(b byte) bool {
	if b >= '0' && b <= '9' {
		return true
	}
	if b >= 'A' && b <= 'Z' {
		return true
	}
	if b >= 'a' && b <= 'z' {
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	default:
		return false
	}
}

// ValidFieldValue reports whether value is free of control characters other
// than horizontal tab. CR, LF and DEL are always rejected.
func ValidFieldValue(value string) bool {
	for i := 0; i < len(value); i++ {
		b := value[i]
		if b == '\r' || b == '\n' || b == 0x7f {
			return false
		}
		if b < 0x20 && b != '\t' {
			return false
		}
	}
	return true
}
