package gateway

import (
	"errors"
	"net/http"
)

// Failure taxonomy for the request pipeline. Every failure maps to a
// fixed status and a generic body; configuration values and secret
// values never appear in responses.
var (
	ErrRouteUnresolved    = errors.New("route unresolved")
	ErrServerNotFound     = errors.New("server not found")
	ErrConfigLoadFailure  = errors.New("config load failure")
	ErrGlobalAuthInvalid  = errors.New("global auth config invalid")
	ErrConfigInvalid      = errors.New("config invalid")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrBackendUnreachable = errors.New("backend unreachable")
)

// StatusFor maps a pipeline failure to its HTTP status. Anything
// outside the taxonomy is a 500. An invalid global auth policy is a
// 500 as well: it is never treated as "no global auth configured".
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrRouteUnresolved), errors.Is(err, ErrServerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBackendUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MessageFor returns the fixed response body for a pipeline failure.
func MessageFor(err error) string {
	switch StatusFor(err) {
	case http.StatusNotFound:
		return "not found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadGateway:
		return "bad gateway"
	default:
		return "internal server error"
	}
}
