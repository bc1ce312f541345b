// Package router resolves the downstream server key from a request path.
package router

import (
	"net/http"
	"strings"
)

// RequestContext carries the routing facts derived from one inbound request.
type RequestContext struct {
	// ServerKey is the first path segment and selects the downstream server.
	ServerKey string
	// Pathname is the remainder of the path forwarded to the backend; it
	// always starts with "/".
	Pathname string
	// OriginalURL is the unmodified request URI, kept for logging.
	OriginalURL string
}

// Split derives the RequestContext from an inbound request. It reports false
// when the path contains no server key segment, which callers must map to a
// route-unresolved error.
func Split(r *http.Request) (RequestContext, bool) {
	return SplitPath(r.URL.Path, r.URL.RequestURI())
}

// SplitPath is the pure form of Split for callers that already hold the path.
func SplitPath(requestPath, originalURL string) (RequestContext, bool) {
	trimmed := strings.TrimPrefix(requestPath, "/")
	if trimmed == "" {
		return RequestContext{}, false
	}

	key, rest, found := strings.Cut(trimmed, "/")
	if key == "" {
		return RequestContext{}, false
	}

	pathname := "/"
	if found {
		pathname = "/" + rest
	}
	return RequestContext{
		ServerKey:   key,
		Pathname:    pathname,
		OriginalURL: originalURL,
	}, true
}
