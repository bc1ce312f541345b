package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/portierproxy/portier/internal/configstore"
	"github.com/portierproxy/portier/internal/gateway"
)

func newTestServer(t *testing.T, store configstore.Store, secrets map[string]string) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(store, gateway.NewGlobalAuthLoader(store, secrets), secrets, logger)
}

// newBackend starts a TLS backend and points the forwarder's client at
// its certificate. Stored URLs must be https, so plain httptest
// servers cannot be used.
func newBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	backend := httptest.NewTLSServer(handler)
	t.Cleanup(backend.Close)
	return backend
}

func putConfig(t *testing.T, store configstore.Store, key string, cfg map[string]any) {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := store.Put(context.Background(), key, raw); err != nil {
		t.Fatalf("put config: %v", err)
	}
}

func doRequest(t *testing.T, srv *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestServer_RouteUnresolved(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	srv := newTestServer(t, configstore.NewMemoryStore(), nil)

	for _, target := range []string{"/", "//double/x"} {
		rec := doRequest(t, srv, http.MethodGet, target, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", target, rec.Code)
		}
	}
}

func TestServer_UnknownServerKey(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	srv := newTestServer(t, configstore.NewMemoryStore(), nil)

	rec := doRequest(t, srv, http.MethodGet, "/nope/users", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "not found" {
		t.Fatalf("body = %q, want generic message", rec.Body.String())
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (json.RawMessage, bool, error) {
	return nil, false, fmt.Errorf("%w: connection refused", configstore.ErrStoreUnavailable)
}
func (failingStore) Put(context.Context, string, json.RawMessage) error { return nil }
func (failingStore) Close() error                                       { return nil }

func TestServer_StoreFailure(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	srv := newTestServer(t, failingStore{}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/users", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "internal server error" {
		t.Fatalf("body = %q, want generic message", rec.Body.String())
	}
}

func TestServer_MalformedStoredConfig(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	store := configstore.NewMemoryStore()
	if err := store.Put(context.Background(), "api", json.RawMessage(`{broken`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	srv := newTestServer(t, store, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/users", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestServer_MissingStrictSecret(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	store := configstore.NewMemoryStore()
	putConfig(t, store, "api", map[string]any{
		"url":         "https://api.example",
		"authEntries": []map[string]string{{"header": "X-Key", "value": "${MISSING}"}},
	})
	srv := newTestServer(t, store, map[string]string{})

	rec := doRequest(t, srv, http.MethodGet, "/api/users", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "MISSING") {
		t.Fatalf("response leaked config detail: %q", rec.Body.String())
	}
}

func TestServer_InvalidConfigScheme(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	store := configstore.NewMemoryStore()
	putConfig(t, store, "api", map[string]any{"url": "http://insecure.example"})
	srv := newTestServer(t, store, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/users", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestServer_MalformedGlobalAuthFailsClosed(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, `{not an array`)
	backendHit := false
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		backendHit = true
	})

	store := configstore.NewMemoryStore()
	putConfig(t, store, "api", map[string]any{"url": backend.URL})
	srv := newTestServer(t, store, nil)
	srv.Forwarder = &Forwarder{Client: backend.Client()}

	rec := doRequest(t, srv, http.MethodGet, "/api/users", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (never treated as no global auth)", rec.Code)
	}
	if backendHit {
		t.Fatal("backend must not be reached with an invalid global policy")
	}
}

func TestServer_ServerAuthAllowAndStrip(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	var gotAuth []string
	var gotAccept string
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Values("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	})

	store := configstore.NewMemoryStore()
	putConfig(t, store, "api", map[string]any{
		"url":         backend.URL,
		"authEntries": []map[string]string{{"header": "Authorization", "value": "Bearer t1"}},
	})
	srv := newTestServer(t, store, nil)
	srv.Forwarder = &Forwarder{Client: backend.Client()}

	rec := doRequest(t, srv, http.MethodGet, "/api/users", map[string]string{
		"Authorization": "Bearer t1",
		"Accept":        "application/json",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(gotAuth) != 0 {
		t.Fatalf("Authorization reached the backend: %v", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Fatalf("Accept = %q, other headers must pass through", gotAccept)
	}
}

func TestServer_GlobalAuthDenies(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, `[{"header":"X-Admin","value":"secret"}]`)
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be reached")
	})

	store := configstore.NewMemoryStore()
	putConfig(t, store, "api", map[string]any{"url": backend.URL})
	srv := newTestServer(t, store, nil)
	srv.Forwarder = &Forwarder{Client: backend.Client()}

	rec := doRequest(t, srv, http.MethodGet, "/api/users", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "unauthorized" {
		t.Fatalf("body = %q, want generic message", rec.Body.String())
	}
}

func TestServer_ServerFallbackAfterGlobalMiss(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, `[{"header":"X-Admin","value":"secret"}]`)
	var gotXAdmin, gotAuth string
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotXAdmin = r.Header.Get("X-Admin")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})

	store := configstore.NewMemoryStore()
	putConfig(t, store, "api", map[string]any{
		"url":         backend.URL,
		"authEntries": []map[string]string{{"header": "Authorization", "value": "Bearer t1"}},
	})

	var gotTier gateway.Tier
	srv := newTestServer(t, store, nil)
	srv.Forwarder = &Forwarder{Client: backend.Client()}
	srv.ObserveDecision = func(allowed bool, tier gateway.Tier) { gotTier = tier }

	rec := doRequest(t, srv, http.MethodGet, "/api/users", map[string]string{
		"Authorization": "Bearer t1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotTier != gateway.TierServer {
		t.Fatalf("tier = %q, want server", gotTier)
	}
	if gotXAdmin != "" || gotAuth != "" {
		t.Fatal("both tiers' auth headers must be stripped")
	}
}

func TestServer_ConfiguredHeaderWithMissingSecretForwardedLiterally(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	var gotToken string
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Token")
		w.WriteHeader(http.StatusOK)
	})

	store := configstore.NewMemoryStore()
	putConfig(t, store, "api", map[string]any{
		"url":     backend.URL,
		"headers": map[string]string{"X-Token": "${MISSING}"},
	})
	srv := newTestServer(t, store, map[string]string{})
	srv.Forwarder = &Forwarder{Client: backend.Client()}

	rec := doRequest(t, srv, http.MethodGet, "/api/users", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (non-strict fallback proceeds)", rec.Code)
	}
	if gotToken != "${MISSING}" {
		t.Fatalf("X-Token = %q, want literal placeholder", gotToken)
	}
}

func TestServer_PathAndQueryForwarded(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	var gotPath, gotQuery string
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	})

	store := configstore.NewMemoryStore()
	putConfig(t, store, "api", map[string]any{"url": backend.URL + "/v1"})
	srv := newTestServer(t, store, nil)
	srv.Forwarder = &Forwarder{Client: backend.Client()}

	rec := doRequest(t, srv, http.MethodGet, "/api/users/42?page=2&sort=asc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotPath != "/v1/users/42" {
		t.Fatalf("backend path = %q, want /v1/users/42", gotPath)
	}
	if gotQuery != "page=2&sort=asc" {
		t.Fatalf("backend query = %q", gotQuery)
	}
}

func TestServer_BackendResponsePassthrough(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	})

	store := configstore.NewMemoryStore()
	putConfig(t, store, "api", map[string]any{"url": backend.URL})
	srv := newTestServer(t, store, nil)
	srv.Forwarder = &Forwarder{Client: backend.Client()}

	rec := doRequest(t, srv, http.MethodGet, "/api/anything", nil)
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.Code)
	}
	if rec.Body.String() != "short and stout" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Backend") != "yes" {
		t.Fatal("backend response headers must pass through")
	}
}

func TestServer_HopByHopHeadersNotForwarded(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	var atBackend http.Header
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		atBackend = r.Header.Clone()
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusOK)
	})

	store := configstore.NewMemoryStore()
	putConfig(t, store, "api", map[string]any{"url": backend.URL})
	srv := newTestServer(t, store, nil)
	srv.Forwarder = &Forwarder{Client: backend.Client()}

	rec := doRequest(t, srv, http.MethodGet, "/api/users", map[string]string{
		"Proxy-Authorization": "Basic ZXhw",
		"Keep-Alive":          "timeout=5",
		"X-Request-Id":        "r1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	for _, name := range []string{"Proxy-Authorization", "Keep-Alive"} {
		if atBackend.Get(name) != "" {
			t.Fatalf("%s must not reach the backend, got %q", name, atBackend.Get(name))
		}
	}
	if atBackend.Get("X-Request-Id") != "r1" {
		t.Fatalf("X-Request-Id = %q, want r1", atBackend.Get("X-Request-Id"))
	}
	if rec.Header().Get("Keep-Alive") != "" {
		t.Fatal("backend Keep-Alive must not reach the client")
	}
	if rec.Header().Get("X-Backend") != "yes" {
		t.Fatal("end-to-end response headers must pass through")
	}
}

func TestCopyHeader_DropsHopByHopFields(t *testing.T) {
	src := http.Header{
		"Connection":   {"keep-alive"},
		"Keep-Alive":   {"timeout=5"},
		"X-Backend-Id": {"b1"},
	}
	dst := http.Header{}
	copyHeader(dst, src)
	if dst.Get("Connection") != "" || dst.Get("Keep-Alive") != "" {
		t.Fatalf("hop-by-hop response fields copied: %v", dst)
	}
	if dst.Get("X-Backend-Id") != "b1" {
		t.Fatalf("X-Backend-Id = %q, want b1", dst.Get("X-Backend-Id"))
	}
}

func TestServer_BackendUnreachable(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := backend.Client()
	url := backend.URL
	backend.Close()

	store := configstore.NewMemoryStore()
	putConfig(t, store, "api", map[string]any{"url": url})
	srv := newTestServer(t, store, nil)
	srv.Forwarder = &Forwarder{Client: client}

	rec := doRequest(t, srv, http.MethodGet, "/api/users", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "bad gateway" {
		t.Fatalf("body = %q, want generic message", rec.Body.String())
	}
}

func TestServer_ObserveFailureHook(t *testing.T) {
	t.Setenv(gateway.GlobalAuthEnvVar, "")
	var gotErr error
	var gotStatus int
	srv := newTestServer(t, configstore.NewMemoryStore(), nil)
	srv.ObserveFailure = func(err error, status int) { gotErr, gotStatus = err, status }

	doRequest(t, srv, http.MethodGet, "/missing/x", nil)
	if !errors.Is(gotErr, gateway.ErrServerNotFound) {
		t.Fatalf("observed err = %v, want ErrServerNotFound", gotErr)
	}
	if gotStatus != http.StatusNotFound {
		t.Fatalf("observed status = %d, want 404", gotStatus)
	}
}

func TestTargetURL(t *testing.T) {
	cases := []struct {
		base, pathname, query, want string
	}{
		{"https://api.example", "/users", "", "https://api.example/users"},
		{"https://api.example/", "/users", "", "https://api.example/users"},
		{"https://api.example/v1", "/users", "page=2", "https://api.example/v1/users?page=2"},
		{"https://api.example/v1/", "/", "", "https://api.example/v1/"},
	}
	for _, tc := range cases {
		if got := TargetURL(tc.base, tc.pathname, tc.query); got != tc.want {
			t.Fatalf("TargetURL(%q, %q, %q) = %q, want %q", tc.base, tc.pathname, tc.query, got, tc.want)
		}
	}
}
