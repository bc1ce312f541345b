// Package proxy wires the authorization pipeline into an HTTP handler:
// route resolution, config load, secret interpolation, validation,
// auth merge, the two-tier decision, header rewriting, and the
// backend call.
package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/portierproxy/portier/internal/configstore"
	"github.com/portierproxy/portier/internal/gateway"
	"github.com/portierproxy/portier/internal/router"
)

type Server struct {
	Store      configstore.Store
	GlobalAuth *gateway.GlobalAuthLoader
	Secrets    map[string]string
	Forwarder  *Forwarder
	Logger     *slog.Logger

	// Observation hooks; nil hooks are skipped.
	ObserveDecision      func(allowed bool, tier gateway.Tier)
	ObserveFailure       func(err error, status int)
	ObserveBackendStatus func(status int)
}

func NewServer(store configstore.Store, globalAuth *gateway.GlobalAuthLoader, secrets map[string]string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Store:      store,
		GlobalAuth: globalAuth,
		Secrets:    secrets,
		Forwarder:  NewForwarder(),
		Logger:     logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rc, ok := router.Split(r)
	if !ok {
		s.fail(w, "", gateway.ErrRouteUnresolved)
		return
	}

	raw, found, err := s.Store.Get(ctx, rc.ServerKey)
	if err != nil {
		s.fail(w, rc.ServerKey, fmt.Errorf("%w: %v", gateway.ErrConfigLoadFailure, err))
		return
	}
	if !found {
		s.fail(w, rc.ServerKey, gateway.ErrServerNotFound)
		return
	}

	cfg, err := gateway.ParseServerConfig(raw)
	if err != nil {
		s.fail(w, rc.ServerKey, fmt.Errorf("%w: parse: %v", gateway.ErrConfigInvalid, err))
		return
	}
	processed, err := gateway.ProcessConfig(cfg, s.Secrets)
	if err != nil {
		s.fail(w, rc.ServerKey, fmt.Errorf("%w: %v", gateway.ErrConfigInvalid, err))
		return
	}
	if err := gateway.ValidateConfig(processed); err != nil {
		s.fail(w, rc.ServerKey, fmt.Errorf("%w: %v", gateway.ErrConfigInvalid, err))
		return
	}

	serverEntries := gateway.MergeAuthEntries(processed)
	globalEntries, err := s.GlobalAuth.Load(ctx)
	if err != nil {
		s.fail(w, rc.ServerKey, err)
		return
	}

	decision := gateway.Decide(r.Header, globalEntries, serverEntries)
	if s.ObserveDecision != nil {
		s.ObserveDecision(decision.Allowed, decision.Tier)
	}
	if !decision.Allowed {
		s.Logger.Info("request denied",
			"server", rc.ServerKey,
			"checked_headers", checkedHeaderNames(globalEntries, serverEntries))
		s.fail(w, rc.ServerKey, gateway.ErrUnauthorized)
		return
	}

	outbound := gateway.BuildOutboundHeaders(r.Header, globalEntries, serverEntries, processed.Headers)
	target := TargetURL(processed.URL, rc.Pathname, r.URL.RawQuery)

	resp, err := s.Forwarder.Forward(ctx, r.Method, target, outbound, r.Body)
	if err != nil {
		s.fail(w, rc.ServerKey, err)
		return
	}
	defer resp.Body.Close()

	if s.ObserveBackendStatus != nil {
		s.ObserveBackendStatus(resp.StatusCode)
	}
	s.Logger.Debug("request forwarded",
		"server", rc.ServerKey,
		"tier", string(decision.Tier),
		"backend_status", resp.StatusCode)

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.Logger.Warn("response copy aborted", "server", rc.ServerKey, "error", err)
	}
}

// fail writes the fixed generic body for err. Internal context is
// logged; configuration and secret values never reach the response.
func (s *Server) fail(w http.ResponseWriter, serverKey string, err error) {
	status := gateway.StatusFor(err)
	if s.ObserveFailure != nil {
		s.ObserveFailure(err, status)
	}
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", "server", serverKey, "status", status, "error", err)
	} else {
		s.Logger.Info("request rejected", "server", serverKey, "status", status)
	}
	http.Error(w, gateway.MessageFor(err), status)
}

func checkedHeaderNames(globalEntries, serverEntries []gateway.AuthEntry) []string {
	names := make([]string, 0, len(globalEntries)+len(serverEntries))
	for _, e := range globalEntries {
		names = append(names, e.Header)
	}
	for _, e := range serverEntries {
		names = append(names, e.Header)
	}
	return names
}

// copyHeader copies backend response headers to the client, leaving
// out the hop-by-hop fields that belong to the backend connection.
func copyHeader(dst, src http.Header) {
	for name, values := range src {
		if gateway.IsConnectionHeader(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
