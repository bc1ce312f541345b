package app

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/portierproxy/portier/internal/gateway"
)

type runtimeMetrics struct {
	tracingEnabled           atomic.Int64
	tracingInitFailuresTotal atomic.Int64
	tracingExportErrorsTotal atomic.Int64

	requestsTotal      atomic.Int64
	allowedNoneTotal   atomic.Int64
	allowedGlobalTotal atomic.Int64
	allowedServerTotal atomic.Int64
	deniedTotal        atomic.Int64

	failureRouteUnresolvedTotal    atomic.Int64
	failureServerNotFoundTotal     atomic.Int64
	failureConfigLoadTotal         atomic.Int64
	failureGlobalAuthInvalidTotal  atomic.Int64
	failureConfigInvalidTotal      atomic.Int64
	failureBackendUnreachableTotal atomic.Int64
	failureInternalTotal           atomic.Int64

	backend2xxTotal   atomic.Int64
	backend3xxTotal   atomic.Int64
	backend4xxTotal   atomic.Int64
	backend5xxTotal   atomic.Int64
	backendOtherTotal atomic.Int64
}

func newRuntimeMetrics() *runtimeMetrics {
	return &runtimeMetrics{}
}

func (m *runtimeMetrics) setTracingEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.tracingEnabled.Store(1)
		return
	}
	m.tracingEnabled.Store(0)
}

func (m *runtimeMetrics) incTracingInitFailures() {
	if m == nil {
		return
	}
	m.tracingInitFailuresTotal.Add(1)
}

func (m *runtimeMetrics) incTracingExportErrors() {
	if m == nil {
		return
	}
	m.tracingExportErrorsTotal.Add(1)
}

func (m *runtimeMetrics) observeDecision(allowed bool, tier gateway.Tier) {
	if m == nil {
		return
	}
	m.requestsTotal.Add(1)
	if !allowed {
		m.deniedTotal.Add(1)
		return
	}
	switch tier {
	case gateway.TierGlobal:
		m.allowedGlobalTotal.Add(1)
	case gateway.TierServer:
		m.allowedServerTotal.Add(1)
	default:
		m.allowedNoneTotal.Add(1)
	}
}

func (m *runtimeMetrics) observeFailure(err error, _ int) {
	if m == nil {
		return
	}
	switch {
	case errors.Is(err, gateway.ErrRouteUnresolved):
		m.failureRouteUnresolvedTotal.Add(1)
	case errors.Is(err, gateway.ErrServerNotFound):
		m.failureServerNotFoundTotal.Add(1)
	case errors.Is(err, gateway.ErrConfigLoadFailure):
		m.failureConfigLoadTotal.Add(1)
	case errors.Is(err, gateway.ErrGlobalAuthInvalid):
		m.failureGlobalAuthInvalidTotal.Add(1)
	case errors.Is(err, gateway.ErrConfigInvalid):
		m.failureConfigInvalidTotal.Add(1)
	case errors.Is(err, gateway.ErrBackendUnreachable):
		m.failureBackendUnreachableTotal.Add(1)
	case errors.Is(err, gateway.ErrUnauthorized):
		// Counted through observeDecision.
	default:
		m.failureInternalTotal.Add(1)
	}
}

func (m *runtimeMetrics) observeBackendStatus(status int) {
	if m == nil {
		return
	}
	switch {
	case status >= 200 && status < 300:
		m.backend2xxTotal.Add(1)
	case status >= 300 && status < 400:
		m.backend3xxTotal.Add(1)
	case status >= 400 && status < 500:
		m.backend4xxTotal.Add(1)
	case status >= 500 && status < 600:
		m.backend5xxTotal.Add(1)
	default:
		m.backendOtherTotal.Add(1)
	}
}

func newMetricsHandler(version string, start time.Time, rm *runtimeMetrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprintf(w, "# HELP portier_up Whether the Portier process is up.\n")
		_, _ = fmt.Fprintf(w, "# TYPE portier_up gauge\n")
		_, _ = fmt.Fprintf(w, "portier_up 1\n")
		_, _ = fmt.Fprintf(w, "# HELP portier_build_info Build information.\n")
		_, _ = fmt.Fprintf(w, "# TYPE portier_build_info gauge\n")
		_, _ = fmt.Fprintf(w, "portier_build_info{version=%q} 1\n", version)
		_, _ = fmt.Fprintf(w, "# HELP portier_start_time_seconds Start time since unix epoch.\n")
		_, _ = fmt.Fprintf(w, "# TYPE portier_start_time_seconds gauge\n")
		_, _ = fmt.Fprintf(w, "portier_start_time_seconds %d\n", start.Unix())

		if rm == nil {
			return
		}

		_, _ = fmt.Fprintf(w, "# HELP portier_tracing_enabled Whether tracing is enabled.\n")
		_, _ = fmt.Fprintf(w, "# TYPE portier_tracing_enabled gauge\n")
		_, _ = fmt.Fprintf(w, "portier_tracing_enabled %d\n", rm.tracingEnabled.Load())
		_, _ = fmt.Fprintf(w, "# HELP portier_tracing_init_failures_total Total number of tracing initialization failures.\n")
		_, _ = fmt.Fprintf(w, "# TYPE portier_tracing_init_failures_total counter\n")
		_, _ = fmt.Fprintf(w, "portier_tracing_init_failures_total %d\n", rm.tracingInitFailuresTotal.Load())
		_, _ = fmt.Fprintf(w, "# HELP portier_tracing_export_errors_total Total number of tracing exporter errors reported by OpenTelemetry.\n")
		_, _ = fmt.Fprintf(w, "# TYPE portier_tracing_export_errors_total counter\n")
		_, _ = fmt.Fprintf(w, "portier_tracing_export_errors_total %d\n", rm.tracingExportErrorsTotal.Load())

		_, _ = fmt.Fprintf(w, "# HELP portier_requests_total Total number of requests that reached the authentication decision.\n")
		_, _ = fmt.Fprintf(w, "# TYPE portier_requests_total counter\n")
		_, _ = fmt.Fprintf(w, "portier_requests_total %d\n", rm.requestsTotal.Load())
		_, _ = fmt.Fprintf(w, "# HELP portier_requests_allowed_total Total number of allowed requests by deciding tier.\n")
		_, _ = fmt.Fprintf(w, "# TYPE portier_requests_allowed_total counter\n")
		_, _ = fmt.Fprintf(w, "portier_requests_allowed_total{tier=\"none\"} %d\n", rm.allowedNoneTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_requests_allowed_total{tier=\"global\"} %d\n", rm.allowedGlobalTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_requests_allowed_total{tier=\"server\"} %d\n", rm.allowedServerTotal.Load())
		_, _ = fmt.Fprintf(w, "# HELP portier_requests_denied_total Total number of denied requests.\n")
		_, _ = fmt.Fprintf(w, "# TYPE portier_requests_denied_total counter\n")
		_, _ = fmt.Fprintf(w, "portier_requests_denied_total %d\n", rm.deniedTotal.Load())

		_, _ = fmt.Fprintf(w, "# HELP portier_failures_total Total number of pipeline failures by kind.\n")
		_, _ = fmt.Fprintf(w, "# TYPE portier_failures_total counter\n")
		_, _ = fmt.Fprintf(w, "portier_failures_total{kind=\"route_unresolved\"} %d\n", rm.failureRouteUnresolvedTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_failures_total{kind=\"server_not_found\"} %d\n", rm.failureServerNotFoundTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_failures_total{kind=\"config_load\"} %d\n", rm.failureConfigLoadTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_failures_total{kind=\"global_auth_invalid\"} %d\n", rm.failureGlobalAuthInvalidTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_failures_total{kind=\"config_invalid\"} %d\n", rm.failureConfigInvalidTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_failures_total{kind=\"backend_unreachable\"} %d\n", rm.failureBackendUnreachableTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_failures_total{kind=\"internal\"} %d\n", rm.failureInternalTotal.Load())

		_, _ = fmt.Fprintf(w, "# HELP portier_backend_responses_total Total number of backend responses by status class.\n")
		_, _ = fmt.Fprintf(w, "# TYPE portier_backend_responses_total counter\n")
		_, _ = fmt.Fprintf(w, "portier_backend_responses_total{class=\"2xx\"} %d\n", rm.backend2xxTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_backend_responses_total{class=\"3xx\"} %d\n", rm.backend3xxTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_backend_responses_total{class=\"4xx\"} %d\n", rm.backend4xxTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_backend_responses_total{class=\"5xx\"} %d\n", rm.backend5xxTotal.Load())
		_, _ = fmt.Fprintf(w, "portier_backend_responses_total{class=\"other\"} %d\n", rm.backendOtherTotal.Load())
	})
}
