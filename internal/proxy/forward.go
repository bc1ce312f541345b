package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/portierproxy/portier/internal/gateway"
)

// Forwarder performs the outbound backend call. No retries, no
// backoff, no timeout of its own: cancellation of the inbound request
// propagates through the context.
type Forwarder struct {
	Client *http.Client
}

func NewForwarder() *Forwarder {
	return &Forwarder{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				// Redirects pass through to the client untouched.
				return http.ErrUseLastResponse
			},
		},
	}
}

// TargetURL joins a configured base URL with the request's remaining
// path and query string.
func TargetURL(baseURL, pathname, rawQuery string) string {
	target := strings.TrimRight(baseURL, "/") + pathname
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Forward sends the request to the backend and returns its response.
// The caller owns the response body. A transport failure maps to
// ErrBackendUnreachable.
func (f *Forwarder) Forward(ctx context.Context, method, targetURL string, headers http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, targetURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrConfigInvalid, err)
	}
	req.Header = headers

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrBackendUnreachable, err)
	}
	return resp, nil
}
