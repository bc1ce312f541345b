package gateway

import (
	"net/http"
	"reflect"
	"testing"
)

func TestBuildOutboundHeaders_StripsBothTiers(t *testing.T) {
	incoming := headersWith(
		"Authorization", "Bearer t1",
		"X-Admin", "secret",
		"Accept", "application/json",
	)
	global := []AuthEntry{{Header: "X-Admin", Value: "secret"}}
	server := []AuthEntry{{Header: "Authorization", Value: "Bearer t1"}}

	out := BuildOutboundHeaders(incoming, global, server, nil)
	if out.Get("Authorization") != "" {
		t.Fatal("Authorization must be stripped")
	}
	if out.Get("X-Admin") != "" {
		t.Fatal("X-Admin must be stripped even though the server tier matched")
	}
	if out.Get("Accept") != "application/json" {
		t.Fatalf("Accept = %q, want application/json", out.Get("Accept"))
	}
}

func TestBuildOutboundHeaders_StripIsCaseInsensitive(t *testing.T) {
	incoming := http.Header{"X-API-KEY": {"k1"}}
	server := []AuthEntry{{Header: "x-api-key", Value: "k1"}}

	out := BuildOutboundHeaders(incoming, nil, server, nil)
	if len(out) != 0 {
		t.Fatalf("expected empty outbound set, got %v", out)
	}
}

func TestBuildOutboundHeaders_PreservesCasingAndMultiValues(t *testing.T) {
	incoming := http.Header{"X-Custom-THING": {"one", "two"}}

	out := BuildOutboundHeaders(incoming, nil, nil, nil)
	got, ok := out["X-Custom-THING"]
	if !ok {
		t.Fatalf("original casing lost: %v", out)
	}
	if !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Fatalf("values = %v, want [one two]", got)
	}
}

func TestBuildOutboundHeaders_ConfiguredDoesNotOverwriteIncoming(t *testing.T) {
	incoming := headersWith("X-Env", "from-client")
	configured := map[string]string{"X-Env": "from-config", "X-Extra": "added"}

	out := BuildOutboundHeaders(incoming, nil, nil, configured)
	if got := out.Get("X-Env"); got != "from-client" {
		t.Fatalf("X-Env = %q, incoming header must win", got)
	}
	if got := out.Get("X-Extra"); got != "added" {
		t.Fatalf("X-Extra = %q, want added", got)
	}
}

func TestBuildOutboundHeaders_ConfiguredAbsenceCheckIsCaseInsensitive(t *testing.T) {
	incoming := headersWith("X-Env", "from-client")
	configured := map[string]string{"x-env": "from-config"}

	out := BuildOutboundHeaders(incoming, nil, nil, configured)
	if len(out["X-Env"]) != 1 || out.Get("X-Env") != "from-client" {
		t.Fatalf("configured x-env must not be added alongside X-Env: %v", out)
	}
}

func TestBuildOutboundHeaders_ConfiguredAuthorizationAfterStrip(t *testing.T) {
	// The client's Authorization is an auth header and gets stripped,
	// which frees the name for the configured default.
	incoming := headersWith("Authorization", "Bearer t1")
	server := []AuthEntry{{Header: "Authorization", Value: "Bearer t1"}}
	configured := map[string]string{"Authorization": "Bearer backend-token"}

	out := BuildOutboundHeaders(incoming, nil, server, configured)
	if got := out["Authorization"]; len(got) != 1 || got[0] != "Bearer backend-token" {
		t.Fatalf("Authorization = %v, want configured backend token", got)
	}
}

func TestBuildOutboundHeaders_DropsHopByHopFields(t *testing.T) {
	incoming := headersWith(
		"Connection", "keep-alive",
		"Keep-Alive", "timeout=5",
		"Proxy-Authorization", "Basic ZXhw",
		"Upgrade", "websocket",
		"TE", "trailers",
		"Accept", "application/json",
	)

	out := BuildOutboundHeaders(incoming, nil, nil, nil)
	for _, name := range []string{"Connection", "Keep-Alive", "Proxy-Authorization", "Upgrade", "TE"} {
		if out.Get(name) != "" {
			t.Fatalf("%s must not be forwarded, got %q", name, out.Get(name))
		}
	}
	if out.Get("Accept") != "application/json" {
		t.Fatalf("Accept = %q, want application/json", out.Get("Accept"))
	}
}

func TestBuildOutboundHeaders_DropsConnectionNamedFields(t *testing.T) {
	incoming := headersWith(
		"Connection", "close, X-Per-Hop",
		"X-Per-Hop", "local",
		"X-Kept", "v",
	)

	out := BuildOutboundHeaders(incoming, nil, nil, nil)
	if out.Get("X-Per-Hop") != "" {
		t.Fatal("field named by Connection must not be forwarded")
	}
	if out.Get("X-Kept") != "v" {
		t.Fatalf("X-Kept = %q, want v", out.Get("X-Kept"))
	}
}

func TestIsConnectionHeader(t *testing.T) {
	if !IsConnectionHeader("keep-alive") || !IsConnectionHeader("Transfer-Encoding") {
		t.Fatal("hop-by-hop names must be recognized regardless of case")
	}
	if IsConnectionHeader("Authorization") {
		t.Fatal("Authorization is end-to-end")
	}
}

func TestBuildOutboundHeaders_Idempotent(t *testing.T) {
	incoming := headersWith(
		"Authorization", "Bearer t1",
		"Accept", "application/json",
		"X-Multi", "a",
		"X-Multi", "b",
	)
	server := []AuthEntry{{Header: "Authorization", Value: "Bearer t1"}}
	configured := map[string]string{"X-Backend": "v1"}

	once := BuildOutboundHeaders(incoming, nil, server, configured)
	twice := BuildOutboundHeaders(once, nil, server, configured)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("second pass changed the result:\nonce:  %v\ntwice: %v", once, twice)
	}
}
