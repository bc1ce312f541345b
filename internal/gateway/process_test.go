package gateway

import (
	"errors"
	"testing"

	"github.com/portierproxy/portier/internal/secrets"
)

func TestProcessConfig_ResolvesAllFields(t *testing.T) {
	secretMap := map[string]string{
		"API_HOST": "api.internal.example",
		"TOKEN":    "Bearer t1",
		"ENV":      "prod",
	}
	cfg := ServerConfig{
		URL:             "https://${API_HOST}/v1",
		Headers:         map[string]string{"X-Env": "${ENV}"},
		LegacyAuthValue: "${TOKEN}",
		AuthEntries:     []AuthEntry{{Header: "X-Key", Value: "${TOKEN}"}},
	}

	out, err := ProcessConfig(cfg, secretMap)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.URL != "https://api.internal.example/v1" {
		t.Fatalf("url = %q", out.URL)
	}
	if out.Headers["X-Env"] != "prod" {
		t.Fatalf("X-Env = %q", out.Headers["X-Env"])
	}
	if out.LegacyAuthValue != "Bearer t1" {
		t.Fatalf("legacy value = %q", out.LegacyAuthValue)
	}
	if out.AuthEntries[0].Value != "Bearer t1" {
		t.Fatalf("entry value = %q", out.AuthEntries[0].Value)
	}
}

func TestProcessConfig_MissingSecretInAuthValueFails(t *testing.T) {
	cfg := ServerConfig{
		URL:         "https://api.example",
		AuthEntries: []AuthEntry{{Header: "X-Key", Value: "${MISSING}"}},
	}
	_, err := ProcessConfig(cfg, map[string]string{})
	if !errors.Is(err, secrets.ErrMissingSecret) {
		t.Fatalf("err = %v, want ErrMissingSecret", err)
	}
}

func TestProcessConfig_MissingSecretInLegacyValueFails(t *testing.T) {
	cfg := ServerConfig{
		URL:             "https://api.example",
		LegacyAuthValue: "${MISSING}",
	}
	_, err := ProcessConfig(cfg, map[string]string{})
	if !errors.Is(err, secrets.ErrMissingSecret) {
		t.Fatalf("err = %v, want ErrMissingSecret", err)
	}
}

func TestProcessConfig_MissingSecretInHeaderValueKeptLiteral(t *testing.T) {
	cfg := ServerConfig{
		URL:     "https://api.example",
		Headers: map[string]string{"X-Token": "${MISSING}"},
	}
	out, err := ProcessConfig(cfg, map[string]string{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Headers["X-Token"] != "${MISSING}" {
		t.Fatalf("X-Token = %q, want literal placeholder", out.Headers["X-Token"])
	}
}

func TestProcessConfig_MissingSecretInURLKeptLiteral(t *testing.T) {
	cfg := ServerConfig{URL: "https://${MISSING_HOST}/v1"}
	out, err := ProcessConfig(cfg, map[string]string{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.URL != "https://${MISSING_HOST}/v1" {
		t.Fatalf("url = %q, want literal placeholder", out.URL)
	}
}

func TestProcessConfig_HeaderNamesNotInterpolated(t *testing.T) {
	cfg := ServerConfig{
		URL:     "https://api.example",
		Headers: map[string]string{"${NAME}": "v"},
	}
	out, err := ProcessConfig(cfg, map[string]string{"NAME": "X-Real"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, ok := out.Headers["${NAME}"]; !ok {
		t.Fatalf("header names must stay literal: %v", out.Headers)
	}
}

func TestParseServerConfig_RejectsUnknownFields(t *testing.T) {
	_, err := ParseServerConfig([]byte(`{"url":"https://a.example","athEntries":[]}`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseServerConfig_KnownFields(t *testing.T) {
	cfg, err := ParseServerConfig([]byte(`{
		"url": "https://api.example",
		"headers": {"X-Env": "prod"},
		"legacyAuthValue": "k",
		"legacyAuthHeader": "X-Key",
		"authEntries": [{"header": "Authorization", "value": "Bearer t1"}]
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.URL != "https://api.example" || cfg.LegacyAuthHeader != "X-Key" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.AuthEntries) != 1 || cfg.AuthEntries[0].Header != "Authorization" {
		t.Fatalf("auth entries: %+v", cfg.AuthEntries)
	}
}
