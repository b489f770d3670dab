package upstreamserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestOAuthConfigFromEnvDefaults(t *testing.T) {
	cfg := oauthConfigFromEnv()

	if cfg.ResourceName != "hypertool-mcp-proxy" {
		t.Fatalf("expected default resource name, got %q", cfg.ResourceName)
	}
	if cfg.Resource != "/mcp" {
		t.Fatalf("expected default resource path /mcp, got %q", cfg.Resource)
	}
	if len(cfg.BearerMethodsSupported) != 1 || cfg.BearerMethodsSupported[0] != "header" {
		t.Fatalf("expected default bearer methods [header], got %v", cfg.BearerMethodsSupported)
	}
}

func TestOAuthConfigFromEnvOverrides(t *testing.T) {
	t.Setenv(envOAuthResourceName, "custom-proxy")
	t.Setenv(envOAuthAuthorizationServers, "https://auth.example.com, https://auth2.example.com")

	cfg := oauthConfigFromEnv()

	if cfg.ResourceName != "custom-proxy" {
		t.Fatalf("expected overridden resource name, got %q", cfg.ResourceName)
	}
	if len(cfg.AuthorizationServers) != 2 || cfg.AuthorizationServers[1] != "https://auth2.example.com" {
		t.Fatalf("expected two trimmed authorization servers, got %v", cfg.AuthorizationServers)
	}
}

func TestOAuthProtectedResourceHandlerServesJSON(t *testing.T) {
	s := &Server{log: zap.NewNop()}

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	rec := httptest.NewRecorder()
	s.oauthProtectedResourceHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body OAuthProtectedResource
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Resource != "/mcp" {
		t.Fatalf("expected resource /mcp, got %q", body.Resource)
	}
}

func TestOAuthProtectedResourceHandlerHandlesPreflight(t *testing.T) {
	s := &Server{log: zap.NewNop()}

	req := httptest.NewRequest(http.MethodOptions, "/.well-known/oauth-protected-resource", nil)
	rec := httptest.NewRecorder()
	s.oauthProtectedResourceHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on preflight, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body on preflight, got %q", rec.Body.String())
	}
}
