package upstreamserver

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
)

const (
	envOAuthResourceName         = "HYPERTOOL_OAUTH_RESOURCE_NAME"
	envOAuthResource             = "HYPERTOOL_OAUTH_RESOURCE"
	envOAuthAuthorizationServers = "HYPERTOOL_OAUTH_AUTHORIZATION_SERVERS"
	envOAuthBearerMethods        = "HYPERTOOL_OAUTH_BEARER_METHODS_SUPPORTED"
	envOAuthScopesSupported      = "HYPERTOOL_OAUTH_SCOPES_SUPPORTED"
)

// OAuthProtectedResource is the /.well-known/oauth-protected-resource
// response body (RFC 9728), grounded on the teacher's
// oauth_protected_resource_handler.go, renamed from the teacher's
// OAUTH_* env vars to this project's HYPERTOOL_ prefix.
type OAuthProtectedResource struct {
	ResourceName           string   `json:"resource_name"`
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported"`
}

func oauthConfigFromEnv() OAuthProtectedResource {
	cfg := OAuthProtectedResource{
		ResourceName:           "hypertool-mcp-proxy",
		Resource:               "/mcp",
		AuthorizationServers:   []string{},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        []string{"basic"},
	}

	if v := os.Getenv(envOAuthResourceName); v != "" {
		cfg.ResourceName = v
	}
	if v := os.Getenv(envOAuthResource); v != "" {
		cfg.Resource = v
	}
	if v := os.Getenv(envOAuthAuthorizationServers); v != "" {
		cfg.AuthorizationServers = splitTrimmed(v)
	}
	if v := os.Getenv(envOAuthBearerMethods); v != "" {
		cfg.BearerMethodsSupported = splitTrimmed(v)
	}
	if v := os.Getenv(envOAuthScopesSupported); v != "" {
		cfg.ScopesSupported = splitTrimmed(v)
	}
	return cfg
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// oauthProtectedResourceHandler serves /.well-known/oauth-protected-resource
// so bearer-auth-aware clients can discover resource metadata for any
// downstream server requiring OAuth (SPEC_FULL.md supplement 2).
func (s *Server) oauthProtectedResourceHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	cfg := oauthConfigFromEnv()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		s.log.Error("failed to encode oauth protected resource response", zap.Error(err))
	}
}
