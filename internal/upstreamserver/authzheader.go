package upstreamserver

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"slices"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// authorizedToolsHeader is set by a trusted edge proxy to further narrow a
// caller's visible tools below the active toolset (spec.md supplement 3).
var authorizedToolsHeader = http.CanonicalHeaderKey("x-authorized-tools")

const allowedToolsClaimKey = "allowed-tools"

// filterTools is an AfterListTools hook: it narrows the already-equipped
// tool list by a per-server allow-list carried in a signed JWT, when the
// trusted header is present. Grounded on the teacher's
// internal/broker/filtered_tools_handler.go, adapted from the broker's
// findByHost map lookup to this proxy's Resolve(flatName) reverse lookup.
func (s *Server) filterTools(_ context.Context, _ any, mcpReq *mcp.ListToolsRequest, mcpRes *mcp.ListToolsResult) {
	original := make([]mcp.Tool, len(mcpRes.Tools))
	copy(original, mcpRes.Tools)
	mcpRes.Tools = []mcp.Tool{}

	values, ok := mcpReq.Header[authorizedToolsHeader]
	if !ok {
		s.log.Debug("no tool filtering header sent", zap.Bool("enforced", s.cfg.EnforceToolFilter))
		if s.cfg.EnforceToolFilter {
			return
		}
		mcpRes.Tools = original
		return
	}
	if len(values) != 1 {
		s.log.Debug("expected exactly one authorized-tools header value")
		return
	}

	headerValue := values[0]
	if headerValue == "" {
		s.log.Debug("authorized-tools header present but empty, returning no tools")
		return
	}
	if s.cfg.TrustedHeadersPublicKey == "" {
		s.log.Error("authorized-tools header present but no trusted public key configured")
		return
	}

	token, err := validateJWTHeader(headerValue, s.cfg.TrustedHeadersPublicKey)
	if err != nil {
		s.log.Error("authorized-tools header failed JWT validation", zap.Error(err))
		return
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		s.log.Error("authorized-tools token carries no usable claims")
		return
	}
	rawTools, ok := claims[allowedToolsClaimKey]
	if !ok {
		s.log.Error("authorized-tools token missing allowed-tools claim")
		return
	}
	toolsJSON, ok := rawTools.(string)
	if !ok {
		s.log.Error("allowed-tools claim is not a string")
		return
	}

	authorizedTools := map[string][]string{}
	if err := json.Unmarshal([]byte(toolsJSON), &authorizedTools); err != nil {
		s.log.Error("failed to unmarshal allowed-tools claim", zap.Error(err))
		return
	}

	mcpRes.Tools = s.applyAuthorizedTools(original, authorizedTools)
}

// applyAuthorizedTools keeps only tools whose owning (serverName,
// originalName) appears in authorized[serverName].
func (s *Server) applyAuthorizedTools(tools []mcp.Tool, authorized map[string][]string) []mcp.Tool {
	filtered := make([]mcp.Tool, 0, len(tools))
	for _, tool := range tools {
		serverName, originalName, ok := s.tools.Resolve(tool.Name)
		if !ok {
			continue
		}
		allowed, ok := authorized[serverName]
		if !ok {
			continue
		}
		if slices.Contains(allowed, originalName) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// validateJWTHeader validates an ES256-signed JWT against a PEM-encoded
// ECDSA public key.
func validateJWTHeader(token string, publicKeyPEM string) (*jwt.Token, error) {
	return jwt.Parse(token, func(_ *jwt.Token) (any, error) {
		block, _ := pem.Decode([]byte(publicKeyPEM))
		if block == nil {
			return nil, fmt.Errorf("invalid PEM-encoded public key")
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("expected an *ecdsa.PublicKey, got %T", pub)
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}))
}
