package transport_test

import (
	"testing"

	"github.com/hypertool-ai/mcp-proxy/internal/transport"
	"github.com/stretchr/testify/assert"
)

func TestIsSelfReferenceDirectCommand(t *testing.T) {
	cfg := transport.ServerConfig{Kind: transport.KindStdio, Command: "/usr/local/bin/hypertool-mcp-proxy"}
	assert.True(t, transport.IsSelfReference(cfg))
}

func TestIsSelfReferenceNpxInvocation(t *testing.T) {
	cfg := transport.ServerConfig{
		Kind:    transport.KindStdio,
		Command: "npx",
		Args:    []string{"-y", "hypertool-ai/mcp-proxy"},
	}
	assert.True(t, transport.IsSelfReference(cfg))
}

func TestIsSelfReferenceOrdinaryServerIsNotFlagged(t *testing.T) {
	cfg := transport.ServerConfig{Kind: transport.KindStdio, Command: "git-mcp", Args: []string{"--stdio"}}
	assert.False(t, transport.IsSelfReference(cfg))
}

func TestIsSelfReferenceIgnoresNonStdio(t *testing.T) {
	cfg := transport.ServerConfig{Kind: transport.KindHTTP, URL: "http://localhost:9000/mcp"}
	assert.False(t, transport.IsSelfReference(cfg))
}

func TestServerConfigValidate(t *testing.T) {
	assert.NoError(t, transport.ServerConfig{Name: "git", Kind: transport.KindStdio, Command: "git-mcp"}.Validate())
	assert.Error(t, transport.ServerConfig{Name: "git", Kind: transport.KindStdio}.Validate())
	assert.Error(t, transport.ServerConfig{Kind: transport.KindStdio, Command: "git-mcp"}.Validate())
	assert.Error(t, transport.ServerConfig{Name: "x", Kind: transport.KindHTTP}.Validate())
}
