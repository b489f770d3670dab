package transport_test

import (
	"testing"

	"github.com/hypertool-ai/mcp-proxy/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsExtensionKind(t *testing.T) {
	cfg := transport.ServerConfig{Name: "ext", Kind: transport.KindExtension, ExtensionPath: "/tmp/some.htp"}
	conn, err := transport.New(cfg)
	require.Error(t, err)
	assert.Nil(t, conn)
}

func TestNewBuildsStdioConnection(t *testing.T) {
	cfg := transport.ServerConfig{Name: "git", Kind: transport.KindStdio, Command: "git-mcp"}
	conn, err := transport.New(cfg)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "git", conn.ServerName())
}
