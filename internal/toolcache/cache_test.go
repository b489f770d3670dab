package toolcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/hypertool-ai/mcp-proxy/internal/toolcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministicAndSchemaSensitive(t *testing.T) {
	schema := map[string]any{"type": "object"}
	h1 := toolcache.Hash("status", schema)
	h2 := toolcache.Hash("status", schema)
	assert.Equal(t, h1, h2)

	h3 := toolcache.Hash("status", map[string]any{"type": "string"})
	assert.NotEqual(t, h1, h3)
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := toolcache.New(ctx)
	require.NoError(t, err)

	tool := toolcache.Tool{
		Name:         "status",
		ServerName:   "git",
		ServerStatus: toolcache.ServerConnected,
		ToolHash:     toolcache.Hash("status", map[string]any{"type": "object"}),
	}
	require.NoError(t, c.Set(ctx, tool))

	got, ok, err := c.Get(ctx, "git", "status")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "git.status", got.NamespacedName())
}

func TestGetMissReturnsFalse(t *testing.T) {
	ctx := context.Background()
	c, err := toolcache.New(ctx)
	require.NoError(t, err)
	_, ok, err := c.Get(ctx, "git", "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLExpiryFiresCleanup(t *testing.T) {
	ctx := context.Background()
	var cleaned []string
	c, err := toolcache.New(ctx,
		toolcache.WithTTL(5*time.Millisecond),
		toolcache.WithCleanupHandler(func(serverName, toolName string) {
			cleaned = append(cleaned, serverName+"."+toolName)
		}),
	)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, toolcache.Tool{Name: "status", ServerName: "git"}))
	time.Sleep(10 * time.Millisecond)

	_, ok, err := c.Get(ctx, "git", "status")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"git.status"}, cleaned)
}

func TestClearServerRemovesOnlyThatServersTools(t *testing.T) {
	ctx := context.Background()
	c, err := toolcache.New(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, toolcache.Tool{Name: "status", ServerName: "git"}))
	require.NoError(t, c.Set(ctx, toolcache.Tool{Name: "diff", ServerName: "git"}))
	require.NoError(t, c.Set(ctx, toolcache.Tool{Name: "read", ServerName: "fs"}))

	require.NoError(t, c.ClearServer(ctx, "git"))

	gitTools, err := c.GetByServer(ctx, "git")
	require.NoError(t, err)
	assert.Empty(t, gitTools)

	fsTools, err := c.GetByServer(ctx, "fs")
	require.NoError(t, err)
	assert.Len(t, fsTools, 1)
}

func TestGetAllConnectedOnly(t *testing.T) {
	ctx := context.Background()
	c, err := toolcache.New(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, toolcache.Tool{Name: "status", ServerName: "git", ServerStatus: toolcache.ServerConnected}))
	require.NoError(t, c.Set(ctx, toolcache.Tool{Name: "read", ServerName: "fs", ServerStatus: toolcache.ServerDisconnected}))

	all, err := c.GetAll(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	connected, err := c.GetAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, connected, 1)
	assert.Equal(t, "git", connected[0].ServerName)
}
