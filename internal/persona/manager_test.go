package persona_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hypertool-ai/mcp-proxy/internal/configstore"
	"github.com/hypertool-ai/mcp-proxy/internal/discovery"
	"github.com/hypertool-ai/mcp-proxy/internal/events"
	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
	"github.com/hypertool-ai/mcp-proxy/internal/persona"
	"github.com/hypertool-ai/mcp-proxy/internal/pool"
	"github.com/hypertool-ai/mcp-proxy/internal/toolcache"
	"github.com/hypertool-ai/mcp-proxy/internal/toolset"
)

func newTestManager(t *testing.T, personaRoot string) *persona.Manager {
	t.Helper()
	ctx := context.Background()

	mcpConfigPath := filepath.Join(t.TempDir(), "mcp.json")
	require.NoError(t, os.WriteFile(mcpConfigPath, []byte(`{"mcpServers": {}}`), 0o600))
	mcpConfig := configstore.NewMCPConfigStore(mcpConfigPath)
	require.NoError(t, mcpConfig.Load())

	store, err := configstore.Open(filepath.Join(t.TempDir(), "preferences.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus()
	p := pool.New(pool.DefaultOptions(), zap.NewNop(), bus)
	t.Cleanup(p.Shutdown)

	cache, err := toolcache.New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	disc := discovery.New(p, cache, bus, discovery.DefaultOptions(), zap.NewNop())
	toolsets := toolset.New(store, bus)

	return persona.New(personaRoot, mcpConfig, store, p, cache, disc, toolsets, bus, zap.NewNop())
}

func writePersonaDir(t *testing.T, root, name, manifestYAML string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "persona.yaml"), []byte(manifestYAML), 0o600))
}

func TestDeactivateWithNothingActiveSucceeds(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root)
	require.NoError(t, m.Deactivate(context.Background()))
	assert.Nil(t, m.ActiveState())
}

func TestActivateUnknownPersonaReturnsNotFound(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root)
	_, err := m.Activate(context.Background(), "nonexistent", persona.DefaultActivateOptions())
	require.Error(t, err)
	pe, ok := err.(*mcperrors.PersonaErr)
	require.True(t, ok)
	assert.Equal(t, mcperrors.PersonaNotFound, pe.SubCode)
}

func TestActivateWithoutMCPConfigOrToolsetSucceeds(t *testing.T) {
	root := t.TempDir()
	writePersonaDir(t, root, "bare", `
name: bare
description: a description long enough to pass validation
toolsets: []
`)
	m := newTestManager(t, root)

	state, err := m.Activate(context.Background(), "bare", persona.DefaultActivateOptions())
	require.NoError(t, err)
	assert.Equal(t, "bare", state.PersonaName)
	assert.Equal(t, "", state.ActiveToolset)
	assert.False(t, state.MCPConfigApplied)

	current := m.ActiveState()
	require.NotNil(t, current)
	assert.Equal(t, "bare", current.PersonaName)
}

func TestActivateSameNameTwiceDoesNotDeactivateFirst(t *testing.T) {
	root := t.TempDir()
	writePersonaDir(t, root, "bare", `
name: bare
description: a description long enough to pass validation
toolsets: []
`)
	m := newTestManager(t, root)

	_, err := m.Activate(context.Background(), "bare", persona.DefaultActivateOptions())
	require.NoError(t, err)
	_, err = m.Activate(context.Background(), "bare", persona.DefaultActivateOptions())
	require.NoError(t, err)
	assert.Equal(t, "bare", m.ActiveState().PersonaName)
}

func TestActivateWithUnreachableServerRollsBack(t *testing.T) {
	root := t.TempDir()
	writePersonaDir(t, root, "broken", `
name: broken
description: a description long enough to pass validation
toolsets: []
`)
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken", "mcp.json"), []byte(`{
		"mcpServers": {
			"ghost": {"type": "stdio", "command": "/nonexistent/path/to/a/binary-that-does-not-exist"}
		}
	}`), 0o600))
	m := newTestManager(t, root)

	_, err := m.Activate(context.Background(), "broken", persona.DefaultActivateOptions())
	require.Error(t, err)
	pe, ok := err.(*mcperrors.PersonaErr)
	require.True(t, ok)
	assert.Equal(t, mcperrors.ActivationFailed, pe.SubCode)

	assert.Nil(t, m.ActiveState(), "a failed activation must not leave a persona active")
}

func TestActivateThenDeactivateClearsActiveState(t *testing.T) {
	root := t.TempDir()
	writePersonaDir(t, root, "bare", `
name: bare
description: a description long enough to pass validation
toolsets: []
`)
	m := newTestManager(t, root)

	_, err := m.Activate(context.Background(), "bare", persona.DefaultActivateOptions())
	require.NoError(t, err)
	require.NoError(t, m.Deactivate(context.Background()))
	assert.Nil(t, m.ActiveState())
}
