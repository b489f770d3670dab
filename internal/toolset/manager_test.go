package toolset_test

import (
	"path/filepath"
	"testing"

	"github.com/hypertool-ai/mcp-proxy/internal/configstore"
	"github.com/hypertool-ai/mcp-proxy/internal/events"
	"github.com/hypertool-ai/mcp-proxy/internal/toolcache"
	"github.com/hypertool-ai/mcp-proxy/internal/toolset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*toolset.Manager, *configstore.Store) {
	t.Helper()
	store, err := configstore.Open(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return toolset.New(store, events.NewBus()), store
}

func availableTools() []toolcache.Tool {
	return []toolcache.Tool{
		{ServerName: "git", Name: "status", ServerStatus: toolcache.ServerConnected, ToolHash: "h1"},
		{ServerName: "git", Name: "diff", ServerStatus: toolcache.ServerConnected, ToolHash: "h2"},
	}
}

func TestBuildToolsetRejectsInvalidName(t *testing.T) {
	m, _ := newManager(t)
	err := m.BuildToolset("BadName!", "", nil, availableTools(), false, false)
	require.Error(t, err)
}

func TestBuildToolsetRejectsUnresolvedReferences(t *testing.T) {
	m, _ := newManager(t)
	refs := []configstore.ToolReference{{NamespacedName: "git.nonexistent"}}
	err := m.BuildToolset("git-core", "", refs, availableTools(), false, false)
	require.Error(t, err)
}

func TestBuildToolsetAndEquip(t *testing.T) {
	m, _ := newManager(t)
	refs := []configstore.ToolReference{{NamespacedName: "git.status"}, {NamespacedName: "git.diff"}}
	require.NoError(t, m.BuildToolset("git-core", "core git tools", refs, availableTools(), false, true))

	assert.Equal(t, "git-core", m.ActiveToolsetName())
	tools := m.GetMCPTools()
	require.Len(t, tools, 2)

	assert.Equal(t, []string{"git_status", "git_diff"}, []string{tools[0].FlatName, tools[1].FlatName})

	orig, ok := m.GetOriginalToolName("git_status")
	require.True(t, ok)
	assert.Equal(t, "git.status", orig)
}

func TestBuildToolsetDuplicateNameFails(t *testing.T) {
	m, _ := newManager(t)
	refs := []configstore.ToolReference{{NamespacedName: "git.status"}}
	require.NoError(t, m.BuildToolset("git-core", "", refs, availableTools(), false, false))
	err := m.BuildToolset("git-core", "", refs, availableTools(), false, false)
	require.Error(t, err)
}

func TestUnequipClearsActiveToolset(t *testing.T) {
	m, _ := newManager(t)
	refs := []configstore.ToolReference{{NamespacedName: "git.status"}}
	require.NoError(t, m.BuildToolset("git-core", "", refs, availableTools(), false, true))
	m.UnequipToolset()
	assert.Equal(t, "", m.ActiveToolsetName())
	assert.Empty(t, m.GetMCPTools())
}

func TestResolveUnknownFlatName(t *testing.T) {
	m, _ := newManager(t)
	_, _, ok := m.Resolve("nonexistent_tool")
	assert.False(t, ok)
}

func TestDeleteToolsetRequiresConfirm(t *testing.T) {
	m, _ := newManager(t)
	refs := []configstore.ToolReference{{NamespacedName: "git.status"}}
	require.NoError(t, m.BuildToolset("git-core", "", refs, availableTools(), false, false))
	require.Error(t, m.DeleteToolset("git-core", false))
	require.NoError(t, m.DeleteToolset("git-core", true))
}

func TestGetMCPToolsPreservesDeclaredOrder(t *testing.T) {
	m, _ := newManager(t)
	available := []toolcache.Tool{
		{ServerName: "git", Name: "a", ServerStatus: toolcache.ServerConnected, ToolHash: "ha"},
		{ServerName: "git", Name: "b", ServerStatus: toolcache.ServerConnected, ToolHash: "hb"},
		{ServerName: "git", Name: "c", ServerStatus: toolcache.ServerConnected, ToolHash: "hc"},
		{ServerName: "git", Name: "d", ServerStatus: toolcache.ServerConnected, ToolHash: "hd"},
	}
	refs := []configstore.ToolReference{
		{NamespacedName: "git.d"}, {NamespacedName: "git.b"}, {NamespacedName: "git.a"}, {NamespacedName: "git.c"},
	}
	require.NoError(t, m.BuildToolset("ordered", "", refs, available, false, true))

	tools := m.GetMCPTools()
	require.Len(t, tools, 4)
	names := make([]string, len(tools))
	for i, rt := range tools {
		names[i] = rt.OriginalName
	}
	assert.Equal(t, []string{"d", "b", "a", "c"}, names)
}

func TestRefIdFallbackResolution(t *testing.T) {
	m, _ := newManager(t)
	refs := []configstore.ToolReference{{RefID: "h1"}}
	require.NoError(t, m.BuildToolset("by-hash", "", refs, availableTools(), false, true))
	tools := m.GetMCPTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "git.status", tools[0].NamespacedName)
}
