package configstore_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hypertool-ai/mcp-proxy/internal/configstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *configstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "preferences.db")
	s, err := configstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestToolsetPutGetDelete(t *testing.T) {
	s := openStore(t)
	toolset := configstore.Toolset{
		Name:      "git-core",
		Version:   "1",
		CreatedAt: time.Now(),
		Tools:     []configstore.ToolReference{{NamespacedName: "git.status"}, {NamespacedName: "git.diff"}},
	}
	require.NoError(t, s.PutToolset(toolset))

	got, ok, err := s.GetToolset("git-core")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Tools, 2)

	names, err := s.ListToolsets()
	require.NoError(t, err)
	assert.Equal(t, []string{"git-core"}, names)

	require.NoError(t, s.DeleteToolset("git-core"))
	_, ok, err = s.GetToolset("git-core")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersonaSnapshotRoundTrip(t *testing.T) {
	s := openStore(t)
	snap := configstore.PersonaSnapshot{PersonaName: "dev", ActiveToolset: "core", CapturedAt: time.Now()}
	require.NoError(t, s.PutPersonaSnapshot(snap))

	got, ok, err := s.GetPersonaSnapshot("dev")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "core", got.ActiveToolset)

	require.NoError(t, s.DeletePersonaSnapshot("dev"))
	_, ok, err = s.GetPersonaSnapshot("dev")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetToolsetMissReturnsFalse(t *testing.T) {
	s := openStore(t)
	_, ok, err := s.GetToolset("nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}
