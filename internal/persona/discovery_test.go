package persona_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypertool-ai/mcp-proxy/internal/persona"
)

func TestDiscoverFindsValidAndInvalidDirsAndArchives(t *testing.T) {
	root := t.TempDir()

	valid := filepath.Join(root, "dev-workflow")
	require.NoError(t, os.MkdirAll(valid, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(valid, "persona.yaml"), []byte("name: dev-workflow\n"), 0o600))

	invalid := filepath.Join(root, "no-manifest")
	require.NoError(t, os.MkdirAll(invalid, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(root, "archived.htp"), []byte("stub"), 0o600))

	refs, err := persona.Discover(root)
	require.NoError(t, err)
	require.Len(t, refs, 3)

	byName := make(map[string]persona.Reference, len(refs))
	for _, r := range refs {
		byName[r.Name] = r
	}

	assert.True(t, byName["dev-workflow"].IsValid)
	assert.False(t, byName["no-manifest"].IsValid)
	assert.True(t, byName["archived"].IsArchive)
}

func TestDiscoverMissingRootReturnsEmpty(t *testing.T) {
	refs, err := persona.Discover(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, refs)
}
