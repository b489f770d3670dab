package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hypertool-ai/mcp-proxy/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToRotatedFile(t *testing.T) {
	dir := t.TempDir()
	cfg := logging.DefaultConfig()
	cfg.FilePath = filepath.Join(dir, "proxy.log")
	cfg.StdioTransport = true

	log, err := logging.New(cfg)
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func TestNewFallsBackOnBadLevel(t *testing.T) {
	dir := t.TempDir()
	cfg := logging.DefaultConfig()
	cfg.FilePath = filepath.Join(dir, "proxy.log")
	cfg.Level = "not-a-level"

	_, err := logging.New(cfg)
	require.NoError(t, err)
}
