package preview

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFileEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfigFile("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFileOverridesOnTopOfDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "previewd.toml")
	contents := `
data-plane-host = "0.0.0.0:9000"
dashboard = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.DataPlaneHost)
	require.True(t, cfg.Dashboard)
	// Untouched fields keep their defaults.
	require.Equal(t, DefaultConfig().PreviewMode, cfg.PreviewMode)
	require.False(t, cfg.PartialRendering)
}

func TestLoadConfigFileMissingFileReturnsError(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
}
