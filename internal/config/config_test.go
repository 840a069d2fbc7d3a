package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	cfg := Load(dir)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, filepath.Join(dir, "daemon.db"), cfg.DBPath)
	require.Equal(t, "claude", cfg.DefaultAgent)
}

func TestLoadReadsTomlFile(t *testing.T) {
	dir := t.TempDir()
	toml := "port = 9001\ndefault_agent = \"codex\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(toml), 0o644))

	cfg := Load(dir)
	require.Equal(t, 9001, cfg.Port)
	require.Equal(t, "codex", cfg.DefaultAgent)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	toml := "port = 9001\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(toml), 0o644))

	t.Setenv(EnvPort, "9100")
	t.Setenv(EnvDB, filepath.Join(dir, "override.db"))

	cfg := Load(dir)
	require.Equal(t, 9100, cfg.Port)
	require.Equal(t, filepath.Join(dir, "override.db"), cfg.DBPath)
}

func TestLoadIgnoresMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte("not valid toml {{{"), 0o644))

	cfg := Load(dir)
	require.Equal(t, DefaultPort, cfg.Port)
}
