package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPHPBinary(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	present := filepath.Join(dir, "php")
	require.NoError(t, os.WriteFile(present, []byte("#!/bin/sh\n"), 0o755))

	assert.Equal(t, present, detectPHPBinary(present, "php"))
	assert.Equal(t, "php", detectPHPBinary(filepath.Join(dir, "missing"), "php"))
	assert.Equal(t, "php", detectPHPBinary(dir, "php"), "directories are not binaries")
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DEPS_INSTALL_CMD", "composer  install --no-dev")
	t.Setenv("CACHE_CLEAR_CMD", "")
	t.Setenv("GIT_REMOTE", "upstream")
	t.Setenv("COMMAND_TIMEOUT", "10m")

	cfg := LoadConfigFromEnv("/srv/app")

	assert.Equal(t, "/srv/app", cfg.Root)
	assert.Equal(t, "upstream", cfg.Remote)
	assert.Equal(t, []string{"composer", "install", "--no-dev"}, cfg.DepsInstall)
	assert.Empty(t, cfg.CacheClear)
	assert.Equal(t, 10*time.Minute, cfg.CommandTimeout)
}

func TestValidVersion(t *testing.T) {
	t.Parallel()

	valid := []string{"v1.9.0", "3.4.1", "release/2024.10", "v2.0.0-rc_1", "a"}
	for _, v := range valid {
		assert.True(t, ValidVersion(v), v)
	}

	invalid := []string{"", "v1.0.0;id", "v1..0", "-v1", "tag with space", "ü1.0"}
	for _, v := range invalid {
		assert.False(t, ValidVersion(v), v)
	}
}
