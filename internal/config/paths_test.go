package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePaths_DefaultsUnderHome(t *testing.T) {
	t.Setenv("EASIWORK_HOME", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	p, err := ResolvePaths()
	require.NoError(t, err)

	base := filepath.Join(home, ".easiwork")
	assert.Equal(t, Paths{
		Base:    base,
		Config:  filepath.Join(base, "config.yaml"),
		Data:    filepath.Join(base, "data"),
		Logs:    filepath.Join(base, "logs"),
		Storage: filepath.Join(base, "storage"),
	}, p)
}

func TestResolvePaths_EnvOverride(t *testing.T) {
	t.Setenv("EASIWORK_HOME", "/srv/easiwork")

	p, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, "/srv/easiwork", p.Base)
	assert.Equal(t, "/srv/easiwork/config.yaml", p.Config)
	assert.Equal(t, "/srv/easiwork/data/easiwork.db", p.Database())
}

func TestEnsureDirs(t *testing.T) {
	t.Setenv("EASIWORK_HOME", filepath.Join(t.TempDir(), "nested", "home"))
	p, err := ResolvePaths()
	require.NoError(t, err)

	require.NoError(t, p.EnsureDirs())
	require.NoError(t, p.EnsureDirs())

	for _, dir := range []string{p.Base, p.Data, p.Logs, p.Storage} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0o700), info.Mode().Perm(), dir)
	}
}

func TestEnsureDirs_BaseIsAFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "taken")
	require.NoError(t, os.WriteFile(base, nil, 0o600))
	t.Setenv("EASIWORK_HOME", base)

	p, err := ResolvePaths()
	require.NoError(t, err)
	assert.Error(t, p.EnsureDirs())
}
