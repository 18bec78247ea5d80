package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hzr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: zh.hzmodel\ntop_k: 3\ntiming: false\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "zh.hzmodel", cfg.Model)
	assert.Equal(t, 3, cfg.TopK)
	assert.False(t, cfg.Timing)
	assert.Equal(t, Default().MaxTimesteps, cfg.MaxTimesteps)

	opts := cfg.Features()
	assert.False(t, opts.Timing)
	assert.Equal(t, cfg.Scale, opts.Scale)
}

func TestLoadRejects(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"unknown": "modle: x\n",
		"range":   "top_k: 0\n",
		"above":   "top_k: 50\nmax_top_k: 10\n",
		"syntax":  "top_k: [\n",
	} {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}

func TestSaveLoad(t *testing.T) {
	cfg := Default()
	cfg.Workers = 3
	cfg.Tolerance = 0.5
	path := filepath.Join(t.TempDir(), "hzr.yaml")
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
