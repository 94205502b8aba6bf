package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string        `yaml:"name" env:"SAMPLE_NAME"`
	Timeout time.Duration `yaml:"timeout" env:"SAMPLE_TIMEOUT"`
	Tags    []string      `yaml:"tags" env:"SAMPLE_TAGS"`
	Nested  struct {
		Ratio   float64
		Enabled bool
	} `yaml:"nested"`
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	var cfg sample
	err := LoadConfigWithLookup(&cfg, lookupFrom(map[string]string{
		"SAMPLE_NAME":    "csms",
		"SAMPLE_TIMEOUT": "90",
		"SAMPLE_TAGS":    "TAG1, TAG2,,",
		"NESTED_RATIO":   "0.8",
		"NESTED_ENABLED": "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "csms", cfg.Name)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"TAG1", "TAG2"}, cfg.Tags)
	assert.InDelta(t, 0.8, cfg.Nested.Ratio, 1e-9)
	assert.True(t, cfg.Nested.Enabled)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\ntimeout: 3m\ntags: [A]\n"), 0o600))

	var cfg sample
	err := LoadConfigWithLookup(&cfg, lookupFrom(map[string]string{
		"CONFIG_FILE":    path,
		"SAMPLE_TIMEOUT": "1m30s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"A"}, cfg.Tags)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	var cfg sample
	err := LoadConfigWithLookup(&cfg, lookupFrom(map[string]string{"SAMPLE_TIMEOUT": "soon"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAMPLE_TIMEOUT")

	require.Error(t, LoadConfig(nil))
	require.Error(t, LoadConfig(cfg))
}
