package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  source_timeout_secs: 10
  run_timeout_secs: 60
  weights:
    intent:
      funding: 50
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.SourceTimeout())
	assert.Equal(t, time.Minute, cfg.RunTimeout())
	assert.Equal(t, 50, cfg.Weights.Intent["funding"])

	// Unset sections fall back to defaults.
	assert.Equal(t, 30*time.Second, cfg.MaxRateLimitWait())
	assert.Equal(t, DefaultScoreWeights().Quality, cfg.Weights.Quality)
	assert.Equal(t, 40, cfg.Weights.StageBoost["purchase"])
}

func TestLoadConfigEmptyFileIsAllDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := writeConfig(t, "pipeline: [not a mapping")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
