package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cabb/almabatch/internal/config"
)

// newDefaultTarget returns a Config with known non-zero values so tests can
// verify that absent overlay keys leave the original values intact.
func newDefaultTarget() *config.Config {
	return &config.Config{
		API: config.APIConfig{Region: "na", APIKey: "key", Timeout: 30 * time.Second},
		Batch: config.BatchConfig{
			Size:          100,
			PageSize:      100,
			RetryAttempts: 3,
			RetryDelay:    2 * time.Second,
			ProgressEvery: 1,
		},
		Output:  config.OutputConfig{Dir: "output", FlushEachRow: true},
		Logging: config.LoggingConfig{Level: "info", Format: "console"},
		Cache:   config.CacheConfig{Enabled: true, TTLSeconds: 3600},
	}
}

// writeOverlay is a test helper that writes YAML content to a temp file
// and returns its path.
func writeOverlay(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestShallowMergeYAML_SingleKeyOverride(t *testing.T) {
	target := newDefaultTarget()
	overlay := writeOverlay(t, `
batch:
  size: 20
  page_size: 50
`)

	require.NoError(t, config.ShallowMergeYAML(target, overlay))

	assert.Equal(t, 20, target.Batch.Size)
	assert.Equal(t, 50, target.Batch.PageSize)
	// Fields the overlay leaves out keep their values.
	assert.Equal(t, 3, target.Batch.RetryAttempts)
	assert.Equal(t, 2*time.Second, target.Batch.RetryDelay)
	assert.Equal(t, 1, target.Batch.ProgressEvery)

	assert.Equal(t, "key", target.API.APIKey)
	assert.Equal(t, "info", target.Logging.Level)
	assert.True(t, target.Cache.Enabled)
}

func TestShallowMergeYAML_MultipleSections(t *testing.T) {
	target := newDefaultTarget()
	overlay := writeOverlay(t, `
api:
  region: eu
logging:
  level: debug
  format: json
cache:
  enabled: false
`)

	require.NoError(t, config.ShallowMergeYAML(target, overlay))
	assert.Equal(t, "eu", target.API.Region)
	assert.Equal(t, "key", target.API.APIKey)
	assert.Equal(t, 30*time.Second, target.API.Timeout)
	assert.Equal(t, "debug", target.Logging.Level)
	assert.False(t, target.Cache.Enabled)
	assert.Equal(t, 100, target.Batch.Size)
}

func TestShallowMergeYAML_UnknownKeysIgnored(t *testing.T) {
	target := newDefaultTarget()
	overlay := writeOverlay(t, `
plugins:
  aws: {}
output:
  dir: reports
`)

	require.NoError(t, config.ShallowMergeYAML(target, overlay))
	assert.Equal(t, "reports", target.Output.Dir)
}

func TestShallowMergeYAML_EmptyFile(t *testing.T) {
	target := newDefaultTarget()
	overlay := writeOverlay(t, "# nothing here\n")

	require.NoError(t, config.ShallowMergeYAML(target, overlay))
	assert.Equal(t, newDefaultTarget(), target)
}

func TestShallowMergeYAML_Errors(t *testing.T) {
	require.Error(t, config.ShallowMergeYAML(nil, "x.yaml"))
	require.Error(t, config.ShallowMergeYAML(newDefaultTarget(), filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, config.ShallowMergeYAML(newDefaultTarget(), writeOverlay(t, "batch: [")))
	require.Error(t, config.ShallowMergeYAML(newDefaultTarget(), writeOverlay(t, "batch:\n  size: many\n")))
}

func TestShallowMergeYAML_PartialSectionStaysValid(t *testing.T) {
	target := config.New()
	overlay := writeOverlay(t, "batch:\n  size: 25\n")

	require.NoError(t, config.ShallowMergeYAML(target, overlay))
	assert.Equal(t, 25, target.Batch.Size)
	assert.Equal(t, config.DefaultPageSize, target.Batch.PageSize)
	assert.Equal(t, config.DefaultRetryAttempts, target.Batch.RetryAttempts)
	require.NoError(t, target.Validate())
}
