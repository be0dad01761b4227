package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 200.0, cfg.Conversion.TargetSizeKB)
	assert.Equal(t, 40, cfg.Conversion.MinQuality)
	assert.Equal(t, 90, cfg.Conversion.MaxQuality)
	assert.Equal(t, 1, cfg.Performance.Workers)
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
conversion:
  target_size_kb: 150
  min_quality: 30
  max_quality: 80
  supported_extensions: [JPG, png]
output:
  directory: /tmp/out
  report_format: YAML
performance:
  workers: 4
logging:
  level: DEBUG
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 150.0, cfg.Conversion.TargetSizeKB)
	assert.Equal(t, 30, cfg.Conversion.MinQuality)
	assert.Equal(t, 80, cfg.Conversion.MaxQuality)
	assert.Equal(t, []string{".jpg", ".png"}, cfg.Conversion.SupportedExtensions)
	assert.Equal(t, "/tmp/out", cfg.Output.Directory)
	assert.Equal(t, "yaml", cfg.Output.ReportFormat)
	assert.Equal(t, 4, cfg.Performance.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep their defaults
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Conversion.AutoOrient)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("WEBP_SHRINK_CONVERSION_TARGET_SIZE_KB", "75")
	path := writeConfig(t, "performance:\n  workers: 2\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 75.0, cfg.Conversion.TargetSizeKB)
	assert.Equal(t, 2, cfg.Performance.Workers)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"zero target", func(c *Config) { c.Conversion.TargetSizeKB = 0 }, "Conversion.TargetSizeKB"},
		{"min above max", func(c *Config) { c.Conversion.MinQuality = 95 }, "must not be lower than MinQuality"},
		{"quality above 100", func(c *Config) { c.Conversion.MaxQuality = 120 }, "Conversion.MaxQuality"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "Logging.Level"},
		{"bad report format", func(c *Config) { c.Output.ReportFormat = "xml" }, "table, json, yaml"},
		{"no extensions", func(c *Config) { c.Conversion.SupportedExtensions = nil }, "SupportedExtensions"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "Server.Port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_NormalizesWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Performance.Workers = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Performance.Workers)
}

func TestIsSupportedExtension(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.IsSupportedExtension(".JPEG"))
	assert.True(t, cfg.IsSupportedExtension(".png"))
	assert.False(t, cfg.IsSupportedExtension(".gif"))
}
