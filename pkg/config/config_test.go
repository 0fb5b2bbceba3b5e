package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/mimir-curation/pkg/recommendation"
)

// TestLoadConfig tests configuration loading from the environment
func TestLoadConfig(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PORT", "9090")
	t.Setenv("WORKERS", "3")
	t.Setenv("AGREEMENT_DEFAULT_MEASURE", "fleiss-kappa")
	t.Setenv("SPLITTER_TRAIN_PERCENTAGE", "0.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "fleiss-kappa", cfg.Agreement.DefaultMeasure)
	assert.InDelta(t, 0.5, cfg.Splitter.TrainPercentage, 1e-9)
}

// TestLoadConfigDefaults tests default values
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 4, cfg.Agreement.MaxConcurrency)
	assert.Equal(t, "krippendorff-alpha-nominal", cfg.Agreement.DefaultMeasure)
	assert.Equal(t, 10, cfg.Splitter.BlockSize)
	assert.Empty(t, cfg.Recommenders)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "7070"
retrain_schedule: "*/15 * * * *"
agreement:
  max_concurrency: 2
  default_measure: cohen-kappa
recommenders:
  - id: ner
    name: Named entities
    layer: NamedEntity
    feature: value
    tool: string-matching
    threshold: 0.1
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "6060")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "6060", cfg.Port, "environment overrides the file")
	assert.Equal(t, "*/15 * * * *", cfg.RetrainSchedule)
	assert.Equal(t, 2, cfg.Agreement.MaxConcurrency)
	assert.Equal(t, "cohen-kappa", cfg.Agreement.DefaultMeasure)
	assert.Equal(t, 0.8, cfg.Splitter.TrainPercentage, "unset keys keep their defaults")
	require.Len(t, cfg.Recommenders, 1)
	assert.Equal(t, "string-matching", cfg.Recommenders[0].Tool)
	assert.True(t, cfg.Recommenders[0].Enabled)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown measure", func(c *Config) { c.Agreement.DefaultMeasure = "percent" }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"percentage out of range", func(c *Config) { c.Splitter.TrainPercentage = 1 }},
		{"block size", func(c *Config) { c.Splitter.BlockSize = 0 }},
		{"concurrency", func(c *Config) { c.Agreement.MaxConcurrency = 0 }},
		{"invalid recommender", func(c *Config) {
			c.Recommenders = []recommendation.Recommender{{ID: "ner", Feature: "value", Tool: "string-matching"}}
		}},
		{"duplicate recommender", func(c *Config) {
			rec := recommendation.Recommender{ID: "ner", Layer: "NamedEntity", Feature: "value", Tool: "string-matching"}
			c.Recommenders = []recommendation.Recommender{rec, rec}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
