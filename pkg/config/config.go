package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/mimir-aip/mimir-curation/pkg/agreement"
	"github.com/mimir-aip/mimir-curation/pkg/recommendation"
)

// Config holds the application configuration
type Config struct {
	Environment     string                       `yaml:"environment"`
	LogLevel        string                       `yaml:"log_level"`
	LogFormat       string                       `yaml:"log_format"`
	Port            string                       `yaml:"port"`
	DatabasePath    string                       `yaml:"database_path"`
	DocumentsDir    string                       `yaml:"documents_dir"`
	RetrainSchedule string                       `yaml:"retrain_schedule"`
	Workers         int                          `yaml:"workers"`
	Agreement       AgreementConfig              `yaml:"agreement"`
	Splitter        SplitterConfig               `yaml:"splitter"`
	Recommenders    []recommendation.Recommender `yaml:"recommenders"`
}

// AgreementConfig configures agreement computations
type AgreementConfig struct {
	MaxConcurrency int    `yaml:"max_concurrency"`
	DefaultMeasure string `yaml:"default_measure"`
}

// SplitterConfig configures the data splitter used for recommender evaluation
type SplitterConfig struct {
	TrainPercentage float64 `yaml:"train_percentage"`
	BlockSize       int     `yaml:"block_size"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Environment:     "development",
		LogLevel:        "info",
		LogFormat:       "text",
		Port:            "8080",
		DatabasePath:    "curation.db",
		DocumentsDir:    "documents",
		RetrainSchedule: "",
		Workers:         1,
		Agreement: AgreementConfig{
			MaxConcurrency: 4,
			DefaultMeasure: agreement.MeasureKrippendorffAlphaNominal,
		},
		Splitter: SplitterConfig{
			TrainPercentage: 0.8,
			BlockSize:       10,
		},
	}
}

// LoadConfig loads configuration from the file named by CONFIG_FILE, if any,
// and then applies environment variables on top
func LoadConfig() (*Config, error) {
	config := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	config.Environment = getEnv("ENVIRONMENT", config.Environment)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.LogFormat = getEnv("LOG_FORMAT", config.LogFormat)
	config.Port = getEnv("PORT", config.Port)
	config.DatabasePath = getEnv("DATABASE_PATH", config.DatabasePath)
	config.DocumentsDir = getEnv("DOCUMENTS_DIR", config.DocumentsDir)
	config.RetrainSchedule = getEnv("RETRAIN_SCHEDULE", config.RetrainSchedule)
	config.Workers = getEnvAsInt("WORKERS", config.Workers)
	config.Agreement.MaxConcurrency = getEnvAsInt("AGREEMENT_MAX_CONCURRENCY", config.Agreement.MaxConcurrency)
	config.Agreement.DefaultMeasure = getEnv("AGREEMENT_DEFAULT_MEASURE", config.Agreement.DefaultMeasure)
	config.Splitter.TrainPercentage = getEnvAsFloat("SPLITTER_TRAIN_PERCENTAGE", config.Splitter.TrainPercentage)
	config.Splitter.BlockSize = getEnvAsInt("SPLITTER_BLOCK_SIZE", config.Splitter.BlockSize)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for values the services cannot run with
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Agreement.MaxConcurrency < 1 {
		return fmt.Errorf("agreement max concurrency must be at least 1, got %d", c.Agreement.MaxConcurrency)
	}
	if _, err := agreement.NewMeasure(c.Agreement.DefaultMeasure); err != nil {
		return err
	}
	if c.Splitter.TrainPercentage <= 0 || c.Splitter.TrainPercentage >= 1 {
		return fmt.Errorf("splitter train percentage must be between 0 and 1 exclusive, got %v", c.Splitter.TrainPercentage)
	}
	if c.Splitter.BlockSize < 1 {
		return fmt.Errorf("splitter block size must be at least 1, got %d", c.Splitter.BlockSize)
	}

	seen := make(map[string]bool)
	for _, rec := range c.Recommenders {
		if err := rec.Validate(); err != nil {
			return err
		}
		if seen[rec.ID] {
			return fmt.Errorf("duplicate recommender id: %s", rec.ID)
		}
		seen[rec.ID] = true
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
