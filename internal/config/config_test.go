package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "csv", cfg.Dataset.Driver)
	assert.Equal(t, "housing_data.csv", cfg.Dataset.Path)
	assert.Equal(t, "housing", cfg.Dataset.Table)
	assert.Equal(t, 3, cfg.Dataset.ReadAttempts)
	assert.Empty(t, cfg.Features.SpecPath)
	assert.Equal(t, uint64(42), cfg.Train.Seed)
	assert.InDelta(t, 0.2, cfg.Train.EvalFraction, 0.001)
	assert.Equal(t, 50, cfg.Train.Epochs)
	assert.Equal(t, 32, cfg.Train.BatchSize)
	assert.Equal(t, 10, cfg.Train.Patience)
	assert.InDelta(t, 0.2, cfg.Train.ValidationSplit, 0.001)
	assert.InDelta(t, 0.0005, cfg.Train.LearningRate, 1e-9)
	assert.Equal(t, "model", cfg.Export.Dir)
	assert.Equal(t, []string{"tfjs", "json"}, cfg.Export.Formats)
	assert.Equal(t, "1.0.0", cfg.Export.ModelVersion)
	assert.Empty(t, cfg.Metrics.Textfile)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
dataset:
  driver: sqlite
  path: listings.db
  table: sales
train:
  seed: 7
  epochs: 20
export:
  dir: out
  formats: [json]
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Dataset.Driver)
	assert.Equal(t, "listings.db", cfg.Dataset.Path)
	assert.Equal(t, "sales", cfg.Dataset.Table)
	assert.Equal(t, uint64(7), cfg.Train.Seed)
	assert.Equal(t, 20, cfg.Train.Epochs)
	assert.Equal(t, "out", cfg.Export.Dir)
	assert.Equal(t, []string{"json"}, cfg.Export.Formats)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 32, cfg.Train.BatchSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
dataset:
  driver: xlsx
  path: listings.xlsx
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("HOUSING_DATASET_DRIVER", "postgres")
	t.Setenv("HOUSING_DATASET_DATABASE_URL", "postgres://localhost/housing")
	t.Setenv("HOUSING_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Dataset.Driver)
	assert.Equal(t, "postgres://localhost/housing", cfg.Dataset.DatabaseURL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("HOUSING_TRAIN_PATIENCE", "3")
	t.Setenv("HOUSING_METRICS_TEXTFILE", "/tmp/housing.prom")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Train.Patience)
	assert.Equal(t, "/tmp/housing.prom", cfg.Metrics.Textfile)
}

func TestLoadRejectsInvalid(t *testing.T) {
	chdirTemp(t)

	t.Setenv("HOUSING_TRAIN_EVAL_FRACTION", "1.5")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "train.eval_fraction")
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("dataset: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func validConfig() *Config {
	return &Config{
		Dataset: DatasetConfig{Driver: "csv", Path: "housing_data.csv", ReadAttempts: 3},
		Train: TrainConfig{
			EvalFraction:    0.2,
			Epochs:          50,
			BatchSize:       32,
			Patience:        10,
			ValidationSplit: 0.2,
			LearningRate:    0.0005,
		},
		Export: ExportConfig{Dir: "model", Formats: []string{"tfjs"}},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Dataset.Driver = "parquet" }, "dataset.driver"},
		{"missing path", func(c *Config) { c.Dataset.Path = "" }, "dataset.path"},
		{"postgres without url", func(c *Config) { c.Dataset.Driver = "postgres" }, "dataset.database_url"},
		{"read attempts", func(c *Config) { c.Dataset.ReadAttempts = 0 }, "dataset.read_attempts"},
		{"zero epochs", func(c *Config) { c.Train.Epochs = 0 }, "train.epochs"},
		{"zero batch", func(c *Config) { c.Train.BatchSize = 0 }, "train.batch_size"},
		{"zero patience", func(c *Config) { c.Train.Patience = 0 }, "train.patience"},
		{"validation split", func(c *Config) { c.Train.ValidationSplit = 1 }, "train.validation_split"},
		{"learning rate", func(c *Config) { c.Train.LearningRate = 0 }, "train.learning_rate"},
		{"export dir", func(c *Config) { c.Export.Dir = "" }, "export.dir"},
		{"formats", func(c *Config) { c.Export.Formats = nil }, "export.formats"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
