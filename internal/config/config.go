package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Dataset  DatasetConfig  `yaml:"dataset" mapstructure:"dataset"`
	Features FeaturesConfig `yaml:"features" mapstructure:"features"`
	Train    TrainConfig    `yaml:"train" mapstructure:"train"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DatasetConfig selects where training records are read from.
type DatasetConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	Table       string `yaml:"table" mapstructure:"table"`
	Sheet       string `yaml:"sheet" mapstructure:"sheet"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// ReadAttempts bounds retries of transient read failures.
	ReadAttempts int `yaml:"read_attempts" mapstructure:"read_attempts"`
}

// FeaturesConfig points at an optional feature spec file. Empty means the
// built-in housing columns.
type FeaturesConfig struct {
	SpecPath string `yaml:"spec_path" mapstructure:"spec_path"`
}

// TrainConfig holds the split, optimiser and epoch-loop settings.
type TrainConfig struct {
	Seed            uint64  `yaml:"seed" mapstructure:"seed"`
	EvalFraction    float64 `yaml:"eval_fraction" mapstructure:"eval_fraction"`
	Epochs          int     `yaml:"epochs" mapstructure:"epochs"`
	BatchSize       int     `yaml:"batch_size" mapstructure:"batch_size"`
	Patience        int     `yaml:"patience" mapstructure:"patience"`
	ValidationSplit float64 `yaml:"validation_split" mapstructure:"validation_split"`
	LearningRate    float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
}

// ExportConfig controls artifact output.
type ExportConfig struct {
	Dir          string   `yaml:"dir" mapstructure:"dir"`
	Formats      []string `yaml:"formats" mapstructure:"formats"`
	ModelVersion string   `yaml:"model_version" mapstructure:"model_version"`
}

// MetricsConfig enables the Prometheus textfile. Empty Textfile disables it.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HOUSING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("dataset.driver", "csv")
	v.SetDefault("dataset.path", "housing_data.csv")
	v.SetDefault("dataset.table", "housing")
	v.SetDefault("dataset.sheet", "")
	v.SetDefault("dataset.database_url", "")
	v.SetDefault("dataset.read_attempts", 3)
	v.SetDefault("features.spec_path", "")
	v.SetDefault("train.seed", 42)
	v.SetDefault("train.eval_fraction", 0.2)
	v.SetDefault("train.epochs", 50)
	v.SetDefault("train.batch_size", 32)
	v.SetDefault("train.patience", 10)
	v.SetDefault("train.validation_split", 0.2)
	v.SetDefault("train.learning_rate", 0.0005)
	v.SetDefault("export.dir", "model")
	v.SetDefault("export.formats", []string{"tfjs", "json"})
	v.SetDefault("export.model_version", "1.0.0")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Dataset.Driver) {
	case "csv", "xlsx", "sqlite":
		if c.Dataset.Path == "" {
			problems = append(problems, "dataset.path is required for driver "+c.Dataset.Driver)
		}
	case "postgres":
		if c.Dataset.DatabaseURL == "" {
			problems = append(problems, "dataset.database_url is required for driver postgres")
		}
	default:
		problems = append(problems, "dataset.driver must be one of csv, xlsx, sqlite, postgres")
	}

	if c.Dataset.ReadAttempts < 1 {
		problems = append(problems, "dataset.read_attempts must be at least 1")
	}

	if !(c.Train.EvalFraction > 0 && c.Train.EvalFraction < 1) {
		problems = append(problems, "train.eval_fraction must be in (0, 1)")
	}
	if !(c.Train.ValidationSplit > 0 && c.Train.ValidationSplit < 1) {
		problems = append(problems, "train.validation_split must be in (0, 1)")
	}
	if c.Train.Epochs <= 0 {
		problems = append(problems, "train.epochs must be positive")
	}
	if c.Train.BatchSize <= 0 {
		problems = append(problems, "train.batch_size must be positive")
	}
	if c.Train.Patience <= 0 {
		problems = append(problems, "train.patience must be positive")
	}
	if !(c.Train.LearningRate > 0) {
		problems = append(problems, "train.learning_rate must be positive")
	}
	if c.Export.Dir == "" {
		problems = append(problems, "export.dir is required")
	}
	if len(c.Export.Formats) == 0 {
		problems = append(problems, "export.formats must list at least one format")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
