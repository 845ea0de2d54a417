// Package config provides configuration management for the decision-forest CLI.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Training TrainingConfig `mapstructure:"training"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
}

// TrainingConfig holds training defaults, overridable per run by CLI flags.
type TrainingConfig struct {
	NTree     int     `mapstructure:"n_tree"`
	MinNode   int     `mapstructure:"min_node"`
	MaxDepth  int     `mapstructure:"max_depth"`
	MinRatio  float64 `mapstructure:"min_ratio"`
	TreeBlock int     `mapstructure:"tree_block"`
	MaxWorker int     `mapstructure:"max_worker"`
	Seed      int64   `mapstructure:"seed"`
}

// DatabaseConfig holds model registry connection configuration.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"` // for sqlite
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds forest artifact storage configuration.
type StorageConfig struct {
	// ArtifactDir anchors bare artifact names passed to --out / --model.
	ArtifactDir string `mapstructure:"artifact_dir"`
	// Compression selects the artifact codec: zstd, gzip or none.
	Compression string `mapstructure:"compression"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
}

// Load reads configuration from the specified file path. A missing path
// yields pure defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FOREST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("training.n_tree", 500)
	v.SetDefault("training.min_node", 2)
	v.SetDefault("training.max_depth", 0) // 0: unlimited
	v.SetDefault("training.min_ratio", 0.0)
	v.SetDefault("training.tree_block", 8)
	v.SetDefault("training.max_worker", 0) // 0: runtime default
	v.SetDefault("training.seed", 0)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./forest.db")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("storage.artifact_dir", "./models")
	v.SetDefault("storage.compression", "zstd")

	v.SetDefault("log.level", "info")
}

func validate(cfg *Config) error {
	switch cfg.Database.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	if cfg.Training.NTree < 1 {
		return fmt.Errorf("training.n_tree must be positive, got %d", cfg.Training.NTree)
	}
	if cfg.Training.MinRatio < 0 || cfg.Training.MinRatio > 1 {
		return fmt.Errorf("training.min_ratio must lie in [0,1], got %g", cfg.Training.MinRatio)
	}
	switch cfg.Storage.Compression {
	case "zstd", "gzip", "none", "":
	default:
		return fmt.Errorf("unsupported artifact compression: %s", cfg.Storage.Compression)
	}
	return nil
}
