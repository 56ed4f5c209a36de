package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for a merge run
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Merge configuration
	Merge MergeConfig `mapstructure:"merge"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	// ErrorDB is an optional DuckDB file that receives error records
	ErrorDB string `mapstructure:"error_db"`
}

// DatabaseConfig holds the graph connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // memory, badger, neo4j, memgraph
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"` // empty uses "neo4j" or "memgraph" by driver
	Path     string `mapstructure:"path"` // badger directory
	InMemory bool   `mapstructure:"in_memory"`
}

// MergeConfig holds merge engine configuration
type MergeConfig struct {
	Workers   int    `mapstructure:"workers"`
	RulesFile string `mapstructure:"rules_file"`
	DryRun    bool   `mapstructure:"dry_run"`
}

// Load reads the graph configuration file at path. Values not present in the
// file fall back to defaults, and GRAPHMERGE_* environment variables override
// both (GRAPHMERGE_DATABASE_URI, GRAPHMERGE_LOG_LEVEL, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("graphmerge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config %s: %w", path, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for values the merger cannot work with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "badger":
		if c.Database.Path == "" && !c.Database.InMemory {
			return fmt.Errorf("database.path is required for the badger driver")
		}
	case "neo4j", "memgraph":
		if c.Database.URI == "" {
			return fmt.Errorf("database.uri is required for the %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Merge.Workers < 0 {
		return fmt.Errorf("merge.workers must not be negative")
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.error_db", "")

	// Database defaults
	v.SetDefault("database.driver", "neo4j")
	v.SetDefault("database.uri", "bolt://localhost:7687")
	v.SetDefault("database.username", "neo4j")
	v.SetDefault("database.password", "password")
	// empty selects the provider's default database
	v.SetDefault("database.database", "")
	v.SetDefault("database.path", "")
	v.SetDefault("database.in_memory", false)

	// Merge defaults
	v.SetDefault("merge.workers", 4)
	v.SetDefault("merge.rules_file", "")
	v.SetDefault("merge.dry_run", false)
}
