package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	// Name is the display name of the data source.
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	// Path is the database file for sqlite.
	Path string `yaml:"path"`
}

type CacheConfig struct {
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	RefreshWorkers int           `yaml:"refresh_workers"`
	EventBuffer    int           `yaml:"event_buffer"`
}

type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

const (
	defaultFetchTimeout   = 30 * time.Second
	defaultRefreshWorkers = 4
	defaultEventBuffer    = 256
)

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	c.Database.Type = normalizeDatabaseType(c.Database.Type)

	switch c.Database.Type {
	case "postgres":
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.Driver == "" {
			c.Database.Driver = "postgres"
		}
	case "db2":
		if c.Database.Port == 0 {
			c.Database.Port = 50000
		}
		if c.Database.Driver == "" {
			c.Database.Driver = "go_ibm_db"
		}
	case "sqlite":
		if c.Database.Driver == "" {
			c.Database.Driver = "sqlite"
		}
		if c.Database.Path == "" {
			c.Database.Path = c.Database.Database
		}
	}

	if c.Database.Name == "" {
		c.Database.Name = c.Database.Database
		if c.Database.Type == "sqlite" {
			c.Database.Name = c.Database.Path
		}
	}

	if c.Cache.FetchTimeout <= 0 {
		c.Cache.FetchTimeout = defaultFetchTimeout
	}
	if c.Cache.RefreshWorkers <= 0 {
		c.Cache.RefreshWorkers = defaultRefreshWorkers
	}
	if c.Cache.EventBuffer <= 0 {
		c.Cache.EventBuffer = defaultEventBuffer
	}
}

// Validate reports settings that cannot produce a connection.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgres", "db2":
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("database.host is required for %s", c.Database.Type)
		}
	case "sqlite":
		if c.Database.DSN == "" && c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	return nil
}

func (c *Config) GetConnectionString() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}

	switch c.Database.Type {
	case "db2":
		return fmt.Sprintf(
			"HOSTNAME=%s;PORT=%d;DATABASE=%s;UID=%s;PWD=%s",
			c.Database.Host,
			c.Database.Port,
			c.Database.Database,
			c.Database.Username,
			c.Database.Password,
		)
	case "sqlite":
		return c.Database.Path
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.Username,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

func normalizeDatabaseType(dbType string) string {
	dbType = strings.ToLower(strings.TrimSpace(dbType))
	if dbType == "" {
		return "postgres"
	}

	switch dbType {
	case "postgres", "postgresql":
		return "postgres"
	case "db2", "db2luw":
		return "db2"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return dbType
	}
}
