package config

import (
	"fmt"
	"net/url"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for clinsight-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Template engine database (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Clinical reporting database (SQL Server, read-only)
	Reporting ReportingConfig `yaml:"reporting"`

	// AI provider configuration
	AI AIConfig `yaml:"ai"`

	// Template system feature gate and seed catalog
	Templates TemplatesConfig `yaml:"templates"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"clinsight"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"clinsight_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MinConnections int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"2"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ReportingConfig holds connection settings for the SQL Server reporting
// database that approved templates run against.
type ReportingConfig struct {
	Host           string `yaml:"host" env:"REPORTING_HOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"REPORTING_PORT" env-default:"1433"`
	User           string `yaml:"user" env:"REPORTING_USER" env-default:""`
	Password       string `yaml:"-" env:"REPORTING_PASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"REPORTING_DATABASE" env-default:""`
	QueryTimeoutMs int    `yaml:"query_timeout_ms" env:"REPORTING_QUERY_TIMEOUT_MS" env-default:"30000"`
	MaxRows        int    `yaml:"max_rows" env:"REPORTING_MAX_ROWS" env-default:"10000"`
}

// ConnectionString returns a go-mssqldb connection URL.
func (c *ReportingConfig) ConnectionString() string {
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
	}
	q := url.Values{}
	q.Set("database", c.Database)
	q.Set("app name", "clinsight-engine")
	u.RawQuery = q.Encode()
	return u.String()
}

// IsConfigured returns true if a reporting database connection is configured.
func (c *ReportingConfig) IsConfigured() bool {
	return c.Host != "" && c.Database != ""
}

// AIConfig holds AI provider settings for template extraction and question
// decomposition.
type AIConfig struct {
	// Provider selects the backend: "openai" (any OpenAI-compatible
	// endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"AI_ENDPOINT" env-default:""`
	Model    string `yaml:"model" env:"AI_MODEL" env-default:""`
	APIKey   string `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML
}

// IsAvailable returns true if an AI provider is configured.
func (c *AIConfig) IsAvailable() bool {
	return c.Model != ""
}

// TemplatesConfig holds template system settings.
type TemplatesConfig struct {
	// Enabled gates the whole template extraction and matching system.
	Enabled bool `yaml:"enabled" env:"TEMPLATE_SYSTEM_ENABLED" env-default:"true"`

	// SeedCatalogPath points at a YAML catalog of curated templates that is
	// loaded into the database on startup when set.
	SeedCatalogPath string `yaml:"seed_catalog_path" env:"TEMPLATE_SEED_CATALOG_PATH" env-default:""`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Secrets (PGPASSWORD, REPORTING_PASSWORD, AI_API_KEY) must come from
// environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	return cfg, nil
}
