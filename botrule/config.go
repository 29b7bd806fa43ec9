package botrule

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the botrule service configuration.
type Config struct {
	Addr         string        `yaml:"addr"`
	DBPath       string        `yaml:"db_path"`
	TraceDBPath  string        `yaml:"trace_db_path"`
	TraceSQL     bool          `yaml:"trace_sql"`
	LogLevel     string        `yaml:"log_level"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	MCPEnabled   bool          `yaml:"mcp_enabled"`
	SQLite       SQLiteConfig  `yaml:"sqlite"`
	Preview      PreviewConfig `yaml:"preview"`

	// EventRetentionDays prunes older business events when the service
	// starts. 0 keeps everything.
	EventRetentionDays int `yaml:"event_retention_days"`
}

// SQLiteConfig tunes the rule database. Zero values keep the dbopen defaults
// (busy_timeout 10000 ms, synchronous NORMAL).
type SQLiteConfig struct {
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	Synchronous   string `yaml:"synchronous"`
}

// PreviewConfig controls page fetching for rule previews.
type PreviewConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	// AllowPrivate lets previews fetch loopback and private addresses.
	AllowPrivate bool `yaml:"allow_private"`
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = ":8090"
	}
	if c.DBPath == "" {
		c.DBPath = "botrule.db"
	}
	// A trace DB only receives entries from the tracing driver.
	if c.TraceDBPath != "" {
		c.TraceSQL = true
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	// Negative disables the limit; zero takes the default.
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.Preview.Timeout <= 0 {
		c.Preview.Timeout = 15 * time.Second
	}
	if c.Preview.UserAgent == "" {
		c.Preview.UserAgent = "botrule-preview/1.0"
	}
}

// Defaults fills zero values in place and returns c.
func (c *Config) Defaults() *Config {
	c.defaults()
	return c
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
