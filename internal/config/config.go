package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/mail-ingest/")
	v.AddConfigPath("$HOME/.mail-ingest")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("MAIL_INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_address", "127.0.0.1:8642")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Local mailbox collector defaults
	v.SetDefault("local.enabled", true)
	v.SetDefault("local.mailbox_root", "")
	v.SetDefault("local.index_path", "")
	v.SetDefault("local.scan_cap", 50000)

	// Remote (IMAP) collector defaults
	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.host", "")
	v.SetDefault("remote.port", 993)
	v.SetDefault("remote.username", "")
	v.SetDefault("remote.folder", "INBOX")
	v.SetDefault("remote.window_days", 30)
	v.SetDefault("remote.max_windows", 24)
	v.SetDefault("remote.floor", "")
	v.SetDefault("remote.fetch_timeout", "60s")
	v.SetDefault("remote.cache_dir", "/tmp/mail-ingest")
	v.SetDefault("remote.cache_max_bytes", 256*1024*1024)

	// Sync state defaults
	v.SetDefault("state.type", "sqlite")
	v.SetDefault("state.sqlite_path", "/data/mail_ingest_state.db")
	v.SetDefault("state.mysql_dsn", "user:password@tcp(localhost:3306)/mail_ingest?parseTime=true")

	// Catalog defaults
	v.SetDefault("catalog.base_url", "http://localhost:9200")
	v.SetDefault("catalog.token", "")
	v.SetDefault("catalog.timeout", "30s")
	v.SetDefault("catalog.max_attempts", 4)
	v.SetDefault("catalog.rate_limit_retries", 1)
	v.SetDefault("catalog.backoff_base", "500ms")
	v.SetDefault("catalog.max_body_bytes", 262144)

	// Captioner defaults
	v.SetDefault("captioner.provider", "none")
	v.SetDefault("captioner.openai.api_key", "")
	v.SetDefault("captioner.openai.model_name", "gpt-4o-mini")
	v.SetDefault("captioner.openai.max_tokens", 120)
	v.SetDefault("captioner.gemini.api_key", "")
	v.SetDefault("captioner.gemini.model_name", "gemini-1.5-flash")
	v.SetDefault("captioner.gemini.max_tokens", 120)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetInt64 gets a 64-bit integer value from the configuration
func (c *Config) GetInt64(key string) int64 {
	return c.v.GetInt64(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
