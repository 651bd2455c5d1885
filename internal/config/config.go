package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Downloader  DownloaderConfig  `mapstructure:"downloader"`
	Journal     JournalConfig     `mapstructure:"journal"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// StorageConfig contains local storage settings
type StorageConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

// CatalogConfig contains region catalog settings
type CatalogConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// DownloaderConfig contains artifact download settings
type DownloaderConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	Timeout          string `mapstructure:"timeout"`
	Attempts         int    `mapstructure:"attempts"`
	RetryBackoff     string `mapstructure:"retry_backoff"`
	ProgressInterval string `mapstructure:"progress_interval"`
	UserAgent        string `mapstructure:"user_agent"`
}

// JournalConfig contains download journal settings
type JournalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Retention string `mapstructure:"retention"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	DebugUsername string `mapstructure:"debug_username"`
	DebugPassword string `mapstructure:"debug_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MaintenanceConfig contains background maintenance settings
type MaintenanceConfig struct {
	RescanInterval string `mapstructure:"rescan_interval"`
	PurgeInterval  string `mapstructure:"purge_interval"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("storage.root_dir", "/var/lib/mapstash")
	viper.SetDefault("catalog.path", "/etc/mapstash/catalog.yaml")
	viper.SetDefault("catalog.watch", true)
	viper.SetDefault("downloader.timeout", "30m")
	viper.SetDefault("downloader.attempts", 3)
	viper.SetDefault("downloader.retry_backoff", "2s")
	viper.SetDefault("downloader.progress_interval", "300ms")
	viper.SetDefault("downloader.user_agent", "mapstash")
	viper.SetDefault("journal.enabled", true)
	viper.SetDefault("journal.path", "")
	viper.SetDefault("journal.retention", "720h")
	viper.SetDefault("http.bind_addr", "0.0.0.0:8080")
	viper.SetDefault("http.debug_username", "")
	viper.SetDefault("http.debug_password", "")
	viper.SetDefault("http.read_timeout", "30s")
	viper.SetDefault("http.write_timeout", "30s")
	viper.SetDefault("http.idle_timeout", "60s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("maintenance.rescan_interval", "1h")
	viper.SetDefault("maintenance.purge_interval", "6h")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.RootDir == "" {
		return fmt.Errorf("storage.root_dir is required")
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	// Validate downloader config
	if c.Downloader.BaseURL == "" {
		return fmt.Errorf("downloader.base_url is required")
	}
	if c.Downloader.Attempts < 1 || c.Downloader.Attempts > 10 {
		return fmt.Errorf("downloader.attempts must be between 1 and 10")
	}
	if _, err := time.ParseDuration(c.Downloader.Timeout); err != nil {
		return fmt.Errorf("invalid downloader.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Downloader.RetryBackoff); err != nil {
		return fmt.Errorf("invalid downloader.retry_backoff: %w", err)
	}
	if _, err := time.ParseDuration(c.Downloader.ProgressInterval); err != nil {
		return fmt.Errorf("invalid downloader.progress_interval: %w", err)
	}

	// Validate journal config
	if _, err := time.ParseDuration(c.Journal.Retention); err != nil {
		return fmt.Errorf("invalid journal.retention: %w", err)
	}

	// Validate maintenance intervals
	if _, err := time.ParseDuration(c.Maintenance.RescanInterval); err != nil {
		return fmt.Errorf("invalid maintenance.rescan_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Maintenance.PurgeInterval); err != nil {
		return fmt.Errorf("invalid maintenance.purge_interval: %w", err)
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetTimeout returns the per-attempt download timeout as time.Duration
func (c *DownloaderConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 30 * time.Minute
	}
	return d
}

// GetRetryBackoff returns the retry backoff as time.Duration
func (c *DownloaderConfig) GetRetryBackoff() time.Duration {
	d, _ := time.ParseDuration(c.RetryBackoff)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// GetProgressInterval returns the progress report interval as time.Duration
func (c *DownloaderConfig) GetProgressInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProgressInterval)
	if d == 0 {
		return 300 * time.Millisecond
	}
	return d
}

// GetRetention returns the journal retention window as time.Duration
func (c *JournalConfig) GetRetention() time.Duration {
	d, _ := time.ParseDuration(c.Retention)
	if d == 0 {
		return 30 * 24 * time.Hour
	}
	return d
}

// GetRescanInterval returns the rescan interval as time.Duration
func (c *MaintenanceConfig) GetRescanInterval() time.Duration {
	d, _ := time.ParseDuration(c.RescanInterval)
	if d == 0 {
		return time.Hour
	}
	return d
}

// GetPurgeInterval returns the journal purge interval as time.Duration
func (c *MaintenanceConfig) GetPurgeInterval() time.Duration {
	d, _ := time.ParseDuration(c.PurgeInterval)
	if d == 0 {
		return 6 * time.Hour
	}
	return d
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}
