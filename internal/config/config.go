// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`

	// Attribution settings
	AggregationWindowDays int    `mapstructure:"aggregationwindowdays"`
	EventRetentionDays    int    `mapstructure:"eventretentiondays"`
	ChannelRulesPath      string `mapstructure:"channelrulespath"`

	// Funnel flow limits (persisted row caps per day)
	MaxPageTransitionsPerDay int `mapstructure:"maxpagetransitionsperday"`
	MaxSourceEntriesPerDay   int `mapstructure:"maxsourceentriesperday"`

	// Goal graph search caps
	MaxGoalPaths     int `mapstructure:"maxgoalpaths"`
	MaxGoalPathDepth int `mapstructure:"maxgoalpathdepth"`

	// File paths
	DatabasePath string `mapstructure:"storagepath"`
	DatabaseName string `mapstructure:"-"` // Derived from other settings

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		// Set defaults
		v.SetDefault("appname", "attriflow")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("aggregationwindowdays", 2)
		v.SetDefault("eventretentiondays", 90)
		v.SetDefault("channelrulespath", "")
		v.SetDefault("maxpagetransitionsperday", 200)
		v.SetDefault("maxsourceentriesperday", 50)
		v.SetDefault("maxgoalpaths", 1000)
		v.SetDefault("maxgoalpathdepth", 50)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("jobintervalseconds", 300)

		// Bind environment variables
		v.BindEnv("appname", "ATTRIFLOW_APP_NAME")
		v.BindEnv("environment", "ATTRIFLOW_ENV")
		v.BindEnv("loglevel", "ATTRIFLOW_LOG_LEVEL")
		v.BindEnv("aggregationwindowdays", "ATTRIFLOW_AGGREGATION_WINDOW_DAYS")
		v.BindEnv("eventretentiondays", "ATTRIFLOW_EVENT_RETENTION_DAYS")
		v.BindEnv("channelrulespath", "ATTRIFLOW_CHANNEL_RULES_PATH")
		v.BindEnv("maxpagetransitionsperday", "ATTRIFLOW_MAX_PAGE_TRANSITIONS_PER_DAY")
		v.BindEnv("maxsourceentriesperday", "ATTRIFLOW_MAX_SOURCE_ENTRIES_PER_DAY")
		v.BindEnv("maxgoalpaths", "ATTRIFLOW_MAX_GOAL_PATHS")
		v.BindEnv("maxgoalpathdepth", "ATTRIFLOW_MAX_GOAL_PATH_DEPTH")
		v.BindEnv("storagepath", "ATTRIFLOW_STORAGE_PATH")
		v.BindEnv("logsdir", "ATTRIFLOW_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "ATTRIFLOW_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "ATTRIFLOW_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "ATTRIFLOW_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "ATTRIFLOW_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "ATTRIFLOW_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "ATTRIFLOW_DB_MAX_IDLE_CONNS")
		v.BindEnv("jobintervalseconds", "ATTRIFLOW_JOB_INTERVAL_SECONDS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.AggregationWindowDays <= 0 {
		return fmt.Errorf("aggregation window must be positive, got %d", c.AggregationWindowDays)
	}

	if c.EventRetentionDays <= 0 {
		return fmt.Errorf("event retention must be positive, got %d", c.EventRetentionDays)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
// Attriflow runs as a batch worker with no request surface, so this is empty.
func (c *Config) GetPort() string {
	return ""
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
// Attriflow serves no static assets, so this is empty.
func (c *Config) GetPublicDirectory() string {
	return ""
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
// Attriflow serves no static assets, so this is empty.
func (c *Config) GetAssetsPrefix() string {
	return ""
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for test stability)
// - Development/Production: 10 (allows concurrent reads across tenant pipelines)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
