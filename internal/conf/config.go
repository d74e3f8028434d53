// config.go: defines the configuration settings for the application
package conf

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/kmakela/gearbase/internal/errors"
)

// LogRotationType defines the type of log rotation
type LogRotationType string

const (
	RotationDaily  LogRotationType = "daily"
	RotationWeekly LogRotationType = "weekly"
	RotationSize   LogRotationType = "size"
)

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled  bool            // true to enable this log
	Path     string          // path to log file
	Rotation LogRotationType // rotation type
	MaxSize  int64           // max size in bytes for size rotation
}

// RegistryConfig defines the equipment registry database backends
type RegistryConfig struct {
	SQLite struct {
		Enabled bool   // true to enable sqlite
		Path    string // path to sqlite database file
	}
	MySQL struct {
		Enabled  bool   // true to enable mysql
		Username string // username for mysql
		Password string // password for mysql
		Database string // database name
		Host     string // host for mysql
		Port     string // port for mysql
	}
}

// UploadConfig defines where acquired images are materialized
type UploadConfig struct {
	Dir string // upload root directory, created on demand
}

// OracleConfig defines the external knowledge oracle settings
type OracleConfig struct {
	BaseURL     string        // chat completions endpoint base URL
	APIKey      string        // bearer token for the oracle service
	Model       string        // model identifier sent with each query
	Timeout     time.Duration // per-query timeout
	RateLimitMS int           // minimum milliseconds between queries
	CacheTTL    time.Duration // how long oracle answers are cached
}

// FetchConfig defines the direct download strategy settings
type FetchConfig struct {
	Timeout      time.Duration // per-download timeout
	MaxRedirects int           // maximum redirect hops before giving up
	MinImageSize int64         // minimum byte size for a valid image
	UserAgent    string        // user agent sent with download requests
}

// BrowserConfig defines the browser automation strategy settings
type BrowserConfig struct {
	ExecPath       string        // path to chrome/chromium binary, empty for auto-discovery
	Headless       bool          // run the browser headless
	NavTimeout     time.Duration // navigation timeout
	SettleDelay    time.Duration // wait after navigation for async image loading
	ViewportWidth  int           // fixed viewport width
	ViewportHeight int           // fixed viewport height
	UserAgent      string        // user agent presented by the browser
}

// BulkConfig defines the bulk scheduler settings
type BulkConfig struct {
	MaxGroups  int           // maximum equivalence groups per batch run
	GroupDelay time.Duration // delay between groups to honor rate limits
}

// Settings contains all configuration settings for the application
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version string `yaml:"-"`

	Main struct {
		Name string    // name of this gearbase node
		Log  LogConfig // main logging configuration
	}

	Registry RegistryConfig // equipment registry database
	Upload   UploadConfig   // image upload directory
	Oracle   OracleConfig   // knowledge oracle
	Fetch    FetchConfig    // direct fetch strategy
	Browser  BrowserConfig  // browser automation strategy
	Bulk     BulkConfig     // bulk scheduler
	Sentry   struct {
		Enabled bool   // true to enable error telemetry
		DSN     string // sentry DSN
	}
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter,
	// function defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, continue with defaults
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	settingsMutex.RLock()
	if settingsInstance != nil {
		defer settingsMutex.RUnlock()
		return settingsInstance
	}
	settingsMutex.RUnlock()

	if _, err := Load(); err != nil {
		return nil
	}

	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SetTestSettings replaces the settings instance, intended for tests only.
func SetTestSettings(settings *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = settings
}
