// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

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

// Counter backends
const (
	CounterBackendHTTP   = "http"
	CounterBackendRedis  = "redis"
	CounterBackendMemory = "memory"
)

// Geolocation providers
const (
	GeoProviderHTTP    = "http"
	GeoProviderGeoLite = "geolite"
	GeoProviderNone    = "none"
)

const defaultPrivateKey = "88888888888888888888888888888888"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`
	Timezone    string   `mapstructure:"timezone"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`
	CatalogPath           string `mapstructure:"catalogpath"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Remote counter settings
	CounterBackend         string `mapstructure:"counterbackend"`
	CounterEndpoints       string `mapstructure:"counterendpoints"` // comma separated, tried in order
	CounterNamespace       string `mapstructure:"counternamespace"`
	CounterCooldownSeconds int    `mapstructure:"countercooldownseconds"`
	CounterTimeoutMillis   int    `mapstructure:"countertimeoutmillis"`
	RedisURL               string `mapstructure:"redisurl"`

	// Geolocation settings
	GeoProvider        string `mapstructure:"geoprovider"`
	GeoURL             string `mapstructure:"geourl"`
	GeoDBPath          string `mapstructure:"geodbpath"`
	GeoTimeoutMillis   int    `mapstructure:"geotimeoutmillis"`
	GeoCacheTTLSeconds int    `mapstructure:"geocachettlseconds"`
	GeoLiteLicenseKey  string `mapstructure:"geolitelicensekey"`
	GeoLiteDownloadURL string `mapstructure:"geolitedownloadurl"`

	// Tracking settings
	DashboardPath      string `mapstructure:"dashboardpath"`
	DashboardKey       string `mapstructure:"dashboardkey"` // empty leaves the dashboard open
	ExcludedPaths      string `mapstructure:"excludedpaths"` // comma separated PCRE patterns
	VisitLogCap        int    `mapstructure:"visitlogcap"`
	VisitRetentionDays int    `mapstructure:"visitretentiondays"`
	DedupWindowSeconds int    `mapstructure:"dedupwindowseconds"`

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

		v.SetDefault("appname", "footfall")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", defaultPrivateKey)
		v.SetDefault("timezone", "Local")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("publicdir", "web/static")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("catalogpath", "")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("counterbackend", CounterBackendHTTP)
		v.SetDefault("counterendpoints", "https://api.counterapi.dev/v1")
		v.SetDefault("counternamespace", "footfall_site")
		v.SetDefault("countercooldownseconds", 600)
		v.SetDefault("countertimeoutmillis", 4000)
		v.SetDefault("redisurl", "redis://localhost:6379/0")
		v.SetDefault("geoprovider", GeoProviderHTTP)
		v.SetDefault("geourl", "https://ipapi.co/{ip}/json/")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("geotimeoutmillis", 2500)
		v.SetDefault("geocachettlseconds", 86400)
		v.SetDefault("geolitelicensekey", "")
		v.SetDefault("geolitedownloadurl", "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key={key}&suffix=tar.gz")
		v.SetDefault("dashboardpath", "/insights/")
		v.SetDefault("dashboardkey", "")
		v.SetDefault("excludedpaths", "")
		v.SetDefault("visitlogcap", 500)
		v.SetDefault("visitretentiondays", 90)
		v.SetDefault("dedupwindowseconds", 10)
		v.SetDefault("jobintervalseconds", 3600)

		v.BindEnv("appname", "FOOTFALL_APP_NAME")
		v.BindEnv("appport", "FOOTFALL_APP_PORT")
		v.BindEnv("environment", "FOOTFALL_ENV")
		v.BindEnv("loglevel", "FOOTFALL_LOG_LEVEL")
		v.BindEnv("privatekey", "FOOTFALL_PRIVATE_KEY")
		v.BindEnv("timezone", "FOOTFALL_TIMEZONE")
		v.BindEnv("storagepath", "FOOTFALL_STORAGE_PATH")
		v.BindEnv("publicdir", "FOOTFALL_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "FOOTFALL_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("catalogpath", "FOOTFALL_CATALOG_PATH")
		v.BindEnv("logsdir", "FOOTFALL_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "FOOTFALL_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "FOOTFALL_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "FOOTFALL_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "FOOTFALL_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "FOOTFALL_DB_MAX_IDLE_CONNS")
		v.BindEnv("counterbackend", "FOOTFALL_COUNTER_BACKEND")
		v.BindEnv("counterendpoints", "FOOTFALL_COUNTER_ENDPOINTS")
		v.BindEnv("counternamespace", "FOOTFALL_COUNTER_NAMESPACE")
		v.BindEnv("countercooldownseconds", "FOOTFALL_COUNTER_COOLDOWN_SECONDS")
		v.BindEnv("countertimeoutmillis", "FOOTFALL_COUNTER_TIMEOUT_MILLIS")
		v.BindEnv("redisurl", "FOOTFALL_REDIS_URL")
		v.BindEnv("geoprovider", "FOOTFALL_GEO_PROVIDER")
		v.BindEnv("geourl", "FOOTFALL_GEO_URL")
		v.BindEnv("geodbpath", "FOOTFALL_GEO_DB_PATH")
		v.BindEnv("geotimeoutmillis", "FOOTFALL_GEO_TIMEOUT_MILLIS")
		v.BindEnv("geocachettlseconds", "FOOTFALL_GEO_CACHE_TTL_SECONDS")
		v.BindEnv("geolitelicensekey", "FOOTFALL_GEOLITE_LICENSE_KEY")
		v.BindEnv("geolitedownloadurl", "FOOTFALL_GEOLITE_DOWNLOAD_URL")
		v.BindEnv("dashboardpath", "FOOTFALL_DASHBOARD_PATH")
		v.BindEnv("dashboardkey", "FOOTFALL_DASHBOARD_KEY")
		v.BindEnv("excludedpaths", "FOOTFALL_EXCLUDED_PATHS")
		v.BindEnv("visitlogcap", "FOOTFALL_VISIT_LOG_CAP")
		v.BindEnv("visitretentiondays", "FOOTFALL_VISIT_RETENTION_DAYS")
		v.BindEnv("dedupwindowseconds", "FOOTFALL_DEDUP_WINDOW_SECONDS")
		v.BindEnv("jobintervalseconds", "FOOTFALL_JOB_INTERVAL_SECONDS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		if cfg.IsProduction() && cfg.PrivateKey == defaultPrivateKey {
			log.Fatal("Production requires a unique FOOTFALL_PRIVATE_KEY (cannot use default)")
		}
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

	validBackends := map[string]bool{
		CounterBackendHTTP:   true,
		CounterBackendRedis:  true,
		CounterBackendMemory: true,
	}
	if !validBackends[c.CounterBackend] {
		return fmt.Errorf("invalid counter backend: %s", c.CounterBackend)
	}
	if c.CounterBackend == CounterBackendHTTP && len(c.GetCounterEndpoints()) == 0 {
		return fmt.Errorf("counter backend %q requires at least one endpoint", c.CounterBackend)
	}

	validGeo := map[string]bool{
		GeoProviderHTTP:    true,
		GeoProviderGeoLite: true,
		GeoProviderNone:    true,
	}
	if !validGeo[c.GeoProvider] {
		return fmt.Errorf("invalid geolocation provider: %s", c.GeoProvider)
	}

	if strings.TrimSpace(c.CounterNamespace) == "" {
		return fmt.Errorf("counter namespace is required")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
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

// GetCounterEndpoints returns the configured counter base URLs in fallback order.
func (c *Config) GetCounterEndpoints() []string {
	return splitList(c.CounterEndpoints)
}

// GetExcludedPaths returns the extra path exclusion patterns.
// The dashboard path is always excluded by the collector on top of these.
func (c *Config) GetExcludedPaths() []string {
	return splitList(c.ExcludedPaths)
}

// CounterCooldown is how long remote calls stay suppressed after a transport failure.
func (c *Config) CounterCooldown() time.Duration {
	return time.Duration(c.CounterCooldownSeconds) * time.Second
}

// CounterTimeout bounds a single request against one counter endpoint.
func (c *Config) CounterTimeout() time.Duration {
	return time.Duration(c.CounterTimeoutMillis) * time.Millisecond
}

// GeoTimeout bounds one geolocation lookup.
func (c *Config) GeoTimeout() time.Duration {
	return time.Duration(c.GeoTimeoutMillis) * time.Millisecond
}

// GeoCacheTTL is how long a resolved location is reused for the same IP.
func (c *Config) GeoCacheTTL() time.Duration {
	return time.Duration(c.GeoCacheTTLSeconds) * time.Second
}

// VisitRetention is how long visit log rows are kept.
func (c *Config) VisitRetention() time.Duration {
	return time.Duration(c.VisitRetentionDays) * 24 * time.Hour
}

// JobInterval is how often the background jobs run.
func (c *Config) JobInterval() time.Duration {
	if c.JobIntervalSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.JobIntervalSeconds) * time.Second
}

// DedupWindow is the window in which a repeated visitor+path is not logged again.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// Location returns the timezone used to bucket visits into calendar days.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
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
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// Test runs use a single connection; everything else allows concurrent dashboard reads.
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

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
