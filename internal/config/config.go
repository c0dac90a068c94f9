package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultPath = "database.conf"

var ErrUnsupportedDatabase = errors.New("unsupported database type")

type Config struct {
	Database DatabaseConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Server   ServerConfig
	Redis    RedisConfig
	Alerts   AlertsConfig
	Logging  LoggingConfig
}

type DatabaseConfig struct {
	Type             string
	SQLitePath       string
	CacheHours       int
	FailedCacheHours int
}

type ScraperConfig struct {
	DelayMin    time.Duration
	DelayMax    time.Duration
	HTTPTimeout time.Duration
	Workers     int
	MaxBrowsers int
	DomainRPS   float64
	UserAgents  []string
}

type BrowserConfig struct {
	Headless       bool
	NavTimeout     time.Duration
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	Locale         string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type AlertsConfig struct {
	WebhookURL     string
	MinDropPercent float64
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the key=value file at path (if present) and then applies
// environment overrides. An empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	file := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		file, err = godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	src := source{file: file}

	cfg := &Config{
		Database: DatabaseConfig{
			Type:             strings.ToLower(src.getEnvOrDefault("DB_TYPE", "database_type", "sqlite")),
			SQLitePath:       src.getEnvOrDefault("DB_SQLITE_PATH", "sqlite_path", "data/prices.db"),
			CacheHours:       src.getIntOrDefault("DB_CACHE_HOURS", "cache_duration_hours", 6),
			FailedCacheHours: src.getIntOrDefault("DB_FAILED_CACHE_HOURS", "failed_cache_duration_hours", 24),
		},
		Scraper: ScraperConfig{
			DelayMin:    src.getDurationOrDefault("SCRAPER_DELAY_MIN", "", 2*time.Second),
			DelayMax:    src.getDurationOrDefault("SCRAPER_DELAY_MAX", "", 5*time.Second),
			HTTPTimeout: src.getDurationOrDefault("SCRAPER_HTTP_TIMEOUT", "", 15*time.Second),
			Workers:     src.getIntOrDefault("SCRAPER_WORKERS", "", 1),
			MaxBrowsers: src.getIntOrDefault("SCRAPER_MAX_BROWSERS", "", 1),
			DomainRPS:   src.getFloatOrDefault("SCRAPER_DOMAIN_RPS", "", 0.2),
			UserAgents:  src.getStringSliceOrDefault("SCRAPER_USER_AGENTS", "", DefaultUserAgents()),
		},
		Browser: BrowserConfig{
			Headless:       src.getBoolOrDefault("BROWSER_HEADLESS", "", true),
			NavTimeout:     src.getDurationOrDefault("BROWSER_NAV_TIMEOUT", "", 45*time.Second),
			ViewportWidth:  src.getIntOrDefault("BROWSER_VIEWPORT_WIDTH", "", 1920),
			ViewportHeight: src.getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", "", 1080),
			TimezoneID:     src.getEnvOrDefault("BROWSER_TIMEZONE", "", "Europe/Paris"),
			Locale:         src.getEnvOrDefault("BROWSER_LOCALE", "", "fr-FR"),
		},
		Server: ServerConfig{
			Port:            src.getIntOrDefault("SERVER_PORT", "", 8080),
			ReadTimeout:     src.getDurationOrDefault("SERVER_READ_TIMEOUT", "", 15*time.Second),
			WriteTimeout:    src.getDurationOrDefault("SERVER_WRITE_TIMEOUT", "", 60*time.Second),
			ShutdownTimeout: src.getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", "", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     src.getEnvOrDefault("REDIS_ADDR", "", ""),
			Password: src.getEnvOrDefault("REDIS_PASSWORD", "", ""),
			DB:       src.getIntOrDefault("REDIS_DB", "", 0),
			Stream:   src.getEnvOrDefault("REDIS_STREAM", "", "stream:price_events"),
		},
		Alerts: AlertsConfig{
			WebhookURL:     src.getEnvOrDefault("DISCORD_WEBHOOK_URL", "", ""),
			MinDropPercent: src.getFloatOrDefault("ALERT_MIN_DROP_PERCENT", "", 0),
		},
		Logging: LoggingConfig{
			Level:  src.getEnvOrDefault("LOG_LEVEL", "", "info"),
			Format: src.getEnvOrDefault("LOG_FORMAT", "", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.Type != "sqlite" {
		return fmt.Errorf("%w: %q (only sqlite is supported)", ErrUnsupportedDatabase, c.Database.Type)
	}

	if c.Database.SQLitePath == "" {
		return fmt.Errorf("DB_SQLITE_PATH must not be empty")
	}

	if c.Database.CacheHours < 1 {
		return fmt.Errorf("cache_duration_hours must be at least 1")
	}

	if c.Database.FailedCacheHours < 1 {
		return fmt.Errorf("failed_cache_duration_hours must be at least 1")
	}

	if c.Scraper.DelayMin > c.Scraper.DelayMax {
		return fmt.Errorf("SCRAPER_DELAY_MIN cannot be greater than SCRAPER_DELAY_MAX")
	}

	if c.Scraper.Workers < 1 {
		return fmt.Errorf("SCRAPER_WORKERS must be at least 1")
	}

	if c.Scraper.MaxBrowsers < 1 {
		return fmt.Errorf("SCRAPER_MAX_BROWSERS must be at least 1")
	}

	return nil
}

// CacheTTL and FailedCacheTTL expose the configured hours as durations.
func (d DatabaseConfig) CacheTTL() time.Duration {
	return time.Duration(d.CacheHours) * time.Hour
}

func (d DatabaseConfig) FailedCacheTTL() time.Duration {
	return time.Duration(d.FailedCacheHours) * time.Hour
}

// source resolves a setting from the environment first, then the
// config file key.
type source struct {
	file map[string]string
}

func (s source) lookup(envKey, fileKey string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	if fileKey != "" {
		return strings.TrimSpace(s.file[fileKey])
	}
	return ""
}

func (s source) getEnvOrDefault(envKey, fileKey, defaultValue string) string {
	if value := s.lookup(envKey, fileKey); value != "" {
		return value
	}
	return defaultValue
}

func (s source) getIntOrDefault(envKey, fileKey string, defaultValue int) int {
	if value := s.lookup(envKey, fileKey); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func (s source) getFloatOrDefault(envKey, fileKey string, defaultValue float64) float64 {
	if value := s.lookup(envKey, fileKey); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func (s source) getBoolOrDefault(envKey, fileKey string, defaultValue bool) bool {
	if value := s.lookup(envKey, fileKey); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func (s source) getDurationOrDefault(envKey, fileKey string, defaultValue time.Duration) time.Duration {
	if value := s.lookup(envKey, fileKey); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (s source) getStringSliceOrDefault(envKey, fileKey string, defaultValue []string) []string {
	if value := s.lookup(envKey, fileKey); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	}
}
