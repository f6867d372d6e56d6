package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Dbt      DbtConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// RequestTimeout bounds a whole API call, which for a results run spans
	// several page fetches.
	RequestTimeout time.Duration
	CORSOrigins    []string
}

type ScraperConfig struct {
	RawBase        string
	ResultsBaseURL string
	Timeout        time.Duration
	// RateLimit is the number of outbound requests per second. Zero disables
	// pacing.
	RateLimit float64
	UserAgent string
}

type DatabaseConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

type RedisConfig struct {
	Enabled        bool
	Addr           string
	Password       string
	DB             int
	Stream         string
	StreamMaxLen   int64
	RelayInterval  time.Duration
	RelayBatchSize int
}

type DbtConfig struct {
	Enabled    bool
	Bin        string
	ProjectDir string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8000),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Minute),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 15*time.Minute),
			CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),
		},
		Scraper: ScraperConfig{
			RawBase:        getEnv("RAW_BASE", "/data/raw"),
			ResultsBaseURL: getEnv("RESULTS_BASE_URL", "https://www.cars.com/shopping/results/"),
			Timeout:        getEnvDuration("SCRAPER_TIMEOUT", 30*time.Second),
			RateLimit:      getEnvFloat("SCRAPER_RATE_LIMIT", 1),
			UserAgent:      getEnv("SCRAPER_USER_AGENT", ""),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvBool("DB_ENABLED", false),
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "cartracker"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:        getEnvBool("REDIS_ENABLED", false),
			Addr:           getEnv("REDIS_ADDR", "localhost:6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			Stream:         getEnv("REDIS_STREAM", "stream:car_tracker"),
			StreamMaxLen:   int64(getEnvInt("REDIS_STREAM_MAXLEN", 100000)),
			RelayInterval:  getEnvDuration("RELAY_INTERVAL", 5*time.Second),
			RelayBatchSize: getEnvInt("RELAY_BATCH_SIZE", 100),
		},
		Dbt: DbtConfig{
			Enabled:    getEnvBool("DBT_ENABLED", false),
			Bin:        getEnv("DBT_BIN", "dbt"),
			ProjectDir: getEnv("DBT_PROJECT_DIR", ""),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Scraper.RawBase == "" {
		return errors.New("raw artifact base directory is required")
	}

	if c.Scraper.Timeout <= 0 {
		return fmt.Errorf("invalid scraper timeout: %s", c.Scraper.Timeout)
	}

	if c.Scraper.RateLimit < 0 {
		return fmt.Errorf("invalid scraper rate limit: %g", c.Scraper.RateLimit)
	}

	if c.Database.Enabled && c.Database.URL == "" {
		if c.Database.Host == "" {
			return errors.New("database host is required")
		}
		if c.Database.Name == "" {
			return errors.New("database name is required")
		}
	}

	// Events reach Redis only through the database outbox.
	if c.Redis.Enabled && !c.Database.Enabled {
		return errors.New("redis events require the database to be enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// Addr is the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") and bare seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
