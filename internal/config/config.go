package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"steptrack-go/pkg/logger"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort string
	Env      string
	DB       DBConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Sync     SyncConfig
	Sweeper  SweeperConfig
}

type DBConfig struct {
	DSN             string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	TimeZone        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig drives the token-introspection middleware. When SkipAuth is
// set, requests are attributed to the mock user instead.
type AuthConfig struct {
	URL           string
	APIKey        string
	Timeout       time.Duration
	SkipAuth      bool
	MockUserID    string
	MockUserEmail string
	MockUserName  string
}

// ProviderConfig describes the remote step API and its token endpoint.
type ProviderConfig struct {
	BaseURL        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	Timeout        time.Duration
	RequestsPerMin int
}

// SyncConfig tunes the per-user sync engine.
type SyncConfig struct {
	MinInterval    time.Duration
	ResumeCooldown time.Duration
}

// SweeperConfig tunes the periodic recency sweep across connected users.
type SweeperConfig struct {
	Enabled        bool
	Interval       time.Duration
	LookbackDays   int
	InterUserDelay time.Duration
}

func Load(log logger.Logger) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	cfg := Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		DB: DBConfig{
			DSN:             getEnv("DB_DSN", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Name:            getEnv("DB_NAME", "steptrack"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			TimeZone:        getEnv("DB_TIMEZONE", "UTC"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Auth: AuthConfig{
			URL:           getEnv("AUTH_URL", ""),
			APIKey:        getEnv("AUTH_API_KEY", ""),
			Timeout:       getEnvDuration("AUTH_TIMEOUT", 5*time.Second),
			SkipAuth:      getEnvBool("AUTH_SKIP", false),
			MockUserID:    getEnv("AUTH_MOCK_USER_ID", "00000000-0000-0000-0000-000000000001"),
			MockUserEmail: getEnv("AUTH_MOCK_USER_EMAIL", ""),
			MockUserName:  getEnv("AUTH_MOCK_USER_NAME", ""),
		},
		Provider: ProviderConfig{
			BaseURL:        getEnv("PROVIDER_BASE_URL", ""),
			TokenURL:       getEnv("PROVIDER_TOKEN_URL", ""),
			ClientID:       getEnv("PROVIDER_CLIENT_ID", ""),
			ClientSecret:   getEnv("PROVIDER_CLIENT_SECRET", ""),
			Timeout:        getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second),
			RequestsPerMin: getEnvInt("PROVIDER_REQUESTS_PER_MIN", 120),
		},
		Sync: SyncConfig{
			MinInterval:    getEnvDuration("SYNC_MIN_INTERVAL", 3*time.Minute),
			ResumeCooldown: getEnvDuration("SYNC_RESUME_COOLDOWN", 65*time.Minute),
		},
		Sweeper: SweeperConfig{
			Enabled:        getEnvBool("SWEEPER_ENABLED", true),
			Interval:       getEnvDuration("SWEEPER_INTERVAL", 6*time.Hour),
			LookbackDays:   getEnvInt("SWEEPER_LOOKBACK_DAYS", 3),
			InterUserDelay: getEnvDuration("SWEEPER_INTER_USER_DELAY", 5*time.Second),
		},
	}

	if cfg.Provider.BaseURL == "" {
		log.Warn("config: PROVIDER_BASE_URL not set, step sync will fail until configured")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c DBConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return "host=" + c.Host +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" port=" + c.Port +
		" sslmode=" + c.SSLMode +
		" TimeZone=" + c.TimeZone
}
