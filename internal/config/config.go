package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTP     HTTPConfig
	Log      LogConfig
	Store    StoreConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Auth     AuthConfig
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	Backend string
	// PurgeSchedule is a cron spec for deleting expired rows on backends
	// without native expiry.
	PurgeSchedule string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

// AuthConfig carries raw values; the auth service parses and validates them.
type AuthConfig struct {
	JWTSecret           string
	TokenTTL            string
	VersionCacheTTL     string
	RevocationCacheSize string
	PrimaryUsername     string
	PrimaryPassword     string
	AdminUsername       string
	CookiePath          string
	CookieDomain        string
	CookieSecure        string
	CookieSameSite      string
}

// Load reads .env (if present) and then the process environment.
func Load() Config {
	_ = godotenv.Load()

	primary := os.Getenv("VALID_USERNAME")
	return Config{
		HTTP: HTTPConfig{
			Addr:           getenv("HTTP_ADDR", ":8080"),
			AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		},
		Log: LogConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "text"),
		},
		Store: StoreConfig{
			Backend:       getenv("STORE_BACKEND", "redis"),
			PurgeSchedule: getenv("STORE_PURGE_SCHEDULE", "@every 10m"),
		},
		Redis: RedisConfig{
			URL:      getenv("REDIS_URL", "redis://localhost:6379/0"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getenvInt("REDIS_DB", -1),
			PoolSize: getenvInt("REDIS_POOL_SIZE", 0),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret:           os.Getenv("JWT_SECRET"),
			TokenTTL:            getenv("TOKEN_TTL", "4h"),
			VersionCacheTTL:     getenv("VERSION_CACHE_TTL", "5m"),
			RevocationCacheSize: getenv("REVOCATION_CACHE_SIZE", "10000"),
			PrimaryUsername:     primary,
			PrimaryPassword:     os.Getenv("VALID_PASSWORD"),
			AdminUsername:       getenv("ADMIN_USERNAME", primary),
			CookiePath:          os.Getenv("AUTH_COOKIE_PATH"),
			CookieDomain:        os.Getenv("AUTH_COOKIE_DOMAIN"),
			CookieSecure:        os.Getenv("AUTH_COOKIE_SECURE"),
			CookieSameSite:      os.Getenv("AUTH_COOKIE_SAMESITE"),
		},
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
