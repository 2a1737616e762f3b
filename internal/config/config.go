package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName      string
	AppVersion   string
	Environment  string
	HTTPAddr     string
	PublicURL    string
	LoginURL     string
	TimeZone     string
	SecretDir    string
	SettingsFile string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	IngestRateLimit float64
	IngestBurst     int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "koota"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		PublicURL:    strings.TrimRight(getenv("PUBLIC_URL", "http://localhost:8080"), "/"),
		LoginURL:     getenv("LOGIN_URL", "/login/"),
		TimeZone:     getenv("TIME_ZONE", "UTC"),
		SecretDir:    getenv("SECRET_DIR", "."),
		SettingsFile: strings.TrimSpace(getenv("KOOTA_CONFIG_FILE", "")),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4318"),

		DBType:            getenv("DATABASE_TYPE", "sqlite"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "koota"),
		DBUser:            getenv("DATABASE_USER", "koota"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "koota.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		IngestRateLimit: getenvFloat("INGEST_RATE_LIMIT", 5),
		IngestBurst:     getenvInt("INGEST_BURST", 50),
	}

	return cfg
}

// Location resolves the configured time zone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.TimeZone))
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
