package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/digitraceslab/koota/internal/config"
)

// Config holds observability configuration derived from environment variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "koota"
	}
	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(getenv("DEPLOYMENT_ENV", cfg.Environment)),
		Version:              strings.TrimSpace(getenv("SERVICE_VERSION", cfg.AppVersion)),
		LogLevel:             strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		OtelEnabled:          getenvBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)),
		OtelSamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
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
