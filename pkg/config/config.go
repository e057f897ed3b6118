// Package config reads application configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Ingest  IngestConfig
	Logging LoggingConfig
}

type IngestConfig struct {
	// DefaultCurrency applies to CSV and PDF inputs that do not carry one.
	// Empty means such inputs are rejected.
	DefaultCurrency string
	// MaxPDFPages caps how deep token documents are read; 0 means all pages.
	MaxPDFPages int
	// TemplateDir holds the layout descriptors (*.yml, *.yaml). Empty
	// disables the template path.
	TemplateDir string
	// ReviewThreshold overrides the validator default when non-zero.
	ReviewThreshold float64
	// RedactOutput masks account and card numbers in emitted batches.
	RedactOutput bool
}

type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is merged in when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Ingest: IngestConfig{
			DefaultCurrency: strings.ToUpper(getEnv("INGEST_DEFAULT_CURRENCY", "")),
			MaxPDFPages:     getEnvAsInt("INGEST_MAX_PDF_PAGES", 0),
			TemplateDir:     getEnv("INGEST_TEMPLATE_DIR", ""),
			ReviewThreshold: getEnvAsFloat("INGEST_REVIEW_THRESHOLD", 0),
			RedactOutput:    getEnvAsBool("INGEST_REDACT_OUTPUT", false),
		},
		Logging: LoggingConfig{
			Level:  level,
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if t := cfg.Ingest.ReviewThreshold; t < 0 || t > 1 {
		return nil, fmt.Errorf("INGEST_REVIEW_THRESHOLD must be in [0,1], got %v", t)
	}
	if f := cfg.Logging.Format; f != "text" && f != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", f)
	}

	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown LOG_LEVEL %q", s)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
