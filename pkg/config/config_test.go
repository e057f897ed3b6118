package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.Ingest.DefaultCurrency)
	assert.Zero(t, cfg.Ingest.MaxPDFPages)
	assert.False(t, cfg.Ingest.RedactOutput)
	assert.Equal(t, slog.LevelInfo, cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("INGEST_DEFAULT_CURRENCY", "eur")
	t.Setenv("INGEST_MAX_PDF_PAGES", "5")
	t.Setenv("INGEST_REVIEW_THRESHOLD", "0.9")
	t.Setenv("INGEST_REDACT_OUTPUT", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "EUR", cfg.Ingest.DefaultCurrency)
	assert.Equal(t, 5, cfg.Ingest.MaxPDFPages)
	assert.Equal(t, 0.9, cfg.Ingest.ReviewThreshold)
	assert.True(t, cfg.Ingest.RedactOutput)
	assert.Equal(t, slog.LevelDebug, cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_RejectsBadThreshold(t *testing.T) {
	t.Setenv("INGEST_REVIEW_THRESHOLD", "1.5")
	_, err := Load()
	assert.ErrorContains(t, err, "INGEST_REVIEW_THRESHOLD")
}

func TestLoad_RejectsUnknownLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	_, err := Load()
	assert.ErrorContains(t, err, "LOG_LEVEL")
}

func TestLoad_RejectsUnknownFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "yaml")
	_, err := Load()
	assert.ErrorContains(t, err, "LOG_FORMAT")
}
