// Command ingest parses bank statement files into validated canonical JSON.
// It accepts CAMT, MT940, BAI2, OFX, CSV, and extracted PDF token documents,
// and prints one result object per input file to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
	"github.com/FACorreiaa/statement-ingest/internal/domain/ingest/service"
	"github.com/FACorreiaa/statement-ingest/internal/domain/pdf/template"
	"github.com/FACorreiaa/statement-ingest/internal/domain/redact"
	"github.com/FACorreiaa/statement-ingest/internal/domain/validate"
	"github.com/FACorreiaa/statement-ingest/pkg/config"
)

type fileResult struct {
	File    string                      `json:"file"`
	Batches []*canonical.StatementBatch `json:"batches,omitempty"`
	Error   string                      `json:"error,omitempty"`
}

func main() {
	var (
		currency    = flag.String("currency", "", "default ISO-4217 currency for CSV and PDF inputs")
		templateDir = flag.String("templates", "", "directory of PDF layout descriptors (*.yml)")
		maxPages    = flag.Int("max-pages", 0, "page cap for PDF token documents, 0 reads all")
		doRedact    = flag.Bool("redact", false, "mask account and card numbers in output")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <statement-file>...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(flag.Args(), *currency, *templateDir, *maxPages, *doRedact); err != nil {
		fmt.Fprintln(os.Stderr, "ingest:", err)
		os.Exit(1)
	}
}

func run(files []string, currency, templateDir string, maxPages int, doRedact bool) error {
	if len(files) == 0 {
		flag.Usage()
		return fmt.Errorf("no input files")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Flags win over environment.
	if currency != "" {
		cfg.Ingest.DefaultCurrency = currency
	}
	if templateDir != "" {
		cfg.Ingest.TemplateDir = templateDir
	}
	if maxPages != 0 {
		cfg.Ingest.MaxPDFPages = maxPages
	}
	if doRedact {
		cfg.Ingest.RedactOutput = true
	}

	log := newLogger(cfg.Logging)
	slog.SetDefault(log)

	var registry *template.Registry
	if cfg.Ingest.TemplateDir != "" {
		registry, err = template.Load(cfg.Ingest.TemplateDir)
		if err != nil {
			return fmt.Errorf("loading templates: %w", err)
		}
		log.Info("templates loaded",
			slog.String("dir", cfg.Ingest.TemplateDir),
			slog.Int("count", registry.Len()),
		)
	}

	svc := service.New(service.Config{
		DefaultCurrency: cfg.Ingest.DefaultCurrency,
		MaxPDFPages:     cfg.Ingest.MaxPDFPages,
		Templates:       registry,
		Validate:        validate.Config{ReviewThreshold: cfg.Ingest.ReviewThreshold},
	}, log)

	ctx := context.Background()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	// Keys accumulate across the invocation, so handing the same statement
	// twice on one command line flags the second copy as a re-upload.
	priorKeys := map[string]bool{}
	failed := 0

	for _, path := range files {
		result := fileResult{File: path}

		data, err := os.ReadFile(path)
		if err != nil {
			result.Error = err.Error()
			failed++
		} else {
			batches, err := svc.Ingest(ctx, data, service.Hints{Filename: filepath.Base(path)}, priorKeys)
			if err != nil {
				result.Error = err.Error()
				log.Error("ingest failed",
					slog.String("file", path),
					slog.String("kind", string(canonical.KindOf(err))),
				)
				failed++
			} else {
				for _, b := range batches {
					for k := range validate.Keys(b) {
						priorKeys[k] = true
					}
					if cfg.Ingest.RedactOutput {
						redactBatch(b)
					}
				}
				result.Batches = batches
			}
		}

		if err := enc.Encode(result); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

// redactBatch masks identifying numbers in every free-text field of a batch.
func redactBatch(b *canonical.StatementBatch) {
	rules := redact.DefaultRules()
	b.Account = redact.Text(b.Account, rules)
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		tx.Description = redact.Text(tx.Description, rules)
		tx.Reference = redact.Text(tx.Reference, rules)
		if tx.Counterparty != nil {
			tx.Counterparty.Name = redact.Text(tx.Counterparty.Name, rules)
			tx.Counterparty.AccountID = redact.Text(tx.Counterparty.AccountID, rules)
		}
	}
	for i := range b.Skipped {
		b.Skipped[i].Raw = redact.Text(b.Skipped[i].Raw, rules)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
