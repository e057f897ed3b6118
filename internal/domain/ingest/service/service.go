// Package service is the front door of statement ingestion: it detects the
// payload format, dispatches to the right parser, runs every batch through
// the validator, and logs what happened. Nothing reaches a caller without a
// reconciliation result and per-row confidence.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
	"github.com/FACorreiaa/statement-ingest/internal/domain/ingest/bai2"
	"github.com/FACorreiaa/statement-ingest/internal/domain/ingest/camt"
	"github.com/FACorreiaa/statement-ingest/internal/domain/ingest/csvnorm"
	"github.com/FACorreiaa/statement-ingest/internal/domain/ingest/detector"
	"github.com/FACorreiaa/statement-ingest/internal/domain/ingest/mt940"
	"github.com/FACorreiaa/statement-ingest/internal/domain/ingest/ofx"
	"github.com/FACorreiaa/statement-ingest/internal/domain/pdf/feature"
	"github.com/FACorreiaa/statement-ingest/internal/domain/pdf/tabular"
	"github.com/FACorreiaa/statement-ingest/internal/domain/pdf/template"
	"github.com/FACorreiaa/statement-ingest/internal/domain/redact"
	"github.com/FACorreiaa/statement-ingest/internal/domain/validate"
)

// Hints are out-of-band clues about an upload. They break ties only; the
// bytes always win.
type Hints struct {
	Filename    string
	ContentType string
}

// Config wires the service.
type Config struct {
	// DefaultCurrency applies to CSV and PDF inputs that do not name one.
	DefaultCurrency string
	// MaxPDFPages caps how deep PDF documents are read; 0 means all pages.
	MaxPDFPages int
	// Templates is the layout registry for the PDF template path; nil means
	// every PDF takes the generic path.
	Templates *template.Registry
	Validate  validate.Config
}

// Service parses uploads into validated canonical batches.
type Service struct {
	cfg       Config
	log       *slog.Logger
	validator *validate.Validator
}

func New(cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		validator: validate.New(cfg.Validate, log),
	}
}

// Ingest parses one upload. priorKeys holds dedup keys from earlier uploads
// of the same account, for re-upload detection; nil disables it. PDF uploads
// arrive as token documents (JSON produced by the upstream text extractor);
// raw PDF bytes are rejected with a pointer to that contract.
func (s *Service) Ingest(ctx context.Context, data []byte, hints Hints, priorKeys map[string]bool) ([]*canonical.StatementBatch, error) {
	start := time.Now()

	if isTokenDocument(data) {
		return s.ingestTokenDocument(ctx, data, priorKeys)
	}

	format, err := detector.Detect(data, hints.Filename, hints.ContentType)
	if err != nil {
		return nil, err
	}

	var batches []*canonical.StatementBatch
	switch format {
	case canonical.FormatCAMT:
		batches, err = camt.Parse(data)
	case canonical.FormatMT940:
		var b *canonical.StatementBatch
		if b, err = mt940.Parse(data); err == nil {
			batches = []*canonical.StatementBatch{b}
		}
	case canonical.FormatBAI2:
		var b *canonical.StatementBatch
		if b, err = bai2.Parse(data); err == nil {
			batches = []*canonical.StatementBatch{b}
		}
	case canonical.FormatOFX:
		var b *canonical.StatementBatch
		if b, err = ofx.Parse(data); err == nil {
			batches = []*canonical.StatementBatch{b}
		}
	case canonical.FormatCSV:
		var b *canonical.StatementBatch
		if b, err = csvnorm.Parse(data, csvnorm.Options{DefaultCurrency: s.cfg.DefaultCurrency}); err == nil {
			batches = []*canonical.StatementBatch{b}
		}
	case canonical.FormatPDF:
		return nil, canonical.NewUnsupportedVariant(
			"raw PDF bytes are not parsed here; submit the extracted token document instead")
	default:
		return nil, &canonical.Error{Kind: canonical.KindUnsupportedFormat,
			Hint: "format " + string(format) + " has no parser"}
	}
	if err != nil {
		s.log.WarnContext(ctx, "parse failed",
			slog.String("format", string(format)),
			slog.String("filename", hints.Filename),
			slog.String("kind", string(canonical.KindOf(err))),
		)
		return nil, err
	}

	return s.validateAll(ctx, batches, format, priorKeys, start)
}

// IngestDocument runs the PDF pipeline on an extracted token document:
// feature extraction, template matching, table reconstruction, validation.
func (s *Service) IngestDocument(ctx context.Context, doc *feature.Document, priorKeys map[string]bool) ([]*canonical.StatementBatch, error) {
	feats := feature.Extract(doc, s.cfg.MaxPDFPages)

	var desc *template.Descriptor
	if s.cfg.Templates != nil {
		match := s.cfg.Templates.Match(feats)
		if match.Accepted {
			desc = match.Template
			s.log.DebugContext(ctx, "template matched",
				slog.String("template", desc.Name),
				slog.Int("version", desc.Version),
				slog.Float64("score", match.Score),
			)
		} else if match.Template != nil {
			s.log.DebugContext(ctx, "template below threshold, taking generic path",
				slog.String("template", match.Template.Name),
				slog.Float64("score", match.Score),
			)
		}
	}

	batch, err := tabular.Parse(doc, desc, tabular.Options{
		DefaultCurrency: s.cfg.DefaultCurrency,
		MaxPages:        s.cfg.MaxPDFPages,
	})
	if err != nil {
		return nil, err
	}

	// Diagnostics keep only redacted text.
	rules := redact.DefaultRules()
	for i := range batch.Skipped {
		batch.Skipped[i].Raw = redact.Text(batch.Skipped[i].Raw, rules)
	}

	return s.validateAll(ctx, []*canonical.StatementBatch{batch}, canonical.FormatPDF, priorKeys, time.Now())
}

func (s *Service) ingestTokenDocument(ctx context.Context, data []byte, priorKeys map[string]bool) ([]*canonical.StatementBatch, error) {
	var doc feature.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, canonical.NewMalformed("invalid token document JSON: "+err.Error(), 0, 0, "")
	}
	if len(doc.Pages) == 0 {
		return nil, canonical.NewMalformed("token document has no pages", 0, 0, "")
	}
	return s.IngestDocument(ctx, &doc, priorKeys)
}

// isTokenDocument sniffs the JSON token-document contract used for PDFs.
func isTokenDocument(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{' && bytes.Contains(trimmed, []byte(`"pages"`))
}

func (s *Service) validateAll(ctx context.Context, batches []*canonical.StatementBatch, format canonical.SourceFormat, priorKeys map[string]bool, start time.Time) ([]*canonical.StatementBatch, error) {
	out := make([]*canonical.StatementBatch, 0, len(batches))
	txs := 0
	for _, b := range batches {
		validated, err := s.validator.Validate(b, priorKeys)
		if err != nil {
			return nil, err
		}
		out = append(out, validated)
		txs += len(validated.Transactions)
	}

	s.log.InfoContext(ctx, "ingested",
		slog.String("format", string(format)),
		slog.Int("batches", len(out)),
		slog.Int("transactions", txs),
		slog.Duration("took", time.Since(start)),
	)
	return out, nil
}
