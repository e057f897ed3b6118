package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
	"github.com/FACorreiaa/statement-ingest/internal/domain/pdf/feature"
	"github.com/FACorreiaa/statement-ingest/internal/domain/pdf/template"
	"github.com/FACorreiaa/statement-ingest/internal/domain/validate"
)

func quietService(t *testing.T, cfg Config) *Service {
	t.Helper()
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const mt940Upload = `:20:STMT-1
:25:12345678/0001
:60F:C240101EUR1000,00
:61:2401150115D250,00NTRFREF1
:86:PAYMENT ACME
:62F:C240131EUR750,00
`

func TestIngest_MT940EndToEnd(t *testing.T) {
	s := quietService(t, Config{})
	batches, err := s.Ingest(context.Background(), []byte(mt940Upload), Hints{Filename: "jan.sta"}, nil)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	b := batches[0]
	assert.Equal(t, canonical.FormatMT940, b.SourceFormat)
	require.NotNil(t, b.Reconciliation)
	assert.Equal(t, canonical.StatusBalanced, b.Reconciliation.Status)

	require.Len(t, b.Transactions, 1)
	tx := b.Transactions[0]
	assert.Equal(t, int64(-25000), tx.Amount.Amount())
	// The validator ran: confidence and dedup key are populated.
	assert.Greater(t, tx.Confidence, 0.9)
	assert.NotEmpty(t, tx.DedupKey)
}

func TestIngest_CSVEndToEnd(t *testing.T) {
	csv := "Date,Description,Amount\n2024-01-15,COFFEE,-4.50\n"
	s := quietService(t, Config{DefaultCurrency: "EUR"})

	batches, err := s.Ingest(context.Background(), []byte(csv), Hints{Filename: "export.csv"}, nil)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, canonical.FormatCSV, batches[0].SourceFormat)
	assert.Equal(t, int64(-450), batches[0].Transactions[0].Amount.Amount())
}

func TestIngest_TokenDocumentTakesPDFPath(t *testing.T) {
	doc := feature.Document{Pages: []feature.Page{{
		Number: 1, Width: 595, Height: 842,
		Tokens: []feature.Token{
			{Text: "15.01.2024", X: 50, Y: 200},
			{Text: "MIETE", X: 150, Y: 200},
			{Text: "-1.250,00", X: 420, Y: 200},
		},
	}}}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	s := quietService(t, Config{DefaultCurrency: "EUR"})
	batches, err := s.Ingest(context.Background(), raw, Hints{Filename: "scan.tokens.json"}, nil)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	b := batches[0]
	assert.Equal(t, canonical.FormatPDF, b.SourceFormat)
	assert.Equal(t, canonical.PathPDFGeneric, b.Extraction)
	assert.Equal(t, int64(-125000), b.Transactions[0].Amount.Amount())
	// Generic PDF extraction always lands under the review threshold.
	assert.True(t, b.Transactions[0].NeedsReview)
}

func TestIngest_TemplateRaisesConfidence(t *testing.T) {
	desc := &template.Descriptor{
		Name:     "megabank-checking",
		Version:  1,
		Keywords: []string{"miete"},
		Columns: []template.ColumnSpec{
			{Role: "date", XMin: 45, XMax: 110},
			{Role: "description", XMin: 140, XMax: 400},
			{Role: "amount", XMin: 410, XMax: 460},
		},
		AcceptThreshold: 0.3,
		DayFirstDates:   true,
		DecimalComma:    true,
		Currency:        "EUR",
	}
	reg, err := template.New([]*template.Descriptor{desc})
	require.NoError(t, err)

	doc := &feature.Document{Pages: []feature.Page{{
		Number: 1, Width: 595, Height: 842,
		Tokens: []feature.Token{
			{Text: "15.01.2024", X: 50, Y: 200},
			{Text: "MIETE", X: 150, Y: 200},
			{Text: "-1.250,00", X: 420, Y: 200},
			{Text: "16.01.2024", X: 50, Y: 220},
			{Text: "MIETE NACHZAHLUNG", X: 150, Y: 220},
			{Text: "-50,00", X: 420, Y: 220},
			{Text: "17.01.2024", X: 50, Y: 240},
			{Text: "MIETE KAUTION", X: 150, Y: 240},
			{Text: "-100,00", X: 420, Y: 240},
		},
	}}}

	generic := quietService(t, Config{DefaultCurrency: "EUR"})
	templated := quietService(t, Config{DefaultCurrency: "EUR", Templates: reg})

	gBatches, err := generic.IngestDocument(context.Background(), doc, nil)
	require.NoError(t, err)
	tBatches, err := templated.IngestDocument(context.Background(), doc, nil)
	require.NoError(t, err)

	assert.Equal(t, canonical.PathPDFGeneric, gBatches[0].Extraction)
	assert.Equal(t, canonical.PathPDFTemplate, tBatches[0].Extraction)
	assert.Greater(t,
		tBatches[0].Transactions[0].Confidence,
		gBatches[0].Transactions[0].Confidence)
}

func TestIngest_RawPDFBytesRejected(t *testing.T) {
	s := quietService(t, Config{})
	_, err := s.Ingest(context.Background(), []byte("%PDF-1.7\nbinary"), Hints{}, nil)
	assert.Equal(t, canonical.KindUnsupportedVariant, canonical.KindOf(err))
}

func TestIngest_UnknownFormat(t *testing.T) {
	s := quietService(t, Config{})
	_, err := s.Ingest(context.Background(), []byte("completely unrecognizable payload"), Hints{}, nil)
	require.Error(t, err)
	assert.Equal(t, canonical.KindUnsupportedFormat, canonical.KindOf(err))
}

func TestIngest_ReuploadFlagging(t *testing.T) {
	s := quietService(t, Config{})
	first, err := s.Ingest(context.Background(), []byte(mt940Upload), Hints{}, nil)
	require.NoError(t, err)

	prior := validate.Keys(first[0])
	second, err := s.Ingest(context.Background(), []byte(mt940Upload), Hints{}, prior)
	require.NoError(t, err)
	assert.Equal(t, canonical.DuplicateReupload, second[0].Transactions[0].Duplicate)
}

// Parsing the same bytes twice must yield byte-identical output, IDs included.
func TestIngest_RoundTripDeterminism(t *testing.T) {
	s := quietService(t, Config{})
	a, err := s.Ingest(context.Background(), []byte(mt940Upload), Hints{}, nil)
	require.NoError(t, err)
	b, err := s.Ingest(context.Background(), []byte(mt940Upload), Hints{}, nil)
	require.NoError(t, err)

	aj, err := json.Marshal(a)
	require.NoError(t, err)
	bj, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(aj), string(bj))
}
