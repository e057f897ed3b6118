// Package canonical defines the unified transaction and statement model that
// every statement parser emits into, plus the error kinds shared across the
// ingestion pipeline. Parsers produce these records as pure functions of their
// input bytes; the validator derives confidence from them without mutating.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-ingest/pkg/money"
)

// SourceFormat identifies which parser produced a record.
type SourceFormat string

const (
	FormatCAMT    SourceFormat = "camt"
	FormatMT940   SourceFormat = "mt940"
	FormatBAI2    SourceFormat = "bai2"
	FormatOFX     SourceFormat = "ofx"
	FormatCSV     SourceFormat = "csv"
	FormatPDF     SourceFormat = "pdf"
	FormatUnknown SourceFormat = "unknown"
)

// ExtractionPath records how a batch was produced. Standards parsers carry the
// highest base confidence, the generic PDF fallback the lowest.
type ExtractionPath string

const (
	PathStandards   ExtractionPath = "standards"
	PathCSV         ExtractionPath = "csv"
	PathPDFTemplate ExtractionPath = "pdf_template"
	PathPDFGeneric  ExtractionPath = "pdf_generic"
)

// DuplicateFlag distinguishes duplicates found inside one file from duplicates
// against a previously ingested batch for the same account.
type DuplicateFlag string

const (
	DuplicateNone      DuplicateFlag = ""
	DuplicateIntraFile DuplicateFlag = "intra_file"
	DuplicateReupload  DuplicateFlag = "reupload"
)

// Counterparty is the payer/payee as stated by the source, possibly partial.
type Counterparty struct {
	Name      string `json:"name"`
	AccountID string `json:"account_id,omitempty"`
}

// RowSignals are per-row structural self-consistency observations recorded by
// parsers and consumed by the validator when computing confidence. They are
// facts about the row, not a score.
type RowSignals struct {
	BalanceChecked      bool `json:"balance_checked"`
	BalanceConsistent   bool `json:"balance_consistent"`
	DateFormatMatched   bool `json:"date_format_matched"`
	AmountFormatMatched bool `json:"amount_format_matched"`
}

// Transaction is the canonical post-parsing record common to all source formats.
// Amount sign encodes direction pipeline-wide: debit negative, credit positive.
// Confidence and NeedsReview are written exactly once, by the validator.
type Transaction struct {
	BookingDate    time.Time     `json:"booking_date"`
	ValueDate      *time.Time    `json:"value_date,omitempty"`
	Amount         *money.Money  `json:"amount"`
	Description    string        `json:"description"`
	Counterparty   *Counterparty `json:"counterparty,omitempty"`
	Reference      string        `json:"reference,omitempty"`
	RunningBalance *money.Money  `json:"running_balance,omitempty"`
	SourceFormat   SourceFormat  `json:"source_format"`
	Confidence     float64       `json:"confidence"`
	NeedsReview    bool          `json:"needs_review"`
	Duplicate      DuplicateFlag `json:"duplicate,omitempty"`
	DedupKey       string        `json:"dedup_key"`
	Signals        RowSignals    `json:"signals"`
}

// Currency returns the transaction's ISO-4217 code.
func (t *Transaction) Currency() string {
	return t.Amount.Currency()
}

// ReconciliationStatus is the outcome of checking opening + sum == closing.
type ReconciliationStatus string

const (
	StatusBalanced     ReconciliationStatus = "balanced"
	StatusOutOfBalance ReconciliationStatus = "out_of_balance"
	StatusUndetermined ReconciliationStatus = "undetermined"
)

// ReconciliationResult is computed by the validator for every batch before it
// reaches any downstream consumer.
type ReconciliationResult struct {
	Status ReconciliationStatus `json:"status"`
	// Delta = expected closing - stated closing; nil unless out of balance.
	Delta *money.Money `json:"delta,omitempty"`
}

// ReconciliationWarning is advisory: it lowers confidence but never rejects a
// batch. Scope names the control that failed (e.g. "bai2/account/49").
type ReconciliationWarning struct {
	Scope    string       `json:"scope"`
	Expected *money.Money `json:"expected,omitempty"`
	Actual   *money.Money `json:"actual,omitempty"`
	Message  string       `json:"message"`
}

// SkippedRow is a per-row diagnostic for rows the CSV normalizer excluded.
type SkippedRow struct {
	ID     uuid.UUID `json:"id"`
	Line   int       `json:"line"`
	Raw    string    `json:"raw"`
	Reason string    `json:"reason"`
}

// StatementBatch is one parsed file's output (or one account's slice of it,
// for multi-account CAMT files).
type StatementBatch struct {
	ID             uuid.UUID               `json:"id"`
	Account        string                  `json:"account,omitempty"`
	Currency       string                  `json:"currency"`
	OpeningBalance *money.Money            `json:"opening_balance,omitempty"`
	ClosingBalance *money.Money            `json:"closing_balance,omitempty"`
	PeriodStart    time.Time               `json:"period_start"`
	PeriodEnd      time.Time               `json:"period_end"`
	Transactions   []Transaction           `json:"transactions"`
	SourceFormat   SourceFormat            `json:"source_format"`
	Extraction     ExtractionPath          `json:"extraction"`
	Reconciliation *ReconciliationResult   `json:"reconciliation,omitempty"`
	Warnings       []ReconciliationWarning `json:"warnings,omitempty"`
	Skipped        []SkippedRow            `json:"skipped,omitempty"`
}

// batchNamespace seeds deterministic batch and diagnostic IDs, so parsing the
// same bytes twice yields byte-identical output.
var batchNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// BatchID derives a stable identifier from the source bytes and account.
func BatchID(data []byte, account string) uuid.UUID {
	h := sha256.Sum256(data)
	return uuid.NewSHA1(batchNamespace, append(h[:], account...))
}

// SkippedRowID derives a stable diagnostic identifier.
func SkippedRowID(line int, raw string) uuid.UUID {
	return uuid.NewSHA1(batchNamespace, []byte(fmt.Sprintf("skipped|%d|%s", line, raw)))
}

// Clone returns a deep copy of the batch. The validator works on a clone so
// parser output is carried through immutably.
func (b *StatementBatch) Clone() *StatementBatch {
	out := *b
	out.Transactions = make([]Transaction, len(b.Transactions))
	copy(out.Transactions, b.Transactions)
	if b.Reconciliation != nil {
		rec := *b.Reconciliation
		out.Reconciliation = &rec
	}
	out.Warnings = append([]ReconciliationWarning(nil), b.Warnings...)
	out.Skipped = append([]SkippedRow(nil), b.Skipped...)
	return &out
}

// NormalizeDescription collapses a possibly multi-line description to a single
// line with internal whitespace reduced to single spaces.
func NormalizeDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DedupKey hashes (booking date, normalized description, amount) into the key
// used to detect the same real-world transaction appearing more than once.
// The validator probes neighbouring dates for the ±1 day window.
func DedupKey(date time.Time, description string, amount *money.Money) string {
	norm := strings.ToLower(NormalizeDescription(description))
	payload := fmt.Sprintf("%s|%s|%d|%s",
		date.Format("2006-01-02"), norm, amount.Amount(), amount.Currency())
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
