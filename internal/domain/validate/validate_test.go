package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
	"github.com/FACorreiaa/statement-ingest/pkg/money"
)

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func tx(d int, desc string, cents int64) canonical.Transaction {
	return canonical.Transaction{
		BookingDate:  day(d),
		Amount:       money.New(cents, "EUR"),
		Description:  desc,
		SourceFormat: canonical.FormatCAMT,
		Signals: canonical.RowSignals{
			DateFormatMatched:   true,
			AmountFormatMatched: true,
		},
	}
}

func balancedBatch() *canonical.StatementBatch {
	return &canonical.StatementBatch{
		Currency:       "EUR",
		OpeningBalance: money.New(100000, "EUR"),
		ClosingBalance: money.New(90000, "EUR"),
		Transactions: []canonical.Transaction{
			tx(15, "MIETE JANUAR", -25000),
			tx(20, "GEHALT", 15000),
		},
		SourceFormat: canonical.FormatCAMT,
		Extraction:   canonical.PathStandards,
	}
}

func TestValidate_BalancedStandardsBatch(t *testing.T) {
	v := New(Config{}, nil)
	out, err := v.Validate(balancedBatch(), nil)
	require.NoError(t, err)

	require.NotNil(t, out.Reconciliation)
	assert.Equal(t, canonical.StatusBalanced, out.Reconciliation.Status)
	assert.Nil(t, out.Reconciliation.Delta)

	for _, tx := range out.Transactions {
		assert.InDelta(t, 1.0, tx.Confidence, 1e-9)
		assert.False(t, tx.NeedsReview)
		assert.NotEmpty(t, tx.DedupKey)
		assert.Equal(t, canonical.DuplicateNone, tx.Duplicate)
	}
}

func TestValidate_OutOfBalance(t *testing.T) {
	b := balancedBatch()
	b.ClosingBalance = money.New(85000, "EUR")

	out, err := New(Config{}, nil).Validate(b, nil)
	require.NoError(t, err)

	assert.Equal(t, canonical.StatusOutOfBalance, out.Reconciliation.Status)
	require.NotNil(t, out.Reconciliation.Delta)
	assert.Equal(t, int64(5000), out.Reconciliation.Delta.Amount())

	// Losing the reconciliation component drops confidence by its weight.
	assert.InDelta(t, 0.85, out.Transactions[0].Confidence, 1e-9)
}

func TestValidate_ToleranceAbsorbsOneCent(t *testing.T) {
	b := balancedBatch()
	b.ClosingBalance = money.New(90001, "EUR")

	out, err := New(Config{}, nil).Validate(b, nil)
	require.NoError(t, err)
	assert.Equal(t, canonical.StatusBalanced, out.Reconciliation.Status)
}

func TestValidate_UndeterminedWithoutBalances(t *testing.T) {
	b := balancedBatch()
	b.OpeningBalance = nil

	out, err := New(Config{}, nil).Validate(b, nil)
	require.NoError(t, err)
	assert.Equal(t, canonical.StatusUndetermined, out.Reconciliation.Status)
}

// The same rows must score strictly lower the weaker the extraction path.
func TestValidate_ConfidenceFollowsPathLadder(t *testing.T) {
	v := New(Config{}, nil)
	paths := []canonical.ExtractionPath{
		canonical.PathStandards,
		canonical.PathCSV,
		canonical.PathPDFTemplate,
		canonical.PathPDFGeneric,
	}

	prev := 1.1
	for _, path := range paths {
		b := balancedBatch()
		b.Extraction = path
		out, err := v.Validate(b, nil)
		require.NoError(t, err)
		got := out.Transactions[0].Confidence
		assert.Less(t, got, prev, "path %s", path)
		prev = got
	}
}

func TestValidate_GenericPDFNeedsReview(t *testing.T) {
	b := balancedBatch()
	b.Extraction = canonical.PathPDFGeneric

	out, err := New(Config{}, nil).Validate(b, nil)
	require.NoError(t, err)
	for _, tx := range out.Transactions {
		assert.True(t, tx.NeedsReview)
	}
}

func TestValidate_InconsistentBalanceSignal(t *testing.T) {
	b := balancedBatch()
	b.Transactions[1].Signals.BalanceChecked = true
	b.Transactions[1].Signals.BalanceConsistent = false

	out, err := New(Config{}, nil).Validate(b, nil)
	require.NoError(t, err)

	assert.False(t, out.Transactions[0].NeedsReview)
	assert.True(t, out.Transactions[1].NeedsReview)
	assert.Less(t, out.Transactions[1].Confidence, out.Transactions[0].Confidence)
}

func TestValidate_WarningsLowerConfidence(t *testing.T) {
	clean, err := New(Config{}, nil).Validate(balancedBatch(), nil)
	require.NoError(t, err)

	b := balancedBatch()
	b.Warnings = []canonical.ReconciliationWarning{{Scope: "bai2/account/49", Message: "mismatch"}}
	warned, err := New(Config{}, nil).Validate(b, nil)
	require.NoError(t, err)

	assert.Less(t, warned.Transactions[0].Confidence, clean.Transactions[0].Confidence)
}

func TestValidate_IntraFileDuplicate(t *testing.T) {
	b := balancedBatch()
	b.Transactions = append(b.Transactions, tx(15, "MIETE JANUAR", -25000))
	b.ClosingBalance = money.New(65000, "EUR")

	out, err := New(Config{}, nil).Validate(b, nil)
	require.NoError(t, err)

	assert.Equal(t, canonical.DuplicateNone, out.Transactions[0].Duplicate)
	assert.Equal(t, canonical.DuplicateIntraFile, out.Transactions[2].Duplicate)
	assert.True(t, out.Transactions[2].NeedsReview)
}

func TestValidate_ReuploadDetectedAcrossOneDayShift(t *testing.T) {
	v := New(Config{}, nil)
	first, err := v.Validate(balancedBatch(), nil)
	require.NoError(t, err)
	prior := Keys(first)

	// The re-export books the rent one day later.
	b := balancedBatch()
	b.Transactions[0] = tx(16, "MIETE JANUAR", -25000)

	out, err := v.Validate(b, prior)
	require.NoError(t, err)
	assert.Equal(t, canonical.DuplicateReupload, out.Transactions[0].Duplicate)
	assert.True(t, out.Transactions[0].NeedsReview)
}

func TestValidate_MixedCurrenciesRejected(t *testing.T) {
	b := balancedBatch()
	b.Transactions[1].Amount = money.New(15000, "USD")

	_, err := New(Config{}, nil).Validate(b, nil)
	assert.Equal(t, canonical.KindMalformedInput, canonical.KindOf(err))
}

func TestValidate_InputBatchUntouched(t *testing.T) {
	b := balancedBatch()
	_, err := New(Config{}, nil).Validate(b, nil)
	require.NoError(t, err)

	for _, tx := range b.Transactions {
		assert.Zero(t, tx.Confidence)
		assert.Empty(t, tx.DedupKey)
		assert.False(t, tx.NeedsReview)
	}
	assert.Nil(t, b.Reconciliation)
}
