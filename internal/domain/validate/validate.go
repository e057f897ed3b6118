// Package validate is the single writer of confidence, review, and duplicate
// flags. Parsers record facts; this package turns them into scores on a clone
// of the batch, so parser output stays a pure function of the input bytes.
package validate

import (
	"fmt"
	"log/slog"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
	"github.com/FACorreiaa/statement-ingest/pkg/money"
)

// ReconcileToleranceCents absorbs rounding differences between a statement's
// stated balances and the sum of its rows.
const ReconcileToleranceCents = 1

// Weights splits a transaction's confidence between the extraction path, the
// row's own consistency signals, and the batch-level reconciliation outcome.
type Weights struct {
	Path           float64
	Consistency    float64
	Reconciliation float64
}

// Config tunes scoring. Zero values fall back to DefaultConfig.
type Config struct {
	// ReviewThreshold marks transactions below it as needing review.
	ReviewThreshold float64
	// PathBase is the trust floor per extraction path.
	PathBase map[canonical.ExtractionPath]float64
	Weights  Weights
}

// DefaultConfig encodes the trust ladder: standards parsers over CSV over
// templated PDF over the generic PDF fallback.
func DefaultConfig() Config {
	return Config{
		ReviewThreshold: 0.85,
		PathBase: map[canonical.ExtractionPath]float64{
			canonical.PathStandards:   1.0,
			canonical.PathCSV:         0.9,
			canonical.PathPDFTemplate: 0.75,
			canonical.PathPDFGeneric:  0.5,
		},
		Weights: Weights{Path: 0.6, Consistency: 0.25, Reconciliation: 0.15},
	}
}

// Validator scores batches. Safe for concurrent use.
type Validator struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Validator {
	def := DefaultConfig()
	if cfg.ReviewThreshold == 0 {
		cfg.ReviewThreshold = def.ReviewThreshold
	}
	if cfg.PathBase == nil {
		cfg.PathBase = def.PathBase
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if log == nil {
		log = slog.Default()
	}
	return &Validator{cfg: cfg, log: log}
}

// Validate reconciles, scores, and duplicate-flags a batch. priorKeys holds
// dedup keys from earlier uploads of the same account; matches there are
// flagged as re-uploads rather than intra-file duplicates. The input batch is
// not modified.
func (v *Validator) Validate(in *canonical.StatementBatch, priorKeys map[string]bool) (*canonical.StatementBatch, error) {
	if err := checkCurrencies(in); err != nil {
		return nil, err
	}

	batch := in.Clone()
	batch.Reconciliation = reconcile(batch)

	recScore := reconciliationScore(batch)
	base := v.cfg.PathBase[batch.Extraction]

	seen := map[string]bool{}
	flagged := 0
	for i := range batch.Transactions {
		tx := &batch.Transactions[i]

		tx.DedupKey = canonical.DedupKey(tx.BookingDate, tx.Description, tx.Amount)
		tx.Duplicate = duplicateFlag(tx, seen, priorKeys)
		seen[tx.DedupKey] = true

		cons := consistencyScore(tx.Signals)
		tx.Confidence = clamp01(v.cfg.Weights.Path*base +
			v.cfg.Weights.Consistency*cons +
			v.cfg.Weights.Reconciliation*recScore)
		tx.NeedsReview = tx.Confidence < v.cfg.ReviewThreshold || tx.Duplicate != canonical.DuplicateNone
		if tx.NeedsReview {
			flagged++
		}
	}

	v.log.Debug("batch validated",
		slog.String("batch_id", batch.ID.String()),
		slog.String("extraction", string(batch.Extraction)),
		slog.String("reconciliation", string(batch.Reconciliation.Status)),
		slog.Int("transactions", len(batch.Transactions)),
		slog.Int("needs_review", flagged),
		slog.Int("warnings", len(batch.Warnings)),
	)

	return batch, nil
}

// Keys returns the dedup keys of a validated batch, for persisting as the
// prior-key set of future uploads.
func Keys(batch *canonical.StatementBatch) map[string]bool {
	out := make(map[string]bool, len(batch.Transactions))
	for _, tx := range batch.Transactions {
		if tx.DedupKey != "" {
			out[tx.DedupKey] = true
		}
	}
	return out
}

func checkCurrencies(batch *canonical.StatementBatch) error {
	for _, tx := range batch.Transactions {
		if tx.Amount.Currency() != batch.Currency {
			return canonical.NewMalformed(
				fmt.Sprintf("transaction currency %s differs from batch currency %s",
					tx.Amount.Currency(), batch.Currency), 0, 0, tx.Description)
		}
	}
	return nil
}

// reconcile checks opening + sum(rows) against the stated closing balance.
func reconcile(batch *canonical.StatementBatch) *canonical.ReconciliationResult {
	if batch.OpeningBalance == nil || batch.ClosingBalance == nil {
		return &canonical.ReconciliationResult{Status: canonical.StatusUndetermined}
	}

	sum := batch.OpeningBalance.Amount()
	for _, tx := range batch.Transactions {
		sum += tx.Amount.Amount()
	}
	delta := sum - batch.ClosingBalance.Amount()
	if delta >= -ReconcileToleranceCents && delta <= ReconcileToleranceCents {
		return &canonical.ReconciliationResult{Status: canonical.StatusBalanced}
	}
	return &canonical.ReconciliationResult{
		Status: canonical.StatusOutOfBalance,
		Delta:  money.New(delta, batch.Currency),
	}
}

func reconciliationScore(batch *canonical.StatementBatch) float64 {
	var score float64
	switch batch.Reconciliation.Status {
	case canonical.StatusBalanced:
		score = 1.0
	case canonical.StatusUndetermined:
		score = 0.5
	case canonical.StatusOutOfBalance:
		score = 0.0
	}
	// Advisory warnings (control-total mismatches) pull the score down
	// without zeroing it.
	score -= 0.25 * float64(len(batch.Warnings))
	if score < 0 {
		return 0
	}
	return score
}

// consistencyScore turns per-row facts into [0,1]. A checked-and-failed
// running balance is the strongest contradiction a row can carry.
func consistencyScore(s canonical.RowSignals) float64 {
	if s.BalanceChecked && !s.BalanceConsistent {
		return 0
	}
	score := 1.0
	if !s.DateFormatMatched {
		score -= 0.5
	}
	if !s.AmountFormatMatched {
		score -= 0.5
	}
	if score < 0 {
		return 0
	}
	return score
}

// duplicateFlag checks the exact dedup key plus its one-day neighbours, so
// the same movement booked a day apart by two exports still matches.
func duplicateFlag(tx *canonical.Transaction, seen, prior map[string]bool) canonical.DuplicateFlag {
	keys := []string{
		tx.DedupKey,
		canonical.DedupKey(tx.BookingDate.AddDate(0, 0, -1), tx.Description, tx.Amount),
		canonical.DedupKey(tx.BookingDate.AddDate(0, 0, 1), tx.Description, tx.Amount),
	}
	for _, k := range keys {
		if prior[k] {
			return canonical.DuplicateReupload
		}
	}
	for _, k := range keys {
		if seen[k] {
			return canonical.DuplicateIntraFile
		}
	}
	return canonical.DuplicateNone
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
