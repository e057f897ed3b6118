// Package bai2 parses BAI2 cash-management statement files: line-oriented
// records keyed by a two-digit type code in the leading columns. Detail records
// (16) become transactions; trailer records (49/98/99) state control totals
// that are cross-checked against the parsed details. A total mismatch is a
// reconciliation warning, never a hard parse failure.
package bai2

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
	"github.com/FACorreiaa/statement-ingest/pkg/money"
)

// Summary status type codes carried by the 03 account identifier record.
const (
	codeOpeningLedger = "010"
	codeClosingLedger = "015"
)

// Parse scans a single-account BAI2 file. BAI2 detail records carry no date of
// their own; every transaction inherits the group as-of date.
func Parse(data []byte) (*canonical.StatementBatch, error) {
	lines := splitRecords(string(data))
	if len(lines) == 0 {
		return nil, canonical.NewMalformed("file has no records", 1, 0, "")
	}

	batch := &canonical.StatementBatch{
		SourceFormat: canonical.FormatBAI2,
		Extraction:   canonical.PathStandards,
	}

	var (
		currency     = money.USD // BAI2 default when no currency field is present
		asOfDate     time.Time
		accountSeen  bool
		detailSum    int64 // signed minor units across the account's details
		statedAcct   *int64
		statedGroup  *int64
		statedFile   *int64
		lastDetail   *canonical.Transaction
		fileID       string
	)

	for _, rec := range lines {
		lineNum := rec.line
		fields := rec.fields

		switch fields[0] {
		case "01": // file header
			if len(fields) > 5 {
				fileID = fields[5]
			}
		case "02": // group header: as-of date and group currency
			if len(fields) > 4 && fields[4] != "" {
				t, err := time.Parse("060102", fields[4])
				if err != nil {
					return nil, canonical.NewMalformed("group header as-of date must be YYMMDD", lineNum, 0, fields[4])
				}
				asOfDate = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			}
			if len(fields) > 6 && fields[6] != "" {
				currency = fields[6]
			}
		case "03": // account identifier + summary status amounts
			if accountSeen {
				return nil, canonical.NewUnsupportedVariant(
					"multi-account BAI2 files are not supported; split per account upstream")
			}
			accountSeen = true
			if len(fields) < 2 {
				return nil, canonical.NewMalformed("account identifier record needs an account number", lineNum, 0, rec.raw)
			}
			batch.Account = fields[1]
			if len(fields) > 2 && fields[2] != "" {
				currency = fields[2]
			}
			// Repeating groups of (type code, amount, item count, funds type).
			for i := 3; i+1 < len(fields); i += 4 {
				code, amountStr := fields[i], fields[i+1]
				if code == "" || amountStr == "" {
					continue
				}
				cents, err := strconv.ParseInt(amountStr, 10, 64)
				if err != nil {
					return nil, canonical.NewMalformed("unparsable summary amount", lineNum, 0, amountStr)
				}
				switch code {
				case codeOpeningLedger:
					batch.OpeningBalance = money.New(cents, currency)
				case codeClosingLedger:
					batch.ClosingBalance = money.New(cents, currency)
				}
			}
		case "16": // transaction detail
			if !accountSeen {
				return nil, canonical.NewMalformed("transaction detail before any account identifier", lineNum, 0, rec.raw)
			}
			tx, err := parseDetail(fields, lineNum, rec.raw, currency, asOfDate)
			if err != nil {
				return nil, err
			}
			detailSum += tx.Amount.Amount()
			batch.Transactions = append(batch.Transactions, *tx)
			lastDetail = &batch.Transactions[len(batch.Transactions)-1]
		case "88": // continuation of the preceding record's text
			if lastDetail != nil && len(fields) > 1 {
				extra := strings.Join(fields[1:], ",")
				lastDetail.Description = canonical.NormalizeDescription(lastDetail.Description + " " + extra)
			}
		case "49", "98", "99": // trailers with stated control totals
			if len(fields) < 2 || fields[1] == "" {
				return nil, canonical.NewMalformed("trailer record without a control total", lineNum, 0, rec.raw)
			}
			total, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, canonical.NewMalformed("unparsable control total", lineNum, 0, fields[1])
			}
			switch fields[0] {
			case "49":
				statedAcct = &total
			case "98":
				statedGroup = &total
			case "99":
				statedFile = &total
			}
		default:
			return nil, canonical.NewMalformed(
				"unknown record type code "+fields[0], lineNum, 0, rec.raw)
		}
	}

	if !accountSeen {
		return nil, canonical.NewMalformed("file contains no account identifier (03) record", 1, 0, "")
	}

	batch.ID = canonical.BatchID(data, batch.Account+"|"+fileID)
	batch.Currency = currency
	if !asOfDate.IsZero() {
		batch.PeriodStart = asOfDate
		batch.PeriodEnd = asOfDate
	}

	// Control totals are advisory. Each scope that disagrees with the summed
	// details gets its own warning; the batch is never rejected for it.
	checkTotal := func(scope string, stated *int64) {
		if stated == nil || *stated == detailSum {
			return
		}
		batch.Warnings = append(batch.Warnings, canonical.ReconciliationWarning{
			Scope:    scope,
			Expected: money.New(*stated, currency),
			Actual:   money.New(detailSum, currency),
			Message: fmt.Sprintf("stated control total %d does not match the sum of detail amounts %d",
				*stated, detailSum),
		})
	}
	checkTotal("bai2/account/49", statedAcct)
	checkTotal("bai2/group/98", statedGroup)
	checkTotal("bai2/file/99", statedFile)

	return batch, nil
}

// parseDetail maps a 16 record. The transaction type code decides direction:
// 100-399 are credits, 400-699 debits.
func parseDetail(fields []string, lineNum int, raw, currency string, asOf time.Time) (*canonical.Transaction, error) {
	if len(fields) < 3 {
		return nil, canonical.NewMalformed("detail record needs type code and amount", lineNum, 0, raw)
	}

	typeCode, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, canonical.NewMalformed("unparsable transaction type code", lineNum, 0, fields[1])
	}
	cents, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, canonical.NewMalformed("unparsable detail amount", lineNum, 0, fields[2])
	}

	switch {
	case typeCode >= 100 && typeCode <= 399:
		// credit, keep positive
	case typeCode >= 400 && typeCode <= 699:
		cents = -cents
	default:
		return nil, canonical.NewMalformed(
			fmt.Sprintf("transaction type code %d outside the credit (100-399) and debit (400-699) ranges", typeCode),
			lineNum, 0, raw)
	}

	// Funds type may push the reference/text fields right.
	idx := 3
	if idx < len(fields) {
		switch fields[idx] {
		case "", "0", "1", "2", "Z":
			idx++
		case "V": // value dated: date + time follow
			idx += 3
		case "S": // split availability: three amounts follow
			idx += 4
		default:
			return nil, canonical.NewUnsupportedVariant(
				"funds type " + fields[idx] + " distribution is not supported")
		}
	}

	tx := &canonical.Transaction{
		BookingDate:  asOf,
		Amount:       money.New(cents, currency),
		SourceFormat: canonical.FormatBAI2,
		Signals: canonical.RowSignals{
			DateFormatMatched:   true,
			AmountFormatMatched: true,
		},
	}
	if idx < len(fields) {
		tx.Reference = fields[idx] // bank reference
		idx++
	}
	if idx < len(fields) && tx.Reference == "" {
		tx.Reference = fields[idx] // customer reference fallback
	}
	if idx < len(fields) {
		idx++
	}
	if idx < len(fields) {
		tx.Description = canonical.NormalizeDescription(strings.Join(fields[idx:], ","))
	}

	return tx, nil
}

type record struct {
	line   int
	raw    string
	fields []string
}

// splitRecords splits CR/LF or LF terminated lines, strips the trailing
// record terminator "/", and splits fields on commas.
func splitRecords(text string) []record {
	var out []record
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(strings.TrimRight(raw, "\r"), " ")
		if line == "" {
			continue
		}
		line = strings.TrimSuffix(line, "/")
		out = append(out, record{
			line:   i + 1,
			raw:    line,
			fields: strings.Split(line, ","),
		})
	}
	return out
}
