// Package csvnorm turns locale-infested bank CSV exports into canonical
// batches. Encoding, delimiter, header roles, date field order, decimal
// separator, and sign notation are each resolved once over the whole file, so
// every row is read under the same rules. Rows that defy the resolved rules
// are skipped with a diagnostic rather than failing the file.
package csvnorm

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
	"github.com/FACorreiaa/statement-ingest/internal/domain/ingest/locale"
	"github.com/FACorreiaa/statement-ingest/pkg/money"
)

// Options carries per-upload knobs the file itself cannot answer.
type Options struct {
	// DefaultCurrency applies when the file has no currency column and no
	// currency glyph in its amounts. Empty means such files are rejected.
	DefaultCurrency string
}

// exportRow is the fast path for exports that already use canonical header
// names; gocsv binds them directly without the role-guessing pass.
type exportRow struct {
	Date        string `csv:"date"`
	ValueDate   string `csv:"value date"`
	Description string `csv:"description"`
	Amount      string `csv:"amount"`
	Balance     string `csv:"balance"`
	Currency    string `csv:"currency"`
	Reference   string `csv:"reference"`
}

// Parse normalizes one CSV export into a batch.
func Parse(data []byte, opts Options) (*canonical.StatementBatch, error) {
	text, err := decode(data)
	if err != nil {
		return nil, err
	}

	delim, ok := detectDelimiter(text)
	if !ok {
		return nil, canonical.NewMalformed("no stable field delimiter across lines", 1, 0, firstLine(text))
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		var perr *csv.ParseError
		line := 0
		if errors.As(err, &perr) {
			line = perr.Line
		}
		return nil, canonical.NewMalformed("unreadable CSV: "+err.Error(), line, 0, "")
	}

	records = dropEmptyRows(records)
	if len(records) == 0 {
		return nil, canonical.NewMalformed("file has no rows", 1, 0, "")
	}

	dataRows := records
	headerLines := 0
	var roles map[int]role
	if isHeaderRow(records[0]) {
		headerLines = 1
		dataRows = records[1:]
		if rows, known := bindKnownExport(records[0], dataRows); known {
			dataRows = rows
			roles = knownExportRoles()
		} else {
			roles = mapHeaders(records[0])
		}
	} else {
		roles = guessRolesFromContent(dataRows)
	}
	if len(dataRows) == 0 {
		return nil, canonical.NewMalformed("file has a header but no data rows", 2, 0, "")
	}

	cols := roleIndex(roles)
	if cols.date < 0 {
		return nil, canonical.NewMalformed("no date column could be identified", 1, 0, strings.Join(records[0], string(delim)))
	}
	if cols.amount < 0 && (cols.debit < 0 || cols.credit < 0) {
		return nil, canonical.NewMalformed(
			"no amount column and no debit/credit column pair could be identified", 1, 0, strings.Join(records[0], string(delim)))
	}

	dStyle := locale.DetectDateOrder(columnValues(dataRows, cols.date))
	var amountSamples []string
	for _, c := range []int{cols.amount, cols.debit, cols.credit, cols.balance} {
		if c >= 0 {
			amountSamples = append(amountSamples, columnValues(dataRows, c)...)
		}
	}
	aStyle := locale.DetectAmountStyle(amountSamples)

	currency, err := resolveCurrency(dataRows, cols, amountSamples, opts)
	if err != nil {
		return nil, err
	}

	batch := &canonical.StatementBatch{
		Currency:     currency,
		SourceFormat: canonical.FormatCSV,
		Extraction:   canonical.PathCSV,
	}

	var prevBalance *decimal.Decimal
	for i, row := range dataRows {
		line := i + headerLines + 1
		tx, skipReason := buildRow(row, cols, dStyle, aStyle, currency)
		if skipReason != "" {
			raw := strings.Join(row, string(delim))
			batch.Skipped = append(batch.Skipped, canonical.SkippedRow{
				ID:     canonical.SkippedRowID(line, raw),
				Line:   line,
				Raw:    raw,
				Reason: skipReason,
			})
			continue
		}

		if tx.RunningBalance != nil {
			bal := tx.RunningBalance.ToDecimal()
			tx.Signals.BalanceChecked = prevBalance != nil
			if prevBalance != nil {
				expected := prevBalance.Add(tx.Amount.ToDecimal())
				tx.Signals.BalanceConsistent = expected.Equal(bal)
			}
			prevBalance = &bal
		}

		batch.Transactions = append(batch.Transactions, *tx)
	}

	if len(batch.Transactions) == 0 {
		return nil, canonical.NewMalformed(
			fmt.Sprintf("none of the %d data rows produced a transaction", len(dataRows)), headerLines+1, 0, "")
	}

	finishBatch(batch, data, cols)
	return batch, nil
}

// buildRow maps one data row; a non-empty reason means the row is skipped.
func buildRow(row []string, cols colIndex, dStyle locale.DateOrder, aStyle locale.AmountStyle, currency string) (*canonical.Transaction, string) {
	date, ok, matched := locale.ParseDate(cell(row, cols.date), dStyle)
	if !ok {
		return nil, "unparsable date " + strings.TrimSpace(cell(row, cols.date))
	}

	var amt decimal.Decimal
	amtOK := false
	if cols.amount >= 0 {
		amt, amtOK = locale.ParseAmount(cell(row, cols.amount), aStyle)
	}
	if !amtOK && cols.debit >= 0 && cols.credit >= 0 {
		// Double-entry layout: exactly one side is populated per row.
		debit, dOK := locale.ParseAmount(cell(row, cols.debit), aStyle)
		credit, cOK := locale.ParseAmount(cell(row, cols.credit), aStyle)
		switch {
		case cOK && (!dOK || debit.IsZero()):
			amt, amtOK = credit, true
		case dOK:
			amt, amtOK = debit.Abs().Neg(), true
		}
	}
	if !amtOK {
		return nil, "no parsable amount"
	}

	tx := &canonical.Transaction{
		BookingDate:  date,
		Amount:       money.NewFromDecimal(amt, currency),
		Description:  canonical.NormalizeDescription(cell(row, cols.description)),
		Reference:    strings.TrimSpace(cell(row, cols.reference)),
		SourceFormat: canonical.FormatCSV,
		Signals: canonical.RowSignals{
			DateFormatMatched:   matched,
			AmountFormatMatched: true,
		},
	}
	if vd, ok, _ := locale.ParseDate(cell(row, cols.valueDate), dStyle); ok {
		tx.ValueDate = &vd
	}
	if name := strings.TrimSpace(cell(row, cols.counterparty)); name != "" {
		tx.Counterparty = &canonical.Counterparty{Name: name}
	}
	if bal, ok := locale.ParseAmount(cell(row, cols.balance), aStyle); ok {
		tx.RunningBalance = money.NewFromDecimal(bal, currency)
	}
	return tx, ""
}

// finishBatch derives the period, balances, and the stable batch ID.
func finishBatch(batch *canonical.StatementBatch, data []byte, cols colIndex) {
	for _, tx := range batch.Transactions {
		if batch.PeriodStart.IsZero() || tx.BookingDate.Before(batch.PeriodStart) {
			batch.PeriodStart = tx.BookingDate
		}
		if batch.PeriodEnd.IsZero() || tx.BookingDate.After(batch.PeriodEnd) {
			batch.PeriodEnd = tx.BookingDate
		}
	}

	// A running balance column implies the statement's edges.
	if cols.balance >= 0 {
		first, last := batch.Transactions[0], batch.Transactions[len(batch.Transactions)-1]
		if first.RunningBalance != nil {
			opening := first.RunningBalance.ToDecimal().Sub(first.Amount.ToDecimal())
			batch.OpeningBalance = money.NewFromDecimal(opening, batch.Currency)
		}
		if last.RunningBalance != nil {
			batch.ClosingBalance = last.RunningBalance
		}
	}

	batch.ID = canonical.BatchID(data, batch.Account)
}

// resolveCurrency prefers an explicit currency column, then a glyph embedded
// in the amounts, then the caller's default. Mixed currency columns reject
// the file.
func resolveCurrency(rows [][]string, cols colIndex, amountSamples []string, opts Options) (string, error) {
	if cols.currency >= 0 {
		seen := ""
		for i, row := range rows {
			v := strings.ToUpper(strings.TrimSpace(cell(row, cols.currency)))
			if v == "" {
				continue
			}
			if seen == "" {
				seen = v
				continue
			}
			if v != seen {
				return "", canonical.NewMalformed(
					fmt.Sprintf("mixed currencies %s and %s in one file", seen, v), i+1, 0, v)
			}
		}
		if seen != "" {
			return seen, nil
		}
	}
	if ccy := locale.CurrencyFromSymbol(amountSamples); ccy != "" {
		return ccy, nil
	}
	if opts.DefaultCurrency != "" {
		return strings.ToUpper(opts.DefaultCurrency), nil
	}
	return "", canonical.NewMalformed(
		"currency cannot be determined from the file; a default currency is required", 1, 0, "")
}

// bindKnownExport handles files that already use canonical header names by
// letting gocsv bind them straight onto the export shape.
func bindKnownExport(headers []string, rows [][]string) ([][]string, bool) {
	canonicalSet := map[string]bool{
		"date": true, "value date": true, "description": true,
		"amount": true, "balance": true, "currency": true, "reference": true,
	}
	norm := make([]string, len(headers))
	hasDate, hasAmount := false, false
	for i, h := range headers {
		norm[i] = normalizeHeader(h)
		if !canonicalSet[norm[i]] {
			return nil, false
		}
		hasDate = hasDate || norm[i] == "date"
		hasAmount = hasAmount || norm[i] == "amount"
	}
	if !hasDate || !hasAmount {
		return nil, false
	}

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write(norm)
	for _, row := range rows {
		_ = w.Write(row)
	}
	w.Flush()

	var bound []exportRow
	if err := gocsv.UnmarshalString(sb.String(), &bound); err != nil {
		return nil, false
	}

	out := make([][]string, len(bound))
	for i, e := range bound {
		out[i] = []string{e.Date, e.ValueDate, e.Description, e.Amount, e.Balance, e.Currency, e.Reference}
	}
	return out, true
}

// knownExportRoles matches the column order bindKnownExport emits.
func knownExportRoles() map[int]role {
	return map[int]role{
		0: roleDate, 1: roleValueDate, 2: roleDescription,
		3: roleAmount, 4: roleBalance, 5: roleCurrency, 6: roleReference,
	}
}

// colIndex is the resolved column position per role, -1 when absent.
type colIndex struct {
	date, valueDate, amount, debit, credit, description, balance, reference, counterparty, currency int
}

func roleIndex(roles map[int]role) colIndex {
	c := colIndex{-1, -1, -1, -1, -1, -1, -1, -1, -1, -1}
	for i, r := range roles {
		switch r {
		case roleDate:
			c.date = i
		case roleValueDate:
			c.valueDate = i
		case roleAmount:
			c.amount = i
		case roleDebit:
			c.debit = i
		case roleCredit:
			c.credit = i
		case roleDescription:
			c.description = i
		case roleBalance:
			c.balance = i
		case roleReference:
			c.reference = i
		case roleCounterparty:
			c.counterparty = i
		case roleCurrency:
			c.currency = i
		}
	}
	return c
}

// detectDelimiter requires one candidate to produce the same column count on
// every sampled line.
func detectDelimiter(text string) (rune, bool) {
	var sample []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		sample = append(sample, line)
		if len(sample) == 20 {
			break
		}
	}
	if len(sample) == 0 {
		return 0, false
	}

	for _, cand := range []rune{';', '\t', ',', '|'} {
		count := countUnquoted(sample[0], cand)
		if count == 0 {
			continue
		}
		stable := true
		for _, line := range sample[1:] {
			if countUnquoted(line, cand) != count {
				stable = false
				break
			}
		}
		if stable {
			return cand, true
		}
	}
	return 0, false
}

// countUnquoted counts delimiter occurrences outside double-quoted fields.
func countUnquoted(line string, delim rune) int {
	count, inQuotes := 0, false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == delim && !inQuotes:
			count++
		}
	}
	return count
}

func dropEmptyRows(records [][]string) [][]string {
	out := records[:0]
	for _, row := range records {
		empty := true
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if !empty {
			out = append(out, row)
		}
	}
	return out
}

func columnValues(rows [][]string, col int) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if v := strings.TrimSpace(cell(row, col)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > 60 {
		text = text[:60]
	}
	return strings.TrimSpace(text)
}
