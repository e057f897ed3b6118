// Package tabular rebuilds transaction rows from positioned PDF tokens. Body
// tokens are clustered into rows by y proximity; cells come either from a
// matched template's column x-ranges or, on the generic fallback path, from
// the shape of each row. Wrapped description lines, which carry neither a date
// nor an amount, are merged into the transaction above them.
package tabular

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
	"github.com/FACorreiaa/statement-ingest/internal/domain/ingest/locale"
	"github.com/FACorreiaa/statement-ingest/internal/domain/pdf/feature"
	"github.com/FACorreiaa/statement-ingest/internal/domain/pdf/template"
	"github.com/FACorreiaa/statement-ingest/pkg/money"
)

// rowTol is the y distance (points) within which tokens belong to one row.
const rowTol = 3.0

// Column roles a template may declare.
const (
	RoleDate         = "date"
	RoleValueDate    = "value_date"
	RoleDescription  = "description"
	RoleAmount       = "amount"
	RoleDebit        = "debit"
	RoleCredit       = "credit"
	RoleBalance      = "balance"
	RoleReference    = "reference"
	RoleCounterparty = "counterparty"
)

// Options carries what the tokens themselves cannot answer.
type Options struct {
	// DefaultCurrency applies when neither the template nor the page text
	// names a currency.
	DefaultCurrency string
	// MaxPages caps how many pages are read; 0 means all.
	MaxPages int
}

// row is one y-cluster of body tokens with its cells resolved.
type row struct {
	number int
	cells  map[string]string
	raw    string
}

// Parse rebuilds a batch from a token document. A nil descriptor takes the
// generic path: column roles are inferred from each row's shape instead of
// fixed x-ranges.
func Parse(doc *feature.Document, desc *template.Descriptor, opts Options) (*canonical.StatementBatch, error) {
	pages := doc.Pages
	if opts.MaxPages > 0 && len(pages) > opts.MaxPages {
		pages = pages[:opts.MaxPages]
	}

	var rows []row
	number := 0
	for i := range pages {
		for _, cluster := range clusterRows(feature.BodyTokens(&pages[i])) {
			number++
			if desc != nil {
				rows = append(rows, resolveByTemplate(cluster, desc, number))
			} else {
				rows = append(rows, resolveByShape(cluster, number))
			}
		}
	}
	if len(rows) == 0 {
		return nil, canonical.NewMalformed("document has no table rows outside the header and footer bands", 1, 0, "")
	}

	dialect := resolveDialect(rows, desc)

	batch := &canonical.StatementBatch{
		SourceFormat: canonical.FormatPDF,
		Extraction:   canonical.PathPDFGeneric,
	}
	if desc != nil {
		batch.Extraction = canonical.PathPDFTemplate
	}

	currency, err := resolveCurrency(rows, desc, opts)
	if err != nil {
		return nil, err
	}
	batch.Currency = currency

	var prevBalance *decimal.Decimal
	for _, r := range rows {
		tx, skipReason := buildRow(r, dialect, currency)
		if tx == nil && skipReason == "" {
			// Wrapped continuation line: no date, no amount, some text.
			if n := len(batch.Transactions); n > 0 && r.cells[RoleDescription] != "" {
				last := &batch.Transactions[n-1]
				last.Description = canonical.NormalizeDescription(
					last.Description + " " + r.cells[RoleDescription])
			}
			continue
		}
		if skipReason != "" {
			batch.Skipped = append(batch.Skipped, canonical.SkippedRow{
				ID:     canonical.SkippedRowID(r.number, r.raw),
				Line:   r.number,
				Raw:    r.raw,
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
			fmt.Sprintf("none of the %d table rows produced a transaction", len(rows)), 1, 0, "")
	}

	finishBatch(batch, doc)
	return batch, nil
}

// buildRow returns (nil, "") for wrapped continuation lines.
func buildRow(r row, d dialect, currency string) (*canonical.Transaction, string) {
	dateCell := r.cells[RoleDate]
	amountCell := r.cells[RoleAmount]
	hasAmountSide := amountCell != "" || r.cells[RoleDebit] != "" || r.cells[RoleCredit] != ""
	if dateCell == "" && !hasAmountSide {
		return nil, ""
	}

	date, ok, matched := locale.ParseDate(dateCell, d.dateOrder)
	if !ok {
		return nil, "unparsable date " + strings.TrimSpace(dateCell)
	}

	var amt decimal.Decimal
	amtOK := false
	if amountCell != "" {
		amt, amtOK = locale.ParseAmount(amountCell, d.amountStyle)
	}
	if !amtOK {
		debit, dOK := locale.ParseAmount(r.cells[RoleDebit], d.amountStyle)
		credit, cOK := locale.ParseAmount(r.cells[RoleCredit], d.amountStyle)
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
		Description:  canonical.NormalizeDescription(r.cells[RoleDescription]),
		Reference:    strings.TrimSpace(r.cells[RoleReference]),
		SourceFormat: canonical.FormatPDF,
		Signals: canonical.RowSignals{
			DateFormatMatched:   matched,
			AmountFormatMatched: true,
		},
	}
	if vd, ok, _ := locale.ParseDate(r.cells[RoleValueDate], d.dateOrder); ok {
		tx.ValueDate = &vd
	}
	if name := strings.TrimSpace(r.cells[RoleCounterparty]); name != "" {
		tx.Counterparty = &canonical.Counterparty{Name: name}
	}
	if bal, ok := locale.ParseAmount(r.cells[RoleBalance], d.amountStyle); ok {
		tx.RunningBalance = money.NewFromDecimal(bal, currency)
	}
	return tx, ""
}

// clusterRows groups tokens (already sorted top-to-bottom) into y-bands.
func clusterRows(tokens []feature.Token) [][]feature.Token {
	var out [][]feature.Token
	var cur []feature.Token
	curY := 0.0
	for _, tok := range tokens {
		if len(cur) > 0 && tok.Y-curY > rowTol {
			out = append(out, cur)
			cur = nil
		}
		if len(cur) == 0 {
			curY = tok.Y
		}
		cur = append(cur, tok)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// resolveByTemplate assigns each token to the column whose x-range covers it.
// Tokens outside every declared range extend the description, so narrative
// text that drifts past its column is kept rather than dropped.
func resolveByTemplate(tokens []feature.Token, desc *template.Descriptor, number int) row {
	cells := map[string]string{}
	var rawParts []string
	for _, tok := range tokens {
		rawParts = append(rawParts, tok.Text)
		role := RoleDescription
		for _, c := range desc.Columns {
			if tok.X >= c.XMin && tok.X <= c.XMax {
				role = c.Role
				break
			}
		}
		appendCell(cells, role, tok.Text)
	}
	return row{number: number, cells: cells, raw: strings.Join(rawParts, " ")}
}

// resolveByShape infers roles from token content: the first date-shaped token
// is the booking date, a second one the value date, the rightmost amount the
// running balance when two amounts are present, and everything else the
// description.
func resolveByShape(tokens []feature.Token, number int) row {
	cells := map[string]string{}
	var rawParts []string

	var amountIdx []int
	for i, tok := range tokens {
		rawParts = append(rawParts, tok.Text)
		if locale.LooksLikeAmount(tok.Text) && !locale.LooksLikeDate(tok.Text) {
			amountIdx = append(amountIdx, i)
		}
	}

	balanceIdx := -1
	amountCol := -1
	if len(amountIdx) >= 2 {
		amountCol = amountIdx[len(amountIdx)-2]
		balanceIdx = amountIdx[len(amountIdx)-1]
	} else if len(amountIdx) == 1 {
		amountCol = amountIdx[0]
	}

	dateSeen := 0
	for i, tok := range tokens {
		switch {
		case i == amountCol:
			appendCell(cells, RoleAmount, tok.Text)
		case i == balanceIdx:
			appendCell(cells, RoleBalance, tok.Text)
		case locale.LooksLikeDate(tok.Text) && dateSeen == 0:
			appendCell(cells, RoleDate, tok.Text)
			dateSeen++
		case locale.LooksLikeDate(tok.Text) && dateSeen == 1:
			appendCell(cells, RoleValueDate, tok.Text)
			dateSeen++
		default:
			appendCell(cells, RoleDescription, tok.Text)
		}
	}
	return row{number: number, cells: cells, raw: strings.Join(rawParts, " ")}
}

func appendCell(cells map[string]string, role, text string) {
	if cells[role] == "" {
		cells[role] = text
		return
	}
	cells[role] += " " + text
}

// dialect is the resolved date order and decimal separator for the document.
type dialect struct {
	dateOrder   locale.DateOrder
	amountStyle locale.AmountStyle
}

func resolveDialect(rows []row, desc *template.Descriptor) dialect {
	var d dialect
	if desc != nil {
		if desc.DayFirstDates {
			d.dateOrder = locale.OrderDMY
		}
		if desc.DecimalComma {
			d.amountStyle = locale.SepComma
		} else {
			d.amountStyle = locale.SepDot
		}
	}

	if d.dateOrder == locale.OrderUnknown {
		var dates []string
		for _, r := range rows {
			dates = append(dates, r.cells[RoleDate])
		}
		d.dateOrder = locale.DetectDateOrder(dates)
	}
	if desc == nil {
		var amounts []string
		for _, r := range rows {
			for _, role := range []string{RoleAmount, RoleDebit, RoleCredit, RoleBalance} {
				if v := r.cells[role]; v != "" {
					amounts = append(amounts, v)
				}
			}
		}
		d.amountStyle = locale.DetectAmountStyle(amounts)
	}
	return d
}

func resolveCurrency(rows []row, desc *template.Descriptor, opts Options) (string, error) {
	if desc != nil && desc.Currency != "" {
		return desc.Currency, nil
	}
	var samples []string
	for _, r := range rows {
		samples = append(samples, r.raw)
	}
	if ccy := locale.CurrencyFromSymbol(samples); ccy != "" {
		return ccy, nil
	}
	if opts.DefaultCurrency != "" {
		return strings.ToUpper(opts.DefaultCurrency), nil
	}
	return "", canonical.NewMalformed(
		"currency cannot be determined from the document; a default currency is required", 1, 0, "")
}

func finishBatch(batch *canonical.StatementBatch, doc *feature.Document) {
	for _, tx := range batch.Transactions {
		if batch.PeriodStart.IsZero() || tx.BookingDate.Before(batch.PeriodStart) {
			batch.PeriodStart = tx.BookingDate
		}
		if batch.PeriodEnd.IsZero() || tx.BookingDate.After(batch.PeriodEnd) {
			batch.PeriodEnd = tx.BookingDate
		}
	}

	first, last := batch.Transactions[0], batch.Transactions[len(batch.Transactions)-1]
	if first.RunningBalance != nil {
		opening := first.RunningBalance.ToDecimal().Sub(first.Amount.ToDecimal())
		batch.OpeningBalance = money.NewFromDecimal(opening, batch.Currency)
	}
	if last.RunningBalance != nil {
		batch.ClosingBalance = last.RunningBalance
	}

	batch.ID = canonical.BatchID([]byte(fingerprint(doc)), batch.Account)
}

// fingerprint serializes the token layout deterministically so the batch ID
// is stable across runs over the same document.
func fingerprint(doc *feature.Document) string {
	var b strings.Builder
	for _, p := range doc.Pages {
		fmt.Fprintf(&b, "p%d;", p.Number)
		for _, t := range p.Tokens {
			fmt.Fprintf(&b, "%s@%.1f,%.1f;", t.Text, t.X, t.Y)
		}
	}
	return b.String()
}
