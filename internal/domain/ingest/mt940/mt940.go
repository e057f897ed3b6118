// Package mt940 parses SWIFT MT940 customer statement messages (block-4 tagged
// text) into a canonical batch. The scanner is line based: a :61: line opens a
// transaction, following :86: lines and their untagged continuations build its
// description until the next tag.
package mt940

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
	"github.com/FACorreiaa/statement-ingest/pkg/money"
)

var (
	tagRe = regexp.MustCompile(`^:(\d{2}[A-Z]?):(.*)$`)
	// C240101USD1000,00: sign, YYMMDD, ISO currency, comma-decimal amount.
	balanceRe = regexp.MustCompile(`^(R?[CD])(\d{6})([A-Z]{3})([0-9]+,[0-9]*)$`)
	// YYMMDD[MMDD] D/C [funds code] amount [type code] [reference][//bank ref]
	statementLineRe = regexp.MustCompile(`^(\d{6})(\d{4})?(R?[CD])([A-Z])?([0-9]+,[0-9]*)((?:N|S|F)[A-Z0-9]{3})?(.*)$`)
)

type balance struct {
	amount *money.Money
	date   time.Time
}

// Parse scans block-4 tagged text. A SWIFT envelope ({1:..}{2:..}{4: .. -}) is
// unwrapped when present.
func Parse(data []byte) (*canonical.StatementBatch, error) {
	text := unwrapEnvelope(string(data))
	lines := strings.Split(text, "\n")

	batch := &canonical.StatementBatch{
		SourceFormat: canonical.FormatMT940,
		Extraction:   canonical.PathStandards,
	}

	var (
		statementRef string
		opening      *balance
		closing      *balance
		pendingTx    *canonical.Transaction
		pendingDesc  []string
		inNarrative  bool
		sawStatement bool
	)

	flush := func() {
		if pendingTx == nil {
			return
		}
		pendingTx.Description = canonical.NormalizeDescription(strings.Join(pendingDesc, " "))
		applyNarrativeSubfields(pendingTx)
		batch.Transactions = append(batch.Transactions, *pendingTx)
		pendingTx = nil
		pendingDesc = nil
		inNarrative = false
	}

	for i, raw := range lines {
		lineNum := i + 1
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" || line == "-" {
			continue
		}

		m := tagRe.FindStringSubmatch(line)
		if m == nil {
			// Untagged line: continuation of an open :86: narrative.
			if inNarrative {
				pendingDesc = append(pendingDesc, line)
				continue
			}
			if !sawStatement {
				return nil, canonical.NewMalformed(
					"expected a :nn: tag at line start", lineNum, 0, shorten(line))
			}
			continue
		}

		tag, content := m[1], m[2]
		if tag != "86" {
			// Any new tag closes an open :61:/:86: pair.
			flush()
		}
		switch tag {
		case "20":
			statementRef = strings.TrimSpace(content)
			sawStatement = true
		case "25":
			batch.Account = strings.TrimSpace(content)
		case "28C", "28":
			// Statement/sequence number; not carried on the canonical batch.
		case "60F", "60M":
			if opening == nil {
				b, err := parseBalance(content, lineNum)
				if err != nil {
					return nil, err
				}
				opening = b
			}
		case "62F", "62M":
			b, err := parseBalance(content, lineNum)
			if err != nil {
				return nil, err
			}
			closing = b
		case "61":
			tx, err := parseStatementLine(content, lineNum)
			if err != nil {
				return nil, err
			}
			pendingTx = tx
		case "86":
			if pendingTx == nil {
				// Statement-level narrative (after :62F:) carries no
				// transaction context; ignore it.
				continue
			}
			pendingDesc = append(pendingDesc, content)
			inNarrative = true
		case "64", "65", "34F", "13D":
			// Available balance / floor limit indications are not part of the
			// canonical model.
		}
	}
	flush()

	if !sawStatement {
		return nil, canonical.NewMalformed("no :20: transaction reference found", 1, 0, shorten(text))
	}

	currency := ""
	if opening != nil {
		currency = opening.amount.Currency()
	} else if closing != nil {
		currency = closing.amount.Currency()
	}
	if currency == "" {
		return nil, canonical.NewMalformed(
			"statement carries no :60F:/:62F: balance, so the currency cannot be determined", 1, 0, statementRef)
	}

	batch.ID = canonical.BatchID(data, batch.Account+"|"+statementRef)
	batch.Currency = currency
	if opening != nil {
		batch.OpeningBalance = opening.amount
		batch.PeriodStart = opening.date
	}
	if closing != nil {
		batch.ClosingBalance = closing.amount
		batch.PeriodEnd = closing.date
	}

	// The :61: line has no currency of its own; it inherits the statement's.
	for i := range batch.Transactions {
		tx := &batch.Transactions[i]
		tx.Amount = money.NewFromDecimal(tx.Amount.ToDecimal(), currency)
		if batch.PeriodStart.IsZero() || tx.BookingDate.Before(batch.PeriodStart) {
			batch.PeriodStart = tx.BookingDate
		}
		if batch.PeriodEnd.IsZero() || tx.BookingDate.After(batch.PeriodEnd) {
			batch.PeriodEnd = tx.BookingDate
		}
	}

	return batch, nil
}

// parseBalance parses :60F:/:62F: content such as "C240101USD1000,00".
func parseBalance(content string, lineNum int) (*balance, error) {
	m := balanceRe.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return nil, canonical.NewMalformed(
			"balance must be <D|C><YYMMDD><CCY><amount>", lineNum, 0, shorten(content))
	}
	d, err := commaDecimal(m[4])
	if err != nil {
		return nil, canonical.NewMalformed("unparsable balance amount", lineNum, 0, m[4])
	}
	if m[1] == "D" || m[1] == "RD" {
		d = d.Neg()
	}
	date, err := parseSwiftDate(m[2])
	if err != nil {
		return nil, canonical.NewMalformed("unparsable balance date", lineNum, 0, m[2])
	}
	return &balance{amount: money.NewFromDecimal(d, m[3]), date: date}, nil
}

// parseStatementLine parses a :61: line. The currency is attached later from
// the statement balances; USD is a placeholder until then.
func parseStatementLine(content string, lineNum int) (*canonical.Transaction, error) {
	m := statementLineRe.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return nil, canonical.NewMalformed(
			":61: must be <YYMMDD>[MMDD]<D|C>[funds]<amount>[type][reference]", lineNum, 0, shorten(content))
	}

	valueDate, err := parseSwiftDate(m[1])
	if err != nil {
		return nil, canonical.NewMalformed("unparsable value date", lineNum, 0, m[1])
	}

	bookingDate := valueDate
	if m[2] != "" {
		// Entry date carries month+day only; the year comes from the value date.
		if bd, err := time.Parse("0102", m[2]); err == nil {
			bookingDate = time.Date(valueDate.Year(), bd.Month(), bd.Day(), 0, 0, 0, 0, time.UTC)
		}
	}

	d, err := commaDecimal(m[5])
	if err != nil {
		return nil, canonical.NewMalformed("unparsable amount", lineNum, 0, m[5])
	}
	// D = debit, C = credit; RC/RD are reversals and flip the original sign.
	switch m[3] {
	case "D", "RC":
		d = d.Neg()
	case "C", "RD":
	}

	reference := strings.TrimSpace(m[7])
	if i := strings.Index(reference, "//"); i >= 0 {
		reference = strings.TrimSpace(reference[:i])
	}

	vd := valueDate
	return &canonical.Transaction{
		BookingDate:  bookingDate,
		ValueDate:    &vd,
		Amount:       money.NewFromDecimal(d, money.USD),
		Reference:    reference,
		SourceFormat: canonical.FormatMT940,
		Signals: canonical.RowSignals{
			DateFormatMatched:   true,
			AmountFormatMatched: true,
		},
	}, nil
}

// applyNarrativeSubfields extracts structured ?nn subfields from a :86:
// narrative: ?20..?29 are remittance text, ?32/?33 name the counterparty.
// Narratives without subfield markers pass through untouched.
func applyNarrativeSubfields(tx *canonical.Transaction) {
	if !strings.Contains(tx.Description, "?") {
		return
	}
	parts := strings.Split(tx.Description, "?")
	var descParts, nameParts []string
	if strings.TrimSpace(parts[0]) != "" {
		descParts = append(descParts, strings.TrimSpace(parts[0]))
	}
	for _, part := range parts[1:] {
		if len(part) < 2 {
			continue
		}
		code, value := part[:2], strings.TrimSpace(part[2:])
		if value == "" {
			continue
		}
		switch {
		case code >= "20" && code <= "29":
			descParts = append(descParts, value)
		case code == "32" || code == "33":
			nameParts = append(nameParts, value)
		case code == "00":
			descParts = append(descParts, value)
		}
	}
	tx.Description = canonical.NormalizeDescription(strings.Join(descParts, " "))
	if len(nameParts) > 0 {
		tx.Counterparty = &canonical.Counterparty{Name: strings.Join(nameParts, " ")}
	}
}

// unwrapEnvelope extracts block 4 from a full SWIFT message when present.
func unwrapEnvelope(text string) string {
	start := strings.Index(text, "{4:")
	if start < 0 {
		return text
	}
	body := text[start+len("{4:"):]
	if end := strings.LastIndex(body, "-}"); end >= 0 {
		body = body[:end]
	}
	return body
}

func commaDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSuffix(strings.ReplaceAll(s, ",", "."), ".")
	return decimal.NewFromString(s)
}

// parseSwiftDate resolves the two-digit year: 00-68 map to 20xx, 69-99 to 19xx.
func parseSwiftDate(s string) (time.Time, error) {
	t, err := time.Parse("060102", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid YYMMDD date %q: %w", s, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func shorten(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 40 {
		return s[:40]
	}
	return s
}
