// Package locale resolves the formatting dialects bank exports disagree on:
// decimal separators, thousands grouping, sign notation, and date field
// order. Both the CSV normalizer and the PDF table extractor read through it,
// so a file's dialect is decided once and applied uniformly.
package locale

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountStyle is the decimal separator a file uses. It is detected once over
// the whole amount column so "1.234" cannot flip meaning between rows.
type AmountStyle byte

const (
	SepUnknown AmountStyle = 0
	SepDot     AmountStyle = '.'
	SepComma   AmountStyle = ','
)

// DetectAmountStyle votes over all amount values in a file. A value carrying
// both separators is decisive: the rightmost one is the decimal mark. A value
// with a single separator followed by one or two digits votes for that
// separator; three digits is the thousands-grouping pattern and votes for the
// other.
func DetectAmountStyle(values []string) AmountStyle {
	dotVotes, commaVotes := 0, 0
	for _, raw := range values {
		s := stripDecorations(raw)
		lastDot := strings.LastIndexByte(s, '.')
		lastComma := strings.LastIndexByte(s, ',')

		switch {
		case lastDot >= 0 && lastComma >= 0:
			if lastDot > lastComma {
				return SepDot
			}
			return SepComma
		case lastDot >= 0:
			if tail := len(s) - lastDot - 1; tail >= 1 && tail <= 2 {
				dotVotes++
			} else {
				commaVotes++
			}
		case lastComma >= 0:
			if tail := len(s) - lastComma - 1; tail >= 1 && tail <= 2 {
				commaVotes++
			} else {
				dotVotes++
			}
		}
	}

	switch {
	case dotVotes > commaVotes:
		return SepDot
	case commaVotes > dotVotes:
		return SepComma
	default:
		return SepUnknown
	}
}

// ParseAmount normalizes one localized amount cell. Recognized negative
// notations: leading minus, trailing minus, accounting parentheses, and a
// trailing DR marker (CR marks a credit and keeps the sign positive).
func ParseAmount(raw string, style AmountStyle) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Decimal{}, false
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "DR") || strings.HasSuffix(upper, "DR."):
		neg = true
		s = strings.TrimSpace(s[:strings.LastIndexByte(upper, 'D')])
	case strings.HasSuffix(upper, "CR") || strings.HasSuffix(upper, "CR."):
		s = strings.TrimSpace(s[:strings.LastIndexByte(upper, 'C')])
	}
	if strings.HasSuffix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "-"))
	}
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	if strings.HasPrefix(s, "+") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "+"))
	}

	s = stripDecorations(s)
	if s == "" {
		return decimal.Decimal{}, false
	}

	sep := style
	if sep == SepUnknown {
		sep = DetectAmountStyle([]string{s})
	}

	var b strings.Builder
	for _, r := range s {
		switch r {
		case rune(sep):
			b.WriteByte('.')
		case '.', ',', ' ', '\'', '\u00a0':
			// thousands grouping
		default:
			if r < '0' || r > '9' {
				return decimal.Decimal{}, false
			}
			b.WriteRune(r)
		}
	}

	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	if neg {
		d = d.Neg()
	}
	return d, true
}

// CurrencyFromSymbol maps a currency glyph or ISO code embedded in amount
// cells to its ISO-4217 code.
func CurrencyFromSymbol(values []string) string {
	for _, v := range values {
		switch {
		case strings.ContainsRune(v, '€'):
			return "EUR"
		case strings.ContainsRune(v, '£'):
			return "GBP"
		case strings.ContainsRune(v, '$'):
			return "USD"
		case strings.Contains(v, "CHF"):
			return "CHF"
		}
	}
	return ""
}

// LooksLikeAmount reports whether a cell parses as a localized amount without
// committing to a separator style.
func LooksLikeAmount(s string) bool {
	_, ok := ParseAmount(s, SepUnknown)
	return ok
}

// stripDecorations drops currency glyphs and ISO-code tokens, keeping digits,
// separators, and grouping characters.
func stripDecorations(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == ' ', r == '\'', r == '\u00a0':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
