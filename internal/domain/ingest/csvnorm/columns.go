package csvnorm

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/FACorreiaa/statement-ingest/internal/domain/ingest/locale"
)

// role names what a CSV column contributes to the canonical record.
type role int

const (
	roleUnknown role = iota
	roleDate
	roleValueDate
	roleAmount
	roleDebit
	roleCredit
	roleDescription
	roleBalance
	roleReference
	roleCounterparty
	roleCurrency
)

// roleKeywords holds header vocabulary per role across the locales bank
// exports actually use (English, German, French, Spanish, Portuguese).
// Order matters: earlier roles win when one header matches several.
var roleKeywords = []struct {
	role     role
	keywords []string
}{
	{roleValueDate, []string{"value date", "valuta", "wertstellung", "date valeur", "fecha valor"}},
	{roleDate, []string{"date", "booking date", "buchungstag", "datum", "transaction date", "posting date", "fecha", "data"}},
	{roleDebit, []string{"debit", "soll", "money out", "withdrawal", "paid out", "debe", "debito"}},
	{roleCredit, []string{"credit", "haben", "money in", "deposit", "paid in", "haber", "credito"}},
	{roleBalance, []string{"balance", "saldo", "running balance", "solde"}},
	{roleAmount, []string{"amount", "betrag", "umsatz", "montant", "importe", "valor"}},
	{roleDescription, []string{"description", "verwendungszweck", "buchungstext", "memo", "narrative", "details", "concepto", "libelle", "descricao", "text"}},
	{roleReference, []string{"reference", "referenz", "transaction id", "ref"}},
	{roleCounterparty, []string{"payee", "counterparty", "beguenstigter", "empfaenger", "auftraggeber", "beneficiario", "name"}},
	{roleCurrency, []string{"currency", "waehrung", "ccy", "devise", "divisa", "moeda"}},
}

// normalizeHeader lowercases and reduces a header cell to space-separated
// alphanumeric words, folding umlaut spellings so "Währung" meets "waehrung".
func normalizeHeader(h string) string {
	folded := strings.NewReplacer(
		"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
		"é", "e", "è", "e", "ê", "e", "á", "a", "à", "a", "ç", "c", "í", "i", "ó", "o", "ú", "u",
	).Replace(strings.ToLower(strings.TrimSpace(h)))

	var b strings.Builder
	lastSpace := true
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// classifyHeader assigns one header cell to a role. Exact and substring
// matches are tried first; a short Levenshtein distance then catches export
// typos like "amout" or "refernce".
func classifyHeader(header string) role {
	norm := normalizeHeader(header)
	if norm == "" {
		return roleUnknown
	}

	for _, rk := range roleKeywords {
		for _, kw := range rk.keywords {
			if norm == kw || strings.Contains(norm, kw) {
				return rk.role
			}
		}
	}
	for _, rk := range roleKeywords {
		for _, kw := range rk.keywords {
			if len(kw) >= 5 && fuzzy.LevenshteinDistance(norm, kw) <= 1 {
				return rk.role
			}
		}
	}
	return roleUnknown
}

// mapHeaders resolves each column's role; the first column claiming a role
// keeps it.
func mapHeaders(headers []string) map[int]role {
	out := make(map[int]role, len(headers))
	claimed := make(map[role]bool)
	for i, h := range headers {
		r := classifyHeader(h)
		if r == roleUnknown || claimed[r] {
			continue
		}
		out[i] = r
		claimed[r] = true
	}
	return out
}

// isHeaderRow decides whether the first CSV row is a header: no cell parses
// as a date or amount and at least one cell classifies to a known role.
func isHeaderRow(row []string) bool {
	known := 0
	for _, cell := range row {
		if locale.LooksLikeDate(cell) || locale.LooksLikeAmount(cell) {
			return false
		}
		if classifyHeader(cell) != roleUnknown {
			known++
		}
	}
	return known > 0
}

// guessRolesFromContent assigns roles for headerless exports by sampling the
// data itself: a column is date-shaped or amount-shaped when at least nine of
// every ten non-empty values fit; the widest remaining text column is the
// description. Two amount-shaped columns make the rightmost the running
// balance.
func guessRolesFromContent(rows [][]string) map[int]role {
	if len(rows) == 0 {
		return nil
	}
	cols := len(rows[0])
	out := make(map[int]role)

	var amountCols []int
	dateTaken := false
	for c := 0; c < cols; c++ {
		dates, amounts, nonEmpty := 0, 0, 0
		for _, row := range rows {
			if c >= len(row) || strings.TrimSpace(row[c]) == "" {
				continue
			}
			nonEmpty++
			if locale.LooksLikeDate(row[c]) {
				dates++
			} else if locale.LooksLikeAmount(row[c]) {
				amounts++
			}
		}
		if nonEmpty == 0 {
			continue
		}
		switch {
		case dates*10 >= nonEmpty*9 && !dateTaken:
			out[c] = roleDate
			dateTaken = true
		case amounts*10 >= nonEmpty*9:
			amountCols = append(amountCols, c)
		}
	}

	if len(amountCols) > 0 {
		out[amountCols[0]] = roleAmount
		if len(amountCols) > 1 {
			out[amountCols[len(amountCols)-1]] = roleBalance
		}
	}

	// Widest untyped column carries the narrative.
	bestWidth, bestCol := 0, -1
	for c := 0; c < cols; c++ {
		if _, taken := out[c]; taken {
			continue
		}
		width := 0
		for _, row := range rows {
			if c < len(row) {
				width += len(row[c])
			}
		}
		if width > bestWidth {
			bestWidth, bestCol = width, c
		}
	}
	if bestCol >= 0 {
		out[bestCol] = roleDescription
	}

	return out
}
