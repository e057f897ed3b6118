// Package redact masks account-identifying digit sequences in extracted PDF
// tokens before they are logged, stored in diagnostics, or fed to template
// authoring. The input document is never mutated; redaction works on a deep
// copy.
package redact

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/FACorreiaa/statement-ingest/internal/domain/pdf/feature"
)

// Rules selects which identifier shapes get masked. KeepTail digits stay
// visible at the end of each masked run so statements remain reviewable.
type Rules struct {
	MaskIBANs bool
	MaskCards bool
	// DigitRunLength masks any bare digit run of at least this length;
	// 0 disables the rule.
	DigitRunLength int
	// KeepTail is how many trailing characters stay visible. Default 4.
	KeepTail int
}

// DefaultRules is what the ingestion service applies to PDF diagnostics.
func DefaultRules() Rules {
	return Rules{MaskIBANs: true, MaskCards: true, DigitRunLength: 10, KeepTail: 4}
}

var (
	ibanRe = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)
	// 13-19 digits, optionally grouped by spaces or hyphens.
	cardRe = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)
)

// Document returns a redacted deep copy of doc.
func Document(doc *feature.Document, rules Rules) *feature.Document {
	out := &feature.Document{Pages: make([]feature.Page, len(doc.Pages))}
	for i, page := range doc.Pages {
		cp := page
		cp.Tokens = make([]feature.Token, len(page.Tokens))
		for j, tok := range page.Tokens {
			tok.Text = Text(tok.Text, rules)
			cp.Tokens[j] = tok
		}
		out.Pages[i] = cp
	}
	return out
}

// Text masks one string under the rules.
func Text(s string, rules Rules) string {
	keep := rules.KeepTail
	if keep == 0 {
		keep = 4
	}

	if rules.MaskIBANs {
		s = ibanRe.ReplaceAllStringFunc(s, func(m string) string {
			return mask(m, keep)
		})
	}
	if rules.MaskCards {
		s = cardRe.ReplaceAllStringFunc(s, func(m string) string {
			return mask(m, keep)
		})
	}
	if rules.DigitRunLength > 0 {
		runRe := regexp.MustCompile(`\d{` + strconv.Itoa(rules.DigitRunLength) + `,}`)
		s = runRe.ReplaceAllStringFunc(s, func(m string) string {
			return mask(m, keep)
		})
	}
	return s
}

// mask replaces every digit and letter except the last keep characters,
// preserving grouping punctuation so masked values keep their shape.
func mask(s string, keep int) string {
	runes := []rune(s)
	cut := len(runes) - keep
	var b strings.Builder
	for i, r := range runes {
		switch {
		case i >= cut:
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('*')
		}
	}
	return b.String()
}
