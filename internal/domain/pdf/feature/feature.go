// Package feature turns positioned text tokens extracted from a PDF statement
// into the layout features the template matcher scores: recurring header and
// footer bands, x-aligned column positions, and date/amount density. Token
// extraction itself happens upstream; this package only sees text with
// coordinates.
package feature

import (
	"sort"
	"strings"

	"github.com/FACorreiaa/statement-ingest/internal/domain/ingest/locale"
)

// Token is one positioned text run on a page. Coordinates grow rightward and
// downward, in points, with the origin at the top-left of the page.
type Token struct {
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	W    float64 `json:"w"`
}

// Page is one page of positioned tokens.
type Page struct {
	Number int     `json:"number"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Tokens []Token `json:"tokens"`
}

// Document is a whole extracted statement.
type Document struct {
	Pages []Page `json:"pages"`
}

// Features summarizes a document's layout for template scoring.
type Features struct {
	// HeaderTokens and FooterTokens are normalized words that recur in the
	// top/bottom band on at least half of the inspected pages.
	HeaderTokens []string
	FooterTokens []string
	// Text is the normalized full text of the inspected pages, used by the
	// keyword prefilter.
	Text string
	// ColumnXs are x positions (rounded to the nearest point) where at least
	// three body tokens left-align, sorted ascending.
	ColumnXs []float64
	// DateHints and AmountHints count body tokens shaped like dates/amounts.
	DateHints   int
	AmountHints int
	// HeaderBand and FooterBand are the band boundaries actually applied,
	// as fractions of page height, so matchers can compare them against a
	// template's declared geometry.
	HeaderBand float64
	FooterBand float64
	// PagesScanned is how many pages contributed, after the depth cap.
	PagesScanned int
}

// Band heights as a fraction of the page. Statements put bank branding and
// page numbers in these zones.
const (
	headerBand = 0.12
	footerBand = 0.10
)

// Extract computes layout features over at most maxPages pages (0 means all).
func Extract(doc *Document, maxPages int) *Features {
	pages := doc.Pages
	if maxPages > 0 && len(pages) > maxPages {
		pages = pages[:maxPages]
	}

	f := &Features{
		HeaderBand:   headerBand,
		FooterBand:   footerBand,
		PagesScanned: len(pages),
	}
	if len(pages) == 0 {
		return f
	}

	headerSeen := map[string]int{}
	footerSeen := map[string]int{}
	xCounts := map[float64]int{}
	var textParts []string

	for _, page := range pages {
		headerY := page.Height * headerBand
		footerY := page.Height * (1 - footerBand)

		pageHeader := map[string]bool{}
		pageFooter := map[string]bool{}
		for _, tok := range page.Tokens {
			norm := normalizeToken(tok.Text)
			if norm == "" {
				continue
			}
			textParts = append(textParts, norm)

			switch {
			case tok.Y <= headerY:
				pageHeader[norm] = true
			case tok.Y >= footerY:
				pageFooter[norm] = true
			default:
				xCounts[roundPoint(tok.X)]++
				if locale.LooksLikeDate(tok.Text) {
					f.DateHints++
				} else if locale.LooksLikeAmount(tok.Text) {
					f.AmountHints++
				}
			}
		}
		for w := range pageHeader {
			headerSeen[w]++
		}
		for w := range pageFooter {
			footerSeen[w]++
		}
	}

	// A band token counts only when it recurs on at least half of the pages,
	// which separates letterhead from body text that drifted into the band.
	minPages := (len(pages) + 1) / 2
	f.HeaderTokens = recurring(headerSeen, minPages)
	f.FooterTokens = recurring(footerSeen, minPages)
	f.Text = strings.Join(textParts, " ")

	for x, n := range xCounts {
		if n >= 3 {
			f.ColumnXs = append(f.ColumnXs, x)
		}
	}
	sort.Float64s(f.ColumnXs)

	return f
}

// BodyTokens returns a page's tokens outside the header and footer bands,
// ordered top-to-bottom then left-to-right.
func BodyTokens(page *Page) []Token {
	headerY := page.Height * headerBand
	footerY := page.Height * (1 - footerBand)

	out := make([]Token, 0, len(page.Tokens))
	for _, tok := range page.Tokens {
		if tok.Y > headerY && tok.Y < footerY {
			out = append(out, tok)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// HasColumnNear reports whether any detected column aligns within tol points
// of x.
func (f *Features) HasColumnNear(x, tol float64) bool {
	for _, cx := range f.ColumnXs {
		if cx >= x-tol && cx <= x+tol {
			return true
		}
	}
	return false
}

func recurring(counts map[string]int, min int) []string {
	var out []string
	for w, n := range counts {
		if n >= min {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func roundPoint(x float64) float64 {
	if x < 0 {
		return 0
	}
	return float64(int(x + 0.5))
}
