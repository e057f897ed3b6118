package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statementPage(number int) Page {
	tokens := []Token{
		{Text: "MEGABANK AG", X: 40, Y: 20},
		{Text: "Kontoauszug", X: 300, Y: 40},
		{Text: "Seite", X: 500, Y: 780},
	}
	rows := []struct {
		date, desc, amount string
		y                  float64
	}{
		{"15.01.2024", "MIETE JANUAR", "-1.250,00", 200},
		{"18.01.2024", "SUPERMARKT", "-84,20", 220},
		{"20.01.2024", "GEHALT", "3.000,00", 240},
	}
	for _, r := range rows {
		tokens = append(tokens,
			Token{Text: r.date, X: 50, Y: r.y},
			Token{Text: r.desc, X: 150, Y: r.y},
			Token{Text: r.amount, X: 420, Y: r.y},
		)
	}
	return Page{Number: number, Width: 595, Height: 842, Tokens: tokens}
}

func TestExtract(t *testing.T) {
	doc := &Document{Pages: []Page{statementPage(1), statementPage(2)}}
	f := Extract(doc, 0)

	assert.Equal(t, 2, f.PagesScanned)
	assert.Contains(t, f.HeaderTokens, "megabank ag")
	assert.Contains(t, f.HeaderTokens, "kontoauszug")
	assert.Contains(t, f.FooterTokens, "seite")

	// Three rows left-align at the date, description, and amount columns.
	assert.True(t, f.HasColumnNear(50, 2))
	assert.True(t, f.HasColumnNear(150, 2))
	assert.True(t, f.HasColumnNear(420, 2))
	assert.False(t, f.HasColumnNear(300, 2))

	assert.Equal(t, 6, f.DateHints)
	assert.Equal(t, 6, f.AmountHints)
	assert.Contains(t, f.Text, "miete januar")

	// The applied band boundaries travel with the features for geometry
	// scoring downstream.
	assert.InDelta(t, 0.12, f.HeaderBand, 1e-9)
	assert.InDelta(t, 0.10, f.FooterBand, 1e-9)
}

func TestExtract_PageDepthCap(t *testing.T) {
	doc := &Document{Pages: []Page{statementPage(1), statementPage(2), statementPage(3)}}
	f := Extract(doc, 2)
	assert.Equal(t, 2, f.PagesScanned)
}

func TestExtract_EmptyDocument(t *testing.T) {
	f := Extract(&Document{}, 0)
	assert.Zero(t, f.PagesScanned)
	assert.Empty(t, f.HeaderTokens)
}

func TestBodyTokens_OrderAndBands(t *testing.T) {
	page := statementPage(1)
	body := BodyTokens(&page)
	require.Len(t, body, 9)

	// Header and footer band tokens are excluded.
	for _, tok := range body {
		assert.NotEqual(t, "MEGABANK AG", tok.Text)
		assert.NotEqual(t, "Seite", tok.Text)
	}

	// Top-to-bottom, then left-to-right.
	assert.Equal(t, "15.01.2024", body[0].Text)
	assert.Equal(t, "MIETE JANUAR", body[1].Text)
	assert.Equal(t, "-1.250,00", body[2].Text)
	assert.Equal(t, "GEHALT", body[7].Text)
}
