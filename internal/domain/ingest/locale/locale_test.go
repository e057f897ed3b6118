package locale

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectAmountStyle(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   AmountStyle
	}{
		{"both separators decide by rightmost", []string{"1.234,56"}, SepComma},
		{"both separators us order", []string{"1,234.56"}, SepDot},
		{"short decimal tail votes dot", []string{"10.50", "3.99"}, SepDot},
		{"short decimal tail votes comma", []string{"10,50"}, SepComma},
		{"three digit tail is grouping", []string{"1.234"}, SepComma},
		{"no separators", []string{"100", "250"}, SepUnknown},
		{"empty", nil, SepUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectAmountStyle(tt.values))
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		style AmountStyle
		want  string
		ok    bool
	}{
		{"german grouping", "1.234,56", SepComma, "1234.56", true},
		{"us grouping", "1,234.56", SepDot, "1234.56", true},
		{"accounting parentheses", "(50,00)", SepComma, "-50.00", true},
		{"trailing minus", "100-", SepDot, "-100", true},
		{"leading minus", "-4.50", SepDot, "-4.50", true},
		{"explicit plus", "+4.50", SepDot, "4.50", true},
		{"debit marker", "25.00 DR", SepDot, "-25.00", true},
		{"credit marker keeps sign", "25.00 CR", SepDot, "25.00", true},
		{"euro glyph stripped", "€ 1.250,00", SepComma, "1250.00", true},
		{"swiss apostrophe grouping", "1'250.00", SepDot, "1250.00", true},
		{"unknown style infers grouping", "12,345", SepUnknown, "12345", true},
		{"not a number", "n/a", SepDot, "", false},
		{"empty", "", SepDot, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAmount(tt.raw, tt.style)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
					"got %s want %s", got, tt.want)
			}
		})
	}
}

func TestDetectDateOrder(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   DateOrder
	}{
		{"iso", []string{"2024-01-15"}, OrderYMD},
		{"day first proven", []string{"15.01.2024"}, OrderDMY},
		{"month first proven", []string{"01/15/2024"}, OrderMDY},
		{"ambiguous stays unknown", []string{"03.04.2024", "05.06.2024"}, OrderUnknown},
		{"one proving row settles the file", []string{"03.04.2024", "25.04.2024"}, OrderDMY},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDateOrder(tt.values))
		})
	}
}

func TestParseDate(t *testing.T) {
	jan15 := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		raw     string
		order   DateOrder
		want    time.Time
		ok      bool
		matched bool
	}{
		{"day first", "15.01.2024", OrderDMY, jan15, true, true},
		{"month first", "01/15/2024", OrderMDY, jan15, true, true},
		{"iso regardless of order", "2024-01-15", OrderMDY, jan15, true, true},
		{"two digit year", "15.01.24", OrderDMY, jan15, true, true},
		{"unproven order assumes day first", "03.04.2024",
			OrderUnknown, time.Date(2024, time.April, 3, 0, 0, 0, 0, time.UTC), true, false},
		{"textual month", "15 Jan 2024", OrderUnknown, jan15, true, true},
		{"us textual month", "Jan 15, 2024", OrderUnknown, jan15, true, true},
		{"overflow rejected", "30.02.2024", OrderDMY, time.Time{}, false, false},
		{"not a date", "MIETE", OrderDMY, time.Time{}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, matched := ParseDate(tt.raw, tt.order)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.matched, matched)
			if ok {
				assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			}
		})
	}
}

func TestCurrencyFromSymbol(t *testing.T) {
	assert.Equal(t, "EUR", CurrencyFromSymbol([]string{"€ 1.250,00"}))
	assert.Equal(t, "GBP", CurrencyFromSymbol([]string{"£10.00"}))
	assert.Equal(t, "USD", CurrencyFromSymbol([]string{"$10.00"}))
	assert.Equal(t, "CHF", CurrencyFromSymbol([]string{"CHF 1'250.00"}))
	assert.Empty(t, CurrencyFromSymbol([]string{"1.250,00"}))
}

func TestLooksLikeAmount(t *testing.T) {
	assert.True(t, LooksLikeAmount("-1.250,00"))
	assert.True(t, LooksLikeAmount("(50.00)"))
	assert.False(t, LooksLikeAmount("MIETE JANUAR"))
	assert.False(t, LooksLikeAmount(""))
}
