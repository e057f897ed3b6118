package money

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// TestDataGenerator fabricates statement-shaped test data with gofakeit.
// Seed it for reproducible fixtures.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a generator with a random seed.
func NewTestDataGenerator() *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(0)}
}

// NewTestDataGeneratorWithSeed creates a generator with a fixed seed.
func NewTestDataGeneratorWithSeed(seed int64) *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(seed)}
}

// TestMovement is one generated statement row.
type TestMovement struct {
	Date         time.Time
	Description  string
	Counterparty string
	Amount       *Money
}

// Descriptions stay comma-free so generated CSV rows need no quoting.
var movementDescriptions = []string{
	"CARD PAYMENT",
	"DIRECT DEBIT ENERGY",
	"STANDING ORDER RENT",
	"SEPA TRANSFER",
	"ATM WITHDRAWAL",
	"SALARY CREDIT",
	"INTEREST CREDIT",
	"SUBSCRIPTION FEE",
	"INSURANCE PREMIUM",
	"REFUND",
}

// RandomAmount generates a Money value within a cent range.
func (g *TestDataGenerator) RandomAmount(currency string, minCents, maxCents int64) *Money {
	if minCents > maxCents {
		minCents, maxCents = maxCents, minCents
	}
	return New(minCents+int64(g.faker.Number(0, int(maxCents-minCents))), currency)
}

// Movement generates one row. Roughly two thirds are debits, matching the
// shape of a typical checking account export.
func (g *TestDataGenerator) Movement(currency string, start, end time.Time) TestMovement {
	amount := g.RandomAmount(currency, 100, 250000)
	if g.faker.Number(0, 2) != 0 {
		amount = amount.Negate()
	}
	return TestMovement{
		Date:         g.faker.DateRange(start, end).Truncate(24 * time.Hour),
		Description:  movementDescriptions[g.faker.Number(0, len(movementDescriptions)-1)],
		Counterparty: strings.ToUpper(g.faker.Company()),
		Amount:       amount,
	}
}

// Movements generates count rows inside one statement month.
func (g *TestDataGenerator) Movements(currency string, count int) []TestMovement {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	out := make([]TestMovement, count)
	for i := range out {
		out[i] = g.Movement(currency, start, end)
	}
	return out
}

// StatementCSV renders movements as a bank-export CSV with a running balance
// column. The returned opening and closing cents reconcile with the rows by
// construction.
func (g *TestDataGenerator) StatementCSV(currency string, count int) (csv string, openingCents, closingCents int64) {
	rows := g.Movements(currency, count)
	openingCents = int64(g.faker.Number(10000, 5000000))

	var b strings.Builder
	b.WriteString("Date,Description,Amount,Balance\n")
	running := openingCents
	for _, row := range rows {
		running += row.Amount.Amount()
		fmt.Fprintf(&b, "%s,%s,%s,%s\n",
			row.Date.Format("2006-01-02"),
			row.Description,
			formatCents(row.Amount.Amount()),
			formatCents(running),
		)
	}
	return b.String(), openingCents, running
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
