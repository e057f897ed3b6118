// Package ofx parses OFX statements in both wire forms: the 1.x SGML flavor
// (colon-separated header block, leaf tags without closing tags) and the 2.x
// XML flavor. Both are scanned into the same element tree, so the mapping to
// the canonical model is written once.
package ofx

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
	"github.com/FACorreiaa/statement-ingest/pkg/money"
)

// node is one OFX element. SGML leaves carry a value and no children.
type node struct {
	name     string
	value    string
	children []*node
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) text(name string) string {
	if c := n.child(name); c != nil {
		return strings.TrimSpace(c.value)
	}
	return ""
}

// find walks a path of element names from n.
func (n *node) find(path ...string) *node {
	cur := n
	for _, name := range path {
		if cur = cur.child(name); cur == nil {
			return nil
		}
	}
	return cur
}

// Parse handles a single statement response per file: either a bank statement
// (STMTRS) or a credit card statement (CCSTMTRS).
func Parse(data []byte) (*canonical.StatementBatch, error) {
	body, headerLine := stripHeader(string(data))

	root, err := buildTree(body)
	if err != nil {
		return nil, err
	}
	ofxRoot := root.child("OFX")
	if ofxRoot == nil {
		return nil, canonical.NewMalformed("no <OFX> root element", headerLine, 0, shorten(body))
	}

	stmt := ofxRoot.find("BANKMSGSRSV1", "STMTTRNRS", "STMTRS")
	acctPath := "BANKACCTFROM"
	if stmt == nil {
		stmt = ofxRoot.find("CREDITCARDMSGSRSV1", "CCSTMTTRNRS", "CCSTMTRS")
		acctPath = "CCACCTFROM"
	}
	if stmt == nil {
		return nil, canonical.NewMalformed(
			"no STMTRS or CCSTMTRS statement aggregate found", headerLine, 0, shorten(body))
	}

	currency := stmt.text("CURDEF")
	if currency == "" {
		return nil, canonical.NewMalformed("statement has no CURDEF currency", headerLine, 0, "")
	}

	batch := &canonical.StatementBatch{
		Currency:     currency,
		SourceFormat: canonical.FormatOFX,
		Extraction:   canonical.PathStandards,
	}
	if acct := stmt.child(acctPath); acct != nil {
		batch.Account = acct.text("ACCTID")
	}
	batch.ID = canonical.BatchID(data, batch.Account)

	if ledger := stmt.child("LEDGERBAL"); ledger != nil {
		d, err := decimal.NewFromString(ledger.text("BALAMT"))
		if err != nil {
			return nil, canonical.NewMalformed("unparsable LEDGERBAL amount", 0, 0, ledger.text("BALAMT"))
		}
		batch.ClosingBalance = money.NewFromDecimal(d, currency)
	}

	tranList := stmt.child("BANKTRANLIST")
	if tranList == nil {
		return batch, nil
	}
	if t, ok := parseOFXDate(tranList.text("DTSTART")); ok {
		batch.PeriodStart = t
	}
	if t, ok := parseOFXDate(tranList.text("DTEND")); ok {
		batch.PeriodEnd = t
	}

	for _, c := range tranList.children {
		if c.name != "STMTTRN" {
			continue
		}
		tx, err := parseTransaction(c, currency)
		if err != nil {
			return nil, err
		}
		batch.Transactions = append(batch.Transactions, *tx)
	}

	return batch, nil
}

// parseTransaction maps one STMTTRN aggregate. TRNAMT already carries the
// debit/credit sign, so it passes through unchanged.
func parseTransaction(n *node, currency string) (*canonical.Transaction, error) {
	rawAmt := n.text("TRNAMT")
	d, err := decimal.NewFromString(rawAmt)
	if err != nil {
		return nil, canonical.NewMalformed("unparsable TRNAMT", 0, 0, rawAmt)
	}

	posted, ok := parseOFXDate(n.text("DTPOSTED"))
	if !ok {
		return nil, canonical.NewMalformed("unparsable DTPOSTED", 0, 0, n.text("DTPOSTED"))
	}

	var descParts []string
	if name := n.text("NAME"); name != "" {
		descParts = append(descParts, name)
	}
	if memo := n.text("MEMO"); memo != "" {
		descParts = append(descParts, memo)
	}

	reference := n.text("FITID")
	if reference == "" {
		reference = n.text("REFNUM")
	}
	if reference == "" {
		reference = n.text("CHECKNUM")
	}

	tx := &canonical.Transaction{
		BookingDate:  posted,
		Amount:       money.NewFromDecimal(d, currency),
		Description:  canonical.NormalizeDescription(strings.Join(descParts, " ")),
		Reference:    reference,
		SourceFormat: canonical.FormatOFX,
		Signals: canonical.RowSignals{
			DateFormatMatched:   true,
			AmountFormatMatched: true,
		},
	}
	if name := n.text("PAYEE"); name != "" {
		tx.Counterparty = &canonical.Counterparty{Name: name}
	}
	return tx, nil
}

// stripHeader removes the OFX 1.x colon-header block (OFXHEADER:100 ...) or
// the XML prolog, returning the markup body and the line it starts on.
func stripHeader(text string) (string, int) {
	idx := strings.Index(text, "<")
	if idx < 0 {
		return text, 1
	}
	header := text[:idx]
	return text[idx:], 1 + strings.Count(header, "\n")
}

// aggregates are the OFX container elements; only these nest. Everything
// else is a leaf, so an SGML leaf left open (even with an empty value, like
// a bare <MEMO>) is closed as soon as the next tag opens.
var aggregates = map[string]bool{
	"OFX":                true,
	"SIGNONMSGSRSV1":     true,
	"SONRS":              true,
	"STATUS":             true,
	"FI":                 true,
	"BANKMSGSRSV1":       true,
	"STMTTRNRS":          true,
	"STMTRS":             true,
	"CREDITCARDMSGSRSV1": true,
	"CCSTMTTRNRS":        true,
	"CCSTMTRS":           true,
	"BANKTRANLIST":       true,
	"STMTTRN":            true,
	"LEDGERBAL":          true,
	"AVAILBAL":           true,
	"BANKACCTFROM":       true,
	"BANKACCTTO":         true,
	"CCACCTFROM":         true,
	"CCACCTTO":           true,
	"CURRENCY":           true,
	"ORIGCURRENCY":       true,
}

// buildTree scans the markup into an element tree. SGML leaf elements carry
// inline text and no closing tag; a leaf is auto-closed when the next tag
// opens. Explicit closing tags pop the named element when it is open.
func buildTree(body string) (*node, error) {
	root := &node{name: ""}
	stack := []*node{root}

	pos := 0
	for {
		lt := strings.Index(body[pos:], "<")
		if lt < 0 {
			break
		}
		lt += pos
		gt := strings.Index(body[lt:], ">")
		if gt < 0 {
			return nil, canonical.NewMalformed("unterminated tag", 0, lt, shorten(body[lt:]))
		}
		gt += lt

		tag := strings.TrimSpace(body[lt+1 : gt])
		pos = gt + 1

		switch {
		case strings.HasPrefix(tag, "?") || strings.HasPrefix(tag, "!"):
			// prolog / declaration
		case strings.HasPrefix(tag, "/"):
			name := strings.ToUpper(tag[1:])
			// Pop to the named element if it is still open; the close tag of
			// an already auto-closed leaf is a no-op.
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].name == name {
					stack = stack[:i]
					break
				}
			}
		default:
			name := strings.ToUpper(strings.Fields(tag)[0])
			name = strings.TrimSuffix(name, "/")

			// Leaves cannot hold children; close any still open, empty-valued
			// ones included, before descending.
			for {
				top := stack[len(stack)-1]
				if top == root || aggregates[top.name] {
					break
				}
				stack = stack[:len(stack)-1]
			}

			el := &node{name: name}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, el)
			stack = append(stack, el)

			// Inline text up to the next tag is this element's value.
			next := strings.Index(body[pos:], "<")
			if next < 0 {
				el.value = unescape(body[pos:])
				pos = len(body)
			} else {
				el.value = unescape(body[pos : pos+next])
			}
		}
	}

	if len(root.children) == 0 {
		return nil, canonical.NewMalformed("document contains no elements", 1, 0, shorten(body))
	}
	return root, nil
}

func unescape(s string) string {
	s = strings.TrimSpace(s)
	r := strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")
	return r.Replace(s)
}

// parseOFXDate reads YYYYMMDD with optional time and timezone suffixes, e.g.
// 20240115120000.000[-5:EST]. Only the date part is kept.
func parseOFXDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 8 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", s[:8])
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}

func shorten(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 40 {
		return s[:40]
	}
	return s
}
