// Package camt parses ISO 20022 CAMT.053 (bank-to-customer statement) and
// CAMT.054 (debit/credit notification) XML documents into canonical batches.
// One batch is emitted per statement/account block; multiple accounts in one
// file are never merged.
package camt

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
	"github.com/FACorreiaa/statement-ingest/pkg/money"
)

var namespaceRe = regexp.MustCompile(`urn:iso:std:iso:20022:tech:xsd:camt\.(\d{3})\.`)

// document is the CAMT XML root. CAMT.053 carries BkToCstmrStmt, CAMT.054
// carries BkToCstmrDbtCdtNtfctn; the inner statement shape is shared.
type document struct {
	XMLName xml.Name   `xml:"Document"`
	Stmt    *msgWrap   `xml:"BkToCstmrStmt"`
	Ntfctn  *ntfcnWrap `xml:"BkToCstmrDbtCdtNtfctn"`
}

type msgWrap struct {
	Stmts []statement `xml:"Stmt"`
}

type ntfcnWrap struct {
	Stmts []statement `xml:"Ntfctn"`
}

type statement struct {
	Id     string  `xml:"Id"`
	FrToDt frToDt  `xml:"FrToDt"`
	Acct   account `xml:"Acct"`
	Bals   []bal   `xml:"Bal"`
	Ntrys  []entry `xml:"Ntry"`
}

type frToDt struct {
	FrDtTm string `xml:"FrDtTm"`
	ToDtTm string `xml:"ToDtTm"`
}

type account struct {
	Id struct {
		IBAN string `xml:"IBAN"`
		Othr struct {
			Id string `xml:"Id"`
		} `xml:"Othr"`
	} `xml:"Id"`
	Ccy string `xml:"Ccy"`
}

type bal struct {
	Tp struct {
		CdOrPrtry struct {
			Cd string `xml:"Cd"`
		} `xml:"CdOrPrtry"`
	} `xml:"Tp"`
	Amt       amt    `xml:"Amt"`
	CdtDbtInd string `xml:"CdtDbtInd"`
	Dt        struct {
		Dt   string `xml:"Dt"`
		DtTm string `xml:"DtTm"`
	} `xml:"Dt"`
}

type amt struct {
	Text string `xml:",chardata"`
	Ccy  string `xml:"Ccy,attr"`
}

type entry struct {
	NtryRef      string   `xml:"NtryRef"`
	Amt          amt      `xml:"Amt"`
	CdtDbtInd    string   `xml:"CdtDbtInd"`
	BookgDt      dateOpt  `xml:"BookgDt"`
	ValDt        dateOpt  `xml:"ValDt"`
	AcctSvcrRef  string   `xml:"AcctSvcrRef"`
	NtryDtls     ntryDtls `xml:"NtryDtls"`
	AddtlNtryInf string   `xml:"AddtlNtryInf"`
}

type dateOpt struct {
	Dt   string `xml:"Dt"`
	DtTm string `xml:"DtTm"`
}

type ntryDtls struct {
	TxDtls []txDtls `xml:"TxDtls"`
}

type txDtls struct {
	Refs struct {
		EndToEndId string `xml:"EndToEndId"`
		TxId       string `xml:"TxId"`
	} `xml:"Refs"`
	RltdPties struct {
		Dbtr struct {
			Nm string `xml:"Nm"`
		} `xml:"Dbtr"`
		Cdtr struct {
			Nm string `xml:"Nm"`
		} `xml:"Cdtr"`
	} `xml:"RltdPties"`
	RmtInf struct {
		Ustrd []string `xml:"Ustrd"`
	} `xml:"RmtInf"`
}

// Parse maps a CAMT.053/054 document to one batch per statement block.
// The amount sign is derived from CdtDbtInd, never from the raw XML numeral,
// which is always non-negative.
func Parse(data []byte) ([]*canonical.StatementBatch, error) {
	ns := namespaceRe.FindSubmatch(data)
	if ns != nil {
		switch string(ns[1]) {
		case "053", "054":
		default:
			return nil, canonical.NewUnsupportedVariant(
				fmt.Sprintf("camt.%s is not supported; expected camt.053 or camt.054", ns[1]))
		}
	}

	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		line := 0
		if syn, ok := err.(*xml.SyntaxError); ok {
			line = syn.Line
		}
		return nil, canonical.NewMalformed("invalid CAMT XML: "+err.Error(), line, 0, fragment(data))
	}

	var stmts []statement
	switch {
	case doc.Stmt != nil:
		stmts = doc.Stmt.Stmts
	case doc.Ntfctn != nil:
		stmts = doc.Ntfctn.Stmts
	default:
		return nil, canonical.NewMalformed(
			"Document carries neither BkToCstmrStmt nor BkToCstmrDbtCdtNtfctn", 0, 0, fragment(data))
	}
	if len(stmts) == 0 {
		return nil, canonical.NewMalformed("no statement blocks in document", 0, 0, fragment(data))
	}

	batches := make([]*canonical.StatementBatch, 0, len(stmts))
	for i := range stmts {
		batch, err := parseStatement(data, &stmts[i])
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func parseStatement(data []byte, st *statement) (*canonical.StatementBatch, error) {
	accountID := st.Acct.Id.IBAN
	if accountID == "" {
		accountID = st.Acct.Id.Othr.Id
	}

	currency := st.Acct.Ccy
	if currency == "" && len(st.Ntrys) > 0 {
		currency = st.Ntrys[0].Amt.Ccy
	}
	if currency == "" {
		return nil, canonical.NewMalformed("statement "+st.Id+" has no currency on account or entries", 0, 0, "")
	}

	batch := &canonical.StatementBatch{
		ID:           canonical.BatchID(data, accountID+"|"+st.Id),
		Account:      accountID,
		Currency:     currency,
		SourceFormat: canonical.FormatCAMT,
		Extraction:   canonical.PathStandards,
	}

	if t, ok := parseISODate(st.FrToDt.FrDtTm); ok {
		batch.PeriodStart = t
	}
	if t, ok := parseISODate(st.FrToDt.ToDtTm); ok {
		batch.PeriodEnd = t
	}

	for _, b := range st.Bals {
		amount, err := signedAmount(b.Amt, b.CdtDbtInd, currency)
		if err != nil {
			return nil, err
		}
		switch b.Tp.CdOrPrtry.Cd {
		case "OPBD", "PRCD":
			batch.OpeningBalance = amount
		case "CLBD":
			batch.ClosingBalance = amount
		}
	}

	batch.Transactions = make([]canonical.Transaction, 0, len(st.Ntrys))
	for i := range st.Ntrys {
		tx, err := parseEntry(&st.Ntrys[i], currency)
		if err != nil {
			return nil, err
		}
		batch.Transactions = append(batch.Transactions, *tx)
	}

	if batch.PeriodStart.IsZero() || batch.PeriodEnd.IsZero() {
		for _, tx := range batch.Transactions {
			if batch.PeriodStart.IsZero() || tx.BookingDate.Before(batch.PeriodStart) {
				batch.PeriodStart = tx.BookingDate
			}
			if batch.PeriodEnd.IsZero() || tx.BookingDate.After(batch.PeriodEnd) {
				batch.PeriodEnd = tx.BookingDate
			}
		}
	}

	return batch, nil
}

func parseEntry(e *entry, batchCurrency string) (*canonical.Transaction, error) {
	if e.Amt.Ccy != "" && e.Amt.Ccy != batchCurrency {
		return nil, canonical.NewMalformed(
			fmt.Sprintf("entry currency %s differs from statement currency %s; mixed-currency batches are rejected",
				e.Amt.Ccy, batchCurrency), 0, 0, e.Amt.Text)
	}

	amount, err := signedAmount(e.Amt, e.CdtDbtInd, batchCurrency)
	if err != nil {
		return nil, err
	}

	booking, ok := parseISODate(firstNonEmpty(e.BookgDt.Dt, e.BookgDt.DtTm, e.ValDt.Dt, e.ValDt.DtTm))
	if !ok {
		return nil, canonical.NewMalformed("entry has no parsable booking or value date", 0, 0, e.AddtlNtryInf)
	}

	tx := &canonical.Transaction{
		BookingDate:  booking,
		Amount:       amount,
		SourceFormat: canonical.FormatCAMT,
		Signals: canonical.RowSignals{
			DateFormatMatched:   true,
			AmountFormatMatched: true,
		},
	}
	if vd, ok := parseISODate(firstNonEmpty(e.ValDt.Dt, e.ValDt.DtTm)); ok {
		tx.ValueDate = &vd
	}

	var descParts []string
	if e.AddtlNtryInf != "" {
		descParts = append(descParts, e.AddtlNtryInf)
	}
	reference := firstNonEmpty(e.NtryRef, e.AcctSvcrRef)
	for _, td := range e.NtryDtls.TxDtls {
		descParts = append(descParts, td.RmtInf.Ustrd...)
		if reference == "" {
			reference = firstNonEmpty(td.Refs.EndToEndId, td.Refs.TxId)
		}
		if tx.Counterparty == nil {
			// The counterparty is the other side of the movement.
			name := td.RltdPties.Cdtr.Nm
			if e.CdtDbtInd == "CRDT" {
				name = td.RltdPties.Dbtr.Nm
			}
			if name != "" {
				tx.Counterparty = &canonical.Counterparty{Name: name}
			}
		}
	}
	tx.Description = canonical.NormalizeDescription(strings.Join(descParts, " "))
	tx.Reference = reference

	return tx, nil
}

// signedAmount applies the credit/debit indicator to the unsigned XML numeral.
func signedAmount(a amt, cdtDbtInd, fallbackCcy string) (*money.Money, error) {
	raw := strings.TrimSpace(a.Text)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, canonical.NewMalformed("unparsable amount", 0, 0, raw)
	}
	d = d.Abs()

	switch cdtDbtInd {
	case "DBIT":
		d = d.Neg()
	case "CRDT":
	default:
		return nil, canonical.NewMalformed("missing or unknown CdtDbtInd", 0, 0, cdtDbtInd)
	}

	ccy := a.Ccy
	if ccy == "" {
		ccy = fallbackCcy
	}
	return money.NewFromDecimal(d, ccy), nil
}

func parseISODate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05", "2006-01-02T15:04:05Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func fragment(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 60 {
		trimmed = trimmed[:60]
	}
	return string(trimmed)
}
