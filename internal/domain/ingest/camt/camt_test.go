package camt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
)

const camt053Fixture = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <Stmt>
      <Id>STMT-2024-001</Id>
      <FrToDt><FrDtTm>2024-01-01T00:00:00</FrDtTm><ToDtTm>2024-01-31T00:00:00</ToDtTm></FrToDt>
      <Acct><Id><IBAN>DE89370400440532013000</IBAN></Id><Ccy>EUR</Ccy></Acct>
      <Bal>
        <Tp><CdOrPrtry><Cd>OPBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">1000.00</Amt><CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2024-01-01</Dt></Dt>
      </Bal>
      <Bal>
        <Tp><CdOrPrtry><Cd>CLBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">900.00</Amt><CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2024-01-31</Dt></Dt>
      </Bal>
      <Ntry>
        <NtryRef>NTRY-1</NtryRef>
        <Amt Ccy="EUR">100.00</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <BookgDt><Dt>2024-01-15</Dt></BookgDt>
        <ValDt><Dt>2024-01-16</Dt></ValDt>
        <NtryDtls><TxDtls>
          <Refs><EndToEndId>E2E-42</EndToEndId></Refs>
          <RltdPties><Cdtr><Nm>ACME GmbH</Nm></Cdtr></RltdPties>
          <RmtInf><Ustrd>Invoice 4711</Ustrd><Ustrd>January rent</Ustrd></RmtInf>
        </TxDtls></NtryDtls>
        <AddtlNtryInf>SEPA CREDIT TRANSFER</AddtlNtryInf>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

func TestParse_CAMT053(t *testing.T) {
	batches, err := Parse([]byte(camt053Fixture))
	require.NoError(t, err)
	require.Len(t, batches, 1)

	b := batches[0]
	assert.Equal(t, "DE89370400440532013000", b.Account)
	assert.Equal(t, "EUR", b.Currency)
	assert.Equal(t, canonical.FormatCAMT, b.SourceFormat)
	assert.Equal(t, canonical.PathStandards, b.Extraction)
	assert.Equal(t, int64(100000), b.OpeningBalance.Amount())
	assert.Equal(t, int64(90000), b.ClosingBalance.Amount())
	assert.Equal(t, "2024-01-01", b.PeriodStart.Format("2006-01-02"))
	assert.Equal(t, "2024-01-31", b.PeriodEnd.Format("2006-01-02"))

	require.Len(t, b.Transactions, 1)
	tx := b.Transactions[0]
	// DBIT entries are negative regardless of the raw XML numeral.
	assert.Equal(t, int64(-10000), tx.Amount.Amount())
	assert.Equal(t, "2024-01-15", tx.BookingDate.Format("2006-01-02"))
	require.NotNil(t, tx.ValueDate)
	assert.Equal(t, "2024-01-16", tx.ValueDate.Format("2006-01-02"))
	assert.Equal(t, "SEPA CREDIT TRANSFER Invoice 4711 January rent", tx.Description)
	assert.Equal(t, "NTRY-1", tx.Reference)
	require.NotNil(t, tx.Counterparty)
	assert.Equal(t, "ACME GmbH", tx.Counterparty.Name)
	// Parsers never set confidence; that belongs to the validator.
	assert.Zero(t, tx.Confidence)
	assert.False(t, tx.NeedsReview)
}

const camt054Fixture = `<?xml version="1.0"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.054.001.02">
  <BkToCstmrDbtCdtNtfctn>
    <Ntfctn>
      <Id>NTFCN-1</Id>
      <Acct><Id><IBAN>CH9300762011623852957</IBAN></Id><Ccy>USD</Ccy></Acct>
      <Ntry>
        <Amt Ccy="USD">100.00</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <BookgDt><Dt>2024-02-01</Dt></BookgDt>
        <AddtlNtryInf>Card payment</AddtlNtryInf>
      </Ntry>
    </Ntfctn>
  </BkToCstmrDbtCdtNtfctn>
</Document>`

func TestParse_CAMT054_SignInvariant(t *testing.T) {
	batches, err := Parse([]byte(camt054Fixture))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Transactions, 1)

	assert.Equal(t, int64(-10000), batches[0].Transactions[0].Amount.Amount())
	assert.Equal(t, "USD", batches[0].Transactions[0].Amount.Currency())
}

func TestParse_MultipleAccountsSplit(t *testing.T) {
	doc := `<?xml version="1.0"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <Stmt>
      <Id>S1</Id>
      <Acct><Id><IBAN>DE89370400440532013000</IBAN></Id><Ccy>EUR</Ccy></Acct>
      <Ntry><Amt Ccy="EUR">10.00</Amt><CdtDbtInd>CRDT</CdtDbtInd><BookgDt><Dt>2024-01-02</Dt></BookgDt></Ntry>
    </Stmt>
    <Stmt>
      <Id>S2</Id>
      <Acct><Id><Othr><Id>12345678</Id></Othr></Id><Ccy>EUR</Ccy></Acct>
      <Ntry><Amt Ccy="EUR">20.00</Amt><CdtDbtInd>CRDT</CdtDbtInd><BookgDt><Dt>2024-01-03</Dt></BookgDt></Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

	batches, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "DE89370400440532013000", batches[0].Account)
	assert.Equal(t, "12345678", batches[1].Account)
	assert.NotEqual(t, batches[0].ID, batches[1].ID)
}

func TestParse_UnsupportedVariant(t *testing.T) {
	doc := `<?xml version="1.0"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.052.001.02">
  <BkToCstmrAcctRpt/>
</Document>`

	_, err := Parse([]byte(doc))
	assert.Equal(t, canonical.KindUnsupportedVariant, canonical.KindOf(err))
}

func TestParse_Malformed(t *testing.T) {
	t.Run("broken xml", func(t *testing.T) {
		_, err := Parse([]byte(`<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02"><BkToCstmrStmt>`))
		assert.Equal(t, canonical.KindMalformedInput, canonical.KindOf(err))
	})

	t.Run("missing indicator", func(t *testing.T) {
		doc := `<?xml version="1.0"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt><Stmt>
    <Acct><Ccy>EUR</Ccy></Acct>
    <Ntry><Amt Ccy="EUR">10.00</Amt><BookgDt><Dt>2024-01-02</Dt></BookgDt></Ntry>
  </Stmt></BkToCstmrStmt>
</Document>`
		_, err := Parse([]byte(doc))
		assert.Equal(t, canonical.KindMalformedInput, canonical.KindOf(err))
	})

	t.Run("mixed currencies rejected", func(t *testing.T) {
		doc := `<?xml version="1.0"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt><Stmt>
    <Acct><Ccy>EUR</Ccy></Acct>
    <Ntry><Amt Ccy="EUR">10.00</Amt><CdtDbtInd>CRDT</CdtDbtInd><BookgDt><Dt>2024-01-02</Dt></BookgDt></Ntry>
    <Ntry><Amt Ccy="USD">10.00</Amt><CdtDbtInd>CRDT</CdtDbtInd><BookgDt><Dt>2024-01-03</Dt></BookgDt></Ntry>
  </Stmt></BkToCstmrStmt>
</Document>`
		_, err := Parse([]byte(doc))
		assert.Equal(t, canonical.KindMalformedInput, canonical.KindOf(err))
	})
}

func TestParse_Deterministic(t *testing.T) {
	a, err := Parse([]byte(camt053Fixture))
	require.NoError(t, err)
	b, err := Parse([]byte(camt053Fixture))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
