package taxengine

import (
	"context"
	"testing"
	"time"

	"github.com/MeridianAlgo/cryptotax/ledger"
	"github.com/MeridianAlgo/cryptotax/oracle"
	"github.com/MeridianAlgo/cryptotax/txn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// TestSimpleFIFOGain reproduces spec worked example 1.
func TestSimpleFIFOGain(t *testing.T) {
	engine := New(nil, Options{Policy: ledger.FIFO, TaxCurrency: "USD"})
	records := []txn.Record{
		{Timestamp: date(2024, 1, 1), Kind: txn.Buy, BaseAsset: "BTC", BaseAmount: d("1.0"), QuoteAmount: d("50000"), FeeAmount: d("25"), SourceID: "t1"},
		{Timestamp: date(2024, 6, 1), Kind: txn.Sell, BaseAsset: "BTC", BaseAmount: d("0.5"), QuoteAmount: d("30000"), FeeAmount: d("15"), SourceID: "t2"},
	}

	result, err := engine.Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, result.Disposals, 1)

	disp := result.Disposals[0]
	assert.True(t, disp.Amount.Equal(d("0.5")))
	assert.True(t, disp.CostBasis.Equal(d("25012.50")), disp.CostBasis.String())
	assert.True(t, disp.Proceeds.Equal(d("29985.00")), disp.Proceeds.String())
	assert.True(t, disp.GainLoss.Equal(d("4972.50")), disp.GainLoss.String())
	assert.True(t, disp.ShortTerm)
}

// TestFIFOLIFOHIFODivergence reproduces spec worked example 3.
func TestFIFOLIFOHIFODivergence(t *testing.T) {
	records := []txn.Record{
		{Timestamp: date(2024, 1, 1), Kind: txn.Buy, BaseAsset: "BTC", BaseAmount: d("1"), QuoteAmount: d("40000"), FeeAmount: d("20"), SourceID: "t1"},
		{Timestamp: date(2024, 2, 1), Kind: txn.Buy, BaseAsset: "BTC", BaseAmount: d("1"), QuoteAmount: d("60000"), FeeAmount: d("30"), SourceID: "t2"},
		{Timestamp: date(2024, 3, 1), Kind: txn.Sell, BaseAsset: "BTC", BaseAmount: d("1"), QuoteAmount: d("55000"), FeeAmount: d("27.5"), SourceID: "t3"},
	}

	fifo := New(nil, Options{Policy: ledger.FIFO, TaxCurrency: "USD"})
	fifoResult, err := fifo.Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, fifoResult.Disposals, 1)
	assert.True(t, fifoResult.Disposals[0].GainLoss.Equal(d("14952.50")), fifoResult.Disposals[0].GainLoss.String())

	lifo := New(nil, Options{Policy: ledger.LIFO, TaxCurrency: "USD"})
	lifoResult, err := lifo.Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, lifoResult.Disposals, 1)
	assert.True(t, lifoResult.Disposals[0].GainLoss.Equal(d("-5057.50")), lifoResult.Disposals[0].GainLoss.String())

	hifo := New(nil, Options{Policy: ledger.HIFO, TaxCurrency: "USD"})
	hifoResult, err := hifo.Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, hifoResult.Disposals, 1)
	assert.True(t, hifoResult.Disposals[0].GainLoss.Equal(d("-5057.50")), hifoResult.Disposals[0].GainLoss.String())
}

// TestStakeIncomeThenSale reproduces spec worked example 4.
func TestStakeIncomeThenSale(t *testing.T) {
	fixed := oracle.NewFixedTable()
	fixed.Set("ETH", date(2024, 1, 1), "USD", d("3000"))

	engine := New(fixed, Options{Policy: ledger.FIFO, TaxCurrency: "USD"})
	records := []txn.Record{
		{Timestamp: date(2024, 1, 1), Kind: txn.Stake, BaseAsset: "ETH", BaseAmount: d("1"), SourceID: "t1"},
		{Timestamp: date(2024, 6, 1), Kind: txn.Sell, BaseAsset: "ETH", BaseAmount: d("1"), QuoteAmount: d("3500"), SourceID: "t2"},
	}

	result, err := engine.Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, result.Incomes, 1)
	assert.True(t, result.Incomes[0].Value.Equal(d("3000")))

	require.Len(t, result.Disposals, 1)
	disp := result.Disposals[0]
	assert.True(t, disp.CostBasis.Equal(d("3000")))
	assert.True(t, disp.Proceeds.Equal(d("3500")))
	assert.True(t, disp.GainLoss.Equal(d("500")))
	assert.True(t, disp.ShortTerm)
}

// TestFeeAsDisposal reproduces spec worked example 5.
func TestFeeAsDisposal(t *testing.T) {
	engine := New(nil, Options{Policy: ledger.FIFO, TaxCurrency: "USD"})
	records := []txn.Record{
		{Timestamp: date(2024, 1, 1), Kind: txn.Buy, BaseAsset: "ETH", BaseAmount: d("0.1"), QuoteAmount: d("30"), FeeAmount: d("0"), SourceID: "t1"},
		{Timestamp: date(2024, 1, 2), Kind: txn.Fee, BaseAsset: "ETH", BaseAmount: d("0.01"), SourceID: "t2"},
	}

	result, err := engine.Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, result.Disposals, 1)

	disp := result.Disposals[0]
	assert.True(t, disp.Amount.Equal(d("0.01")))
	assert.True(t, disp.Proceeds.IsZero())
	assert.True(t, disp.CostBasis.Equal(d("3")), disp.CostBasis.String())
	assert.True(t, disp.GainLoss.Equal(d("-3")), disp.GainLoss.String())
}

func TestInsufficientInventoryNonStrictWarns(t *testing.T) {
	engine := New(nil, Options{Policy: ledger.FIFO, TaxCurrency: "USD"})
	records := []txn.Record{
		{Timestamp: date(2024, 1, 1), Kind: txn.Sell, BaseAsset: "BTC", BaseAmount: d("1"), QuoteAmount: d("1000"), SourceID: "t1"},
	}

	result, err := engine.Run(context.Background(), records)
	require.NoError(t, err)
	assert.Empty(t, result.Disposals)
	assert.True(t, result.Issues.Count(result.Issues.Issues()[0].Severity) > 0)
}

func TestZeroAmountRowSkipped(t *testing.T) {
	engine := New(nil, Options{Policy: ledger.FIFO, TaxCurrency: "USD"})
	records := []txn.Record{
		{Timestamp: date(2024, 1, 1), Kind: txn.Buy, BaseAsset: "BTC", BaseAmount: d("0"), QuoteAmount: d("0"), SourceID: "t1"},
	}

	result, err := engine.Run(context.Background(), records)
	require.NoError(t, err)
	assert.Empty(t, result.Disposals)
	assert.Empty(t, result.Incomes)
	assert.Empty(t, result.Issues.Issues())
}

func TestWithdrawIsNonTaxable(t *testing.T) {
	engine := New(nil, Options{Policy: ledger.FIFO, TaxCurrency: "USD"})
	records := []txn.Record{
		{Timestamp: date(2024, 1, 1), Kind: txn.Buy, BaseAsset: "BTC", BaseAmount: d("1"), QuoteAmount: d("40000"), SourceID: "t1"},
		{Timestamp: date(2024, 1, 2), Kind: txn.Withdraw, BaseAsset: "BTC", BaseAmount: d("1"), SourceID: "t2"},
	}

	result, err := engine.Run(context.Background(), records)
	require.NoError(t, err)
	assert.Empty(t, result.Disposals)
	assert.Empty(t, result.Incomes)
}
