package validate

import (
	"testing"
	"time"

	"github.com/MeridianAlgo/cryptotax/txn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestValidateCleanRecords(t *testing.T) {
	v := New()
	records := []txn.Record{
		{Timestamp: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), Kind: txn.Buy, BaseAsset: "BTC", BaseAmount: mustDecimal(t, "1")},
		{Timestamp: time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), Kind: txn.Sell, BaseAsset: "BTC", BaseAmount: mustDecimal(t, "0.5")},
	}

	report := v.Validate(records)

	assert.Equal(t, 2, report.TotalTransactions)
	assert.True(t, report.Valid)
	assert.Zero(t, report.DuplicatesFound)
	assert.Empty(t, report.NegativeBalances)
	assert.Empty(t, report.OrphanSells)
	assert.False(t, report.Issues.HasErrors())
}

func TestValidateDetectsOrphanSell(t *testing.T) {
	v := New()
	records := []txn.Record{
		{Timestamp: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), Kind: txn.Sell, BaseAsset: "ETH", BaseAmount: mustDecimal(t, "1")},
	}

	report := v.Validate(records)

	require.Len(t, report.OrphanSells, 1)
	assert.Equal(t, "ETH", report.OrphanSells[0].Asset)
}

func TestValidateDetectsNegativeBalance(t *testing.T) {
	v := New()
	records := []txn.Record{
		{Timestamp: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), Kind: txn.Buy, BaseAsset: "BTC", BaseAmount: mustDecimal(t, "1")},
		{Timestamp: time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC), Kind: txn.Sell, BaseAsset: "BTC", BaseAmount: mustDecimal(t, "5")},
	}

	report := v.Validate(records)

	require.Len(t, report.NegativeBalances, 1)
	assert.True(t, report.NegativeBalances[0].Balance.IsNegative())
}

func TestValidateDetectsDuplicates(t *testing.T) {
	v := New()
	rec := txn.Record{Timestamp: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), Kind: txn.Buy, BaseAsset: "BTC", BaseAmount: mustDecimal(t, "1")}
	records := []txn.Record{rec, rec}

	report := v.Validate(records)

	assert.Equal(t, 1, report.DuplicatesFound)
}

func TestValidateDetectsInvalidDates(t *testing.T) {
	v := New()
	records := []txn.Record{
		{Timestamp: time.Time{}, Kind: txn.Buy, BaseAsset: "BTC", BaseAmount: mustDecimal(t, "1")},
		{Timestamp: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC), Kind: txn.Buy, BaseAsset: "BTC", BaseAmount: mustDecimal(t, "1")},
	}

	report := v.Validate(records)

	assert.Equal(t, 2, report.InvalidDates)
}

func TestValidateMissingCriticalColumns(t *testing.T) {
	v := New()
	report := v.Validate(nil)

	assert.False(t, report.Valid)
	assert.True(t, report.Issues.HasErrors())
}

func TestValidateTypeWarningsOnNegativeFee(t *testing.T) {
	v := New()
	records := []txn.Record{
		{Timestamp: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), Kind: txn.Buy, BaseAsset: "BTC", BaseAmount: mustDecimal(t, "1"), FeeAmount: mustDecimal(t, "-1")},
	}

	report := v.Validate(records)

	assert.Equal(t, 1, report.TypeWarnings["fee_amount"])
}
