package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedTableReturnsSetPrice(t *testing.T) {
	ft := NewFixedTable()
	ts := time.Date(2023, 1, 2, 15, 0, 0, 0, time.UTC)
	ft.Set("BTC", ts, "usd", decimal.RequireFromString("30000"))

	price, err := ft.Price(context.Background(), "BTC", ts, "usd")
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.True(t, decimal.RequireFromString("30000").Equal(*price))
}

func TestFixedTableBucketsByCalendarDate(t *testing.T) {
	ft := NewFixedTable()
	morning := time.Date(2023, 1, 2, 1, 0, 0, 0, time.UTC)
	evening := time.Date(2023, 1, 2, 23, 0, 0, 0, time.UTC)
	ft.Set("ETH", morning, "usd", decimal.RequireFromString("2000"))

	price, err := ft.Price(context.Background(), "ETH", evening, "usd")
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.True(t, decimal.RequireFromString("2000").Equal(*price))
}

func TestFixedTableUnknownReturnsNilNoError(t *testing.T) {
	ft := NewFixedTable()
	price, err := ft.Price(context.Background(), "DOGE", time.Now(), "usd")
	require.NoError(t, err)
	assert.Nil(t, price)
}

func TestHTTPOracleCachesOnDisk(t *testing.T) {
	cacheDir := t.TempDir()
	o := NewHTTPOracle(WithCacheDir(cacheDir))

	key := keyFor("BTC", time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), "usd")
	price := decimal.RequireFromString("30000")
	o.writeDiskCache(key, &price)

	got, ok := o.readDiskCache(key)
	require.True(t, ok)
	require.NotNil(t, got)
	assert.True(t, price.Equal(*got))
}

func TestHTTPOracleCachesNegativeResult(t *testing.T) {
	cacheDir := t.TempDir()
	o := NewHTTPOracle(WithCacheDir(cacheDir))

	key := keyFor("DOGE", time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), "usd")
	o.writeDiskCache(key, nil)

	got, ok := o.readDiskCache(key)
	require.True(t, ok)
	assert.Nil(t, got)
}

func TestAssetToIDKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "bitcoin", assetToID("BTC"))
	assert.Equal(t, "XYZ", assetToID("XYZ"))
}

func TestReformatDateToCoingeckoFormat(t *testing.T) {
	assert.Equal(t, "02-01-2023", reformatDate("2023-01-02"))
}
