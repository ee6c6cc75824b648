package detector

import (
	"testing"

	"github.com/MeridianAlgo/cryptotax/mapping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestRegistry(t *testing.T) *mapping.Registry {
	t.Helper()
	reg, err := mapping.Load("../testdata/exchanges/exchanges.yaml")
	require.NoError(t, err)
	return reg
}

func TestDetectIdentifiesBinanceHeader(t *testing.T) {
	reg := loadTestRegistry(t)
	d := New(reg, 0.9)

	header := []string{"Date(UTC)", "Operation", "Coin", "Change", "Remark"}
	rows := [][]string{
		{"2023-01-02 12:00:00", "Buy", "BTC", "0.5", ""},
	}

	result, err := d.Detect(header, rows)
	require.NoError(t, err)
	assert.Equal(t, "binance", result.ExchangeID)
	assert.Greater(t, result.Confidence, 0.5)
}

func TestDetectIdentifiesCoinbaseHeader(t *testing.T) {
	reg := loadTestRegistry(t)
	d := New(reg, 0.9)

	header := []string{"Timestamp", "Transaction Type", "Asset", "Quantity Transacted", "USD Subtotal", "USD Fees", "USD Spot Price at Transaction", "Notes"}
	rows := [][]string{
		{"2023-01-02T12:00:00Z", "Buy", "BTC", "0.5", "15000", "10", "30000", ""},
	}

	result, err := d.Detect(header, rows)
	require.NoError(t, err)
	assert.Equal(t, "coinbase", result.ExchangeID)
}

func TestDetectRejectsTooFewColumns(t *testing.T) {
	reg := loadTestRegistry(t)
	d := New(reg, 0.9)

	_, err := d.Detect([]string{"a", "b"}, nil)
	assert.Error(t, err)
}

func TestDetectReturnsUnknownWhenNoCandidateScores(t *testing.T) {
	reg := loadTestRegistry(t)
	d := New(reg, 0.9)

	result, err := d.Detect([]string{"foo", "bar", "baz"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "unknown", result.ExchangeID)
}

func TestDetectFlagsNeedsConfirmationBelowThreshold(t *testing.T) {
	reg := loadTestRegistry(t)
	d := New(reg, 0.99)

	header := []string{"Date(UTC)", "Operation", "Coin", "Change", "Remark"}
	result, err := d.Detect(header, nil)
	require.NoError(t, err)
	if result.Confidence < 0.99 {
		assert.True(t, result.NeedsConfirmation)
	}
}

func TestDetectDefaultsConfidenceThreshold(t *testing.T) {
	reg := loadTestRegistry(t)
	d := New(reg, 0)
	assert.Equal(t, 0.9, d.confidenceThreshold)
}
