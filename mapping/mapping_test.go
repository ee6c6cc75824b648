package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testdataPath = "../testdata/exchanges/exchanges.yaml"

func TestLoadParsesDeclarations(t *testing.T) {
	reg, err := Load(testdataPath)
	require.NoError(t, err)

	ids := reg.ListIDs()
	assert.Contains(t, ids, "binance")
	assert.Contains(t, ids, "coinbase")
	assert.Contains(t, ids, "kraken")
}

func TestGetReturnsDeclaredFields(t *testing.T) {
	reg, err := Load(testdataPath)
	require.NoError(t, err)

	decl, err := reg.Get("coinbase")
	require.NoError(t, err)
	assert.Equal(t, "Timestamp", decl.Fields["timestamp"])
	assert.Equal(t, "Transaction Type", decl.Fields["kind"])
	assert.Equal(t, []string{"Timestamp", "Transaction Type", "Asset", "Quantity Transacted"}, decl.RequiredColumns)
	assert.NotNil(t, decl.ColumnRange)
	assert.Equal(t, 8, decl.ColumnRange.Min)
}

func TestGetUnknownExchangeErrors(t *testing.T) {
	reg, err := Load(testdataPath)
	require.NoError(t, err)

	_, err = reg.Get("nonexistent")
	assert.Error(t, err)
}

func TestGetReservedIDsReturnEmptyDeclaration(t *testing.T) {
	reg, err := Load(testdataPath)
	require.NoError(t, err)

	for _, id := range []string{"ml", "unknown", "auto"} {
		decl, err := reg.Get(id)
		require.NoError(t, err)
		assert.Empty(t, decl.Fields)
	}
}

func TestReservedIDsAreIgnoredWhenDeclared(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exchanges.yaml")
	doc := "ml:\n  timestamp: \"Time\"\nbinance:\n  timestamp: \"Date(UTC)\"\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.NotContains(t, reg.ListIDs(), "ml")
	assert.Contains(t, reg.ListIDs(), "binance")
}

func TestTrainingPairsCoversEveryDeclaredField(t *testing.T) {
	reg, err := Load(testdataPath)
	require.NoError(t, err)

	pairs := reg.TrainingPairs()
	assert.NotEmpty(t, pairs)

	found := false
	for _, p := range pairs {
		if p[0] == "Timestamp" && p[1] == "timestamp" {
			found = true
		}
	}
	assert.True(t, found, "expected (Timestamp, timestamp) training pair from coinbase's declaration")
}

func TestLoadMissingFileReturnsConfigError(t *testing.T) {
	_, err := Load("../testdata/exchanges/does-not-exist.yaml")
	assert.Error(t, err)
}
