package ledger

import (
	"testing"
	"time"

	"github.com/MeridianAlgo/cryptotax/errs"
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

func TestFIFOConsumesOldestFirst(t *testing.T) {
	inv := NewInventory("BTC", FIFO)
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("40000"), AcquiredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}))
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("60000"), AcquiredAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}))

	taken, err := inv.Remove(d("1"), true)
	require.NoError(t, err)
	require.Len(t, taken, 1)
	assert.True(t, taken[0].Lot.CostBasis.Equal(d("40000")))
}

func TestLIFOConsumesNewestFirst(t *testing.T) {
	inv := NewInventory("BTC", LIFO)
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("40000"), AcquiredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}))
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("60000"), AcquiredAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}))

	taken, err := inv.Remove(d("1"), true)
	require.NoError(t, err)
	require.Len(t, taken, 1)
	assert.True(t, taken[0].Lot.CostBasis.Equal(d("60000")))
}

func TestHIFOConsumesHighestUnitCostFirst(t *testing.T) {
	inv := NewInventory("BTC", HIFO)
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("40000"), AcquiredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}))
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("60000"), AcquiredAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}))

	taken, err := inv.Remove(d("1"), true)
	require.NoError(t, err)
	require.Len(t, taken, 1)
	assert.True(t, taken[0].Lot.CostBasis.Equal(d("60000")))
}

func TestHIFOMaintainsDescendingOrder(t *testing.T) {
	inv := NewInventory("BTC", HIFO)
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("50000")}))
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("70000")}))
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("30000")}))

	lots := inv.Lots()
	require.Len(t, lots, 3)
	for i := 0; i+1 < len(lots); i++ {
		assert.True(t, lots[i].UnitCost().GreaterThanOrEqual(lots[i+1].UnitCost()))
	}
}

func TestRemoveSplitsLot(t *testing.T) {
	inv := NewInventory("ETH", FIFO)
	require.NoError(t, inv.AddLot(Lot{Amount: d("2"), CostBasis: d("6000")}))

	taken, err := inv.Remove(d("0.5"), true)
	require.NoError(t, err)
	require.Len(t, taken, 1)
	assert.True(t, taken[0].Lot.Amount.Equal(d("0.5")))
	assert.True(t, taken[0].Lot.CostBasis.Equal(d("1500")))

	remaining := inv.Lots()
	require.Len(t, remaining, 1)
	assert.True(t, remaining[0].Amount.Equal(d("1.5")))
	assert.True(t, remaining[0].CostBasis.Equal(d("4500")))
}

func TestRemoveInsufficientInventoryStrict(t *testing.T) {
	inv := NewInventory("BTC", FIFO)
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("40000")}))

	_, err := inv.Remove(d("2"), true)
	assert.Error(t, err)
}

func TestRemoveInsufficientInventoryNonStrictPartialFill(t *testing.T) {
	inv := NewInventory("BTC", FIFO)
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("40000")}))

	taken, err := inv.Remove(d("2"), false)
	require.NoError(t, err)
	require.Len(t, taken, 1)
	assert.True(t, taken[0].Lot.Amount.Equal(d("1")))
	assert.True(t, inv.TotalAmount.IsZero())
}

func TestAggregatesTrackAcrossAddAndRemove(t *testing.T) {
	inv := NewInventory("BTC", FIFO)
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("40000")}))
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("60000")}))
	assert.True(t, inv.TotalAmount.Equal(d("2")))
	assert.True(t, inv.TotalCostBasis.Equal(d("100000")))

	_, err := inv.Remove(d("1.5"), true)
	require.NoError(t, err)
	assert.True(t, inv.TotalAmount.Equal(d("0.5")))
}

func TestDebugInvariantsCatchHIFOViolation(t *testing.T) {
	inv := NewInventory("BTC", HIFO)
	inv.DebugInvariants = true
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("50000")}))
	require.NoError(t, inv.AddLot(Lot{Amount: d("1"), CostBasis: d("70000")}))

	inv.lots[0], inv.lots[1] = inv.lots[1], inv.lots[0]
	var violation *errs.InvariantViolationError
	assert.ErrorAs(t, inv.checkInvariants(), &violation)
}
