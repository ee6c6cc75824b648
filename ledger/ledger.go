// Package ledger implements a per-asset ordered store of tax lots
// supporting FIFO, LIFO, and HIFO disposal, with in-place proportional
// splits. Grounded on the accounting package's Holding/Inventory shape,
// generalized from a FIFO-only queue to all three disposal policies.
package ledger

import (
	"time"

	"github.com/MeridianAlgo/cryptotax/errs"
	"github.com/shopspring/decimal"
)

// epsilon is the 10^-8 tolerance used for the amount > total_amount
// comparison and the conservation invariants.
var epsilon = decimal.New(1, -8)

// Policy selects which lot disposal consumes first.
type Policy string

const (
	FIFO Policy = "fifo"
	LIFO Policy = "lifo"
	HIFO Policy = "hifo"
)

// Lot is a tax lot: amount > 0 implies unit_cost = cost_basis / amount.
type Lot struct {
	Amount     decimal.Decimal
	CostBasis  decimal.Decimal
	AcquiredAt time.Time
	SourceTx   string
}

// UnitCost returns cost_basis / amount, or zero for an empty lot.
func (l Lot) UnitCost() decimal.Decimal {
	if l.Amount.IsZero() {
		return decimal.Zero
	}
	return l.CostBasis.Div(l.Amount)
}

// split divides l into a taken sub-lot of size x (x <= l.Amount) and a
// residual of size l.Amount - x, each carrying a proportional share of
// cost_basis. The caller is responsible for discarding the residual if
// its amount becomes zero.
func (l Lot) split(x decimal.Decimal) (taken, residual Lot) {
	if l.Amount.IsZero() {
		return Lot{AcquiredAt: l.AcquiredAt, SourceTx: l.SourceTx}, l
	}
	ratio := x.Div(l.Amount)
	taken = Lot{
		Amount:     x,
		CostBasis:  l.CostBasis.Mul(ratio),
		AcquiredAt: l.AcquiredAt,
		SourceTx:   l.SourceTx,
	}
	residual = Lot{
		Amount:     l.Amount.Sub(x),
		CostBasis:  l.CostBasis.Sub(taken.CostBasis),
		AcquiredAt: l.AcquiredAt,
		SourceTx:   l.SourceTx,
	}
	return taken, residual
}

// Taken is one (sub-)lot consumed by a Remove call, paired with the
// amount actually taken from it (always equal to Lot.Amount; kept as a
// separate field for callers that want it alongside the lot itself).
type Taken struct {
	Lot        Lot
	TakenAmount decimal.Decimal
}

// Inventory is a per-asset ordered lot store parameterized by a disposal
// Policy. Not safe for concurrent use; one Inventory belongs to exactly
// one tax-engine invocation.
type Inventory struct {
	Asset  string
	Policy Policy

	lots []Lot

	TotalAmount    decimal.Decimal
	TotalCostBasis decimal.Decimal

	// DebugInvariants enables post-condition checks (aggregate
	// conservation, HIFO ordering) after every mutation; left off by
	// default since they add O(n) work per call.
	DebugInvariants bool
}

// NewInventory returns an empty Inventory for asset under policy.
func NewInventory(asset string, policy Policy) *Inventory {
	return &Inventory{Asset: asset, Policy: policy}
}

// AddLot appends (FIFO/LIFO) or inserts in descending-unit-cost order
// (HIFO) and updates the running aggregates.
func (inv *Inventory) AddLot(lot Lot) error {
	switch inv.Policy {
	case FIFO, LIFO:
		inv.lots = append(inv.lots, lot)
	case HIFO:
		inv.insertHIFO(lot)
	default:
		return &errs.ConfigError{Cause: errUnknownPolicy(inv.Policy)}
	}
	inv.TotalAmount = inv.TotalAmount.Add(lot.Amount)
	inv.TotalCostBasis = inv.TotalCostBasis.Add(lot.CostBasis)

	if inv.DebugInvariants {
		return inv.checkInvariants()
	}
	return nil
}

// insertHIFO inserts lot so the list stays weakly decreasing by
// unit_cost.
func (inv *Inventory) insertHIFO(lot Lot) {
	uc := lot.UnitCost()
	i := 0
	for i < len(inv.lots) && inv.lots[i].UnitCost().GreaterThanOrEqual(uc) {
		i++
	}
	inv.lots = append(inv.lots, Lot{})
	copy(inv.lots[i+1:], inv.lots[i:])
	inv.lots[i] = lot
}

// Remove consumes amount from the inventory according to Policy. If
// amount exceeds total_amount by more than epsilon, strict determines
// whether InsufficientInventory is returned (strict=true) or the
// available quantity is consumed and the caller must note the shortfall
// itself (strict=false); the invoking transaction path decides which.
func (inv *Inventory) Remove(amount decimal.Decimal, strict bool) ([]Taken, error) {
	if amount.GreaterThan(inv.TotalAmount.Add(epsilon)) && strict {
		return nil, &errs.InsufficientInventoryError{
			Asset: inv.Asset, Requested: amount, Available: inv.TotalAmount,
		}
	}

	remaining := amount
	var taken []Taken
	for remaining.GreaterThan(decimal.Zero) && len(inv.lots) > 0 {
		idx := inv.nextIndex()
		lot := inv.lots[idx]

		if lot.Amount.LessThanOrEqual(remaining) {
			taken = append(taken, Taken{Lot: lot, TakenAmount: lot.Amount})
			remaining = remaining.Sub(lot.Amount)
			inv.removeAt(idx)
			continue
		}

		takenLot, residual := lot.split(remaining)
		taken = append(taken, Taken{Lot: takenLot, TakenAmount: takenLot.Amount})
		inv.replaceAt(idx, residual)
		remaining = decimal.Zero
	}

	for _, t := range taken {
		inv.TotalAmount = inv.TotalAmount.Sub(t.Lot.Amount)
		inv.TotalCostBasis = inv.TotalCostBasis.Sub(t.Lot.CostBasis)
	}

	if inv.DebugInvariants {
		if err := inv.checkInvariants(); err != nil {
			return taken, err
		}
	}
	return taken, nil
}

// nextIndex returns the index of the lot Remove should take from next:
// front for FIFO and HIFO (HIFO keeps the list sorted so the front is
// always highest-unit-cost), back for LIFO.
func (inv *Inventory) nextIndex() int {
	if inv.Policy == LIFO {
		return len(inv.lots) - 1
	}
	return 0
}

func (inv *Inventory) removeAt(idx int) {
	inv.lots = append(inv.lots[:idx], inv.lots[idx+1:]...)
}

// replaceAt overwrites the lot at idx with residual. Under HIFO this
// never violates sort order since a partial take only shrinks the lot's
// amount, which keeps its unit_cost comparison against its neighbors
// unchanged in direction for the front-position case Remove always
// splits from.
func (inv *Inventory) replaceAt(idx int, residual Lot) {
	inv.lots[idx] = residual
}

// checkInvariants verifies aggregate conservation and HIFO ordering.
func (inv *Inventory) checkInvariants() error {
	sumAmount := decimal.Zero
	sumBasis := decimal.Zero
	for _, l := range inv.lots {
		sumAmount = sumAmount.Add(l.Amount)
		sumBasis = sumBasis.Add(l.CostBasis)
	}
	if sumAmount.Sub(inv.TotalAmount).Abs().GreaterThan(epsilon) {
		return &errs.InvariantViolationError{Asset: inv.Asset, Detail: "total_amount does not equal sum of lot amounts"}
	}
	if sumBasis.Sub(inv.TotalCostBasis).Abs().GreaterThan(epsilon) {
		return &errs.InvariantViolationError{Asset: inv.Asset, Detail: "total_cost_basis does not equal sum of lot cost bases"}
	}
	if inv.Policy == HIFO {
		for i := 0; i+1 < len(inv.lots); i++ {
			if inv.lots[i].UnitCost().LessThan(inv.lots[i+1].UnitCost()) {
				return &errs.InvariantViolationError{Asset: inv.Asset, Detail: "HIFO lot order violated"}
			}
		}
	}
	return nil
}

// Lots returns a defensive copy of the current lot list, front-to-back
// in the order Remove would consume them for policies other than LIFO.
func (inv *Inventory) Lots() []Lot {
	out := make([]Lot, len(inv.lots))
	copy(out, inv.lots)
	return out
}

func errUnknownPolicy(p Policy) error {
	return &unknownPolicyError{p}
}

type unknownPolicyError struct{ policy Policy }

func (e *unknownPolicyError) Error() string {
	return "ledger: unknown policy " + string(e.policy)
}
