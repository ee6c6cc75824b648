// Package taxengine drives one ledger.Inventory per asset over a
// timestamp-sorted stream of canonical records, emitting disposal and
// income events. Grounded on accounting.Account's single-pass
// transaction loop, generalized from its FIFO-only "oldest holding"
// consumption to full Buy/Sell/Stake/Airdrop/Withdraw/Fee kind dispatch.
package taxengine

import (
	"context"
	"sort"
	"time"

	"github.com/MeridianAlgo/cryptotax/errs"
	"github.com/MeridianAlgo/cryptotax/ledger"
	"github.com/MeridianAlgo/cryptotax/oracle"
	"github.com/MeridianAlgo/cryptotax/txn"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "taxengine")

// longTermThreshold is the 365-day holding-period boundary.
const longTermThreshold = 365 * 24 * time.Hour

// DisposalEvent is emitted per consumed (sub-)lot.
type DisposalEvent struct {
	Date        time.Time
	Asset       string
	Amount      decimal.Decimal
	Proceeds    decimal.Decimal
	CostBasis   decimal.Decimal
	GainLoss    decimal.Decimal
	ShortTerm   bool
	HoldingDays int
	AcquiredAt  time.Time
	Method      ledger.Policy
	SourceTx    string
	Note        string
}

// IncomeEvent is emitted by Stake/Airdrop.
type IncomeEvent struct {
	Date      time.Time
	Asset     string
	Amount    decimal.Decimal
	UnitPrice decimal.Decimal
	Value     decimal.Decimal
	Kind      txn.Kind // Stake or Airdrop
	SourceTx  string
}

// Options configures one Engine run.
type Options struct {
	Policy          ledger.Policy
	TaxCurrency     string
	StrictMode      bool
	DebugInvariants bool
}

// Result aggregates everything one Run produces.
type Result struct {
	Disposals []DisposalEvent
	Incomes   []IncomeEvent
	Issues    *errs.Collector

	TotalShortTermGains decimal.Decimal
	TotalLongTermGains  decimal.Decimal
	TotalIncome         decimal.Decimal
}

// Engine owns one set of per-asset inventories for the lifetime of a
// single tax computation.
type Engine struct {
	priceOracle oracle.Oracle
	inventories map[string]*ledger.Inventory
	options     Options
}

// New constructs an Engine. priceOracle may be nil only if every input
// record carries an explicit quote_amount (an oracle-free run).
func New(priceOracle oracle.Oracle, options Options) *Engine {
	if options.Policy == "" {
		options.Policy = ledger.FIFO
	}
	return &Engine{
		priceOracle: priceOracle,
		inventories: map[string]*ledger.Inventory{},
		options:     options,
	}
}

func (e *Engine) inventoryFor(asset string) *ledger.Inventory {
	inv, ok := e.inventories[asset]
	if !ok {
		inv = ledger.NewInventory(asset, e.options.Policy)
		inv.DebugInvariants = e.options.DebugInvariants
		e.inventories[asset] = inv
	}
	return inv
}

// Run stably re-sorts a copy of records by timestamp and processes them in
// that order; records with equal timestamps keep their order in the input
// slice.
func (e *Engine) Run(ctx context.Context, records []txn.Record) (Result, error) {
	sorted := make([]txn.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	result := Result{Issues: errs.NewCollector()}

	for _, r := range sorted {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		e.processRecord(ctx, r, &result)
	}

	for _, d := range result.Disposals {
		if d.ShortTerm {
			result.TotalShortTermGains = result.TotalShortTermGains.Add(d.GainLoss)
		} else {
			result.TotalLongTermGains = result.TotalLongTermGains.Add(d.GainLoss)
		}
	}
	for _, inc := range result.Incomes {
		result.TotalIncome = result.TotalIncome.Add(inc.Value)
	}

	return result, nil
}

// processRecord dispatches by kind. Any per-record issue is caught and
// recorded rather than aborting the run.
func (e *Engine) processRecord(ctx context.Context, r txn.Record, result *Result) {
	if r.BaseAmount.IsZero() {
		// Zero-amount rows are skipped without emitting events.
		return
	}
	switch r.Kind {
	case txn.Buy, txn.Deposit:
		e.processAcquisition(ctx, r, result)
	case txn.Sell:
		e.processSell(ctx, r, result)
	case txn.Stake, txn.Airdrop:
		e.processIncome(ctx, r, result)
	case txn.Withdraw, txn.Transfer:
		e.processNonTaxableDisposal(r, result)
	case txn.Fee:
		e.processFeeDisposal(r, result)
	default:
		result.Issues.WarnRecord("unknown_kind", r.SourceID, "unrecognized transaction kind; record skipped")
	}
}

// processAcquisition handles Buy/Deposit.
func (e *Engine) processAcquisition(ctx context.Context, r txn.Record, result *Result) {
	var costBasis decimal.Decimal
	if r.QuoteAmount.GreaterThan(decimal.Zero) {
		costBasis = r.QuoteAmount.Add(r.FeeAmount)
	} else {
		price := e.lookupPrice(ctx, r.BaseAsset, r.Timestamp)
		if price == nil {
			costBasis = r.FeeAmount
			result.Issues.WarnRecord("oracle_unavailable", r.SourceID, "no price available; cost basis set to fee only")
		} else {
			costBasis = price.Mul(r.BaseAmount).Add(r.FeeAmount)
		}
	}

	lot := ledger.Lot{Amount: r.BaseAmount, CostBasis: costBasis, AcquiredAt: r.Timestamp, SourceTx: r.SourceID}
	if err := e.inventoryFor(r.BaseAsset).AddLot(lot); err != nil {
		result.Issues.WarnRecord("add_lot_failed", r.SourceID, err.Error())
	}
}

// processSell handles Sell.
func (e *Engine) processSell(ctx context.Context, r txn.Record, result *Result) {
	var proceeds decimal.Decimal
	if r.QuoteAmount.GreaterThan(decimal.Zero) {
		proceeds = r.QuoteAmount.Sub(r.FeeAmount)
	} else {
		price := e.lookupPrice(ctx, r.BaseAsset, r.Timestamp)
		if price == nil {
			result.Issues.WarnRecord("oracle_unavailable", r.SourceID, "no price available for sell; record skipped")
			return
		}
		proceeds = price.Mul(r.BaseAmount).Sub(r.FeeAmount)
	}

	taken, err := e.inventoryFor(r.BaseAsset).Remove(r.BaseAmount, e.options.StrictMode)
	if err != nil {
		result.Issues.WarnRecord("insufficient_inventory", r.SourceID, err.Error())
		return
	}
	if len(taken) == 0 {
		result.Issues.WarnRecord("insufficient_inventory", r.SourceID, "no inventory available to consume")
		return
	}

	for _, t := range taken {
		lotProceeds := proceedsShare(proceeds, t.Lot.Amount, r.BaseAmount)
		result.Disposals = append(result.Disposals, buildDisposal(r, t.Lot, lotProceeds, e.options.Policy))
	}
}

// processIncome handles Stake/Airdrop.
func (e *Engine) processIncome(ctx context.Context, r txn.Record, result *Result) {
	price := e.lookupPrice(ctx, r.BaseAsset, r.Timestamp)
	if price == nil {
		result.Issues.WarnRecord("oracle_unavailable", r.SourceID, "no price available for income event; record skipped")
		return
	}
	value := price.Mul(r.BaseAmount)

	result.Incomes = append(result.Incomes, IncomeEvent{
		Date: r.Timestamp, Asset: r.BaseAsset, Amount: r.BaseAmount, UnitPrice: *price, Value: value, Kind: r.Kind, SourceTx: r.SourceID,
	})

	lot := ledger.Lot{Amount: r.BaseAmount, CostBasis: value, AcquiredAt: r.Timestamp, SourceTx: r.SourceID}
	if err := e.inventoryFor(r.BaseAsset).AddLot(lot); err != nil {
		result.Issues.WarnRecord("add_lot_failed", r.SourceID, err.Error())
	}
}

// processNonTaxableDisposal handles Withdraw/Transfer: consumes
// inventory silently, no disposal event.
func (e *Engine) processNonTaxableDisposal(r txn.Record, result *Result) {
	if _, err := e.inventoryFor(r.BaseAsset).Remove(r.BaseAmount, e.options.StrictMode); err != nil {
		result.Issues.WarnRecord("insufficient_inventory", r.SourceID, err.Error())
	}
}

// processFeeDisposal handles a standalone fee record that itself
// consumes an asset, as a zero-proceeds disposal.
func (e *Engine) processFeeDisposal(r txn.Record, result *Result) {
	taken, err := e.inventoryFor(r.BaseAsset).Remove(r.BaseAmount, e.options.StrictMode)
	if err != nil {
		result.Issues.WarnRecord("insufficient_inventory", r.SourceID, err.Error())
		return
	}
	for _, t := range taken {
		result.Disposals = append(result.Disposals, buildDisposal(r, t.Lot, decimal.Zero, e.options.Policy))
	}
}

// lookupPrice consults the oracle, converting a nil Oracle or a "None"
// response to a nil pointer uniformly.
func (e *Engine) lookupPrice(ctx context.Context, asset string, at time.Time) *decimal.Decimal {
	if e.priceOracle == nil {
		return nil
	}
	price, err := e.priceOracle.Price(ctx, asset, at, e.options.TaxCurrency)
	if err != nil {
		log.WithError(err).WithField("asset", asset).Warn("oracle returned an error; treating as unavailable")
		return nil
	}
	return price
}

// proceedsShare allocates total proceeds across a consumed sub-lot:
// lot_proceeds = P * a / amount.
func proceedsShare(total, subAmount, totalAmount decimal.Decimal) decimal.Decimal {
	if totalAmount.IsZero() {
		return decimal.Zero
	}
	return total.Mul(subAmount).Div(totalAmount)
}

func buildDisposal(r txn.Record, lot ledger.Lot, lotProceeds decimal.Decimal, method ledger.Policy) DisposalEvent {
	holding := r.Timestamp.Sub(lot.AcquiredAt)
	return DisposalEvent{
		Date:        r.Timestamp,
		Asset:       r.BaseAsset,
		Amount:      lot.Amount,
		Proceeds:    lotProceeds,
		CostBasis:   lot.CostBasis,
		GainLoss:    lotProceeds.Sub(lot.CostBasis),
		ShortTerm:   holding < longTermThreshold,
		HoldingDays: int(holding.Hours() / 24),
		AcquiredAt:  lot.AcquiredAt,
		Method:      method,
		SourceTx:    r.SourceID,
	}
}
