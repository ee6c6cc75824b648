// Package validate implements invariant checks over the canonical
// transaction stream. Grounded on
// original_source/app/core/validate.py's validate_df, check_balances, and
// validate_transaction_sequence.
package validate

import (
	"time"

	"github.com/MeridianAlgo/cryptotax/errs"
	"github.com/MeridianAlgo/cryptotax/txn"
	"github.com/shopspring/decimal"
)

// balanceTolerance is the small tolerance for floating-point error
// check_balances uses: 10^-8.
var balanceTolerance = decimal.New(1, -8).Neg()

// minReasonableDate is the Bitcoin genesis-block floor validate.py uses
// for date-sanity checking.
var minReasonableDate = time.Date(2009, 1, 1, 0, 0, 0, 0, time.UTC)

// criticalFields are the columns whose absence is fatal.
var criticalFields = []string{"timestamp", "kind", "base_asset", "base_amount"}

// NegativeBalancePoint is one point where an asset's running balance
// dropped below -1e-8.
type NegativeBalancePoint struct {
	Asset     string
	Timestamp time.Time
	Balance   decimal.Decimal
	Kind      txn.Kind
	Amount    decimal.Decimal
}

// OrphanSell is a Sell/Withdraw that precedes any Buy/Deposit/Stake/
// Airdrop for its asset.
type OrphanSell struct {
	Asset     string
	Timestamp time.Time
	Kind      txn.Kind
}

// Report is the result of one Validate call.
type Report struct {
	TotalTransactions int
	Issues            *errs.Collector
	DuplicatesFound   int
	NegativeAmounts   int
	NegativeBalances  []NegativeBalancePoint
	InvalidDates      int
	MissingData       map[string]int
	TypeWarnings      map[string]int
	OrphanSells       []OrphanSell
	Valid             bool
}

// Validator computes a Report over a slice of canonical records.
type Validator struct{}

// New returns a ready-to-use Validator; it is stateless.
func New() *Validator { return &Validator{} }

// Validate runs every invariant check over records and accumulates the
// results into a Report. A critical field that is unpopulated in every
// record (including an empty record slice) counts as a missing column: it
// adds a fatal "missing_columns" issue and sets Valid to false.
func (v *Validator) Validate(records []txn.Record) Report {
	report := Report{
		TotalTransactions: len(records),
		Issues:            errs.NewCollector(),
		MissingData:       map[string]int{},
		TypeWarnings:      map[string]int{},
		Valid:             true,
	}

	report.DuplicatesFound = countDuplicates(records)
	if report.DuplicatesFound > 0 {
		report.Issues.Warn("duplicates", "potential duplicate transactions found")
	}

	report.NegativeAmounts = countNegativeAmounts(records)
	if report.NegativeAmounts > 0 {
		report.Issues.Warn("negative_amounts", "buy/deposit/stake/airdrop transactions with negative amounts")
	}

	report.NegativeBalances = checkBalances(records)
	for _, nb := range report.NegativeBalances {
		report.Issues.WarnRecord("negative_balance", nb.Asset, "running balance went negative")
	}

	report.InvalidDates = countInvalidDates(records)
	if report.InvalidDates > 0 {
		report.Issues.Warn("invalid_dates", "null, unparsable, or out-of-range timestamps found")
	}

	report.MissingData = checkMissingData(records)
	for field, count := range report.MissingData {
		if count > 0 {
			report.Issues.Warn("missing_data:"+field, "missing critical field")
		}
	}

	report.TypeWarnings = checkTypeWarnings(records)

	report.OrphanSells = checkOrphanSells(records)
	for _, os := range report.OrphanSells {
		report.Issues.WarnRecord("orphan_sell", os.Asset, "sell/withdraw precedes any acquisition for this asset")
	}

	if missing := missingCriticalColumns(records); len(missing) > 0 {
		report.Issues.Fail("missing_columns", "required canonical columns absent")
		report.Valid = false
	}

	return report
}

// missingCriticalColumns reports which critical fields are unpopulated
// across every record (an all-empty column looks the same as an absent
// one to a caller that only has canonical Records, not raw columns).
func missingCriticalColumns(records []txn.Record) []string {
	present := map[string]bool{}
	for _, r := range records {
		if !r.Timestamp.IsZero() {
			present["timestamp"] = true
		}
		if r.Kind != "" {
			present["kind"] = true
		}
		if r.BaseAsset != "" {
			present["base_asset"] = true
		}
		if !r.BaseAmount.IsZero() {
			present["base_amount"] = true
		}
	}
	var missing []string
	for _, f := range criticalFields {
		if !present[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

func countDuplicates(records []txn.Record) int {
	type key struct {
		ts     int64
		kind   txn.Kind
		asset  string
		amount string
	}
	seen := map[key]int{}
	for _, r := range records {
		k := key{ts: r.Timestamp.Unix(), kind: r.Kind, asset: r.BaseAsset, amount: r.BaseAmount.String()}
		seen[k]++
	}
	dupes := 0
	for _, n := range seen {
		if n > 1 {
			dupes += n - 1
		}
	}
	return dupes
}

func countNegativeAmounts(records []txn.Record) int {
	n := 0
	for _, r := range records {
		if r.Kind.IncreasesBalance() && r.BaseAmount.IsNegative() {
			n++
		}
	}
	return n
}

// checkBalances runs a per-asset running-balance check: sorted by
// timestamp, add for {Buy,Deposit,Stake,Airdrop} and subtract for
// {Sell,Withdraw,Fee}; Transfer leaves the balance unchanged. Flag any
// point below -1e-8.
func checkBalances(records []txn.Record) []NegativeBalancePoint {
	byAsset := groupByAssetSortedByTime(records)

	var negatives []NegativeBalancePoint
	for _, asset := range sortedKeys(byAsset) {
		balance := decimal.Zero
		for _, r := range byAsset[asset] {
			if r.Kind.IncreasesBalance() {
				balance = balance.Add(r.BaseAmount)
			} else if r.Kind.ConsumesLot() {
				balance = balance.Sub(r.BaseAmount)
			}
			if balance.LessThan(balanceTolerance) {
				negatives = append(negatives, NegativeBalancePoint{
					Asset: asset, Timestamp: r.Timestamp, Balance: balance, Kind: r.Kind, Amount: r.BaseAmount,
				})
			}
		}
	}
	return negatives
}

func countInvalidDates(records []txn.Record) int {
	now := time.Now().UTC()
	max := now.Add(24 * time.Hour)
	n := 0
	for _, r := range records {
		if r.Timestamp.IsZero() || r.Timestamp.Before(minReasonableDate) || r.Timestamp.After(max) {
			n++
		}
	}
	return n
}

func checkMissingData(records []txn.Record) map[string]int {
	out := map[string]int{}
	for _, r := range records {
		if r.Timestamp.IsZero() {
			out["timestamp"]++
		}
		if r.Kind == "" || r.Kind == txn.Unknown {
			out["kind"]++
		}
		if r.BaseAsset == "" {
			out["base_asset"]++
		}
	}
	return out
}

// checkTypeWarnings flags numeric fields that parsed but landed somewhere
// a well-formed source file never should: a negative fee or quote
// amount, which parse_number never signs itself, indicates a stray minus
// sign or swapped column in the source data.
func checkTypeWarnings(records []txn.Record) map[string]int {
	out := map[string]int{}
	for _, r := range records {
		if r.FeeAmount.IsNegative() {
			out["fee_amount"]++
		}
		if r.QuoteAmount.IsNegative() {
			out["quote_amount"]++
		}
	}
	return out
}

// checkOrphanSells lists any Sell/Withdraw preceding that asset's first
// acquisition.
func checkOrphanSells(records []txn.Record) []OrphanSell {
	byAsset := groupByAssetSortedByTime(records)
	var orphans []OrphanSell
	for _, asset := range sortedKeys(byAsset) {
		hasAcquisition := false
		for _, r := range byAsset[asset] {
			if r.Kind.CreatesLot() {
				hasAcquisition = true
				continue
			}
			if !hasAcquisition && (r.Kind == txn.Sell || r.Kind == txn.Withdraw) {
				orphans = append(orphans, OrphanSell{Asset: asset, Timestamp: r.Timestamp, Kind: r.Kind})
			}
		}
	}
	return orphans
}

func groupByAssetSortedByTime(records []txn.Record) map[string][]txn.Record {
	byAsset := map[string][]txn.Record{}
	for _, r := range records {
		byAsset[r.BaseAsset] = append(byAsset[r.BaseAsset], r)
	}
	for asset, rs := range byAsset {
		sorted := make([]txn.Record, len(rs))
		copy(sorted, rs)
		insertionSortByTime(sorted)
		byAsset[asset] = sorted
	}
	return byAsset
}

// insertionSortByTime performs a stable sort by Timestamp; used instead
// of sort.SliceStable directly so call sites read uniformly.
func insertionSortByTime(rs []txn.Record) {
	for i := 1; i < len(rs); i++ {
		j := i
		for j > 0 && rs[j].Timestamp.Before(rs[j-1].Timestamp) {
			rs[j], rs[j-1] = rs[j-1], rs[j]
			j--
		}
	}
}

func sortedKeys(m map[string][]txn.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		j := i
		for j > 0 && keys[j] < keys[j-1] {
			keys[j], keys[j-1] = keys[j-1], keys[j]
			j--
		}
	}
	return keys
}
