// Package txn defines the canonical transaction record shared by every
// stage of the pipeline: normalization, validation, lot accounting, and
// reporting all read and write this type instead of raw tabular rows.
package txn

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the tagged variant of a canonical transaction.
type Kind string

const (
	Buy      Kind = "buy"
	Sell     Kind = "sell"
	Deposit  Kind = "deposit"
	Withdraw Kind = "withdraw"
	Stake    Kind = "stake"
	Airdrop  Kind = "airdrop"
	Transfer Kind = "transfer"
	Fee      Kind = "fee"
	Unknown  Kind = "unknown"
)

// ParseKind lowercases and trims s, mapping it onto the canonical Kind set.
// Unrecognized values return (Unknown, false) so callers can warn without
// rejecting the row outright.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case Buy, Sell, Deposit, Withdraw, Stake, Airdrop, Transfer, Fee:
		return k, true
	case "trade":
		// Treated as a non-taxable transfer unless a signed base_amount
		// disambiguates it. Callers that can see the sign should
		// reclassify before this point.
		return Transfer, true
	default:
		return Unknown, false
	}
}

// IncreasesBalance reports whether a transaction of this kind adds to an
// asset's running balance.
func (k Kind) IncreasesBalance() bool {
	switch k {
	case Buy, Deposit, Stake, Airdrop:
		return true
	default:
		return false
	}
}

// CreatesLot reports whether a transaction of this kind creates a tax lot.
// Lots are created by Buy/Deposit/Stake/Airdrop.
func (k Kind) CreatesLot() bool {
	return k.IncreasesBalance()
}

// ConsumesLot reports whether a transaction of this kind consumes lots from
// inventory. Lots are consumed by Sell/Withdraw/Fee.
func (k Kind) ConsumesLot() bool {
	switch k {
	case Sell, Withdraw, Fee:
		return true
	default:
		return false
	}
}

// Record is the immutable canonical transaction record shared by every
// pipeline stage. Once constructed, a Record's fields are never mutated in
// place; normalization and validation produce new Records rather than
// editing existing ones.
type Record struct {
	Timestamp   time.Time
	Kind        Kind
	BaseAsset   string
	BaseAmount  decimal.Decimal
	QuoteAsset  string
	QuoteAmount decimal.Decimal
	FeeAmount   decimal.Decimal
	FeeAsset    string
	Notes       string

	// SourceID identifies the originating row for audit trails and
	// disposal/income event linkage. Populated by the normalizer.
	SourceID string

	// SourceFile records which input file this record came from, used as
	// the secondary sort key when combining multiple normalized files.
	SourceFile string
	// SourceIndex is the original row position within SourceFile, the
	// tie-break for stable sort.
	SourceIndex int
}

// NormalizeTickers uppercases and trims BaseAsset, QuoteAsset, and FeeAsset,
// returning a new Record.
func (r Record) NormalizeTickers() Record {
	r.BaseAsset = strings.ToUpper(strings.TrimSpace(r.BaseAsset))
	r.QuoteAsset = strings.ToUpper(strings.TrimSpace(r.QuoteAsset))
	r.FeeAsset = strings.ToUpper(strings.TrimSpace(r.FeeAsset))
	return r
}

// CanonicalColumns is the fixed column order for the canonical CSV.
var CanonicalColumns = []string{
	"timestamp", "type", "base_asset", "base_amount",
	"quote_asset", "quote_amount", "fee_amount", "fee_asset", "notes",
}

// CanonicalLabels is the set of labels the column classifier may emit, in
// canonical field order.
var CanonicalLabels = []string{
	"timestamp", "kind", "base_asset", "base_amount",
	"quote_asset", "quote_amount", "fee_amount", "fee_asset", "notes",
}
