// Package normalize turns a raw tabular export into canonical
// txn.Record values. Grounded on original_source/app/core/normalize.py.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MeridianAlgo/cryptotax/classifier"
	"github.com/MeridianAlgo/cryptotax/errs"
	"github.com/MeridianAlgo/cryptotax/mapping"
	"github.com/MeridianAlgo/cryptotax/oracle"
	"github.com/MeridianAlgo/cryptotax/tabular"
	"github.com/MeridianAlgo/cryptotax/txn"
	"github.com/MeridianAlgo/cryptotax/validate"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "normalize")

// Options controls one Normalize invocation, a subset of config.EngineConfig
// plus per-call parameters (input file, exchange id).
type Options struct {
	ExchangeID         string
	ClassifierThreshold float64
	FetchMissingPrices bool
	RemoveDuplicates   bool
	TaxCurrency        string
	SheetName          string
}

// Result is everything Normalize hands back: the canonical records plus
// the non-fatal issues accumulated along the way and the Validator's
// report over the output.
type Result struct {
	Records    []txn.Record
	Issues     *errs.Collector
	Validation validate.Report
}

// exchangesRequiringPairSplit always re-splits base_asset through
// parsePair.
var exchangesRequiringPairSplit = map[string]bool{
	"kraken": true, "bitfinex": true, "bitstamp": true, "bittrex": true, "htx": true,
}

// pairColumnKeywords are the column-name substrings the trading-pair
// inference step scans for.
var pairColumnKeywords = []string{
	"pair", "market", "symbol", "instrument", "product", "book", "ticker", "currency_pair", "currency pair",
}

var nullTokens = map[string]bool{"na": true, "n/a": true, "none": true, "null": true, "-": true}

// Normalizer drives the full pipeline: resolve mapping, load file,
// rename, normalize field contents, validate, sort, and return canonical
// records.
type Normalizer struct {
	registry   *mapping.Registry
	clf        classifier.Predictor
	validator  *validate.Validator
	priceOracle oracle.Oracle
}

// New constructs a Normalizer. clf may be nil, in which case only the
// declarative mapping is used.
func New(reg *mapping.Registry, clf classifier.Predictor, priceOracle oracle.Oracle) *Normalizer {
	return &Normalizer{registry: reg, clf: clf, validator: validate.New(), priceOracle: priceOracle}
}

// Normalize runs the full pipeline over inputFile and returns canonical
// records sorted stably by (timestamp, base_asset, kind).
func (n *Normalizer) Normalize(ctx context.Context, inputFile string, opts Options) (Result, error) {
	issues := errs.NewCollector()

	decl, err := n.resolveMapping(opts.ExchangeID)
	if err != nil {
		return Result{}, err
	}

	table, err := tabular.ReadFull(inputFile)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return Result{}, &errs.IOError{Op: "read", Path: inputFile, Cause: err}
		}
		if info, statErr := os.Stat(inputFile); statErr == nil && info.Size() == 0 {
			return Result{}, &errs.EmptyDataError{File: inputFile}
		}
		return Result{}, &errs.InvalidFormatError{File: inputFile, Reason: "not readable as CSV", Cause: err}
	}
	if len(table.Rows) == 0 {
		return Result{}, &errs.EmptyDataError{File: inputFile}
	}

	renamed, headerIx := n.buildRenameTable(decl, table.Header, opts.ClassifierThreshold)

	missing := missingCritical(headerIx)
	if len(missing) > 0 {
		return Result{}, &errs.MappingInsufficientError{File: inputFile, Missing: missing}
	}

	rows := make([]map[string]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		rows = append(rows, rowToMap(row, table.Header, renamed))
	}

	n.fillTradingPairs(rows, headerIx, table.Header)

	taxCurrency := strings.ToLower(opts.TaxCurrency)
	if taxCurrency == "" {
		taxCurrency = "usd"
	}

	records := make([]txn.Record, 0, len(rows))
	for i, row := range rows {
		rec, ok := n.buildRecord(row, opts.ExchangeID, issues, i)
		if !ok {
			continue
		}
		rec.SourceFile = inputFile
		rec.SourceID = sourceID(inputFile, i)
		if opts.FetchMissingPrices && rec.QuoteAmount.LessThanOrEqual(decimal.Zero) && rec.BaseAsset != "" && !rec.Timestamp.IsZero() {
			if n.priceOracle != nil {
				if price, _ := n.priceOracle.Price(ctx, rec.BaseAsset, rec.Timestamp, taxCurrency); price != nil {
					rec.QuoteAmount = price.Mul(rec.BaseAmount)
				}
			}
		}
		records = append(records, rec)
	}

	if opts.RemoveDuplicates {
		records = dedup(records)
	}

	report := n.validator.Validate(records)
	issues.Merge(report.Issues)

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		if records[i].BaseAsset != records[j].BaseAsset {
			return records[i].BaseAsset < records[j].BaseAsset
		}
		return records[i].Kind < records[j].Kind
	})

	return Result{Records: records, Issues: issues, Validation: report}, nil
}

func (n *Normalizer) resolveMapping(exchangeID string) (mapping.Declaration, error) {
	if exchangeID == "" {
		exchangeID = "ml"
	}
	return n.registry.Get(exchangeID)
}

// buildRenameTable builds a declarative rename table (first occurrence
// per source column wins), merged with the classifier's assignments for
// still-unmapped columns. Declarative mapping wins on conflict.
func (n *Normalizer) buildRenameTable(decl mapping.Declaration, header []string, threshold float64) (map[string]string, map[string]bool) {
	if threshold <= 0 {
		threshold = 0.8
	}
	rename := map[string]string{}
	used := map[string]bool{}
	seenSource := map[string]bool{}

	// Declarative mapping, in a deterministic (sorted-by-label) order so
	// "first occurrence wins per source column" is reproducible.
	labels := make([]string, 0, len(decl.Fields))
	for label := range decl.Fields {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		source := decl.Fields[label]
		if source == "" || seenSource[source] {
			continue
		}
		rename[source] = label
		used[label] = true
		seenSource[source] = true
	}

	if n.clf != nil {
		assignments := n.clf.Predict(header, threshold)
		for col, a := range assignments {
			if _, already := rename[col]; already {
				continue
			}
			if used[a.Label] {
				continue
			}
			rename[col] = a.Label
			used[a.Label] = true
		}
	}

	return rename, used
}

func missingCritical(used map[string]bool) []string {
	critical := []string{"timestamp", "kind", "base_asset", "base_amount"}
	var missing []string
	for _, c := range critical {
		if !used[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

func rowToMap(row, header []string, rename map[string]string) map[string]string {
	m := map[string]string{}
	for i, col := range header {
		if i >= len(row) {
			continue
		}
		if label, ok := rename[col]; ok {
			m[label] = row[i]
		} else {
			m[col] = row[i]
		}
	}
	return m
}

// fillTradingPairs infers base_asset/quote_asset when missing from every
// row: scan candidate columns for parseable pair strings and adopt the
// best-scoring one.
func (n *Normalizer) fillTradingPairs(rows []map[string]string, used map[string]bool, header []string) {
	needBase := !used["base_asset"] || allEmpty(rows, "base_asset")
	needQuote := !used["quote_asset"] || allEmpty(rows, "quote_asset")
	if !needBase && !needQuote {
		return
	}

	var candidates []string
	for _, col := range header {
		cl := strings.ToLower(col)
		if cl == "base_asset" || cl == "quote_asset" {
			continue
		}
		for _, kw := range pairColumnKeywords {
			if strings.Contains(cl, kw) {
				candidates = append(candidates, col)
				break
			}
		}
	}

	bestCol, bestScore := "", 0.0
	for _, col := range candidates {
		ok, total := 0, 0
		for _, row := range rows {
			v := strings.TrimSpace(row[col])
			if v == "" {
				continue
			}
			total++
			if total > 80 {
				break
			}
			b, q := ParsePair(v)
			if b != "" || q != "" {
				ok++
			}
		}
		if total == 0 {
			continue
		}
		score := float64(ok) / float64(total)
		if score > bestScore {
			bestScore = score
			bestCol = col
		}
	}

	if bestCol == "" || bestScore < 0.5 {
		return
	}
	for _, row := range rows {
		b, q := ParsePair(row[bestCol])
		if needBase && row["base_asset"] == "" {
			row["base_asset"] = b
		}
		if needQuote && row["quote_asset"] == "" {
			row["quote_asset"] = q
		}
	}
}

func allEmpty(rows []map[string]string, field string) bool {
	for _, row := range rows {
		if strings.TrimSpace(row[field]) != "" {
			return false
		}
	}
	return true
}

// ParsePair mirrors original_source's parse_pair: trim, drop a leading
// Kraken X/Z prefix, split on the first of /, -, _, else try a fixed
// suffix list, else return (s, "").
func ParsePair(s string) (base, quote string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	if strings.HasPrefix(s, "X") || strings.HasPrefix(s, "Z") {
		s = s[1:]
	}
	for _, sep := range []string{"/", "-", "_"} {
		if idx := strings.Index(s, sep); idx >= 0 {
			return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+len(sep):])
		}
	}
	for _, q := range []string{"USDT", "USDC", "USD", "EUR", "GBP", "BTC", "ETH"} {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q
		}
	}
	return s, ""
}

// buildRecord normalizes one row's field contents into a txn.Record.
// Returns ok=false for rows that should be skipped entirely (none
// currently are skipped at this stage; zero-amount filtering happens in
// the tax engine).
func (n *Normalizer) buildRecord(row map[string]string, exchangeID string, issues *errs.Collector, index int) (txn.Record, bool) {
	rec := txn.Record{SourceIndex: index}

	rec.Timestamp = parseTimestamp(row["timestamp"])

	baseAsset := row["base_asset"]
	if exchangesRequiringPairSplit[strings.ToLower(exchangeID)] && baseAsset != "" {
		b, q := ParsePair(baseAsset)
		baseAsset = b
		if row["quote_asset"] == "" {
			row["quote_asset"] = q
		}
	}
	rec.BaseAsset = strings.ToUpper(strings.TrimSpace(baseAsset))
	rec.QuoteAsset = strings.ToUpper(strings.TrimSpace(row["quote_asset"]))
	rec.FeeAsset = strings.ToUpper(strings.TrimSpace(row["fee_asset"]))
	if rec.FeeAsset == "" && rec.QuoteAsset != "" {
		rec.FeeAsset = rec.QuoteAsset
	}

	rec.BaseAmount = parseNumber(row["base_amount"])
	rec.QuoteAmount = parseNumber(row["quote_amount"])
	rec.FeeAmount = parseNumber(row["fee_amount"])
	rec.Notes = row["notes"]

	kindStr := strings.ToLower(strings.TrimSpace(row["kind"]))
	k, known := txn.ParseKind(kindStr)
	rec.Kind = k
	if !known {
		issues.WarnRecord("unknown_kind", kindStrOrIndex(kindStr, index), "unrecognized transaction kind: "+kindStr)
	}

	return rec, true
}

// sourceIDNamespace anchors the deterministic SourceID derivation so the
// same input file and row always produce the same id across runs, which
// downstream audit trails depend on.
var sourceIDNamespace = uuid.MustParse("6d2f6e2e-6e4b-4f1f-9a2b-9b6e6d7a2c10")

// sourceID derives a stable identifier for a row from its source file and
// position, so disposal/income events can be traced back to the row that
// produced them without depending on row content (which may be duplicated
// across legitimate rows).
func sourceID(file string, index int) string {
	return uuid.NewSHA1(sourceIDNamespace, []byte(fmt.Sprintf("%s#%d", file, index))).String()
}

func kindStrOrIndex(kind string, index int) string {
	if kind != "" {
		return kind
	}
	return strconv.Itoa(index)
}

// parseTimestamp trims; empty or a null token becomes the zero time;
// otherwise parses permissively with a day-first fallback.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" || nullTokens[strings.ToLower(s)] {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	if t, ok := parseDayFirst(s); ok {
		return t.UTC()
	}
	return time.Time{}
}

var timestampLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// parseDayFirst retries the slash/dash-delimited layouts with day and
// month swapped, as a permissive-parser fallback.
func parseDayFirst(s string) (time.Time, bool) {
	dayFirstLayouts := []string{"02/01/2006 15:04:05", "02/01/2006", "02-01-2006 15:04:05", "02-01-2006"}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var currencySymbols = []string{"$", "€", "£", "¥", "₿"}

// parseNumber strips currency symbols and spaces, treats parenthesized
// values as negative, applies the one-comma-no-dot decimal-comma rule,
// else drops thousands commas; on any parse failure, returns zero.
func parseNumber(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" || nullTokens[strings.ToLower(s)] {
		return decimal.Zero
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	for _, sym := range currencySymbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, " ", "")

	if strings.Count(s, ".") == 0 && strings.Count(s, ",") == 1 {
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	if neg {
		d = d.Neg()
	}
	return d
}

// dedup drops duplicates keyed by (timestamp, kind, base_amount,
// quote_asset), keeping the first.
func dedup(records []txn.Record) []txn.Record {
	type key struct {
		ts     int64
		kind   txn.Kind
		amount string
		quote  string
	}
	seen := map[key]bool{}
	out := make([]txn.Record, 0, len(records))
	for _, r := range records {
		k := key{ts: r.Timestamp.Unix(), kind: r.Kind, amount: r.BaseAmount.String(), quote: r.QuoteAsset}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// Combine concatenates records from multiple normalized sources and
// sorts them stably by (timestamp, source file), the ordering a combined
// stream must carry before it reaches the tax engine.
func Combine(sets ...[]txn.Record) []txn.Record {
	var all []txn.Record
	for _, set := range sets {
		all = append(all, set...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].SourceFile < all[j].SourceFile
	})
	return all
}

// ReadCanonicalCSV reads back a canonical CSV previously written by
// WriteCanonicalCSV, the inverse operation combine and calculate/report
// verbs need to reload already-normalized files.
func ReadCanonicalCSV(path string) ([]txn.Record, error) {
	table, err := tabular.ReadFull(path)
	if err != nil {
		return nil, err
	}
	records := make([]txn.Record, 0, len(table.Rows))
	for i, row := range table.Rows {
		if len(row) < len(txn.CanonicalColumns) {
			continue
		}
		rec := txn.Record{SourceFile: path, SourceIndex: i, SourceID: sourceID(path, i)}
		rec.Timestamp = parseTimestamp(row[0])
		rec.Kind = txn.Kind(strings.ToLower(strings.TrimSpace(row[1])))
		rec.BaseAsset = row[2]
		rec.BaseAmount = parseNumber(row[3])
		rec.QuoteAsset = row[4]
		rec.QuoteAmount = parseNumber(row[5])
		rec.FeeAmount = parseNumber(row[6])
		rec.FeeAsset = row[7]
		rec.Notes = row[8]
		records = append(records, rec)
	}
	return records, nil
}

// WriteCanonicalCSV writes records to path in the fixed canonical column
// order.
func WriteCanonicalCSV(path string, records []txn.Record) error {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.Timestamp.Format(time.RFC3339),
			string(r.Kind),
			r.BaseAsset,
			r.BaseAmount.String(),
			r.QuoteAsset,
			r.QuoteAmount.String(),
			r.FeeAmount.String(),
			r.FeeAsset,
			r.Notes,
		})
	}
	return tabular.WriteCSV(path, txn.CanonicalColumns, rows)
}
