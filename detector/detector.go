// Package detector scores every exchange mapping declaration against a
// file's header row (plus a few sample rows) and returns the best
// candidate with confidence and diagnostics.
package detector

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/MeridianAlgo/cryptotax/errs"
	"github.com/MeridianAlgo/cryptotax/mapping"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "detector")

// TieCandidate is one exchange whose score fell within 0.05 of the best
// and above 0.5.
type TieCandidate struct {
	ExchangeID string
	Score      float64
}

// Result is the (exchange_id, confidence, diagnostics) tuple Detect returns.
type Result struct {
	ExchangeID        string
	Confidence        float64
	AllScores         map[string]float64
	Ties              []TieCandidate
	NeedsConfirmation bool
	ColumnsFound      []string
}

// Detector scores candidate exchanges from the registry against a file's
// header (and optional sample rows).
type Detector struct {
	registry            *mapping.Registry
	confidenceThreshold float64
}

// New returns a Detector backed by reg, using confidenceThreshold (default
// 0.9) to flag low-confidence results as needs_confirmation.
func New(reg *mapping.Registry, confidenceThreshold float64) *Detector {
	if confidenceThreshold <= 0 {
		confidenceThreshold = 0.9
	}
	return &Detector{registry: reg, confidenceThreshold: confidenceThreshold}
}

// Detect scores every registered exchange against columns (already
// extracted from the file's header row) and up to ten sample rows.
// Rejects files with fewer than 3 non-empty columns.
func (d *Detector) Detect(columns []string, sampleRows [][]string) (Result, error) {
	cleanCols := make([]string, 0, len(columns))
	for _, c := range columns {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			cleanCols = append(cleanCols, c)
		}
	}
	if len(cleanCols) < 3 {
		return Result{}, &errs.InvalidFormatError{Reason: "fewer than 3 non-empty columns"}
	}

	scores := map[string]float64{}
	for id, decl := range d.registry.All() {
		scores[id] = scoreExchange(cleanCols, decl, sampleRows)
	}

	if len(scores) == 0 || allZero(scores) {
		return Result{ExchangeID: "unknown", Confidence: 0, AllScores: scores, ColumnsFound: cleanCols}, nil
	}

	ids := lo.Keys(scores)
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	best := ids[0]
	bestScore := scores[best]

	var ties []TieCandidate
	for _, id := range ids {
		if id == best {
			continue
		}
		if math.Abs(scores[id]-bestScore) < 0.05 && scores[id] > 0.5 {
			ties = append(ties, TieCandidate{ExchangeID: id, Score: scores[id]})
		}
	}

	res := Result{
		ExchangeID:        best,
		Confidence:        bestScore,
		AllScores:         scores,
		Ties:              ties,
		NeedsConfirmation: bestScore < d.confidenceThreshold,
		ColumnsFound:      cleanCols,
	}
	log.WithFields(logrus.Fields{"exchange": best, "confidence": bestScore}).Info("exchange detected")
	return res, nil
}

func allZero(scores map[string]float64) bool {
	for _, s := range scores {
		if s != 0 {
			return false
		}
	}
	return true
}

// scoreExchange implements the full §4.3 scoring formula for one
// candidate exchange.
func scoreExchange(columns []string, decl mapping.Declaration, sampleRows [][]string) float64 {
	isUnique := map[string]bool{}
	for _, u := range decl.UniqueColumns {
		isUnique[strings.ToLower(u)] = true
	}

	var expected []string
	for _, v := range decl.Fields {
		if v != "" {
			expected = append(expected, strings.ToLower(v))
		}
	}
	sort.Strings(expected)

	var matched, maxPossible, uniqueMatched float64
	for _, exp := range expected {
		weight := 1.0
		if isUnique[exp] {
			weight = 2.0
		}
		maxPossible += weight

		if containsExact(columns, exp) {
			matched += weight
			if weight > 1.0 {
				uniqueMatched++
			}
			continue
		}
		if fuzzyMatchAny(exp, columns) {
			matched += weight * 0.9
			if weight > 1.0 {
				uniqueMatched += 0.9
			}
		}
	}

	columnScore := 0.0
	if maxPossible > 0 {
		columnScore = matched / maxPossible
	}

	signatureScore := signatureScore(columns, decl.SignaturePatterns)
	patternScore := patternScore(columns, sampleRows, decl)

	uniqueBonus := 0.0
	if len(decl.UniqueColumns) > 0 {
		uniqueBonus = clamp(uniqueMatched/float64(len(decl.UniqueColumns)), 0, 1)
	}

	final := columnScore*0.35 + signatureScore*0.35 + uniqueBonus*0.20 + patternScore*0.10

	if len(decl.UniqueColumns) > 0 {
		nUnique := float64(len(decl.UniqueColumns))
		switch {
		case uniqueMatched < 0.5*nUnique:
			final *= 0.7
		case uniqueMatched >= 0.9*nUnique:
			final = math.Min(final*1.3, 1.0)
		case uniqueMatched >= 0.7*nUnique:
			final = math.Min(final*1.15, 1.0)
		}
	}

	if len(decl.RequiredColumns) > 0 {
		matchedRequired := 0.0
		for _, req := range decl.RequiredColumns {
			if fuzzyMatchAny(strings.ToLower(req), columns) || containsExact(columns, strings.ToLower(req)) {
				matchedRequired++
			}
		}
		rr := matchedRequired / float64(len(decl.RequiredColumns))
		switch {
		case rr >= 0.9:
			final = math.Min(final*1.2, 1.0)
		case rr >= 0.7:
			final = math.Min(final*1.1, 1.0)
		case rr < 0.5:
			final *= 0.8
		}
	}

	return final
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func containsExact(columns []string, expected string) bool {
	for _, c := range columns {
		if c == expected {
			return true
		}
	}
	return false
}

// signatureScore implements §4.3's signature_patterns scoring: exact
// match = 1.0, substring in any column = 0.9, substring in concatenated
// text = 0.7, partial-token match = 0.4, summed and normalized, with a
// 1.2x bonus (capped at 1.0) when the normalized value is >= 0.8.
func signatureScore(columns []string, patterns []string) float64 {
	if len(patterns) == 0 {
		return 0
	}
	columnsText := stripSeps(strings.Join(columns, " "))
	var score float64
	for _, p := range patterns {
		pc := stripSeps(strings.ToLower(p))

		exact := false
		for _, c := range columns {
			if stripSeps(c) == pc {
				exact = true
				break
			}
		}
		if exact {
			score += 1.0
			continue
		}

		substr := false
		for _, c := range columns {
			if strings.Contains(stripSeps(c), pc) {
				substr = true
				break
			}
		}
		if substr {
			score += 0.9
			continue
		}

		if strings.Contains(columnsText, pc) {
			score += 0.7
			continue
		}

		var parts []string
		for _, part := range strings.Fields(strings.ToLower(p)) {
			if len(part) > 2 {
				parts = append(parts, part)
			}
		}
		for _, part := range parts {
			if strings.Contains(strings.Join(columns, " "), part) {
				score += 0.4
				break
			}
		}
	}

	normalized := score / float64(len(patterns))
	if normalized >= 0.8 {
		normalized = math.Min(normalized*1.2, 1.0)
	}
	return normalized
}

func stripSeps(s string) string {
	s = strings.ToLower(s)
	for _, c := range []string{"-", "_", " "} {
		s = strings.ReplaceAll(s, c, "")
	}
	return s
}

// keywordTaxonomy is the category -> keyword-list table enhanced fuzzy
// matching checks, with "timestamp", "kind"(type), and "fee" requiring a
// shared word token in addition to a shared category.
var keywordTaxonomy = map[string][]string{
	"timestamp": {"time", "date", "datetime", "created", "timestamp", "when"},
	"kind":      {"type", "side", "operation", "transaction", "action", "kind"},
	"asset":     {"asset", "symbol", "currency", "coin", "pair", "market", "instrument", "token"},
	"amount":    {"amount", "quantity", "vol", "size", "filled", "executed", "volume", "units"},
	"price":     {"price", "rate", "cost", "value", "subtotal", "total"},
	"fee":       {"fee", "commission", "spread", "gas", "trading"},
	"total":     {"total", "subtotal", "value", "amount"},
	"id":        {"id", "hash", "uuid", "order", "tx", "transaction"},
	"notes":     {"notes", "info", "specification", "remark", "description"},
}

var criticalCategories = map[string]bool{"timestamp": true, "kind": true, "fee": true}

// exchangeFamilyPatterns groups substrings that, if shared by two column
// strings, mark them as belonging to the same exchange's vocabulary (e.g.
// Kraken's "xbt"/"xeth" prefixes).
var exchangeFamilyPatterns = map[string][]string{
	"binance":  {"base", "quote", "bnb"},
	"coinbase": {"transacted", "spot", "gdax"},
	"kraken":   {"pair", "vol", "ledger", "xbt", "xeth"},
	"gemini":   {"usd", "specification"},
	"kucoin":   {"filled", "remark"},
	"bitfinex": {"description", "bfx"},
	"okx":      {"instrument", "okex"},
	"bybit":    {"change", "coin"},
	"metamask": {"txhash", "ethereum"},
}

// enhancedFuzzyMatch compares two column names after stripping separators,
// falling back to substring containment, then the shared keyword taxonomy
// (critical categories also require a shared word token), then the
// exchange-family patterns.
func enhancedFuzzyMatch(expected, actual string) bool {
	ec := stripSeps(expected)
	ac := stripSeps(actual)
	if ec == "" || ac == "" {
		return false
	}
	if ec == ac || strings.Contains(ac, ec) || strings.Contains(ec, ac) {
		return true
	}

	for category, keywords := range keywordTaxonomy {
		eHas := containsAny(ec, keywords)
		aHas := containsAny(ac, keywords)
		if eHas && aHas {
			if criticalCategories[category] {
				if sharedWordToken(expected, actual) {
					return true
				}
				continue
			}
			return true
		}
	}

	for _, patterns := range exchangeFamilyPatterns {
		eHas := containsAny(ec, patterns)
		aHas := containsAny(ac, patterns)
		if eHas && aHas {
			return true
		}
	}

	return false
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func sharedWordToken(a, b string) bool {
	aWords := strings.Fields(strings.ToLower(a))
	bSet := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(b)) {
		bSet[w] = true
	}
	for _, w := range aWords {
		if bSet[w] {
			return true
		}
	}
	return false
}

func fuzzyMatchAny(expected string, columns []string) bool {
	for _, c := range columns {
		if enhancedFuzzyMatch(expected, c) {
			return true
		}
	}
	return false
}

// patternScore implements §4.3's pattern_score: +0.1 for an expected
// column-count range match, plus up to ~0.4 from data-pattern heuristics
// over sampleRows, capped at 1.0 total contribution before its 0.10
// weight is applied by the caller.
func patternScore(columns []string, sampleRows [][]string, decl mapping.Declaration) float64 {
	var score float64
	if decl.ColumnRange != nil {
		n := len(columns)
		if n >= decl.ColumnRange.Min && n <= decl.ColumnRange.Max {
			score += 0.1
		}
	}
	score += dataPatternScore(columns, sampleRows)
	return math.Min(score, 1.0)
}

// dataPatternScore inspects up to a few sample rows for timestamp-like,
// trading-pair-like, and transaction-kind-like values, per §4.3's
// "Data-pattern heuristics".
func dataPatternScore(columns []string, sampleRows [][]string) float64 {
	if len(sampleRows) == 0 {
		return 0
	}
	var score float64
	for ci, col := range columns {
		samples := columnSamples(sampleRows, ci, 5)
		if len(samples) == 0 {
			continue
		}

		if strings.Contains(col, "time") || strings.Contains(col, "date") {
			for _, v := range firstN(samples, 3) {
				lv := strings.ToLower(v)
				if strings.Contains(lv, "t") && (strings.Contains(lv, "z") || strings.Contains(lv, "+")) {
					score += 0.1
				} else if isAllDigits(lv) && len(lv) >= 10 {
					score += 0.1
				}
			}
		}

		if strings.Contains(col, "pair") || strings.Contains(col, "market") || strings.Contains(col, "symbol") {
			for _, v := range firstN(samples, 3) {
				uv := strings.ToUpper(v)
				switch {
				case strings.HasPrefix(uv, "X") && len(uv) >= 6:
					score += 0.2
				case strings.ContainsAny(uv, "/-") || strings.Contains(uv, "USD") || strings.Contains(uv, "BTC") || strings.Contains(uv, "ETH"):
					score += 0.1
				}
			}
		}

		if strings.Contains(col, "type") || strings.Contains(col, "side") {
			seen := map[string]bool{}
			for _, v := range firstN(samples, 5) {
				seen[strings.ToLower(v)] = true
			}
			common := []string{"buy", "sell", "deposit", "withdraw", "trade"}
			hits := 0
			for _, c := range common {
				if seen[c] {
					hits++
				}
			}
			if hits >= 2 {
				score += 0.2
			}
		}
	}
	return score
}

func columnSamples(rows [][]string, colIx, limit int) []string {
	var out []string
	for _, row := range rows {
		if colIx >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[colIx])
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
