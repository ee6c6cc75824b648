package classifier

import (
	"sort"
	"strings"
)

// RuleClassifier is a deterministic, training-free fallback for when no
// learned model is available. It scores each (column, label) pair by the
// word count of the longest of the label's synonym keywords that appears as
// a substring of the cleaned column name, equal-confidence pairs being
// ordered by column index, identical in spirit to the normalizer's own keyword-based
// trading-pair column search.
type RuleClassifier struct{}

// NewRuleClassifier returns a ready-to-use RuleClassifier; it carries no
// state and needs no training step.
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

func cleanColumn(s string) string {
	s = strings.ToLower(s)
	for _, c := range []string{"_", "-", "/", "(", ")"} {
		s = strings.ReplaceAll(s, c, " ")
	}
	return strings.Join(strings.Fields(s), " ")
}

// score returns, for a cleaned column string, the best-matching-keyword
// count for each label (0 if no keyword matches at all).
func (RuleClassifier) score(cleaned string) map[string]int {
	scores := map[string]int{}
	for label, words := range synonyms {
		best := 0
		for _, w := range words {
			w = cleanColumn(w)
			if w == "" {
				continue
			}
			if strings.Contains(cleaned, w) {
				n := len(strings.Fields(w))
				if n > best {
					best = n
				}
			}
		}
		if best > 0 {
			scores[label] = best
		}
	}
	return scores
}

// Predict implements Predictor. Confidence is a deterministic function of
// keyword-match strength (1.0 for an exact cleaned-string match, 0.85 for
// a multi-word keyword hit, 0.7 for a single-word keyword hit), never
// below the rule classifier's own floor so it composes with the same
// greedy unique-assignment loop the learned model uses.
func (rc RuleClassifier) Predict(columns []string, threshold float64) map[string]Assignment {
	type pair struct {
		prob  float64
		colIx int
		label string
	}
	var pairs []pair
	for i, col := range columns {
		cleaned := cleanColumn(col)
		scores := rc.score(cleaned)
		for label, n := range scores {
			prob := 0.7
			switch {
			case cleaned == cleanColumn(label):
				prob = 1.0
			case n >= 2:
				prob = 0.85
			}
			pairs = append(pairs, pair{prob: prob, colIx: i, label: label})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].prob != pairs[j].prob {
			return pairs[i].prob > pairs[j].prob
		}
		return pairs[i].colIx < pairs[j].colIx
	})

	assignedCols := map[int]bool{}
	assignedLabels := map[string]bool{}
	result := map[string]Assignment{}
	for _, p := range pairs {
		if assignedCols[p.colIx] || assignedLabels[p.label] {
			continue
		}
		if p.prob < threshold {
			continue
		}
		assignedCols[p.colIx] = true
		assignedLabels[p.label] = true
		result[columns[p.colIx]] = Assignment{Label: p.label, Confidence: p.prob}
	}
	return result
}

var _ Predictor = RuleClassifier{}
var _ Predictor = (*NaiveBayes)(nil)
