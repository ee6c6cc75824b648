// Package classifier implements a pluggable predict_mapping(columns,
// threshold) contract with a deterministic rule-based fallback and a
// trained char-n-gram multinomial classifier, grounded on
// original_source/app/core/ml_mapper.py's
// TfidfVectorizer(analyzer='char_wb', ngram_range=(2,5)) +
// LogisticRegression pipeline. No ML library is available, so the trained
// model here is a small from-scratch multinomial Naive Bayes over the
// same character-n-gram features instead of a vendored
// logistic-regression implementation; see DESIGN.md for why this is the
// one place the engine core runs on hand-written math rather than a
// third-party dependency.
package classifier

import (
	"encoding/json"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "classifier")

// Assignment is one accepted (column -> label) prediction with its
// confidence.
type Assignment struct {
	Label      string
	Confidence float64
}

// Predictor is the pluggable contract every classifier implementation
// satisfies.
type Predictor interface {
	Predict(columns []string, threshold float64) map[string]Assignment
}

// synonyms is the fixed per-label synonym list ml_mapper.py augments its
// training corpus with.
var synonyms = map[string][]string{
	"timestamp":   {"time", "date", "datetime", "created at", "created", "timestamp"},
	"kind":        {"type", "side", "action", "operation", "transaction type", "kind"},
	"base_asset":  {"base asset", "asset", "coin", "token", "symbol", "product", "token in", "asset sent", "from asset"},
	"base_amount": {"amount", "qty", "quantity", "size", "vol", "volume", "executed", "amount in", "change"},
	"quote_asset": {"quote asset", "counter asset", "spot price currency", "fiat", "market", "pair", "token out", "asset received", "to asset"},
	"quote_amount": {"total", "value", "subtotal", "cost", "price", "amount out", "usd amount", "usd value"},
	"fee_amount":  {"fee", "commission", "trading fee", "network fee", "gas", "fees and/or spread"},
	"fee_asset":   {"fee currency", "fee coin", "fee asset", "network fee asset", "bnb", "usd"},
	"notes":       {"notes", "info", "remark", "specification", "description"},
}

// augment produces the case/separator variants ml_mapper.py's _augment
// generates for one training string.
func augment(s string) []string {
	set := map[string]bool{
		s:                      true,
		strings.ToLower(s):     true,
		strings.TrimSpace(s):   true,
		strings.ReplaceAll(s, "-", " "): true,
		strings.ReplaceAll(s, "_", " "): true,
		strings.ReplaceAll(s, "/", " "): true,
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// MappingSource supplies training examples: a set of (source column
// string, canonical label) pairs harvested from every non-null mapping in
// the registry.
type MappingSource interface {
	// TrainingPairs returns every declared canonical-field -> source-column
	// mapping across all exchanges, as (column, label) pairs.
	TrainingPairs() [][2]string
}

// NaiveBayes is a from-scratch multinomial Naive Bayes classifier over
// character n-grams (n in [2,5]), trained on the registry's declared
// mappings plus the fixed synonym list, mirroring ml_mapper.py's training
// corpus construction exactly while replacing its sklearn pipeline with
// plain arithmetic.
type NaiveBayes struct {
	labels      []string
	vocab       map[string]int
	// classLogPrior[c] = log P(class c)
	classLogPrior map[string]float64
	// featureLogProb[c][ngram] = log P(ngram | c), Laplace-smoothed
	featureLogProb map[string]map[string]float64
	classTotal     map[string]float64
}

// Train builds a NaiveBayes model from every (column, label) pair the
// source provides, after synonym augmentation, matching ml_mapper.py's
// fit_from_yaml. Returns ModelUnavailable if the resulting training set is
// empty.
func Train(src MappingSource) (*NaiveBayes, error) {
	pairs := src.TrainingPairs()

	type example struct {
		text  string
		label string
	}
	examples := make([]example, 0, len(pairs)*4)
	for _, p := range pairs {
		col, label := p[0], p[1]
		for _, v := range augment(col) {
			examples = append(examples, example{text: v, label: label})
		}
	}
	for label, syns := range synonyms {
		for _, syn := range syns {
			for _, v := range augment(syn) {
				examples = append(examples, example{text: v, label: label})
			}
		}
	}

	if len(examples) == 0 {
		return nil, &ModelUnavailableError{}
	}

	nb := &NaiveBayes{
		vocab:          map[string]int{},
		classLogPrior:  map[string]float64{},
		featureLogProb: map[string]map[string]float64{},
		classTotal:     map[string]float64{},
	}

	labelSet := map[string]bool{}
	classCounts := map[string]float64{}
	classNgramCounts := map[string]map[string]float64{}

	for _, ex := range examples {
		labelSet[ex.label] = true
		classCounts[ex.label]++
		ngrams := charNgrams(ex.text)
		if classNgramCounts[ex.label] == nil {
			classNgramCounts[ex.label] = map[string]float64{}
		}
		for _, g := range ngrams {
			nb.vocab[g]++
			classNgramCounts[ex.label][g]++
			nb.classTotal[ex.label]++
		}
	}

	nb.labels = lo.Keys(labelSet)
	sort.Strings(nb.labels)

	total := float64(len(examples))
	vocabSize := float64(len(nb.vocab))
	for _, label := range nb.labels {
		nb.classLogPrior[label] = math.Log(classCounts[label] / total)
		nb.featureLogProb[label] = map[string]float64{}
		denom := nb.classTotal[label] + vocabSize
		for g, count := range classNgramCounts[label] {
			nb.featureLogProb[label][g] = math.Log((count + 1) / denom)
		}
	}

	log.WithField("examples", len(examples)).Info("trained column-label classifier")
	return nb, nil
}

// charNgrams produces character n-grams for n in [2,5] over a
// word-boundary-padded lowercase string, approximating sklearn's
// analyzer='char_wb'.
func charNgrams(s string) []string {
	s = " " + strings.ToLower(strings.TrimSpace(s)) + " "
	runes := []rune(s)
	var out []string
	for n := 2; n <= 5; n++ {
		if len(runes) < n {
			continue
		}
		for i := 0; i+n <= len(runes); i++ {
			out = append(out, string(runes[i:i+n]))
		}
	}
	return out
}

// scoreAll returns, for one column string, the log-probability of each
// label, and the softmax-normalized probability the engine treats as
// confidence.
func (nb *NaiveBayes) scoreAll(col string) map[string]float64 {
	ngrams := charNgrams(col)
	logScores := make(map[string]float64, len(nb.labels))
	maxScore := math.Inf(-1)
	for _, label := range nb.labels {
		score := nb.classLogPrior[label]
		vocabSize := float64(len(nb.vocab))
		denom := nb.classTotal[label] + vocabSize
		defaultLogProb := math.Log(1 / denom)
		for _, g := range ngrams {
			if p, ok := nb.featureLogProb[label][g]; ok {
				score += p
			} else {
				score += defaultLogProb
			}
		}
		logScores[label] = score
		if score > maxScore {
			maxScore = score
		}
	}
	// softmax, numerically stable
	var sum float64
	probs := make(map[string]float64, len(nb.labels))
	for _, label := range nb.labels {
		e := math.Exp(logScores[label] - maxScore)
		probs[label] = e
		sum += e
	}
	for label := range probs {
		probs[label] /= sum
	}
	return probs
}

// Predict enumerates all (col, label) pairs with probability >= 0.5,
// sorts by probability descending, and greedily assigns while enforcing
// uniqueness of both columns and labels and the minimum confidence
// threshold. Ties in probability break by column index.
func (nb *NaiveBayes) Predict(columns []string, threshold float64) map[string]Assignment {
	type pair struct {
		prob  float64
		colIx int
		label string
	}
	var pairs []pair
	for i, col := range columns {
		probs := nb.scoreAll(col)
		for _, label := range nb.labels {
			if p := probs[label]; p >= 0.5 {
				pairs = append(pairs, pair{prob: p, colIx: i, label: label})
			}
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

// persistedModel is the on-disk form of a trained NaiveBayes.
type persistedModel struct {
	Labels         []string                      `json:"labels"`
	Vocab          map[string]int                `json:"vocab"`
	ClassLogPrior  map[string]float64            `json:"class_log_prior"`
	FeatureLogProb map[string]map[string]float64 `json:"feature_log_prob"`
	ClassTotal     map[string]float64            `json:"class_total"`
}

// Save persists the trained model to path as JSON.
func (nb *NaiveBayes) Save(path string) error {
	pm := persistedModel{
		Labels:         nb.labels,
		Vocab:          nb.vocab,
		ClassLogPrior:  nb.classLogPrior,
		FeatureLogProb: nb.featureLogProb,
		ClassTotal:     nb.classTotal,
	}
	data, err := json.Marshal(pm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadModel loads a previously persisted model from path.
func LoadModel(path string) (*NaiveBayes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pm persistedModel
	if err := json.Unmarshal(data, &pm); err != nil {
		return nil, err
	}
	return &NaiveBayes{
		labels:         pm.Labels,
		vocab:          pm.Vocab,
		classLogPrior:  pm.ClassLogPrior,
		featureLogProb: pm.FeatureLogProb,
		classTotal:     pm.ClassTotal,
	}, nil
}

// LoadOrTrain loads a persisted model from path if present; otherwise
// trains one from src and persists it, matching ml_mapper.py's
// load_or_fit: absent a persisted model, training runs on first use.
func LoadOrTrain(path string, src MappingSource) (*NaiveBayes, error) {
	if path != "" {
		if nb, err := LoadModel(path); err == nil {
			return nb, nil
		}
	}
	nb, err := Train(src)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := nb.Save(path); err != nil {
			log.WithError(err).Warn("failed to persist trained classifier model")
		}
	}
	return nb, nil
}

// ModelUnavailableError is returned by Train when the training corpus is
// empty; callers must treat it as a soft failure and fall back to
// declarative mapping alone.
type ModelUnavailableError struct{}

func (e *ModelUnavailableError) Error() string { return "classifier: no training data available" }
