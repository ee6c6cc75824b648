package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleClassifierExactLabelMatch(t *testing.T) {
	rc := NewRuleClassifier()
	assignments := rc.Predict([]string{"timestamp", "kind", "base_asset", "base_amount"}, 0.5)
	assert.Equal(t, "timestamp", assignments["timestamp"].Label)
	assert.Equal(t, 1.0, assignments["timestamp"].Confidence)
}

func TestRuleClassifierSynonymMatch(t *testing.T) {
	rc := NewRuleClassifier()
	assignments := rc.Predict([]string{"Date(UTC)", "Operation", "Coin", "Change"}, 0.5)
	assert.Equal(t, "timestamp", assignments["Date(UTC)"].Label)
	assert.Equal(t, "kind", assignments["Operation"].Label)
	assert.Equal(t, "base_asset", assignments["Coin"].Label)
	assert.Equal(t, "base_amount", assignments["Change"].Label)
}

func TestRuleClassifierNoMatchBelowThreshold(t *testing.T) {
	rc := NewRuleClassifier()
	assignments := rc.Predict([]string{"xyz123"}, 0.5)
	assert.Empty(t, assignments)
}

func TestRuleClassifierUniqueAssignment(t *testing.T) {
	rc := NewRuleClassifier()
	assignments := rc.Predict([]string{"amount", "quantity", "vol"}, 0.3)
	seenLabels := map[string]bool{}
	for _, a := range assignments {
		assert.False(t, seenLabels[a.Label])
		seenLabels[a.Label] = true
	}
}

func TestRuleClassifierSatisfiesPredictor(t *testing.T) {
	var p Predictor = NewRuleClassifier()
	assert.NotNil(t, p)
}
