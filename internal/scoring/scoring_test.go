package scoring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/config"
)

func factor(kind circles.FactorKind, weight float64, value int) circles.SuggestionFactor {
	return circles.SuggestionFactor{Kind: kind, Weight: weight, Value: value}
}

func TestWeightedScore(t *testing.T) {
	assert.Zero(t, WeightedScore(nil))
	assert.Zero(t, WeightedScore([]circles.SuggestionFactor{factor(circles.FactorRecency, 0, 90)}))

	got := WeightedScore([]circles.SuggestionFactor{
		factor(circles.FactorFrequency, 0.5, 80),
		factor(circles.FactorRecency, 0.5, 40),
	})
	assert.InDelta(t, 60, got, 1e-9)

	// Independent of how many factors are present.
	got = WeightedScore([]circles.SuggestionFactor{factor(circles.FactorRecency, 0.25, 70)})
	assert.InDelta(t, 70, got, 1e-9)
}

func TestColdStartContactStaysBelowClose(t *testing.T) {
	w := config.Default().Weights.Onboarding
	factors := []circles.SuggestionFactor{
		factor(circles.FactorFrequency, w.Frequency, 30),
		factor(circles.FactorRecency, w.Recency, 20),
		factor(circles.FactorConsistency, w.Consistency, 50),
		factor(circles.FactorMultiChannel, w.MultiChannel, 0),
		factor(circles.FactorCalendar, w.Calendar, 0),
		factor(circles.FactorMetadata, w.Metadata, 7),
		factor(circles.FactorContactAge, w.ContactAge, 85),
	}
	score := WeightedScore(factors)
	assert.InDelta(t, 22, score, 1e-9)

	got := NewClassifier(config.Default().Classifier).Classify(score)
	assert.Equal(t, circles.CircleCasual, got.Circle)
	assert.LessOrEqual(t, got.Circle.Tightness(), circles.CircleClose.Tightness())
}

func TestClassify(t *testing.T) {
	c := NewClassifier(config.Default().Classifier)

	tests := []struct {
		name  string
		score float64
		want  Classification
	}{
		{"top of scale", 100, Classification{Circle: circles.CircleInner, Confidence: 100}},
		{"inner near boundary", 70, Classification{
			Circle: circles.CircleInner, Confidence: 75,
			Alternatives: []circles.AlternativeCircle{{Circle: circles.CircleClose, Confidence: 51}},
		}},
		{"close with both neighbours", 50, Classification{
			Circle: circles.CircleClose, Confidence: 68,
			Alternatives: []circles.AlternativeCircle{
				{Circle: circles.CircleActive, Confidence: 40},
				{Circle: circles.CircleInner, Confidence: 13},
			},
		}},
		{"casual", 22, Classification{
			Circle: circles.CircleCasual, Confidence: 62,
			Alternatives: []circles.AlternativeCircle{{Circle: circles.CircleActive, Confidence: 43}},
		}},
		{"bottom of scale", 0, Classification{Circle: circles.CircleCasual, Confidence: 40}},
		{"out of range clamps", 140, Classification{Circle: circles.CircleInner, Confidence: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.score))
		})
	}
}

func TestClassifyProperties(t *testing.T) {
	c := NewClassifier(config.Default().Classifier)
	rng := rand.New(rand.NewSource(42))
	kinds := []circles.FactorKind{
		circles.FactorFrequency, circles.FactorRecency, circles.FactorConsistency,
		circles.FactorMultiChannel, circles.FactorCalendar, circles.FactorMetadata, circles.FactorContactAge,
	}

	prevScore := -1.0
	var prev Classification
	for i := 0; i <= 400; i++ {
		score := float64(i) / 4
		got := c.Classify(score)
		require.GreaterOrEqual(t, got.Confidence, 0)
		require.LessOrEqual(t, got.Confidence, 100)
		for j, alt := range got.Alternatives {
			assert.NotEqual(t, got.Circle, alt.Circle)
			assert.Less(t, alt.Confidence, got.Confidence+1)
			if j > 0 {
				assert.GreaterOrEqual(t, got.Alternatives[j-1].Confidence, alt.Confidence)
			}
		}
		if prevScore >= 0 {
			assert.GreaterOrEqual(t, got.Circle.Tightness(), prev.Circle.Tightness(), "score %.2f", score)
		}
		prevScore, prev = score, got
	}

	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(len(kinds))
		factors := make([]circles.SuggestionFactor, 0, n)
		for j := 0; j < n; j++ {
			factors = append(factors, factor(kinds[j], rng.Float64()+0.01, rng.Intn(101)))
		}
		s := WeightedScore(factors)
		require.GreaterOrEqual(t, s, 0.0)
		require.LessOrEqual(t, s, 100.0)
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 33.33, Round(100.0/3))
}
