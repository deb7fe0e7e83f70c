package scoring

import (
	"math"
	"sort"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/config"
)

// Classification is the circle picked for a score.
type Classification struct {
	Circle       circles.Circle
	Confidence   int
	Alternatives []circles.AlternativeCircle
}

// Classifier maps scores onto circles using ordered tiers.
type Classifier struct {
	tiers     []config.Tier
	altWeight float64
}

// NewClassifier creates a classifier. cfg is expected to have passed
// config.Validate: tiers ordered by descending MinScore, the last at 0.
func NewClassifier(cfg config.ClassifierConfig) *Classifier {
	tiers := make([]config.Tier, len(cfg.Tiers))
	copy(tiers, cfg.Tiers)
	return &Classifier{tiers: tiers, altWeight: cfg.AlternativeWeight}
}

// Classify returns the circle for score together with its confidence and the
// neighbouring tiers as alternatives, sorted by descending confidence.
func (c *Classifier) Classify(score float64) Classification {
	score = clamp(score, 0, 100)
	i := c.tierIndex(score)
	tier := c.tiers[i]

	conf := confidence(tier, score)
	out := Classification{Circle: tier.Circle, Confidence: conf}

	lower, upper := c.bounds(i)
	width := upper - lower

	if i > 0 {
		c.addAlternative(&out, c.tiers[i-1].Circle, conf, upper-score, width)
	}
	if i < len(c.tiers)-1 {
		c.addAlternative(&out, c.tiers[i+1].Circle, conf, score-lower, width)
	}

	sort.SliceStable(out.Alternatives, func(a, b int) bool {
		return out.Alternatives[a].Confidence > out.Alternatives[b].Confidence
	})
	return out
}

func (c *Classifier) tierIndex(score float64) int {
	for i, t := range c.tiers {
		if score >= t.MinScore {
			return i
		}
	}
	return len(c.tiers) - 1
}

// bounds returns the score range [lower, upper) covered by tier i. The top
// tier extends to 100.
func (c *Classifier) bounds(i int) (float64, float64) {
	lower := c.tiers[i].MinScore
	upper := 100.0
	if i > 0 {
		upper = c.tiers[i-1].MinScore
	}
	return lower, upper
}

// addAlternative scales the primary confidence by how close the score sits
// to the neighbouring tier's boundary.
func (c *Classifier) addAlternative(out *Classification, circle circles.Circle, primary int, distance, width float64) {
	closeness := 0.0
	if width > 0 {
		closeness = clamp(1-distance/width, 0, 1)
	}
	conf := int(math.Floor(float64(primary) * c.altWeight * closeness))
	if conf <= 0 {
		return
	}
	out.Alternatives = append(out.Alternatives, circles.AlternativeCircle{Circle: circle, Confidence: conf})
}

func confidence(t config.Tier, score float64) int {
	v := t.BaseConfidence + t.Slope*(score-t.MinScore)
	return int(math.Round(clamp(v, 0, 100)))
}
