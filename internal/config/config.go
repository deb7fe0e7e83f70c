// Package config holds the versioned tuning surface of the circle engine:
// factor weight profiles, signal breakpoints, classifier tiers, circle
// capacities and cache/batch limits. Behaviour changes are data changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/circle-kernel/internal/circles"
)

// CurrentVersion is the version stamped on Default().
const CurrentVersion = "2024.3"

// Config is the complete engine configuration.
type Config struct {
	Version    string           `yaml:"version"`
	Weights    WeightProfiles   `yaml:"weights"`
	Signals    SignalConfig     `yaml:"signals"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Capacity   CapacityConfig   `yaml:"capacity"`
	Cache      CacheConfig      `yaml:"cache"`
	Batch      BatchConfig      `yaml:"batch"`
}

// WeightProfiles holds one weight set per scoring mode.
type WeightProfiles struct {
	SteadyState FactorWeights `yaml:"steady_state"`
	Onboarding  FactorWeights `yaml:"onboarding"`
}

// For returns the profile used by mode.
func (p WeightProfiles) For(mode circles.Mode) FactorWeights {
	if mode == circles.ModeOnboarding {
		return p.Onboarding
	}
	return p.SteadyState
}

// FactorWeights assigns a non-negative weight to every factor kind.
// A zero weight drops the factor from the suggestion.
type FactorWeights struct {
	Frequency    float64 `yaml:"frequency"`
	Recency      float64 `yaml:"recency"`
	Consistency  float64 `yaml:"consistency"`
	MultiChannel float64 `yaml:"multi_channel"`
	Calendar     float64 `yaml:"calendar"`
	Metadata     float64 `yaml:"metadata"`
	ContactAge   float64 `yaml:"contact_age"`
}

// For returns the weight of kind.
func (w FactorWeights) For(kind circles.FactorKind) float64 {
	switch kind {
	case circles.FactorFrequency:
		return w.Frequency
	case circles.FactorRecency:
		return w.Recency
	case circles.FactorConsistency:
		return w.Consistency
	case circles.FactorMultiChannel:
		return w.MultiChannel
	case circles.FactorCalendar:
		return w.Calendar
	case circles.FactorMetadata:
		return w.Metadata
	case circles.FactorContactAge:
		return w.ContactAge
	}
	return 0
}

// Total sums all weights.
func (w FactorWeights) Total() float64 {
	return w.Frequency + w.Recency + w.Consistency + w.MultiChannel + w.Calendar + w.Metadata + w.ContactAge
}

// SignalConfig configures the factor breakpoints.
type SignalConfig struct {
	// FrequencyWindowMonths is the trailing window for interaction frequency.
	FrequencyWindowMonths int `yaml:"frequency_window_months"`
	// Frequency maps interactions/month to a score (highest bound first).
	Frequency BandTable `yaml:"frequency"`
	// Recency maps days since last interaction to a score (lowest bound first).
	Recency BandTable `yaml:"recency"`
	// Consistency maps the coefficient of variation of gaps (lowest bound first).
	Consistency                BandTable `yaml:"consistency"`
	ConsistencyMinInteractions int       `yaml:"consistency_min_interactions"`
	ConsistencyNeutral         int       `yaml:"consistency_neutral"`
	// MultiChannel maps distinct channel count (highest bound first).
	MultiChannel BandTable `yaml:"multi_channel"`
	// Calendar maps co-occurring event count (highest bound first).
	Calendar             BandTable `yaml:"calendar"`
	CalendarWindowMonths int       `yaml:"calendar_window_months"`
	// ContactAge maps months since creation (highest bound first).
	ContactAge        BandTable `yaml:"contact_age"`
	ContactAgeUnknown int       `yaml:"contact_age_unknown"`

	// Baselines used in onboarding mode when a contact has no history yet.
	OnboardingFrequencyBaseline int `yaml:"onboarding_frequency_baseline"`
	OnboardingRecencyBaseline   int `yaml:"onboarding_recency_baseline"`

	Metadata MetadataPoints `yaml:"metadata"`
}

// MetadataPoints are the additive points for populated contact fields.
type MetadataPoints struct {
	Email            int      `yaml:"email"`
	Phone            int      `yaml:"phone"`
	Location         int      `yaml:"location"`
	Notes            int      `yaml:"notes"`
	PerSocialProfile int      `yaml:"per_social_profile"`
	PerOtherPlatform int      `yaml:"per_other_platform"`
	OtherPlatformCap int      `yaml:"other_platform_cap"`
	SocialPlatforms  []string `yaml:"social_platforms"`
}

// Max is the raw score of a fully populated contact, used for rescaling.
func (m MetadataPoints) Max() int {
	return m.Email + m.Phone + m.Location + m.Notes +
		m.PerSocialProfile*len(m.SocialPlatforms) + m.OtherPlatformCap
}

// ClassifierConfig configures the score-to-circle mapping.
type ClassifierConfig struct {
	// Tiers are ordered by descending MinScore; the last tier must start at 0.
	Tiers []Tier `yaml:"tiers"`
	// AlternativeWeight scales a neighbour tier's confidence relative to the
	// primary pick. Must be in (0, 1).
	AlternativeWeight float64 `yaml:"alternative_weight"`
}

// Tier maps scores >= MinScore to Circle with a tier-local linear confidence.
type Tier struct {
	Circle         circles.Circle `yaml:"circle"`
	MinScore       float64        `yaml:"min_score"`
	BaseConfidence float64        `yaml:"base_confidence"`
	Slope          float64        `yaml:"slope"`
}

// CapacityConfig configures circle sizes and rebalancing.
type CapacityConfig struct {
	Circles             []circles.CircleDefinition `yaml:"circles"`
	RebalanceRatio      float64                    `yaml:"rebalance_ratio"`
	RebalanceConfidence float64                    `yaml:"rebalance_confidence"`
}

// Definition returns the capacity entry for c.
func (c CapacityConfig) Definition(circle circles.Circle) (circles.CircleDefinition, bool) {
	for _, d := range c.Circles {
		if d.Circle == circle {
			return d, true
		}
	}
	return circles.CircleDefinition{}, false
}

// CacheConfig configures the suggestion cache.
type CacheConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	MaxEntries  int           `yaml:"max_entries"`
	RedisPrefix string        `yaml:"redis_prefix"`
	// CalendarTTL bounds how long a fetched calendar window is reused.
	CalendarTTL time.Duration `yaml:"calendar_ttl"`
}

// BatchConfig configures bounded-concurrency batch analysis.
type BatchConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	PerContactTimeout time.Duration `yaml:"per_contact_timeout"`
}

// Default returns the shipped configuration.
func Default() Config {
	return Config{
		Version: CurrentVersion,
		Weights: WeightProfiles{
			SteadyState: FactorWeights{
				Frequency:    0.30,
				Recency:      0.25,
				Consistency:  0.20,
				MultiChannel: 0.25,
			},
			Onboarding: FactorWeights{
				Frequency:    0.10,
				Recency:      0.10,
				Consistency:  0.05,
				MultiChannel: 0.05,
				Calendar:     0.30,
				Metadata:     0.25,
				ContactAge:   0.15,
			},
		},
		Signals: SignalConfig{
			FrequencyWindowMonths: 6,
			Frequency: BandTable{
				Bands:    []Band{{20, 95}, {10, 85}, {8, 80}, {4, 70}, {2, 50}, {1, 40}, {0.5, 25}},
				Fallback: 10,
			},
			Recency: BandTable{
				Bands:    []Band{{7, 100}, {14, 85}, {30, 70}, {60, 50}, {90, 35}, {180, 20}},
				Fallback: 10,
			},
			Consistency: BandTable{
				Bands:    []Band{{0.3, 90}, {0.5, 75}, {0.8, 60}, {1.2, 45}},
				Fallback: 30,
			},
			ConsistencyMinInteractions: 3,
			ConsistencyNeutral:         50,
			MultiChannel: BandTable{
				Bands:    []Band{{4, 100}, {3, 80}, {2, 60}, {1, 40}},
				Fallback: 0,
			},
			Calendar: BandTable{
				Bands:    []Band{{10, 100}, {5, 80}, {3, 60}, {1, 40}},
				Fallback: 0,
			},
			CalendarWindowMonths: 12,
			ContactAge: BandTable{
				Bands:    []Band{{60, 100}, {36, 85}, {24, 70}, {12, 55}, {6, 40}, {3, 25}},
				Fallback: 10,
			},
			ContactAgeUnknown:           50,
			OnboardingFrequencyBaseline: 30,
			OnboardingRecencyBaseline:   20,
			Metadata: MetadataPoints{
				Email:            5,
				Phone:            5,
				Location:         10,
				Notes:            10,
				PerSocialProfile: 5,
				PerOtherPlatform: 5,
				OtherPlatformCap: 15,
				SocialPlatforms:  []string{"linkedin", "twitter", "facebook", "instagram", "github"},
			},
		},
		Classifier: ClassifierConfig{
			Tiers: []Tier{
				{Circle: circles.CircleInner, MinScore: 65, BaseConfidence: 70, Slope: 1.0},
				{Circle: circles.CircleClose, MinScore: 45, BaseConfidence: 60, Slope: 1.5},
				{Circle: circles.CircleActive, MinScore: 25, BaseConfidence: 55, Slope: 1.5},
				{Circle: circles.CircleCasual, MinScore: 0, BaseConfidence: 40, Slope: 1.0},
			},
			AlternativeWeight: 0.8,
		},
		Capacity: CapacityConfig{
			Circles: []circles.CircleDefinition{
				{Circle: circles.CircleInner, RecommendedSize: 5, MaxSize: 10},
				{Circle: circles.CircleClose, RecommendedSize: 15, MaxSize: 25},
				{Circle: circles.CircleActive, RecommendedSize: 50, MaxSize: 75},
				{Circle: circles.CircleCasual, RecommendedSize: 150, MaxSize: 200},
			},
			RebalanceRatio:      1.5,
			RebalanceConfidence: 0.7,
		},
		Cache: CacheConfig{
			TTL:         5 * time.Minute,
			MaxEntries:  10000,
			RedisPrefix: "circles:suggestion",
			CalendarTTL: time.Minute,
		},
		Batch: BatchConfig{
			Concurrency:       5,
			PerContactTimeout: 30 * time.Second,
		},
	}
}

// Load reads a YAML file layered over Default() and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks internal consistency. Errors wrap circles.ErrInvalidConfig.
func (c Config) Validate() error {
	for name, w := range map[string]FactorWeights{
		"steady_state": c.Weights.SteadyState,
		"onboarding":   c.Weights.Onboarding,
	} {
		for _, v := range []float64{w.Frequency, w.Recency, w.Consistency, w.MultiChannel, w.Calendar, w.Metadata, w.ContactAge} {
			if v < 0 {
				return invalid("weights.%s: negative weight %v", name, v)
			}
		}
		if w.Total() <= 0 {
			return invalid("weights.%s: total weight must be positive", name)
		}
	}

	s := c.Signals
	if s.FrequencyWindowMonths <= 0 {
		return invalid("signals.frequency_window_months must be positive")
	}
	if s.ConsistencyMinInteractions < 2 {
		return invalid("signals.consistency_min_interactions must be at least 2")
	}
	for name, t := range map[string]BandTable{
		"frequency":     s.Frequency,
		"multi_channel": s.MultiChannel,
		"calendar":      s.Calendar,
		"contact_age":   s.ContactAge,
	} {
		if err := t.validate(true); err != nil {
			return invalid("signals.%s: %v", name, err)
		}
	}
	for name, t := range map[string]BandTable{
		"recency":     s.Recency,
		"consistency": s.Consistency,
	} {
		if err := t.validate(false); err != nil {
			return invalid("signals.%s: %v", name, err)
		}
	}
	for name, v := range map[string]int{
		"consistency_neutral":           s.ConsistencyNeutral,
		"contact_age_unknown":           s.ContactAgeUnknown,
		"onboarding_frequency_baseline": s.OnboardingFrequencyBaseline,
		"onboarding_recency_baseline":   s.OnboardingRecencyBaseline,
	} {
		if v < 0 || v > 100 {
			return invalid("signals.%s must be within [0,100], got %d", name, v)
		}
	}
	if s.Metadata.Max() <= 0 {
		return invalid("signals.metadata: maximum points must be positive")
	}

	tiers := c.Classifier.Tiers
	if len(tiers) == 0 {
		return invalid("classifier.tiers must not be empty")
	}
	seen := make(map[circles.Circle]bool, len(tiers))
	for i, t := range tiers {
		if !t.Circle.Valid() {
			return invalid("classifier.tiers[%d]: unknown circle %q", i, t.Circle)
		}
		if seen[t.Circle] {
			return invalid("classifier.tiers[%d]: duplicate circle %q", i, t.Circle)
		}
		seen[t.Circle] = true
		if i > 0 && t.MinScore >= tiers[i-1].MinScore {
			return invalid("classifier.tiers must be ordered by descending min_score")
		}
		if t.Slope < 0 {
			return invalid("classifier.tiers[%d]: slope must not be negative", i)
		}
	}
	if tiers[len(tiers)-1].MinScore > 0 {
		return invalid("classifier.tiers: lowest tier must start at 0")
	}
	if w := c.Classifier.AlternativeWeight; w <= 0 || w >= 1 {
		return invalid("classifier.alternative_weight must be within (0,1)")
	}

	defs := make(map[circles.Circle]bool, len(c.Capacity.Circles))
	for _, d := range c.Capacity.Circles {
		if !d.Circle.Valid() {
			return invalid("capacity.circles: unknown circle %q", d.Circle)
		}
		if defs[d.Circle] {
			return invalid("capacity.circles: duplicate circle %q", d.Circle)
		}
		defs[d.Circle] = true
		if d.RecommendedSize <= 0 || d.MaxSize < d.RecommendedSize {
			return invalid("capacity.circles[%s]: need 0 < recommended_size <= max_size", d.Circle)
		}
	}
	if c.Capacity.RebalanceRatio < 1 {
		return invalid("capacity.rebalance_ratio must be at least 1")
	}
	if v := c.Capacity.RebalanceConfidence; v < 0 || v > 1 {
		return invalid("capacity.rebalance_confidence must be within [0,1]")
	}

	if c.Cache.TTL <= 0 || c.Cache.MaxEntries <= 0 {
		return invalid("cache: ttl and max_entries must be positive")
	}
	if c.Batch.Concurrency <= 0 {
		return invalid("batch.concurrency must be positive")
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", circles.ErrInvalidConfig, fmt.Sprintf(format, args...))
}
