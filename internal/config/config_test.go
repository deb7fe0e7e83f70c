package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circle-kernel/internal/circles"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.InDelta(t, 1.0, cfg.Weights.SteadyState.Total(), 1e-9)
	assert.InDelta(t, 1.0, cfg.Weights.Onboarding.Total(), 1e-9)
}

func TestOnboardingFavoursColdStartSignals(t *testing.T) {
	w := Default().Weights
	assert.Greater(t, w.Onboarding.Calendar, w.Onboarding.Frequency)
	assert.Greater(t, w.Onboarding.Metadata, w.Onboarding.Recency)
	assert.Zero(t, w.SteadyState.Calendar)
	assert.Zero(t, w.SteadyState.Metadata)
	assert.Zero(t, w.SteadyState.ContactAge)
}

func TestBandTable(t *testing.T) {
	s := Default().Signals

	assert.Equal(t, 95, s.Frequency.AtLeast(25))
	assert.Equal(t, 85, s.Frequency.AtLeast(10))
	assert.Equal(t, 25, s.Frequency.AtLeast(0.5))
	assert.Equal(t, 10, s.Frequency.AtLeast(0.2))

	assert.Equal(t, 100, s.Recency.Below(0))
	assert.Equal(t, 85, s.Recency.Below(7))
	assert.Equal(t, 20, s.Recency.Below(179))
	assert.Equal(t, 10, s.Recency.Below(180))

	assert.Equal(t, 85, s.ContactAge.AtLeast(48))
}

func TestMetadataMax(t *testing.T) {
	m := Default().Signals.Metadata
	// 5+5+10+10 + 5 social platforms * 5 + cap 15
	assert.Equal(t, 70, m.Max())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative weight", func(c *Config) { c.Weights.SteadyState.Recency = -1 }},
		{"zero profile", func(c *Config) { c.Weights.Onboarding = FactorWeights{} }},
		{"unordered tiers", func(c *Config) {
			c.Classifier.Tiers[0], c.Classifier.Tiers[1] = c.Classifier.Tiers[1], c.Classifier.Tiers[0]
		}},
		{"non-exhaustive tiers", func(c *Config) { c.Classifier.Tiers[3].MinScore = 5 }},
		{"unknown tier circle", func(c *Config) { c.Classifier.Tiers[0].Circle = "bestie" }},
		{"recommended above max", func(c *Config) { c.Capacity.Circles[0].RecommendedSize = 20 }},
		{"ascending frequency bands", func(c *Config) {
			c.Signals.Frequency.Bands = []Band{{1, 10}, {2, 20}}
		}},
		{"zero concurrency", func(c *Config) { c.Batch.Concurrency = 0 }},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"alternative weight", func(c *Config) { c.Classifier.AlternativeWeight = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, circles.ErrInvalidConfig))
		})
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "circles.yaml")
	data := []byte(`
version: "2025.1"
cache:
  ttl: 2m
batch:
  concurrency: 3
capacity:
  circles:
    - circle: inner
      recommended_size: 4
      max_size: 8
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "2025.1", cfg.Version)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10000, cfg.Cache.MaxEntries)
	assert.Equal(t, 3, cfg.Batch.Concurrency)
	require.Len(t, cfg.Capacity.Circles, 1)

	def, ok := cfg.Capacity.Definition(circles.CircleInner)
	require.True(t, ok)
	assert.Equal(t, 4, def.RecommendedSize)
	_, ok = cfg.Capacity.Definition(circles.CircleClose)
	assert.False(t, ok)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch:\n  concurrency: -1\n"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, circles.ErrInvalidConfig)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
