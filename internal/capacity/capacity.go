// Package capacity compares live circle membership with the configured
// recommended and maximum sizes, and proposes moves out of crowded circles.
package capacity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/config"
)

// Status is a circle's fill level.
type Status string

const (
	StatusUnder   Status = "under"
	StatusOptimal Status = "optimal"
	StatusOver    Status = "over"
)

// StatusFor classifies a membership count.
func StatusFor(current, recommended, max int) Status {
	switch {
	case current < recommended:
		return StatusUnder
	case current > max:
		return StatusOver
	}
	return StatusOptimal
}

// Report is the capacity state of one circle.
type Report struct {
	Circle          circles.Circle `json:"circle"`
	CurrentSize     int            `json:"current_size"`
	RecommendedSize int            `json:"recommended_size"`
	MaxSize         int            `json:"max_size"`
	Status          Status         `json:"status"`
}

// DistributionSource supplies live, archive-excluded circle counts.
type DistributionSource interface {
	GetCircleDistribution(ctx context.Context, userID string) (circles.CircleDistribution, error)
}

// Analyzer reports circle capacity.
type Analyzer struct {
	dist   DistributionSource
	cfg    config.CapacityConfig
	logger *zap.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(dist DistributionSource, cfg config.CapacityConfig, logger *zap.Logger) *Analyzer {
	return &Analyzer{dist: dist, cfg: cfg, logger: logger.Named("capacity")}
}

// ValidateCircleCapacity reports one circle. Circles without a configured
// capacity (the overflow tier) return ErrInvalidCircle.
func (a *Analyzer) ValidateCircleCapacity(ctx context.Context, userID string, circle circles.Circle) (Report, error) {
	def, ok := a.cfg.Definition(circle)
	if !ok {
		return Report{}, fmt.Errorf("%w: %q has no capacity limit", circles.ErrInvalidCircle, circle)
	}
	d, err := a.dist.GetCircleDistribution(ctx, userID)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read distribution: %w", err)
	}
	return report(def, d), nil
}

// Report returns every configured circle in configuration order.
func (a *Analyzer) Report(ctx context.Context, userID string) ([]Report, error) {
	d, err := a.dist.GetCircleDistribution(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read distribution: %w", err)
	}
	out := make([]Report, 0, len(a.cfg.Circles))
	for _, def := range a.cfg.Circles {
		r := report(def, d)
		if r.Status == StatusOver {
			a.logger.Info("Circle over capacity",
				zap.String("user_id", userID),
				zap.String("circle", string(def.Circle)),
				zap.Int("current", r.CurrentSize),
				zap.Int("max", r.MaxSize))
		}
		out = append(out, r)
	}
	return out, nil
}

func report(def circles.CircleDefinition, d circles.CircleDistribution) Report {
	current := d.Count(def.Circle)
	return Report{
		Circle:          def.Circle,
		CurrentSize:     current,
		RecommendedSize: def.RecommendedSize,
		MaxSize:         def.MaxSize,
		Status:          StatusFor(current, def.RecommendedSize, def.MaxSize),
	}
}
