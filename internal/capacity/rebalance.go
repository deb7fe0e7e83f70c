package capacity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/config"
	"github.com/circle-kernel/internal/metrics"
)

// RebalanceSuggestion proposes moving Count contacts from an over-full circle
// to the next larger one.
type RebalanceSuggestion struct {
	From            circles.Circle `json:"from"`
	To              circles.Circle `json:"to"`
	Count           int            `json:"count"`
	CurrentSize     int            `json:"current_size"`
	RecommendedSize int            `json:"recommended_size"`
	Confidence      float64        `json:"confidence"`
	Reason          string         `json:"reason"`
	// CandidateIDs lists the members most suited to move, best first.
	CandidateIDs []string `json:"candidate_ids,omitempty"`
}

// Advisor proposes rebalancing moves.
type Advisor struct {
	dist     DistributionSource
	contacts circles.ContactStore
	records  circles.AssignmentStore
	cfg      config.CapacityConfig
	logger   *zap.Logger
}

// NewAdvisor creates an advisor. contacts and records are used only to pick
// candidate members and may be nil.
func NewAdvisor(dist DistributionSource, contacts circles.ContactStore, records circles.AssignmentStore, cfg config.CapacityConfig, logger *zap.Logger) *Advisor {
	return &Advisor{
		dist:     dist,
		contacts: contacts,
		records:  records,
		cfg:      cfg,
		logger:   logger.Named("rebalance"),
	}
}

// SuggestCircleRebalancing checks every configured circle except the one with
// the largest capacity. A circle holding more than RebalanceRatio times its
// recommended size gets a suggestion to move the excess to the next larger
// circle.
func (a *Advisor) SuggestCircleRebalancing(ctx context.Context, userID string) ([]RebalanceSuggestion, error) {
	d, err := a.dist.GetCircleDistribution(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read distribution: %w", err)
	}

	defs := bySize(a.cfg.Circles)
	var out []RebalanceSuggestion
	for i := 0; i < len(defs)-1; i++ {
		def, next := defs[i], defs[i+1]
		current := d.Count(def.Circle)
		if float64(current) <= a.cfg.RebalanceRatio*float64(def.RecommendedSize) {
			continue
		}
		s := RebalanceSuggestion{
			From:            def.Circle,
			To:              next.Circle,
			Count:           current - def.RecommendedSize,
			CurrentSize:     current,
			RecommendedSize: def.RecommendedSize,
			Confidence:      a.cfg.RebalanceConfidence,
			Reason: fmt.Sprintf("%s circle is over capacity (%d contacts, recommended %d); consider moving %d to %s",
				def.Circle.Label(), current, def.RecommendedSize, current-def.RecommendedSize, next.Circle.Label()),
		}
		ids, err := a.candidates(ctx, userID, def.Circle, s.Count)
		if err != nil {
			a.logger.Warn("Failed to rank rebalance candidates",
				zap.String("circle", string(def.Circle)),
				zap.Error(err))
		}
		s.CandidateIDs = ids
		metrics.RebalanceSuggestions.WithLabelValues(string(def.Circle)).Inc()
		out = append(out, s)
	}
	return out, nil
}

// bySize orders definitions by ascending capacity; the last is the largest
// circle and never a source.
func bySize(defs []circles.CircleDefinition) []circles.CircleDefinition {
	out := make([]circles.CircleDefinition, len(defs))
	copy(out, defs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MaxSize != out[j].MaxSize {
			return out[i].MaxSize < out[j].MaxSize
		}
		return out[i].RecommendedSize < out[j].RecommendedSize
	})
	return out
}

type candidate struct {
	id         string
	ai         bool
	confidence int
	at         time.Time
}

// candidates ranks circle members: AI-made placements with the lowest
// confidence first, then user placements oldest first.
func (a *Advisor) candidates(ctx context.Context, userID string, circle circles.Circle, limit int) ([]string, error) {
	if a.contacts == nil || a.records == nil || limit <= 0 {
		return nil, nil
	}
	members, err := a.contacts.FindAll(ctx, userID, circles.ContactFilter{Circle: &circle})
	if err != nil {
		return nil, err
	}

	ranked := make([]candidate, 0, len(members))
	for _, m := range members {
		c := candidate{id: m.ID}
		history, err := a.records.FindByContactID(ctx, userID, m.ID)
		if err != nil {
			return nil, err
		}
		if len(history) > 0 {
			last := history[0]
			c.at = last.Timestamp
			if last.AssignedBy == circles.AssignedByAI {
				c.ai = true
				c.confidence = 100
				if last.Confidence != nil {
					c.confidence = *last.Confidence
				}
			}
		}
		ranked = append(ranked, c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		x, y := ranked[i], ranked[j]
		if x.ai != y.ai {
			return x.ai
		}
		if x.ai && x.confidence != y.confidence {
			return x.confidence < y.confidence
		}
		if !x.at.Equal(y.at) {
			return x.at.Before(y.at)
		}
		return x.id < y.id
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.id
	}
	return ids, nil
}
