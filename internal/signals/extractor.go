// Package signals computes the bounded (0-100) behavioural factors that feed
// circle scoring: frequency, recency, consistency, channel diversity and, for
// cold-start contacts, calendar co-occurrence, metadata richness and age.
package signals

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/config"
)

// Extractor reads a contact's interaction history (and calendar, in
// onboarding mode) and turns it into weighted suggestion factors.
type Extractor struct {
	interactions circles.InteractionStore
	calendar     circles.CalendarSource
	signals      config.SignalConfig
	weights      config.WeightProfiles
	now          func() time.Time
	logger       *zap.Logger
}

// NewExtractor creates an extractor. calendar may be nil, in which case the
// calendar factor is omitted and the remaining weights are renormalized by
// the scoring engine.
func NewExtractor(interactions circles.InteractionStore, calendar circles.CalendarSource, cfg config.Config, logger *zap.Logger) *Extractor {
	return &Extractor{
		interactions: interactions,
		calendar:     calendar,
		signals:      cfg.Signals,
		weights:      cfg.Weights,
		now:          time.Now,
		logger:       logger.Named("signals"),
	}
}

// SetClock replaces the time source. Used by tests.
func (e *Extractor) SetClock(now func() time.Time) {
	e.now = now
}

// Extract returns the factor set for contact under mode. Factors with a zero
// weight in the active profile are left out. Source failures wrap
// circles.ErrTransientSignal.
func (e *Extractor) Extract(ctx context.Context, mode circles.Mode, contact circles.Contact) ([]circles.SuggestionFactor, error) {
	history, err := e.interactions.FindByContactID(ctx, contact.UserID, contact.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: interaction history for %s: %v", circles.ErrTransientSignal, contact.ID, err)
	}

	now := e.now()
	weights := e.weights.For(mode)
	factors := make([]circles.SuggestionFactor, 0, 7)
	add := func(kind circles.FactorKind, value int, desc string) {
		w := weights.For(kind)
		if w <= 0 {
			return
		}
		factors = append(factors, circles.SuggestionFactor{
			Kind:        kind,
			Weight:      w,
			Value:       clampScore(value),
			Description: desc,
		})
	}

	v, d := FrequencyScore(e.signals, mode, history, now)
	add(circles.FactorFrequency, v, d)
	v, d = RecencyScore(e.signals, mode, history, now)
	add(circles.FactorRecency, v, d)
	v, d = ConsistencyScore(e.signals, history)
	add(circles.FactorConsistency, v, d)
	v, d = MultiChannelScore(e.signals, history)
	add(circles.FactorMultiChannel, v, d)

	if mode != circles.ModeOnboarding {
		return factors, nil
	}

	if e.calendar != nil && weights.Calendar > 0 {
		from := now.AddDate(0, -e.signals.CalendarWindowMonths, 0)
		events, err := e.calendar.Events(ctx, contact.UserID, from, now)
		if err != nil {
			return nil, fmt.Errorf("%w: calendar for %s: %v", circles.ErrTransientSignal, contact.ID, err)
		}
		v, d = CalendarScore(e.signals, contact, events)
		add(circles.FactorCalendar, v, d)
	}
	v, d = MetadataScore(e.signals, contact)
	add(circles.FactorMetadata, v, d)
	v, d = ContactAgeScore(e.signals, contact, now)
	add(circles.FactorContactAge, v, d)

	e.logger.Debug("Extracted factors",
		zap.String("contact_id", contact.ID),
		zap.String("mode", string(mode)),
		zap.Int("interactions", len(history)),
		zap.Int("factors", len(factors)))

	return factors, nil
}
