// Package suggest wires signal extraction, scoring and classification into
// the cached per-contact pipeline and fans it out over batches.
package suggest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/circle-kernel/internal/batch"
	"github.com/circle-kernel/internal/cache"
	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/metrics"
	"github.com/circle-kernel/internal/scoring"
)

// FactorSource produces the weighted factors for one contact.
type FactorSource interface {
	Extract(ctx context.Context, mode circles.Mode, contact circles.Contact) ([]circles.SuggestionFactor, error)
}

// Options tune one analysis call.
type Options struct {
	// Mode defaults to steady state for Analyze and BatchAnalyze, and to
	// onboarding for AnalyzeAll.
	Mode circles.Mode
	// NoCache evicts the targeted entries and recomputes them.
	NoCache bool
	// Concurrency bounds in-flight evaluations in a batch; zero uses the
	// configured default.
	Concurrency int
}

// Analyzer produces circle suggestions.
type Analyzer struct {
	contacts    circles.ContactStore
	factors     FactorSource
	classifier  *scoring.Classifier
	cache       *cache.SuggestionCache
	coordinator *batch.Coordinator[circles.CircleSuggestion]
	now         func() time.Time
	logger      *zap.Logger
}

// NewAnalyzer creates an analyzer. suggestions may be nil to disable caching.
func NewAnalyzer(
	contacts circles.ContactStore,
	factors FactorSource,
	classifier *scoring.Classifier,
	suggestions *cache.SuggestionCache,
	coordinator *batch.Coordinator[circles.CircleSuggestion],
	logger *zap.Logger,
) *Analyzer {
	return &Analyzer{
		contacts:    contacts,
		factors:     factors,
		classifier:  classifier,
		cache:       suggestions,
		coordinator: coordinator,
		now:         time.Now,
		logger:      logger.Named("suggest"),
	}
}

// SetClock replaces the time stamped on fresh suggestions.
func (a *Analyzer) SetClock(now func() time.Time) {
	a.now = now
}

// Analyze returns the suggestion for one contact, served from cache while
// fresh. Errors (ErrNotFound, ErrTransientSignal) surface to the caller.
func (a *Analyzer) Analyze(ctx context.Context, userID, contactID string, opts Options) (circles.CircleSuggestion, error) {
	mode := modeOr(opts.Mode, circles.ModeSteadyState)
	if !mode.Valid() {
		return circles.CircleSuggestion{}, fmt.Errorf("unknown scoring mode %q", mode)
	}
	if opts.NoCache && a.cache != nil {
		a.cache.Invalidate(ctx, cache.Key{UserID: userID, ContactID: contactID, Mode: mode})
	}
	return a.analyze(ctx, userID, contactID, mode)
}

// BatchAnalyze evaluates many contacts with bounded concurrency. Failed
// contacts are reported in Result.Failed; succeeded ones arrive in
// completion order.
func (a *Analyzer) BatchAnalyze(ctx context.Context, userID string, contactIDs []string, opts Options) (batch.Result[circles.CircleSuggestion], error) {
	mode := modeOr(opts.Mode, circles.ModeSteadyState)
	if !mode.Valid() {
		return batch.Result[circles.CircleSuggestion]{}, fmt.Errorf("unknown scoring mode %q", mode)
	}
	ids := dedupe(contactIDs)

	if opts.NoCache && a.cache != nil {
		keys := make([]cache.Key, len(ids))
		for i, id := range ids {
			keys[i] = cache.Key{UserID: userID, ContactID: id, Mode: mode}
		}
		a.cache.Invalidate(ctx, keys...)
	}

	res := a.coordinator.Run(ctx, ids, opts.Concurrency, func(ctx context.Context, id string) (circles.CircleSuggestion, error) {
		return a.analyze(ctx, userID, id, mode)
	})
	return res, nil
}

// AnalyzeAll evaluates every uncategorized, non-archived contact of a user.
func (a *Analyzer) AnalyzeAll(ctx context.Context, userID string, opts Options) (batch.Result[circles.CircleSuggestion], error) {
	none := circles.CircleNone
	contacts, err := a.contacts.FindAll(ctx, userID, circles.ContactFilter{Circle: &none})
	if err != nil {
		return batch.Result[circles.CircleSuggestion]{}, fmt.Errorf("failed to list uncategorized contacts: %w", err)
	}
	ids := make([]string, len(contacts))
	for i, c := range contacts {
		ids[i] = c.ID
	}
	opts.Mode = modeOr(opts.Mode, circles.ModeOnboarding)
	a.logger.Info("Analyzing uncategorized contacts",
		zap.String("user_id", userID),
		zap.Int("contacts", len(ids)),
		zap.String("mode", string(opts.Mode)))
	return a.BatchAnalyze(ctx, userID, ids, opts)
}

func (a *Analyzer) analyze(ctx context.Context, userID, contactID string, mode circles.Mode) (circles.CircleSuggestion, error) {
	compute := func(ctx context.Context) (circles.CircleSuggestion, error) {
		return a.compute(ctx, userID, contactID, mode)
	}
	if a.cache == nil {
		return compute(ctx)
	}
	s, _, err := a.cache.GetOrCompute(ctx, cache.Key{UserID: userID, ContactID: contactID, Mode: mode}, compute)
	return s, err
}

func (a *Analyzer) compute(ctx context.Context, userID, contactID string, mode circles.Mode) (circles.CircleSuggestion, error) {
	start := time.Now()
	s, err := a.pipeline(ctx, userID, contactID, mode)
	metrics.AnalysisDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Analyses.WithLabelValues(string(mode), "error").Inc()
		return circles.CircleSuggestion{}, err
	}
	metrics.Analyses.WithLabelValues(string(mode), "ok").Inc()
	return s, nil
}

func (a *Analyzer) pipeline(ctx context.Context, userID, contactID string, mode circles.Mode) (circles.CircleSuggestion, error) {
	contact, err := a.contacts.FindByID(ctx, userID, contactID)
	if err != nil {
		return circles.CircleSuggestion{}, fmt.Errorf("failed to load contact %s: %w", contactID, err)
	}

	factors, err := a.factors.Extract(ctx, mode, *contact)
	if err != nil {
		return circles.CircleSuggestion{}, err
	}

	score := scoring.WeightedScore(factors)
	cls := a.classifier.Classify(score)

	a.logger.Debug("Contact classified",
		zap.String("contact_id", contactID),
		zap.String("mode", string(mode)),
		zap.Float64("score", score),
		zap.String("circle", string(cls.Circle)),
		zap.Int("confidence", cls.Confidence))

	return circles.CircleSuggestion{
		ContactID:       contactID,
		Mode:            mode,
		SuggestedCircle: cls.Circle,
		Score:           scoring.Round(score),
		Confidence:      cls.Confidence,
		Factors:         factors,
		Alternatives:    cls.Alternatives,
		ComputedAt:      a.now().UTC(),
	}, nil
}

func modeOr(m, fallback circles.Mode) circles.Mode {
	if m == "" {
		return fallback
	}
	return m
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
