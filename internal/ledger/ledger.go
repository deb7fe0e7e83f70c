// Package ledger is the append-only record of circle assignments and the
// sole writer of a contact's live circle pointer.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/metrics"
)

// Assignment is a request to move a contact into a circle.
type Assignment struct {
	ContactID  string             `json:"contact_id"`
	Circle     circles.Circle     `json:"circle"`
	AssignedBy circles.AssignedBy `json:"assigned_by"`
	Confidence *int               `json:"confidence,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// Committer is implemented by stores that can append a record and move the
// live circle pointer in one transaction.
type Committer interface {
	CommitAssignment(ctx context.Context, record circles.AssignmentRecord) error
}

// Invalidator drops cached suggestions for a contact.
type Invalidator interface {
	InvalidateContact(ctx context.Context, userID, contactID string)
}

// Ledger commits assignments.
type Ledger struct {
	contacts circles.ContactStore
	records  circles.AssignmentStore
	locker   *ContactLocker
	cache    Invalidator
	events   EventPublisher
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithInvalidator evicts cached suggestions after every commit.
func WithInvalidator(inv Invalidator) Option {
	return func(l *Ledger) { l.cache = inv }
}

// WithPublisher emits an event after every commit.
func WithPublisher(p EventPublisher) Option {
	return func(l *Ledger) { l.events = p }
}

// WithLocker replaces the default in-process locker.
func WithLocker(locker *ContactLocker) Option {
	return func(l *Ledger) { l.locker = locker }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger.
func New(contacts circles.ContactStore, records circles.AssignmentStore, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		contacts: contacts,
		records:  records,
		now:      time.Now,
		logger:   logger.Named("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.locker == nil {
		l.locker = NewContactLocker(nil, logger)
	}
	return l
}

// Record commits one assignment. The previous live circle becomes the
// record's FromCircle.
func (l *Ledger) Record(ctx context.Context, userID string, a Assignment) (circles.AssignmentRecord, error) {
	return l.recordOne(ctx, userID, a, eventType(a), circles.CircleNone)
}

// BatchRecord validates every assignment (circle and contact existence)
// before writing any of them, then writes them in input order. If the store
// fails part-way the records already written are returned with the error.
func (l *Ledger) BatchRecord(ctx context.Context, userID string, batch []Assignment) ([]circles.AssignmentRecord, error) {
	for i, a := range batch {
		if err := validate(a); err != nil {
			return nil, fmt.Errorf("assignment %d: %w", i, err)
		}
	}

	ids := make([]string, len(batch))
	for i, a := range batch {
		ids[i] = a.ContactID
	}
	unlock, err := l.locker.Lock(ctx, userID, ids...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current := make(map[string]circles.Circle, len(batch))
	for i, a := range batch {
		if _, ok := current[a.ContactID]; ok {
			continue
		}
		contact, err := l.contacts.FindByID(ctx, userID, a.ContactID)
		if err != nil {
			return nil, fmt.Errorf("assignment %d: failed to load contact %s: %w", i, a.ContactID, err)
		}
		current[a.ContactID] = contact.Circle
	}

	written := make([]circles.AssignmentRecord, 0, len(batch))
	for i, a := range batch {
		rec, err := l.commit(ctx, userID, current[a.ContactID], a)
		if err != nil {
			l.logger.Error("Batch assignment interrupted",
				zap.String("user_id", userID),
				zap.Int("written", len(written)),
				zap.Int("total", len(batch)),
				zap.Error(err))
			l.announce(ctx, batch, written)
			return written, fmt.Errorf("assignment %d: %w", i, err)
		}
		current[a.ContactID] = a.Circle
		written = append(written, rec)
	}
	l.announce(ctx, batch, written)
	return written, nil
}

func (l *Ledger) announce(ctx context.Context, batch []Assignment, written []circles.AssignmentRecord) {
	for i, rec := range written {
		l.afterCommit(ctx, eventType(batch[i]), rec, circles.CircleNone)
	}
}

// AcceptSuggestion commits an AI suggestion as-is.
func (l *Ledger) AcceptSuggestion(ctx context.Context, userID string, s circles.CircleSuggestion) (circles.AssignmentRecord, error) {
	conf := s.Confidence
	return l.Record(ctx, userID, Assignment{
		ContactID:  s.ContactID,
		Circle:     s.SuggestedCircle,
		AssignedBy: circles.AssignedByAI,
		Confidence: &conf,
		Reason:     fmt.Sprintf("Accepted suggestion (score %.1f, %d%% confidence)", s.Score, s.Confidence),
	})
}

// Override commits a user's choice in place of an AI suggestion and keeps
// the rejected pick in the audit reason. Overrides are recorded only; they
// never adjust weights.
func (l *Ledger) Override(ctx context.Context, userID string, s circles.CircleSuggestion, circle circles.Circle, reason string) (circles.AssignmentRecord, error) {
	a := Assignment{
		ContactID:  s.ContactID,
		Circle:     circle,
		AssignedBy: circles.AssignedByUser,
		Reason:     fmt.Sprintf("Overrode suggested %s (%d%% confidence)", s.SuggestedCircle, s.Confidence),
	}
	if reason != "" {
		a.Reason += ": " + reason
	}
	return l.recordOne(ctx, userID, a, EventOverridden, s.SuggestedCircle)
}

// History returns a contact's records newest first.
func (l *Ledger) History(ctx context.Context, userID, contactID string) ([]circles.AssignmentRecord, error) {
	if _, err := l.contacts.FindByID(ctx, userID, contactID); err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", contactID, err)
	}
	recs, err := l.records.FindByContactID(ctx, userID, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", contactID, err)
	}
	return recs, nil
}

// UserHistory returns a user's most recent records newest first. A limit
// <= 0 returns all of them.
func (l *Ledger) UserHistory(ctx context.Context, userID string, limit int) ([]circles.AssignmentRecord, error) {
	recs, err := l.records.FindByUserID(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read history for user %s: %w", userID, err)
	}
	return recs, nil
}

// Distribution returns the user's live circle counts.
func (l *Ledger) Distribution(ctx context.Context, userID string) (circles.CircleDistribution, error) {
	d, err := l.records.GetCircleDistribution(ctx, userID)
	if err != nil {
		return circles.CircleDistribution{}, fmt.Errorf("failed to read distribution for user %s: %w", userID, err)
	}
	return d, nil
}

func (l *Ledger) recordOne(ctx context.Context, userID string, a Assignment, t EventType, suggested circles.Circle) (circles.AssignmentRecord, error) {
	if err := validate(a); err != nil {
		return circles.AssignmentRecord{}, err
	}

	unlock, err := l.locker.Lock(ctx, userID, a.ContactID)
	if err != nil {
		return circles.AssignmentRecord{}, err
	}
	defer unlock()

	contact, err := l.contacts.FindByID(ctx, userID, a.ContactID)
	if err != nil {
		return circles.AssignmentRecord{}, fmt.Errorf("failed to load contact %s: %w", a.ContactID, err)
	}

	rec, err := l.commit(ctx, userID, contact.Circle, a)
	if err != nil {
		return circles.AssignmentRecord{}, err
	}
	l.afterCommit(ctx, t, rec, suggested)
	return rec, nil
}

// commit must run under the contact's lock.
func (l *Ledger) commit(ctx context.Context, userID string, from circles.Circle, a Assignment) (circles.AssignmentRecord, error) {
	rec := circles.AssignmentRecord{
		ID:         uuid.NewString(),
		ContactID:  a.ContactID,
		UserID:     userID,
		FromCircle: from,
		ToCircle:   a.Circle,
		AssignedBy: a.AssignedBy,
		Confidence: a.Confidence,
		Reason:     a.Reason,
		Timestamp:  l.now().UTC(),
	}

	if c, ok := l.records.(Committer); ok {
		if err := c.CommitAssignment(ctx, rec); err != nil {
			return circles.AssignmentRecord{}, fmt.Errorf("failed to commit assignment: %w", err)
		}
		return rec, nil
	}

	if err := l.records.Create(ctx, rec); err != nil {
		return circles.AssignmentRecord{}, fmt.Errorf("failed to append assignment: %w", err)
	}
	if err := l.contacts.UpdateCircle(ctx, userID, a.ContactID, a.Circle); err != nil {
		return circles.AssignmentRecord{}, fmt.Errorf("failed to update circle pointer: %w", err)
	}
	return rec, nil
}

// afterCommit never fails the assignment; side effects are best effort.
func (l *Ledger) afterCommit(ctx context.Context, t EventType, rec circles.AssignmentRecord, suggested circles.Circle) {
	metrics.Assignments.WithLabelValues(string(rec.AssignedBy)).Inc()
	if l.cache != nil {
		l.cache.InvalidateContact(ctx, rec.UserID, rec.ContactID)
	}

	l.logger.Info("Circle assigned",
		zap.String("user_id", rec.UserID),
		zap.String("contact_id", rec.ContactID),
		zap.String("from", string(rec.FromCircle)),
		zap.String("to", string(rec.ToCircle)),
		zap.String("assigned_by", string(rec.AssignedBy)))

	if l.events == nil {
		return
	}
	if err := l.events.Publish(ctx, Event{Type: t, Record: rec, Suggested: suggested}); err != nil {
		l.logger.Warn("Failed to publish assignment event",
			zap.String("record_id", rec.ID),
			zap.Error(err))
	}
}

func validate(a Assignment) error {
	if a.ContactID == "" {
		return fmt.Errorf("%w: empty contact id", circles.ErrNotFound)
	}
	if !a.Circle.Valid() {
		return fmt.Errorf("%w: %q", circles.ErrInvalidCircle, a.Circle)
	}
	if !a.AssignedBy.Valid() {
		return fmt.Errorf("unknown assignment source %q", a.AssignedBy)
	}
	if a.Confidence != nil && (*a.Confidence < 0 || *a.Confidence > 100) {
		return fmt.Errorf("confidence %d outside [0,100]", *a.Confidence)
	}
	return nil
}

func eventType(a Assignment) EventType {
	if a.AssignedBy == circles.AssignedByAI {
		return EventAccepted
	}
	return EventAssigned
}
