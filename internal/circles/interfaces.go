package circles

import (
	"context"
	"time"
)

// ContactFilter narrows FindAll results.
type ContactFilter struct {
	// Circle restricts results to one circle when non-nil. A pointer to
	// CircleNone selects uncategorized contacts.
	Circle          *Circle
	IncludeArchived bool
}

// Matches reports whether c passes the filter.
func (f ContactFilter) Matches(c Contact) bool {
	if c.Archived && !f.IncludeArchived {
		return false
	}
	if f.Circle != nil && c.Circle != *f.Circle {
		return false
	}
	return true
}

// ContactStore reads contacts and holds the live circle pointer.
type ContactStore interface {
	// FindByID returns ErrNotFound (wrapped) when the contact does not exist
	// for the user.
	FindByID(ctx context.Context, userID, contactID string) (*Contact, error)
	FindAll(ctx context.Context, userID string, filter ContactFilter) ([]Contact, error)
	Archive(ctx context.Context, userID, contactID string) error
	Unarchive(ctx context.Context, userID, contactID string) error
	// UpdateCircle moves the live pointer. Only the assignment ledger calls it.
	UpdateCircle(ctx context.Context, userID, contactID string, circle Circle) error
}

// InteractionStore reads interaction history, newest first.
type InteractionStore interface {
	FindByContactID(ctx context.Context, userID, contactID string) ([]InteractionLog, error)
}

// CalendarSource supplies events in [from, to). It never mutates anything.
type CalendarSource interface {
	Events(ctx context.Context, userID string, from, to time.Time) ([]CalendarEvent, error)
}

// AssignmentStore persists the append-only assignment ledger.
type AssignmentStore interface {
	Create(ctx context.Context, record AssignmentRecord) error
	// FindByContactID returns the contact's history, most recently
	// committed first.
	FindByContactID(ctx context.Context, userID, contactID string) ([]AssignmentRecord, error)
	// FindByUserID returns the user's most recently committed records first.
	// A limit <= 0 returns everything.
	FindByUserID(ctx context.Context, userID string, limit int) ([]AssignmentRecord, error)
	GetCircleDistribution(ctx context.Context, userID string) (CircleDistribution, error)
}
