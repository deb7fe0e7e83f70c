// Package circles defines the data model shared by the circle classification
// and capacity-management engine: contacts, interactions, suggestions and the
// append-only assignment records.
package circles

import (
	"fmt"
	"strings"
	"time"
)

// Circle is a relationship tier. CircleNone means the contact is uncategorized.
type Circle string

const (
	CircleNone         Circle = ""
	CircleInner        Circle = "inner"
	CircleClose        Circle = "close"
	CircleActive       Circle = "active"
	CircleCasual       Circle = "casual"
	CircleAcquaintance Circle = "acquaintance"
)

// AllCircles lists every assignable circle, tightest first.
var AllCircles = []Circle{CircleInner, CircleClose, CircleActive, CircleCasual, CircleAcquaintance}

// Valid reports whether c is an assignable circle tag.
func (c Circle) Valid() bool {
	switch c {
	case CircleInner, CircleClose, CircleActive, CircleCasual, CircleAcquaintance:
		return true
	}
	return false
}

// Tightness orders circles from loosest (acquaintance = 0) to tightest (inner = 4).
// Uncategorized returns -1.
func (c Circle) Tightness() int {
	switch c {
	case CircleInner:
		return 4
	case CircleClose:
		return 3
	case CircleActive:
		return 2
	case CircleCasual:
		return 1
	case CircleAcquaintance:
		return 0
	}
	return -1
}

// Label returns a human-readable name, e.g. "Inner".
func (c Circle) Label() string {
	if c == CircleNone {
		return "Uncategorized"
	}
	s := string(c)
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParseCircle converts a user-supplied tag into a Circle.
func ParseCircle(s string) (Circle, error) {
	c := Circle(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return CircleNone, fmt.Errorf("%w: %q", ErrInvalidCircle, s)
	}
	return c, nil
}

// Mode selects the weight profile and factor set used for scoring.
type Mode string

const (
	// ModeSteadyState scores contacts with an established interaction history.
	ModeSteadyState Mode = "steady_state"
	// ModeOnboarding favours calendar and metadata signals for cold-start contacts.
	ModeOnboarding Mode = "onboarding"
)

// Valid reports whether m is a known scoring mode.
func (m Mode) Valid() bool {
	return m == ModeSteadyState || m == ModeOnboarding
}

// Contact is a person in a user's network. Only Circle is mutated by this
// module, and only through the assignment ledger.
type Contact struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Name           string            `json:"name"`
	Email          string            `json:"email,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	Location       string            `json:"location,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	SocialProfiles map[string]string `json:"social_profiles,omitempty"` // platform -> handle
	Circle         Circle            `json:"circle,omitempty"`
	Archived       bool              `json:"archived,omitempty"`
	CreatedAt      time.Time         `json:"created_at"` // zero when unknown
}

// Channel is the medium of an interaction.
type Channel string

const (
	ChannelCall     Channel = "call"
	ChannelText     Channel = "text"
	ChannelEmail    Channel = "email"
	ChannelInPerson Channel = "in_person"
	ChannelVideo    Channel = "video"
	ChannelSocial   Channel = "social"
	ChannelOther    Channel = "other"
)

// InteractionLog records one touchpoint with a contact.
type InteractionLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ContactID string    `json:"contact_id"`
	Timestamp time.Time `json:"timestamp"`
	Channel   Channel   `json:"channel"`
	Note      string    `json:"note,omitempty"`
}

// Attendee is a calendar event participant. An empty Email means the
// participant has no known address and never matches a contact.
type Attendee struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// CalendarEvent is read-only data supplied by a CalendarSource.
type CalendarEvent struct {
	ID        string     `json:"id"`
	Start     time.Time  `json:"start"`
	Attendees []Attendee `json:"attendees,omitempty"`
}

// HasAttendee reports whether email appears among the attendees.
// Comparison ignores case and surrounding whitespace.
func (e CalendarEvent) HasAttendee(email string) bool {
	email = normalizeEmail(email)
	if email == "" {
		return false
	}
	for _, a := range e.Attendees {
		if a.Email == "" {
			continue
		}
		if normalizeEmail(a.Email) == email {
			return true
		}
	}
	return false
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FactorKind names a behavioural signal.
type FactorKind string

const (
	FactorFrequency    FactorKind = "frequency"
	FactorRecency      FactorKind = "recency"
	FactorConsistency  FactorKind = "consistency"
	FactorMultiChannel FactorKind = "multi_channel"
	FactorCalendar     FactorKind = "calendar"
	FactorMetadata     FactorKind = "metadata"
	FactorContactAge   FactorKind = "contact_age"
)

// SuggestionFactor is one weighted, bounded (0-100) signal.
type SuggestionFactor struct {
	Kind        FactorKind `json:"kind"`
	Weight      float64    `json:"weight"`
	Value       int        `json:"value"`
	Description string     `json:"description"`
}

// AlternativeCircle is a runner-up classification.
type AlternativeCircle struct {
	Circle     Circle `json:"circle"`
	Confidence int    `json:"confidence"`
}

// CircleSuggestion is an ephemeral classification result. It is cached
// briefly and never persisted unless committed through the ledger.
type CircleSuggestion struct {
	ContactID       string              `json:"contact_id"`
	Mode            Mode                `json:"mode"`
	SuggestedCircle Circle              `json:"suggested_circle"`
	Score           float64             `json:"score"`
	Confidence      int                 `json:"confidence"`
	Factors         []SuggestionFactor  `json:"factors"`
	Alternatives    []AlternativeCircle `json:"alternative_circles,omitempty"`
	ComputedAt      time.Time           `json:"computed_at"`
}

// CircleDefinition is the static capacity configuration for one circle.
type CircleDefinition struct {
	Circle          Circle `json:"circle" yaml:"circle"`
	RecommendedSize int    `json:"recommended_size" yaml:"recommended_size"`
	MaxSize         int    `json:"max_size" yaml:"max_size"`
}

// AssignedBy identifies who committed an assignment.
type AssignedBy string

const (
	AssignedByUser AssignedBy = "user"
	AssignedByAI   AssignedBy = "ai"
)

// Valid reports whether a is a known assignment source.
func (a AssignedBy) Valid() bool {
	return a == AssignedByUser || a == AssignedByAI
}

// AssignmentRecord is an immutable ledger entry. FromCircle is CircleNone on
// a contact's first assignment.
type AssignmentRecord struct {
	ID         string     `json:"id"`
	ContactID  string     `json:"contact_id"`
	UserID     string     `json:"user_id"`
	FromCircle Circle     `json:"from_circle,omitempty"`
	ToCircle   Circle     `json:"to_circle"`
	AssignedBy AssignedBy `json:"assigned_by"`
	Confidence *int       `json:"confidence,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// CircleDistribution counts live memberships. Archived contacts are excluded.
type CircleDistribution struct {
	Counts        map[Circle]int `json:"counts"`
	Uncategorized int            `json:"uncategorized"`
	Total         int            `json:"total"`
}

// NewCircleDistribution returns a distribution with every circle present at zero.
func NewCircleDistribution() CircleDistribution {
	counts := make(map[Circle]int, len(AllCircles))
	for _, c := range AllCircles {
		counts[c] = 0
	}
	return CircleDistribution{Counts: counts}
}

// Add counts one non-archived contact in circle c.
func (d *CircleDistribution) Add(c Circle) {
	if c == CircleNone {
		d.Uncategorized++
	} else {
		d.Counts[c]++
	}
	d.Total++
}

// Count returns the live membership of c.
func (d CircleDistribution) Count(c Circle) int {
	if c == CircleNone {
		return d.Uncategorized
	}
	return d.Counts[c]
}
