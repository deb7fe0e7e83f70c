// Package memstore is an in-process implementation of every store interface
// the circle engine consumes. The kernel falls back to it when no database is
// configured.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/circle-kernel/internal/circles"
)

// Store is safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	contacts     map[string]map[string]circles.Contact // user -> contact id
	interactions map[string][]circles.InteractionLog   // user/contact
	events       map[string][]circles.CalendarEvent    // user
	records      []circles.AssignmentRecord            // append order
}

// New creates an empty store.
func New() *Store {
	return &Store{
		contacts:     make(map[string]map[string]circles.Contact),
		interactions: make(map[string][]circles.InteractionLog),
		events:       make(map[string][]circles.CalendarEvent),
	}
}

// PutContact inserts or replaces a contact.
func (s *Store) PutContact(c circles.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.contacts[c.UserID]
	if !ok {
		byID = make(map[string]circles.Contact)
		s.contacts[c.UserID] = byID
	}
	byID[c.ID] = cloneContact(c)
}

// AddInteraction appends to a contact's history.
func (s *Store) AddInteraction(in circles.InteractionLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := interactionKey(in.UserID, in.ContactID)
	s.interactions[k] = append(s.interactions[k], in)
}

// AddCalendarEvent adds an event to a user's calendar.
func (s *Store) AddCalendarEvent(userID string, ev circles.CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[userID] = append(s.events[userID], ev)
}

func (s *Store) FindByID(ctx context.Context, userID, contactID string) (*circles.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[userID][contactID]
	if !ok {
		return nil, fmt.Errorf("contact %s: %w", contactID, circles.ErrNotFound)
	}
	out := cloneContact(c)
	return &out, nil
}

// FindAll returns matching contacts ordered by ID.
func (s *Store) FindAll(ctx context.Context, userID string, filter circles.ContactFilter) ([]circles.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]circles.Contact, 0, len(s.contacts[userID]))
	for _, c := range s.contacts[userID] {
		if filter.Matches(c) {
			out = append(out, cloneContact(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Archive(ctx context.Context, userID, contactID string) error {
	return s.mutate(userID, contactID, func(c *circles.Contact) { c.Archived = true })
}

func (s *Store) Unarchive(ctx context.Context, userID, contactID string) error {
	return s.mutate(userID, contactID, func(c *circles.Contact) { c.Archived = false })
}

func (s *Store) UpdateCircle(ctx context.Context, userID, contactID string, circle circles.Circle) error {
	return s.mutate(userID, contactID, func(c *circles.Contact) { c.Circle = circle })
}

// FindByContactID returns the contact's interactions newest first.
func (s *Store) FindByContactID(ctx context.Context, userID, contactID string) ([]circles.InteractionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.interactions[interactionKey(userID, contactID)]
	out := make([]circles.InteractionLog, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Events returns the user's events starting in [from, to).
func (s *Store) Events(ctx context.Context, userID string, from, to time.Time) ([]circles.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []circles.CalendarEvent
	for _, ev := range s.events[userID] {
		if !ev.Start.Before(from) && ev.Start.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Assignments returns the ledger view of the store. Its FindByContactID reads
// assignment history rather than interactions.
func (s *Store) Assignments() *Assignments {
	return &Assignments{s: s}
}

// Assignments implements circles.AssignmentStore and ledger.Committer over
// the parent Store.
type Assignments struct {
	s *Store
}

func (a *Assignments) Create(ctx context.Context, record circles.AssignmentRecord) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.records = append(a.s.records, record)
	return nil
}

// CommitAssignment appends the record and moves the pointer atomically.
func (a *Assignments) CommitAssignment(ctx context.Context, record circles.AssignmentRecord) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	c, ok := a.s.contacts[record.UserID][record.ContactID]
	if !ok {
		return fmt.Errorf("contact %s: %w", record.ContactID, circles.ErrNotFound)
	}
	a.s.records = append(a.s.records, record)
	c.Circle = record.ToCircle
	a.s.contacts[record.UserID][record.ContactID] = c
	return nil
}

func (a *Assignments) FindByContactID(ctx context.Context, userID, contactID string) ([]circles.AssignmentRecord, error) {
	return a.newestFirst(func(r circles.AssignmentRecord) bool {
		return r.UserID == userID && r.ContactID == contactID
	}, 0), nil
}

func (a *Assignments) FindByUserID(ctx context.Context, userID string, limit int) ([]circles.AssignmentRecord, error) {
	return a.newestFirst(func(r circles.AssignmentRecord) bool { return r.UserID == userID }, limit), nil
}

// GetCircleDistribution counts live, non-archived contacts per circle.
func (a *Assignments) GetCircleDistribution(ctx context.Context, userID string) (circles.CircleDistribution, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	d := circles.NewCircleDistribution()
	for _, c := range a.s.contacts[userID] {
		if c.Archived {
			continue
		}
		d.Add(c.Circle)
	}
	return d, nil
}

// newestFirst walks the append log backwards. Records come back in reverse
// commit order whatever their timestamps say.
func (a *Assignments) newestFirst(match func(circles.AssignmentRecord) bool, limit int) []circles.AssignmentRecord {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	var out []circles.AssignmentRecord
	for i := len(a.s.records) - 1; i >= 0; i-- {
		r := a.s.records[i]
		if !match(r) {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) mutate(userID, contactID string, fn func(*circles.Contact)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[userID][contactID]
	if !ok {
		return fmt.Errorf("contact %s: %w", contactID, circles.ErrNotFound)
	}
	fn(&c)
	s.contacts[userID][contactID] = c
	return nil
}

func cloneContact(c circles.Contact) circles.Contact {
	if c.SocialProfiles != nil {
		profiles := make(map[string]string, len(c.SocialProfiles))
		for k, v := range c.SocialProfiles {
			profiles[k] = v
		}
		c.SocialProfiles = profiles
	}
	return c
}

func interactionKey(userID, contactID string) string {
	return userID + "/" + contactID
}
