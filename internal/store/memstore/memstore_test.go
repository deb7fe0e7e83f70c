package memstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circle-kernel/internal/circles"
)

func TestDistributionWithoutAssignments(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		s.PutContact(circles.Contact{ID: fmt.Sprintf("c%d", i), UserID: "u1"})
	}
	s.PutContact(circles.Contact{ID: "archived", UserID: "u1", Archived: true, Circle: circles.CircleInner})
	s.PutContact(circles.Contact{ID: "other", UserID: "u2"})

	d, err := s.Assignments().GetCircleDistribution(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, d.Uncategorized)
	assert.Equal(t, 10, d.Total)
	for _, c := range circles.AllCircles {
		assert.Zero(t, d.Count(c), c)
	}
}

func TestContactLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutContact(circles.Contact{ID: "c1", UserID: "u1", SocialProfiles: map[string]string{"github": "ann"}})

	_, err := s.FindByID(ctx, "u2", "c1")
	assert.ErrorIs(t, err, circles.ErrNotFound)

	c, err := s.FindByID(ctx, "u1", "c1")
	require.NoError(t, err)
	c.SocialProfiles["github"] = "changed"
	again, _ := s.FindByID(ctx, "u1", "c1")
	assert.Equal(t, "ann", again.SocialProfiles["github"], "returned contacts are copies")

	require.NoError(t, s.Archive(ctx, "u1", "c1"))
	all, err := s.FindAll(ctx, "u1", circles.ContactFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	all, err = s.FindAll(ctx, "u1", circles.ContactFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Unarchive(ctx, "u1", "c1"))
	require.NoError(t, s.UpdateCircle(ctx, "u1", "c1", circles.CircleActive))
	active := circles.CircleActive
	all, err = s.FindAll(ctx, "u1", circles.ContactFilter{Circle: &active})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.ErrorIs(t, s.Archive(ctx, "u1", "missing"), circles.ErrNotFound)
}

func TestInteractionsNewestFirst(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, d := range []int{3, 1, 2} {
		s.AddInteraction(circles.InteractionLog{UserID: "u1", ContactID: "c1", Timestamp: base.AddDate(0, 0, d)})
	}
	logs, err := s.FindByContactID(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, base.AddDate(0, 0, 3), logs[0].Timestamp)
	assert.Equal(t, base.AddDate(0, 0, 1), logs[2].Timestamp)
}

func TestCalendarWindow(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.AddCalendarEvent("u1", circles.CalendarEvent{ID: "before", Start: base.Add(-time.Hour)})
	s.AddCalendarEvent("u1", circles.CalendarEvent{ID: "start", Start: base})
	s.AddCalendarEvent("u1", circles.CalendarEvent{ID: "end", Start: base.Add(24 * time.Hour)})

	evs, err := s.Events(context.Background(), "u1", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "start", evs[0].ID)
}

func TestAssignmentOrderingAndLimit(t *testing.T) {
	s := New()
	a := s.Assignments()
	ctx := context.Background()
	s.PutContact(circles.Contact{ID: "c1", UserID: "u1"})
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, to := range []circles.Circle{circles.CircleCasual, circles.CircleActive, circles.CircleClose} {
		require.NoError(t, a.CommitAssignment(ctx, circles.AssignmentRecord{
			ID: fmt.Sprintf("r%d", i), UserID: "u1", ContactID: "c1", ToCircle: to, Timestamp: at,
		}))
	}

	recs, err := a.FindByContactID(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"r2", "r1", "r0"}, []string{recs[0].ID, recs[1].ID, recs[2].ID})

	recs, err = a.FindByUserID(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	c, _ := s.FindByID(ctx, "u1", "c1")
	assert.Equal(t, circles.CircleClose, c.Circle)

	err = a.CommitAssignment(ctx, circles.AssignmentRecord{UserID: "u1", ContactID: "ghost", ToCircle: circles.CircleInner})
	assert.ErrorIs(t, err, circles.ErrNotFound)
}
