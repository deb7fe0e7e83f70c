package capacity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/config"
	"github.com/circle-kernel/internal/store/memstore"
)

var base = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

// populate puts n contacts into circle, each with one user-made record.
func populate(t *testing.T, s *memstore.Store, circle circles.Circle, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%02d", circle, i)
		s.PutContact(circles.Contact{ID: id, UserID: "u1"})
		require.NoError(t, s.Assignments().CommitAssignment(context.Background(), circles.AssignmentRecord{
			ID: id, UserID: "u1", ContactID: id, ToCircle: circle,
			AssignedBy: circles.AssignedByUser, Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}
}

func TestStatusFor(t *testing.T) {
	for current := 0; current <= 30; current++ {
		got := StatusFor(current, 5, 10)
		switch {
		case current < 5:
			assert.Equal(t, StatusUnder, got, current)
		case current > 10:
			assert.Equal(t, StatusOver, got, current)
		default:
			assert.Equal(t, StatusOptimal, got, current)
		}
	}
}

func TestValidateCircleCapacityOver(t *testing.T) {
	s := memstore.New()
	populate(t, s, circles.CircleInner, 12)
	s.PutContact(circles.Contact{ID: "gone", UserID: "u1", Circle: circles.CircleInner, Archived: true})

	a := NewAnalyzer(s.Assignments(), config.Default().Capacity, zaptest.NewLogger(t))
	r, err := a.ValidateCircleCapacity(context.Background(), "u1", circles.CircleInner)
	require.NoError(t, err)

	assert.Equal(t, Report{
		Circle: circles.CircleInner, CurrentSize: 12, RecommendedSize: 5, MaxSize: 10, Status: StatusOver,
	}, r)

	_, err = a.ValidateCircleCapacity(context.Background(), "u1", circles.CircleAcquaintance)
	assert.ErrorIs(t, err, circles.ErrInvalidCircle)
}

func TestReportAllCircles(t *testing.T) {
	s := memstore.New()
	populate(t, s, circles.CircleClose, 20)

	reports, err := NewAnalyzer(s.Assignments(), config.Default().Capacity, zaptest.NewLogger(t)).
		Report(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, reports, 4)
	assert.Equal(t, StatusUnder, reports[0].Status)
	assert.Equal(t, circles.CircleClose, reports[1].Circle)
	assert.Equal(t, StatusOptimal, reports[1].Status)
}

type failingDist struct{}

func (failingDist) GetCircleDistribution(ctx context.Context, userID string) (circles.CircleDistribution, error) {
	return circles.CircleDistribution{}, errors.New("db gone")
}

func TestAnalyzerPropagatesStoreErrors(t *testing.T) {
	a := NewAnalyzer(failingDist{}, config.Default().Capacity, zaptest.NewLogger(t))
	_, err := a.ValidateCircleCapacity(context.Background(), "u1", circles.CircleInner)
	assert.Error(t, err)
	_, err = NewAdvisor(failingDist{}, nil, nil, config.Default().Capacity, zaptest.NewLogger(t)).
		SuggestCircleRebalancing(context.Background(), "u1")
	assert.Error(t, err)
}

func TestSuggestRebalancingInnerToClose(t *testing.T) {
	s := memstore.New()
	populate(t, s, circles.CircleInner, 12)

	adv := NewAdvisor(s.Assignments(), s, s.Assignments(), config.Default().Capacity, zaptest.NewLogger(t))
	got, err := adv.SuggestCircleRebalancing(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	sg := got[0]
	assert.Equal(t, circles.CircleInner, sg.From)
	assert.Equal(t, circles.CircleClose, sg.To)
	assert.Equal(t, 7, sg.Count)
	assert.InDelta(t, 0.7, sg.Confidence, 1e-9)
	assert.Contains(t, sg.Reason, "over capacity")
	require.Len(t, sg.CandidateIDs, 7)
	assert.Equal(t, "inner-00", sg.CandidateIDs[0], "oldest user placement first")
}

func TestRebalanceThreshold(t *testing.T) {
	adv := func(s *memstore.Store) *Advisor {
		return NewAdvisor(s.Assignments(), nil, nil, config.Default().Capacity, zaptest.NewLogger(t))
	}

	s := memstore.New()
	populate(t, s, circles.CircleInner, 7) // 7 <= 1.5*5
	got, err := adv(s).SuggestCircleRebalancing(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, got)

	s = memstore.New()
	populate(t, s, circles.CircleInner, 8)
	got, err = adv(s).SuggestCircleRebalancing(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Count)
	assert.Empty(t, got[0].CandidateIDs)
}

func TestRebalanceNeverMovesOutOfLargestCircle(t *testing.T) {
	s := memstore.New()
	populate(t, s, circles.CircleCasual, 400)
	populate(t, s, circles.CircleActive, 80)

	cfg := config.Default().Capacity
	got, err := NewAdvisor(s.Assignments(), nil, nil, cfg, zaptest.NewLogger(t)).
		SuggestCircleRebalancing(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, circles.CircleActive, got[0].From)
	assert.Equal(t, circles.CircleCasual, got[0].To)

	// Reordering the configuration does not change which circle is largest.
	cfg.Circles = []circles.CircleDefinition{cfg.Circles[3], cfg.Circles[1], cfg.Circles[0], cfg.Circles[2]}
	got, err = NewAdvisor(s.Assignments(), nil, nil, cfg, zaptest.NewLogger(t)).
		SuggestCircleRebalancing(context.Background(), "u1")
	require.NoError(t, err)
	for _, sg := range got {
		assert.NotEqual(t, circles.CircleCasual, sg.From)
	}
}

func TestRebalanceCandidatesPreferLowConfidenceAI(t *testing.T) {
	s := memstore.New()
	populate(t, s, circles.CircleInner, 8)
	ctx := context.Background()

	for id, conf := range map[string]int{"inner-05": 90, "inner-06": 40} {
		conf := conf
		require.NoError(t, s.Assignments().CommitAssignment(ctx, circles.AssignmentRecord{
			ID: id + "-ai", UserID: "u1", ContactID: id, FromCircle: circles.CircleInner, ToCircle: circles.CircleInner,
			AssignedBy: circles.AssignedByAI, Confidence: &conf, Timestamp: base.Add(48 * time.Hour),
		}))
	}

	got, err := NewAdvisor(s.Assignments(), s, s.Assignments(), config.Default().Capacity, zaptest.NewLogger(t)).
		SuggestCircleRebalancing(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"inner-06", "inner-05", "inner-00"}, got[0].CandidateIDs)
}
