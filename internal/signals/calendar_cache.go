package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/circle-kernel/internal/circles"
)

// calendarGranularity is the resolution of cached windows. Requests made a
// few milliseconds apart during a batch share one fetch.
const calendarGranularity = time.Minute

// CachedCalendar wraps a CalendarSource with a short-lived in-process cache
// keyed by user and window, so a batch fan-out over one user's contacts
// reads the calendar once.
type CachedCalendar struct {
	source circles.CalendarSource
	cache  *ristretto.Cache[string, []circles.CalendarEvent]
	group  singleflight.Group
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedCalendar creates the cache. maxEvents bounds the total number of
// events held across all windows.
func NewCachedCalendar(source circles.CalendarSource, ttl time.Duration, maxEvents int64, logger *zap.Logger) (*CachedCalendar, error) {
	if maxEvents <= 0 {
		maxEvents = 100_000
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []circles.CalendarEvent]{
		NumCounters: maxEvents * 10,
		MaxCost:     maxEvents,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar cache: %w", err)
	}
	return &CachedCalendar{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: logger.Named("calendar_cache"),
	}, nil
}

// Events returns the events in [from, to), served from cache when the
// surrounding window was fetched recently.
func (c *CachedCalendar) Events(ctx context.Context, userID string, from, to time.Time) ([]circles.CalendarEvent, error) {
	wFrom := from.Truncate(calendarGranularity)
	wTo := to.Truncate(calendarGranularity).Add(calendarGranularity)
	key := fmt.Sprintf("cal:%s:%d:%d", userID, wFrom.Unix(), wTo.Unix())

	if events, ok := c.cache.Get(key); ok {
		return clip(events, from, to), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		events, err := c.source.Events(ctx, userID, wFrom, wTo)
		if err != nil {
			return nil, err
		}
		c.cache.SetWithTTL(key, events, int64(len(events))+1, c.ttl)
		c.cache.Wait()
		c.logger.Debug("Calendar window fetched",
			zap.String("user_id", userID),
			zap.Int("events", len(events)))
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return clip(v.([]circles.CalendarEvent), from, to), nil
}

// Close releases the cache.
func (c *CachedCalendar) Close() {
	c.cache.Close()
}

func clip(events []circles.CalendarEvent, from, to time.Time) []circles.CalendarEvent {
	out := make([]circles.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.Start.Before(from) || !ev.Start.Before(to) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
