package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/config"
)

var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time {
	return testNow.AddDate(0, 0, -d)
}

func logs(channel circles.Channel, days ...int) []circles.InteractionLog {
	out := make([]circles.InteractionLog, 0, len(days))
	for _, d := range days {
		out = append(out, circles.InteractionLog{ContactID: "c1", Timestamp: daysAgo(d), Channel: channel})
	}
	return out
}

func TestFrequencyScore(t *testing.T) {
	cfg := config.Default().Signals

	v, _ := FrequencyScore(cfg, circles.ModeSteadyState, nil, testNow)
	assert.Equal(t, 0, v)
	v, _ = FrequencyScore(cfg, circles.ModeOnboarding, nil, testNow)
	assert.Equal(t, 30, v)

	// 12 in window = 2/month; the 250-day-old one falls outside.
	history := logs(circles.ChannelCall, 1, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 250)
	v, desc := FrequencyScore(cfg, circles.ModeSteadyState, history, testNow)
	assert.Equal(t, 50, v)
	assert.Contains(t, desc, "12 interactions")

	v, _ = FrequencyScore(cfg, circles.ModeSteadyState, logs(circles.ChannelCall, 200), testNow)
	assert.Equal(t, 10, v)
}

func TestRecencyScore(t *testing.T) {
	cfg := config.Default().Signals

	tests := []struct {
		days int
		want int
	}{
		{0, 100},
		{6, 100},
		{10, 85},
		{29, 70},
		{45, 50},
		{89, 35},
		{120, 20},
		{400, 10},
	}
	for _, tt := range tests {
		v, _ := RecencyScore(cfg, circles.ModeSteadyState, logs(circles.ChannelText, tt.days, tt.days+30), testNow)
		assert.Equal(t, tt.want, v, "days=%d", tt.days)
	}

	v, _ := RecencyScore(cfg, circles.ModeOnboarding, nil, testNow)
	assert.Equal(t, 20, v)
	v, _ = RecencyScore(cfg, circles.ModeSteadyState, nil, testNow)
	assert.Equal(t, 0, v)
}

func TestConsistencyScore(t *testing.T) {
	cfg := config.Default().Signals

	v, _ := ConsistencyScore(cfg, logs(circles.ChannelCall, 1, 8))
	assert.Equal(t, 50, v, "fewer than three interactions is neutral")

	v, _ = ConsistencyScore(cfg, logs(circles.ChannelCall, 1, 8, 15, 22))
	assert.Equal(t, 90, v, "weekly cadence")

	// gaps of 1, 1 and 30 days: cv ~ 1.28
	v, _ = ConsistencyScore(cfg, logs(circles.ChannelCall, 0, 1, 2, 32))
	assert.Equal(t, 30, v)

	v, _ = ConsistencyScore(cfg, logs(circles.ChannelCall, 3, 3, 3))
	assert.Equal(t, 50, v, "identical timestamps fall back to neutral")
}

func TestMultiChannelScore(t *testing.T) {
	cfg := config.Default().Signals

	v, _ := MultiChannelScore(cfg, nil)
	assert.Equal(t, 0, v)

	history := append(logs(circles.ChannelCall, 1, 2), logs(circles.ChannelText, 3)...)
	history = append(history, logs(circles.ChannelEmail, 4)...)
	v, desc := MultiChannelScore(cfg, history)
	assert.Equal(t, 80, v)
	assert.Contains(t, desc, "call, email, text")

	history = append(history, logs(circles.ChannelVideo, 5)...)
	v, _ = MultiChannelScore(cfg, history)
	assert.Equal(t, 100, v)
}

func TestCalendarScore(t *testing.T) {
	cfg := config.Default().Signals
	contact := circles.Contact{ID: "c1", Email: "Ann@Example.com"}

	event := func(emails ...string) circles.CalendarEvent {
		ev := circles.CalendarEvent{Start: daysAgo(3)}
		for _, e := range emails {
			ev.Attendees = append(ev.Attendees, circles.Attendee{Email: e})
		}
		return ev
	}
	events := []circles.CalendarEvent{
		event("ann@example.com", "me@example.com"),
		event(" ANN@example.com "),
		event("", "ann@example.com"),
		event(""),
		event("bob@example.com"),
	}

	v, desc := CalendarScore(cfg, contact, events)
	assert.Equal(t, 60, v)
	assert.Contains(t, desc, "3 shared")

	v, _ = CalendarScore(cfg, circles.Contact{ID: "c2"}, events)
	assert.Equal(t, 0, v, "contacts without email never match")

	v, _ = CalendarScore(cfg, contact, nil)
	assert.Equal(t, 0, v)
}

func TestMetadataScore(t *testing.T) {
	cfg := config.Default().Signals

	v, desc := MetadataScore(cfg, circles.Contact{})
	assert.Equal(t, 0, v)
	assert.Equal(t, "No contact details recorded", desc)

	v, _ = MetadataScore(cfg, circles.Contact{Email: "a@b.c"})
	assert.Equal(t, 7, v)

	v, _ = MetadataScore(cfg, circles.Contact{Email: "a@b.c", SocialProfiles: map[string]string{"LinkedIn": "ann"}})
	assert.Equal(t, 14, v)

	full := circles.Contact{
		Email:    "a@b.c",
		Phone:    "555",
		Location: "Berlin",
		Notes:    "met at conf",
		SocialProfiles: map[string]string{
			"linkedin": "a", "twitter": "a", "facebook": "a", "instagram": "a", "github": "a",
			"mastodon": "a", "bluesky": "a", "threads": "a", "discord": "a",
		},
	}
	v, _ = MetadataScore(cfg, full)
	assert.Equal(t, 100, v, "other platforms are capped")
}

func TestContactAgeScore(t *testing.T) {
	cfg := config.Default().Signals

	v, _ := ContactAgeScore(cfg, circles.Contact{}, testNow)
	assert.Equal(t, 50, v)

	v, _ = ContactAgeScore(cfg, circles.Contact{CreatedAt: testNow.AddDate(-4, 0, 0)}, testNow)
	assert.Equal(t, 85, v)

	v, _ = ContactAgeScore(cfg, circles.Contact{CreatedAt: testNow.AddDate(-6, 0, 0)}, testNow)
	assert.Equal(t, 100, v)

	v, _ = ContactAgeScore(cfg, circles.Contact{CreatedAt: testNow.AddDate(0, -2, 0)}, testNow)
	assert.Equal(t, 10, v)
}

func TestMonthsBetween(t *testing.T) {
	a := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, monthsBetween(a, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, monthsBetween(a, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, monthsBetween(a, a.AddDate(-1, 0, 0)))
}
