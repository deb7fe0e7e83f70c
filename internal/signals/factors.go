package signals

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/config"
)

const hoursPerDay = 24.0

// FrequencyScore scores interactions per month over the trailing window.
// Empty history scores the onboarding baseline in onboarding mode and 0 otherwise.
func FrequencyScore(cfg config.SignalConfig, mode circles.Mode, interactions []circles.InteractionLog, now time.Time) (int, string) {
	if len(interactions) == 0 {
		if mode == circles.ModeOnboarding {
			return cfg.OnboardingFrequencyBaseline, "No interaction history yet (baseline)"
		}
		return 0, "No interaction history"
	}

	since := now.AddDate(0, -cfg.FrequencyWindowMonths, 0)
	count := 0
	for _, in := range interactions {
		if !in.Timestamp.Before(since) && !in.Timestamp.After(now) {
			count++
		}
	}
	perMonth := float64(count) / float64(cfg.FrequencyWindowMonths)
	return cfg.Frequency.AtLeast(perMonth),
		fmt.Sprintf("%d interactions in the last %d months (%.1f/month)", count, cfg.FrequencyWindowMonths, perMonth)
}

// RecencyScore scores the days since the most recent interaction.
func RecencyScore(cfg config.SignalConfig, mode circles.Mode, interactions []circles.InteractionLog, now time.Time) (int, string) {
	latest, ok := latestInteraction(interactions)
	if !ok {
		if mode == circles.ModeOnboarding {
			return cfg.OnboardingRecencyBaseline, "No interaction history yet (baseline)"
		}
		return 0, "No interaction history"
	}
	days := now.Sub(latest).Hours() / hoursPerDay
	if days < 0 {
		days = 0
	}
	return cfg.Recency.Below(days), fmt.Sprintf("Last interaction %d days ago", int(days))
}

// ConsistencyScore scores the regularity of contact: the coefficient of
// variation of the gaps between interactions. Lower variation scores higher.
func ConsistencyScore(cfg config.SignalConfig, interactions []circles.InteractionLog) (int, string) {
	if len(interactions) < cfg.ConsistencyMinInteractions {
		return cfg.ConsistencyNeutral,
			fmt.Sprintf("Not enough interactions to judge consistency (%d of %d)", len(interactions), cfg.ConsistencyMinInteractions)
	}

	cv, ok := gapVariation(interactions)
	if !ok {
		return cfg.ConsistencyNeutral, "Interactions too close together to judge consistency"
	}
	return cfg.Consistency.Below(cv), fmt.Sprintf("Gap variation %.2f across %d interactions", cv, len(interactions))
}

// MultiChannelScore scores the number of distinct channels used.
func MultiChannelScore(cfg config.SignalConfig, interactions []circles.InteractionLog) (int, string) {
	channels := make(map[circles.Channel]struct{})
	for _, in := range interactions {
		if in.Channel == "" {
			continue
		}
		channels[in.Channel] = struct{}{}
	}
	n := len(channels)
	if n == 0 {
		return 0, "No communication channels used"
	}
	names := make([]string, 0, n)
	for ch := range channels {
		names = append(names, string(ch))
	}
	sort.Strings(names)
	return cfg.MultiChannel.AtLeast(float64(n)),
		fmt.Sprintf("%d channels used (%s)", n, strings.Join(names, ", "))
}

// CalendarScore scores the events the contact attended with the user.
func CalendarScore(cfg config.SignalConfig, contact circles.Contact, events []circles.CalendarEvent) (int, string) {
	if strings.TrimSpace(contact.Email) == "" {
		return 0, "No email address to match calendar events"
	}
	count := 0
	for _, ev := range events {
		if ev.HasAttendee(contact.Email) {
			count++
		}
	}
	return cfg.Calendar.AtLeast(float64(count)), fmt.Sprintf("%d shared calendar events", count)
}

// MetadataScore rescales the additive richness of a contact record to 0-100.
func MetadataScore(cfg config.SignalConfig, contact circles.Contact) (int, string) {
	m := cfg.Metadata
	raw := 0
	var populated []string
	add := func(ok bool, points int, name string) {
		if ok {
			raw += points
			populated = append(populated, name)
		}
	}
	add(strings.TrimSpace(contact.Email) != "", m.Email, "email")
	add(strings.TrimSpace(contact.Phone) != "", m.Phone, "phone")
	add(strings.TrimSpace(contact.Location) != "", m.Location, "location")
	add(strings.TrimSpace(contact.Notes) != "", m.Notes, "notes")

	known := make(map[string]bool, len(m.SocialPlatforms))
	for _, p := range m.SocialPlatforms {
		known[strings.ToLower(p)] = true
	}
	social, other := 0, 0
	for platform, handle := range contact.SocialProfiles {
		if strings.TrimSpace(handle) == "" {
			continue
		}
		if known[strings.ToLower(platform)] {
			social++
		} else {
			other++
		}
	}
	raw += social * m.PerSocialProfile
	raw += min(other*m.PerOtherPlatform, m.OtherPlatformCap)
	if social+other > 0 {
		populated = append(populated, fmt.Sprintf("%d profiles", social+other))
	}

	score := int(math.Round(float64(raw) / float64(m.Max()) * 100))
	score = clampScore(score)
	if len(populated) == 0 {
		return score, "No contact details recorded"
	}
	return score, "Contact details: " + strings.Join(populated, ", ")
}

// ContactAgeScore scores how long the contact has existed.
func ContactAgeScore(cfg config.SignalConfig, contact circles.Contact, now time.Time) (int, string) {
	if contact.CreatedAt.IsZero() {
		return cfg.ContactAgeUnknown, "Contact creation date unknown"
	}
	months := monthsBetween(contact.CreatedAt, now)
	return cfg.ContactAge.AtLeast(float64(months)), fmt.Sprintf("Known for %d months", months)
}

func latestInteraction(interactions []circles.InteractionLog) (time.Time, bool) {
	var latest time.Time
	for _, in := range interactions {
		if in.Timestamp.After(latest) {
			latest = in.Timestamp
		}
	}
	return latest, !latest.IsZero()
}

// gapVariation returns stddev/mean of the day gaps between consecutive
// interactions. It reports false when the mean gap is zero.
func gapVariation(interactions []circles.InteractionLog) (float64, bool) {
	times := make([]time.Time, len(interactions))
	for i, in := range interactions {
		times[i] = in.Timestamp
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	gaps := make([]float64, 0, len(times)-1)
	var sum float64
	for i := 1; i < len(times); i++ {
		g := times[i].Sub(times[i-1]).Hours() / hoursPerDay
		gaps = append(gaps, g)
		sum += g
	}
	mean := sum / float64(len(gaps))
	if mean <= 0 {
		return 0, false
	}
	var sq float64
	for _, g := range gaps {
		sq += (g - mean) * (g - mean)
	}
	stddev := math.Sqrt(sq / float64(len(gaps)))
	return stddev / mean, true
}

// monthsBetween counts whole calendar months from a to b.
func monthsBetween(a, b time.Time) int {
	if b.Before(a) {
		return 0
	}
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if b.Day() < a.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
