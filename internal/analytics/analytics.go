// Package analytics derives emotion trends, mood calendars and interaction
// rankings from stored messages. Nothing is cached; every call recomputes
// from the records it is given.
package analytics

import (
	"sort"
	"time"

	"github.com/xaenox/soullink/internal/models"
)

const (
	TrendDays       = 7
	DefaultTopLimit = 4
)

// DayTrend is the emotion tally of one day. Score is (positive - negative) /
// total, 0 for a day without messages.
type DayTrend struct {
	Date     time.Time
	Positive int
	Neutral  int
	Negative int
	Score    float64
}

func (d DayTrend) Total() int {
	return d.Positive + d.Neutral + d.Negative
}

// EmotionTrend returns TrendDays buckets, oldest first, ending with the day
// of now in now's location. Only user messages with a detected emotion count.
func EmotionTrend(messages []models.Message, now time.Time) []DayTrend {
	loc := now.Location()
	today := startOfDay(now)

	trend := make([]DayTrend, TrendDays)
	index := make(map[time.Time]int, TrendDays)
	for i := range trend {
		day := today.AddDate(0, 0, i-(TrendDays-1))
		trend[i].Date = day
		index[day] = i
	}

	for _, m := range countable(messages) {
		i, ok := index[startOfDay(m.CreatedAt.In(loc))]
		if !ok {
			continue
		}
		tally(&trend[i].Positive, &trend[i].Neutral, &trend[i].Negative, m.EmotionDetected)
	}

	for i := range trend {
		if total := trend[i].Total(); total > 0 {
			trend[i].Score = float64(trend[i].Positive-trend[i].Negative) / float64(total)
		}
	}
	return trend
}

// MoodDay is the dominant mood of one calendar day.
type MoodDay struct {
	Date     time.Time
	Mood     models.Emotion
	Messages int
}

// EmotionCalendar returns the dominant mood of every day of the month that has
// countable messages, in date order. Ties resolve to neutral.
func EmotionCalendar(messages []models.Message, year int, month time.Month, loc *time.Location) []MoodDay {
	if loc == nil {
		loc = time.UTC
	}

	type counts struct{ pos, neu, neg int }
	days := make(map[time.Time]*counts)
	for _, m := range countable(messages) {
		local := m.CreatedAt.In(loc)
		if local.Year() != year || local.Month() != month {
			continue
		}
		day := startOfDay(local)
		c, ok := days[day]
		if !ok {
			c = &counts{}
			days[day] = c
		}
		tally(&c.pos, &c.neu, &c.neg, m.EmotionDetected)
	}

	calendar := make([]MoodDay, 0, len(days))
	for day, c := range days {
		calendar = append(calendar, MoodDay{
			Date:     day,
			Mood:     dominant(c.pos, c.neu, c.neg),
			Messages: c.pos + c.neu + c.neg,
		})
	}
	sort.Slice(calendar, func(i, j int) bool {
		return calendar[i].Date.Before(calendar[j].Date)
	})
	return calendar
}

type PartnerKind string

const (
	PartnerCompanion PartnerKind = "companion"
	PartnerAIMember  PartnerKind = "ai_member"
	PartnerUser      PartnerKind = "user"
)

// Partner is someone the user talked with, ranked by messages they sent.
type Partner struct {
	Kind     PartnerKind
	ID       string
	Name     string
	Messages int
}

// InteractionInput is everything TopInteractions ranks over.
type InteractionInput struct {
	UserID string

	// CompanionName labels the one-to-one companion; its messages are the
	// AI-sent messages of the user's conversations.
	CompanionName        string
	ConversationMessages []models.Message

	// GroupMessages of the groups the user belongs to.
	GroupMessages []models.GroupMessage
	AIMembers     []models.AIGroupMember
	UserNames     map[string]string
}

// TopInteractions ranks partners by message count, breaking ties by name and
// then id. Partners without messages are left out. limit <= 0 means
// DefaultTopLimit.
func TopInteractions(in InteractionInput, limit int) []Partner {
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	partners := make(map[string]*Partner)
	bump := func(kind PartnerKind, id, name string) {
		key := string(kind) + ":" + id
		p, ok := partners[key]
		if !ok {
			p = &Partner{Kind: kind, ID: id, Name: name}
			partners[key] = p
		}
		p.Messages++
	}

	for _, m := range in.ConversationMessages {
		if m.Sender == models.SenderAI {
			bump(PartnerCompanion, "", in.CompanionName)
		}
	}

	aiNames := make(map[string]string, len(in.AIMembers))
	for _, ai := range in.AIMembers {
		aiNames[ai.ID] = ai.Name
	}
	for _, m := range in.GroupMessages {
		if id, ok := m.Sender.AIMemberID(); ok {
			name, known := aiNames[id]
			if !known {
				continue
			}
			bump(PartnerAIMember, id, name)
			continue
		}
		if id, ok := m.Sender.UserID(); ok && id != in.UserID {
			name := in.UserNames[id]
			if name == "" {
				name = id
			}
			bump(PartnerUser, id, name)
		}
	}

	ranked := make([]Partner, 0, len(partners))
	for _, p := range partners {
		ranked = append(ranked, *p)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Messages != b.Messages {
			return a.Messages > b.Messages
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// countable keeps user-sent messages with a recognized emotion.
func countable(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.Sender == models.SenderUser && m.EmotionDetected.IsValid() {
			out = append(out, m)
		}
	}
	return out
}

func tally(pos, neu, neg *int, e models.Emotion) {
	switch e {
	case models.EmotionPositive:
		*pos++
	case models.EmotionNegative:
		*neg++
	default:
		*neu++
	}
}

func dominant(pos, neu, neg int) models.Emotion {
	switch {
	case pos > neu && pos > neg:
		return models.EmotionPositive
	case neg > neu && neg > pos:
		return models.EmotionNegative
	default:
		return models.EmotionNeutral
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
