package models

import "time"

// DiaryEntry is a mood diary page for one day
type DiaryEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Date        time.Time `json:"date"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	MoodEmoji   string    `json:"moodEmoji,omitempty"`
	MoodLabel   string    `json:"moodLabel,omitempty"`
	AIGenerated bool      `json:"aiGenerated"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type DiaryEntryPatch struct {
	Title       *string
	Content     *string
	MoodEmoji   *string
	MoodLabel   *string
	AIGenerated *bool
}

func (p DiaryEntryPatch) Apply(d *DiaryEntry) {
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Content != nil {
		d.Content = *p.Content
	}
	if p.MoodEmoji != nil {
		d.MoodEmoji = *p.MoodEmoji
	}
	if p.MoodLabel != nil {
		d.MoodLabel = *p.MoodLabel
	}
	if p.AIGenerated != nil {
		d.AIGenerated = *p.AIGenerated
	}
}

type MilestoneType string

const (
	MilestoneFirstChat MilestoneType = "first_chat"
	MilestoneEmotional MilestoneType = "emotional"
	MilestoneSocial    MilestoneType = "social"
	MilestoneGoal      MilestoneType = "goal"
	MilestoneCustom    MilestoneType = "custom"
)

// Milestone records a notable moment in the user's growth
type Milestone struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	Date        time.Time     `json:"date"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Type        MilestoneType `json:"type"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Achievement is a named badge. Once unlocked it stays unlocked.
type Achievement struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlockedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// CalendarDay returns midnight UTC of the calendar date t falls on in its own
// location. Diary entries and milestones are keyed by this value.
func CalendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
