package models

import "time"

// User represents a companion user, either a guest or one linked to an external account
type User struct {
	ID                string    `json:"id"`
	ExternalID        string    `json:"externalId,omitempty"`
	Name              string    `json:"name"`
	Email             string    `json:"email,omitempty"`
	ConversationCount int       `json:"conversationCount"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// UserPatch holds the user fields to replace; nil fields are left untouched.
type UserPatch struct {
	Name              *string
	Email             *string
	ExternalID        *string
	ConversationCount *int
}

func (p UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.ExternalID != nil {
		u.ExternalID = *p.ExternalID
	}
	if p.ConversationCount != nil {
		u.ConversationCount = *p.ConversationCount
	}
}

// Conversation is a one-to-one chat between a user and the companion
type Conversation struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	Title              string     `json:"title,omitempty"`
	Summary            string     `json:"summary,omitempty"`
	MessageCount       int        `json:"messageCount"`
	LastActivityAt     *time.Time `json:"lastActivityAt,omitempty"`
	CurrentPersonality string     `json:"currentPersonality,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// ConversationPatch holds the conversation fields to replace.
// MessageCount never moves backwards.
type ConversationPatch struct {
	Title              *string
	Summary            *string
	MessageCount       *int
	LastActivityAt     *time.Time
	CurrentPersonality *string
}

func (p ConversationPatch) Apply(c *Conversation) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Summary != nil {
		c.Summary = *p.Summary
	}
	if p.MessageCount != nil && *p.MessageCount > c.MessageCount {
		c.MessageCount = *p.MessageCount
	}
	if p.LastActivityAt != nil {
		t := *p.LastActivityAt
		c.LastActivityAt = &t
	}
	if p.CurrentPersonality != nil {
		c.CurrentPersonality = *p.CurrentPersonality
	}
}

// Memory is a fact about the user worth remembering, tagged with a category
type Memory struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
