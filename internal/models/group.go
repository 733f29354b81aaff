package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type GroupRole string

const (
	GroupRoleAdmin  GroupRole = "admin"
	GroupRoleMember GroupRole = "member"
)

// AIRole is the part an AI persona plays in a group chat.
type AIRole string

const (
	AIRoleModerator   AIRole = "moderator"
	AIRoleGuide       AIRole = "guide"
	AIRoleEntertainer AIRole = "entertainer"
)

// ValidAIRoles is the set of all valid AI persona roles.
var ValidAIRoles = []AIRole{AIRoleModerator, AIRoleGuide, AIRoleEntertainer}

// IsValid returns true if the role is recognized.
func (r AIRole) IsValid() bool {
	for _, v := range ValidAIRoles {
		if r == v {
			return true
		}
	}
	return false
}

// ParseAIRole accepts a role value, in any case, or its display label.
func ParseAIRole(s string) (AIRole, bool) {
	s = strings.TrimSpace(s)
	for _, r := range ValidAIRoles {
		if strings.EqualFold(s, string(r)) || s == r.Label() {
			return r, true
		}
	}
	return "", false
}

var aiRoleInfo = map[AIRole]struct{ label, description string }{
	AIRoleModerator:   {label: "调解员", description: "帮助化解矛盾，维护群聊和谐"},
	AIRoleGuide:       {label: "话题引导者", description: "引导有趣话题，激发讨论"},
	AIRoleEntertainer: {label: "气氛活跃者", description: "活跃气氛，增添趣味"},
}

// Label is the display name of the role.
func (r AIRole) Label() string {
	if info, ok := aiRoleInfo[r]; ok {
		return info.label
	}
	return string(r)
}

// Description says what a persona in this role does in the group.
func (r AIRole) Description() string {
	return aiRoleInfo[r].description
}

// Group is a multi-user chat room that AI personas can join
type Group struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	CreatorID     string     `json:"creatorId,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type GroupPatch struct {
	Name          *string
	Description   *string
	LastMessageAt *time.Time
}

func (p GroupPatch) Apply(g *Group) {
	if p.Name != nil {
		g.Name = *p.Name
	}
	if p.Description != nil {
		g.Description = *p.Description
	}
	if p.LastMessageAt != nil {
		t := *p.LastMessageAt
		g.LastMessageAt = &t
	}
}

// GroupMember links a human user to a group. (GroupID, UserID) is unique.
type GroupMember struct {
	ID       string    `json:"id"`
	GroupID  string    `json:"groupId"`
	UserID   string    `json:"userId"`
	Role     GroupRole `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// AIGroupMember is an AI persona taking part in a group chat
type AIGroupMember struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"groupId"`
	Name        string    `json:"name"`
	Role        AIRole    `json:"role"`
	Personality string    `json:"personality,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type AIGroupMemberPatch struct {
	Name        *string
	Role        *AIRole
	Personality *string
	IsActive    *bool
}

func (p AIGroupMemberPatch) Apply(m *AIGroupMember) {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Role != nil {
		m.Role = *p.Role
	}
	if p.Personality != nil {
		m.Personality = *p.Personality
	}
	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}
}

// SenderKind tells which kind of participant wrote a group message.
type SenderKind string

const (
	SenderKindUser     SenderKind = "user"
	SenderKindAIMember SenderKind = "ai"
)

// GroupSender identifies the author of a group message: either a human user
// or an AI group member, never both. Build one with UserSender or
// AIMemberSender.
type GroupSender struct {
	kind SenderKind
	id   string
}

func UserSender(userID string) GroupSender {
	return GroupSender{kind: SenderKindUser, id: userID}
}

func AIMemberSender(aiMemberID string) GroupSender {
	return GroupSender{kind: SenderKindAIMember, id: aiMemberID}
}

func (s GroupSender) Kind() SenderKind { return s.kind }

// ID returns the user id or AI member id, depending on Kind.
func (s GroupSender) ID() string { return s.id }

func (s GroupSender) IsZero() bool { return s.kind == "" }

// UserID returns the sending user's id when the sender is a human.
func (s GroupSender) UserID() (string, bool) {
	if s.kind != SenderKindUser {
		return "", false
	}
	return s.id, true
}

// AIMemberID returns the sending persona's id when the sender is an AI member.
func (s GroupSender) AIMemberID() (string, bool) {
	if s.kind != SenderKindAIMember {
		return "", false
	}
	return s.id, true
}

func (s GroupSender) String() string {
	return fmt.Sprintf("%s:%s", s.kind, s.id)
}

// GroupMessage is a message posted to a group
type GroupMessage struct {
	ID        string
	GroupID   string
	Sender    GroupSender
	Content   string
	CreatedAt time.Time
}

// groupMessageJSON is the persisted layout: the sender tag plus exactly one of
// userId / aiMemberId.
type groupMessageJSON struct {
	ID         string     `json:"id"`
	GroupID    string     `json:"groupId"`
	SenderType SenderKind `json:"senderType"`
	UserID     string     `json:"userId,omitempty"`
	AIMemberID string     `json:"aiMemberId,omitempty"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func (m GroupMessage) MarshalJSON() ([]byte, error) {
	out := groupMessageJSON{
		ID:         m.ID,
		GroupID:    m.GroupID,
		SenderType: m.Sender.kind,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
	switch m.Sender.kind {
	case SenderKindUser:
		out.UserID = m.Sender.id
	case SenderKindAIMember:
		out.AIMemberID = m.Sender.id
	}
	return json.Marshal(out)
}

func (m *GroupMessage) UnmarshalJSON(data []byte) error {
	var in groupMessageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.ID = in.ID
	m.GroupID = in.GroupID
	m.Content = in.Content
	m.CreatedAt = in.CreatedAt

	switch {
	case in.SenderType == SenderKindAIMember && in.AIMemberID != "":
		m.Sender = AIMemberSender(in.AIMemberID)
	case in.SenderType == SenderKindUser && in.UserID != "":
		m.Sender = UserSender(in.UserID)
	case in.SenderType == "" && in.AIMemberID == "" && in.UserID != "":
		// records written before senderType existed
		m.Sender = UserSender(in.UserID)
	default:
		return fmt.Errorf("group message %s: invalid sender (type %q)", in.ID, in.SenderType)
	}
	return nil
}
