package storage

import (
	"context"
	"errors"
)

// Backend is the persistent string-keyed blob the Local Store is built on.
// Each key holds one serialized value: a whole collection, a pointer or a
// preference blob.
type Backend interface {
	// Get returns the value stored at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set overwrites the value stored at key.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

var (
	// ErrDuplicateExternalID is returned when a user is created or updated
	// with an external account id that already belongs to another user.
	ErrDuplicateExternalID = errors.New("external id already linked to another user")

	// ErrSettingsExist is returned by CreateUserSettings when the user already
	// has a settings record.
	ErrSettingsExist = errors.New("user settings already exist")
)

// Fixed keys of the persisted layout.
const (
	KeyUsers          = "users"
	KeyConversations  = "conversations"
	KeyMessages       = "messages"
	KeyMemories       = "memories"
	KeyGroups         = "groups"
	KeyGroupMembers   = "groupMembers"
	KeyGroupMessages  = "groupMessages"
	KeyAIGroupMembers = "aiGroupMembers"
	KeyUserSettings   = "userSettings"
	KeyDiaryEntries   = "diaryEntries"
	KeyMilestones     = "milestones"
	KeyAchievements   = "achievements"

	KeySelectedPersonality = "selectedPersonality"
	KeyAdminConfig         = "adminConfig"
)

var collectionKeys = []string{
	KeyUsers,
	KeyConversations,
	KeyMessages,
	KeyMemories,
	KeyGroups,
	KeyGroupMembers,
	KeyGroupMessages,
	KeyAIGroupMembers,
	KeyUserSettings,
	KeyDiaryEntries,
	KeyMilestones,
	KeyAchievements,
}

var preferenceKeys = []string{
	KeySelectedPersonality,
	KeyAdminConfig,
}
