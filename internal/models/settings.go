package models

import (
	"fmt"
	"time"
)

// SecretFormatPlaintext marks an API key stored as-is. Keys are not encrypted
// at rest; the format field exists so stored records can be migrated once an
// encrypted format is introduced.
const SecretFormatPlaintext = "plaintext"

// UserSettings holds the LLM connection settings of a user. At most one record
// exists per user.
type UserSettings struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	APIKey       string    `json:"apiKey,omitempty"`
	APIEndpoint  string    `json:"apiEndpoint,omitempty"`
	Model        string    `json:"model,omitempty"`
	SecretFormat string    `json:"secretFormat,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// String returns a safe representation with the API key masked.
func (s UserSettings) String() string {
	return fmt.Sprintf("UserSettings{UserID:%s, APIKey:%s, APIEndpoint:%s, Model:%s}",
		s.UserID, MaskSecret(s.APIKey), s.APIEndpoint, s.Model)
}

type UserSettingsPatch struct {
	APIKey      *string
	APIEndpoint *string
	Model       *string
}

func (p UserSettingsPatch) Apply(s *UserSettings) {
	if p.APIKey != nil {
		s.APIKey = *p.APIKey
	}
	if p.APIEndpoint != nil {
		s.APIEndpoint = *p.APIEndpoint
	}
	if p.Model != nil {
		s.Model = *p.Model
	}
}

// MaskSecret shows the first 4 and last 4 characters, replacing the middle.
func MaskSecret(key string) string {
	const visible = 4
	if key == "" {
		return ""
	}
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}
