package llm

import (
	"fmt"

	"github.com/xaenox/soullink/internal/models"
)

// Credentials are the effective connection settings of one call.
type Credentials struct {
	APIKey   string
	Endpoint string
	Model    string
}

func (c Credentials) Configured() bool {
	return c.APIKey != ""
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{APIKey:%s, Endpoint:%s, Model:%s}",
		models.MaskSecret(c.APIKey), c.Endpoint, c.Model)
}

// AdminConfig forces connection settings on every user. Forced fields that
// are empty fall back to the user's own settings.
type AdminConfig struct {
	ForceAPI          bool   `json:"forceApi" mapstructure:"force_api"`
	ForcedAPIKey      string `json:"forcedApiKey,omitempty" mapstructure:"forced_api_key"`
	ForcedAPIEndpoint string `json:"forcedApiEndpoint,omitempty" mapstructure:"forced_api_endpoint"`
	ForcedModel       string `json:"forcedModel,omitempty" mapstructure:"forced_model"`
}

func (a AdminConfig) String() string {
	return fmt.Sprintf("AdminConfig{ForceAPI:%t, ForcedAPIKey:%s, ForcedAPIEndpoint:%s, ForcedModel:%s}",
		a.ForceAPI, models.MaskSecret(a.ForcedAPIKey), a.ForcedAPIEndpoint, a.ForcedModel)
}

// ResolveCredentials merges user settings with admin overrides. Without
// usable settings and without a forced key it returns a not_configured error.
func ResolveCredentials(settings *models.UserSettings, admin *AdminConfig, lang Language) (Credentials, error) {
	var creds Credentials
	if settings != nil {
		creds = Credentials{
			APIKey:   settings.APIKey,
			Endpoint: settings.APIEndpoint,
			Model:    settings.Model,
		}
	}

	if admin != nil && admin.ForceAPI {
		creds.APIKey = firstNonEmpty(admin.ForcedAPIKey, creds.APIKey)
		creds.Endpoint = firstNonEmpty(admin.ForcedAPIEndpoint, creds.Endpoint)
		creds.Model = firstNonEmpty(admin.ForcedModel, creds.Model)
	}

	if !creds.Configured() {
		return Credentials{}, NewAPIError(CodeNotConfigured, lang, nil)
	}
	return creds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
