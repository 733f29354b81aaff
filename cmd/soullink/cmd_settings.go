package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xaenox/soullink/internal/models"
)

func settingsCmd() *cobra.Command {
	var (
		apiKey, endpoint, model                string
		forceAPI                               bool
		forcedKey, forcedEndpoint, forcedModel string
	)

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the LLM settings of the session user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			defer a.Close()
			sess := a.session()
			flags := cmd.Flags()

			var patch models.UserSettingsPatch
			if flags.Changed("api-key") {
				patch.APIKey = &apiKey
			}
			if flags.Changed("endpoint") {
				patch.APIEndpoint = &endpoint
			}
			if flags.Changed("model") {
				patch.Model = &model
			}
			if patch.APIKey != nil || patch.APIEndpoint != nil || patch.Model != nil {
				if _, err := a.companion.SaveSettings(ctx, sess, patch); err != nil {
					return fmt.Errorf("settings: %w", err)
				}
			}

			admin, err := a.companion.AdminConfig(ctx)
			if err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			adminChanged := false
			if flags.Changed("force-api") {
				admin.ForceAPI, adminChanged = forceAPI, true
			}
			if flags.Changed("forced-api-key") {
				admin.ForcedAPIKey, adminChanged = forcedKey, true
			}
			if flags.Changed("forced-endpoint") {
				admin.ForcedAPIEndpoint, adminChanged = forcedEndpoint, true
			}
			if flags.Changed("forced-model") {
				admin.ForcedModel, adminChanged = forcedModel, true
			}
			if adminChanged {
				if err := a.companion.SetAdminConfig(ctx, admin); err != nil {
					return fmt.Errorf("settings: %w", err)
				}
			}

			settings, err := a.companion.Settings(ctx, sess)
			if err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			if settings == nil {
				fmt.Println("user:  no settings saved")
			} else {
				fmt.Printf("user:  %s\n", settings)
			}
			fmt.Printf("admin: %s\n", admin)

			user, err := sess.CurrentUser(ctx)
			if err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			creds, err := a.companion.Credentials(ctx, user.ID)
			if err != nil {
				fmt.Printf("effective: %v\n", err)
				return nil
			}
			fmt.Printf("effective: %s\n", creds)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&apiKey, "api-key", "", "API key (stored unencrypted)")
	f.StringVar(&endpoint, "endpoint", "", "OpenAI-compatible base URL")
	f.StringVar(&model, "model", "", "model name")
	f.BoolVar(&forceAPI, "force-api", false, "force the admin connection settings on every user")
	f.StringVar(&forcedKey, "forced-api-key", "", "admin API key")
	f.StringVar(&forcedEndpoint, "forced-endpoint", "", "admin base URL")
	f.StringVar(&forcedModel, "forced-model", "", "admin model")
	return cmd
}
