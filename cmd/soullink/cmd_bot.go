package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xaenox/soullink/internal/bot"
)

func botCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Telegram.Token == "" {
				return errors.New("bot: telegram.token is not set (or export TELEGRAM_TOKEN)")
			}
			ctx := cmd.Context()

			a, err := newApp()
			if err != nil {
				return fmt.Errorf("bot: %w", err)
			}
			defer a.Close()

			a.serveMetrics(ctx)
			if cfg.Proactive.Enabled {
				timer := a.proactiveTimer()
				timer.Start(ctx)
				defer timer.Stop()
			}

			b, err := bot.New(cfg.Telegram.Token, bot.Deps{
				Store:        a.store,
				Sessions:     a.sessions,
				Companion:    a.companion,
				Groups:       a.groups,
				Broadcaster:  a.broadcaster,
				SyncInterval: cfg.GroupSync.Interval,
				Metrics:      a.recorder,
				Logger:       logger,
			})
			if err != nil {
				return fmt.Errorf("bot: %w", err)
			}
			return b.Start(ctx)
		},
	}
}
