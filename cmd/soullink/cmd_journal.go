package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func diaryCmd() *cobra.Command {
	var (
		write bool
		date  string
	)

	cmd := &cobra.Command{
		Use:   "diary",
		Short: "List diary pages, or write the page of a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return fmt.Errorf("diary: %w", err)
			}
			defer a.Close()
			sess := a.session()

			if write {
				day := time.Now()
				if date != "" {
					if day, err = time.ParseInLocation("2006-01-02", date, time.Local); err != nil {
						return fmt.Errorf("diary: --date must look like 2024-03-05: %w", err)
					}
				}
				entry, err := a.companion.WriteDiary(ctx, sess, day)
				if err != nil {
					return fmt.Errorf("diary: %w", err)
				}
				fmt.Printf("%s %s\n\n%s\n", entry.MoodEmoji, entry.Title, entry.Content)
				return nil
			}

			entries, err := a.companion.Diary(ctx, sess)
			if err != nil {
				return fmt.Errorf("diary: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No diary pages yet. Run with --write to write today's.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %s %s\n", e.Date.Format("2006-01-02"), e.MoodEmoji, e.Title)
				fmt.Printf("  %s\n\n", truncate(e.Content, 120))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "write (or rewrite) a diary page")
	cmd.Flags().StringVar(&date, "date", "", "day to write, as YYYY-MM-DD (default today)")
	return cmd
}

func achievementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "achievements",
		Short: "Show unlocked and locked achievements",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return fmt.Errorf("achievements: %w", err)
			}
			defer a.Close()

			achievements, err := a.companion.Achievements(ctx, a.session())
			if err != nil {
				return fmt.Errorf("achievements: %w", err)
			}
			for _, ach := range achievements {
				status := "locked"
				if ach.Unlocked && ach.UnlockedAt != nil {
					status = "unlocked " + ach.UnlockedAt.Local().Format("2006-01-02")
				}
				fmt.Printf("%-16s %-20s %s\n", ach.Name, status, ach.Description)
			}
			return nil
		},
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
