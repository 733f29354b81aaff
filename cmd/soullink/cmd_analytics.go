package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xaenox/soullink/internal/analytics"
	"github.com/xaenox/soullink/internal/models"
)

func trendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trend",
		Short: "Show the emotion trend of the last 7 days",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return fmt.Errorf("trend: %w", err)
			}
			defer a.Close()

			user, err := a.session().CurrentUser(ctx)
			if err != nil {
				return fmt.Errorf("trend: resolving user: %w", err)
			}
			days, err := a.companion.Analytics().Trend(ctx, user.ID, time.Local)
			if err != nil {
				return fmt.Errorf("trend: %w", err)
			}

			fmt.Printf("%-6s %4s %4s %4s %6s\n", "day", "pos", "neu", "neg", "score")
			for _, d := range days {
				fmt.Printf("%-6s %4d %4d %4d %6.2f\n", d.Date.Format("01-02"), d.Positive, d.Neutral, d.Negative, d.Score)
			}
			return nil
		},
	}
}

func calendarCmd() *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show the dominant mood of each day of a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			at := time.Now()
			if month != "" {
				var err error
				if at, err = time.ParseInLocation("2006-01", month, time.Local); err != nil {
					return fmt.Errorf("calendar: --month must look like 2024-03: %w", err)
				}
			}

			a, err := newApp()
			if err != nil {
				return fmt.Errorf("calendar: %w", err)
			}
			defer a.Close()

			user, err := a.session().CurrentUser(ctx)
			if err != nil {
				return fmt.Errorf("calendar: resolving user: %w", err)
			}
			days, err := a.companion.Analytics().Calendar(ctx, user.ID, at.Year(), at.Month(), time.Local)
			if err != nil {
				return fmt.Errorf("calendar: %w", err)
			}

			fmt.Printf("%s\n", at.Format("2006-01"))
			if len(days) == 0 {
				fmt.Println("  no messages this month")
				return nil
			}
			for _, d := range days {
				fmt.Printf("  %s %s (%d)\n", d.Date.Format("02"), moodMark(d.Mood), d.Messages)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month to show, as YYYY-MM (default current month)")
	return cmd
}

func partnersCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "partners",
		Short: "Rank who you talk with the most",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return fmt.Errorf("partners: %w", err)
			}
			defer a.Close()

			user, err := a.session().CurrentUser(ctx)
			if err != nil {
				return fmt.Errorf("partners: resolving user: %w", err)
			}
			partners, err := a.companion.Analytics().Partners(ctx, user.ID, limit)
			if err != nil {
				return fmt.Errorf("partners: %w", err)
			}

			if len(partners) == 0 {
				fmt.Println("No interactions yet.")
				return nil
			}
			for i, p := range partners {
				fmt.Printf("%d. %-16s %-10s %d\n", i+1, p.Name, partnerLabel(p.Kind), p.Messages)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", analytics.DefaultTopLimit, "number of partners to show")
	return cmd
}

func moodMark(e models.Emotion) string {
	switch e {
	case models.EmotionPositive:
		return "😊"
	case models.EmotionNegative:
		return "😢"
	default:
		return "😐"
	}
}

func partnerLabel(k analytics.PartnerKind) string {
	return strings.ReplaceAll(string(k), "_", " ")
}
