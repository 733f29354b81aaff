package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func resetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored record and preference",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset: this deletes all local data, rerun with --yes")
			}
			a, err := newApp()
			if err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			defer a.Close()

			sess := a.session()
			if err := a.store.ClearAll(cmd.Context(), sess.UserKey(), sess.ConversationKey()); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Println("All local data deleted.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
