package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <user-id>",
	Short: "Use an existing account as the session user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()

		u, err := s.hub.GetProfile(ctx, args[0])
		if err != nil && u == nil {
			return fmt.Errorf("failed to fetch profile: %w", err)
		}
		if u == nil {
			return fmt.Errorf("no user with id %s", args[0])
		}
		if err := s.hub.SetCurrentUser(u); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s (%s)\n", valueOrDefault(u.Username, "(no username)"), u.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the session and every cached entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()

		s.hub.ClearCurrentUser()
		fmt.Println("Logged out. Local cache cleared.")
		return nil
	},
}
