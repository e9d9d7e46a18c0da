package main

import (
	"errors"
	"fmt"

	socialhub "github.com/socialhub/socialhub"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	Long:  "Display the effective configuration, the logged-in user, and whether the gateway still recognizes that user.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()
		cfg := s.settings

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:     %s\n", cfg.BaseURL)
		if cfg.Token != "" {
			fmt.Printf("  Token:        %s\n", maskKey(cfg.Token))
		} else {
			fmt.Println("  Token:        (not set)")
		}
		fmt.Printf("  Cache:        %s\n", valueOrDefault(cfg.CachePath, "(default)"))
		fmt.Printf("  Freshness:    %s\n", cfg.FreshnessWindow)
		fmt.Printf("  Grace period: %s\n", cfg.GracePeriod)
		fmt.Printf("  Pending likes: %d\n", s.hub.Guard().Len())

		fmt.Println()
		fmt.Println("Session:")
		me := s.hub.CurrentUser()
		if me == nil {
			fmt.Println("  User:         (anonymous)")
			return nil
		}
		fmt.Printf("  User:         %s (%s)\n", valueOrDefault(me.Username, "(no username)"), me.ID)
		fmt.Printf("  Friends:      %d\n", len(me.Friends))

		ctx, cancel := commandContext()
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")
		switch err := s.hub.RefreshSession(ctx); {
		case errors.Is(err, socialhub.ErrStaleSession):
			fmt.Println("  Session:      STALE (run 'socialhub logout')")
		case err != nil:
			fmt.Printf("  Error contacting gateway: %v\n", err)
		default:
			fmt.Println("  Session:      valid")
		}
		return nil
	},
}

// maskKey shows the first 4 and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
