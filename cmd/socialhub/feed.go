package main

import (
	"errors"
	"fmt"
	"strings"

	socialhub "github.com/socialhub/socialhub"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	feedForce  bool
	feedUser   string
	usersForce bool
)

// ============================================================================
// sync
// ============================================================================

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one mega sync and refresh the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()

		var stats socialhub.SyncStats
		s.hub.On(socialhub.EventSyncComplete, func(_ string, payload any) {
			stats, _ = payload.(socialhub.SyncStats)
		})

		ok, err := s.hub.MegaSync(ctx)
		if errors.Is(err, socialhub.ErrStaleSession) {
			s.hub.ClearCurrentUser()
			return fmt.Errorf("session is stale; logged out")
		}
		if !ok {
			return fmt.Errorf("sync failed, cache left unchanged")
		}
		if err := s.hub.RefreshSession(ctx); errors.Is(err, socialhub.ErrStaleSession) {
			s.hub.ClearCurrentUser()
			return fmt.Errorf("session is stale; logged out")
		}

		if jsonOutput {
			return printJSON(stats)
		}
		fmt.Printf("Synced %d posts, %d users", stats.Posts, stats.Users)
		if !stats.Anonymous {
			fmt.Printf(", %d requests, %d notifications", stats.Requests, stats.Notifications)
		}
		fmt.Println()
		return nil
	},
}

// ============================================================================
// feed
// ============================================================================

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the posts visible to the session user",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()

		var posts []socialhub.Post
		var err error
		if feedUser != "" {
			posts, err = s.hub.GetUserPosts(ctx, feedUser)
		} else {
			posts, err = s.hub.GetPosts(ctx, feedForce)
		}
		if errors.Is(err, socialhub.ErrInvalidID) {
			return err
		}
		warnSoft(err)

		posts = socialhub.VisibleTo(posts, s.hub.CurrentUser())
		if jsonOutput {
			return printJSON(posts)
		}
		if len(posts) == 0 {
			fmt.Println("No posts found.")
			return nil
		}
		for _, p := range posts {
			fmt.Printf("[%s] %s  %s (%s)\n", p.ID, valueOrDefault(p.CreatedAt, "-"), valueOrDefault(p.AuthorName(), p.UserID), p.Visibility)
			if p.Caption != "" {
				fmt.Printf("  %s\n", p.Caption)
			}
			fmt.Printf("  likes: %d\n", p.Likes)
		}
		return nil
	},
}

// ============================================================================
// users / search / profile
// ============================================================================

var usersCmd = &cobra.Command{
	Use:   "users [query]",
	Short: "List users, optionally filtered by username",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()

		ctx, cancel := commandContext()
		defer cancel()

		users, err := s.hub.GetAllUsers(ctx, usersForce)
		warnSoft(err)

		if len(args) == 1 {
			self := ""
			if me := s.hub.CurrentUser(); me != nil {
				self = me.ID
			}
			users = socialhub.SearchUsers(users, args[0], self)
		}

		if jsonOutput {
			return printJSON(users)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("%-12s %s\n", u.ID, valueOrDefault(u.Username, "(no username)"))
		}
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile [user-id]",
	Short: "Show a user profile (default: the session user)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()

		var id string
		if len(args) == 1 {
			id = args[0]
		} else {
			id = requireUser(s.hub).ID
		}

		ctx, cancel := commandContext()
		defer cancel()

		u, err := s.hub.GetProfile(ctx, id)
		warnSoft(err)
		if u == nil {
			return fmt.Errorf("no user with id %s", id)
		}
		if jsonOutput {
			return printJSON(u)
		}
		fmt.Printf("ID:       %s\n", u.ID)
		fmt.Printf("Username: %s\n", valueOrDefault(u.Username, "(not set)"))
		fmt.Printf("Name:     %s\n", valueOrDefault(u.Name, "(not set)"))
		fmt.Printf("Bio:      %s\n", valueOrDefault(u.Bio, "(not set)"))
		fmt.Printf("Friends:  %s\n", valueOrDefault(strings.Join(u.Friends, ", "), "(none)"))
		return nil
	},
}

// ============================================================================
// like
// ============================================================================

var likeCmd = &cobra.Command{
	Use:   "like <post-id>",
	Short: "Toggle the session user's like on a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()
		me := requireUser(s.hub)

		ctx, cancel := commandContext()
		defer cancel()

		// Like works on the cached feed.
		if _, err := s.hub.GetPosts(ctx, false); err != nil {
			warnSoft(err)
		}
		var failed error
		s.hub.On(socialhub.EventMutationFailed, func(_ string, payload any) {
			failed = fmt.Errorf("gateway rejected the like: %v", payload)
		})

		post, err := s.hub.Like(ctx, args[0])
		if err != nil {
			return err
		}
		// Close waits for the background write.
		s.hub.Close()
		if failed != nil {
			fmt.Printf("warning: %v (kept locally for %s)\n", failed, s.hub.Guard().GracePeriod())
		}

		verb := "Unliked"
		if post.LikedByUser(me.ID) {
			verb = "Liked"
		}
		fmt.Printf("%s %s (%d likes)\n", verb, post.ID, post.Likes)
		return nil
	},
}

func init() {
	feedCmd.Flags().BoolVarP(&feedForce, "force", "f", false, "Bypass the freshness window")
	feedCmd.Flags().StringVar(&feedUser, "user", "", "Show only this user's posts")
	usersCmd.Flags().BoolVarP(&usersForce, "force", "f", false, "Bypass the freshness window")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(likeCmd)
}
