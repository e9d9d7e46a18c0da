package main

import (
	"context"
	"fmt"

	socialhub "github.com/socialhub/socialhub"
	"github.com/spf13/cobra"
)

var requestsSent bool

// ============================================================================
// requests
// ============================================================================

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List friend requests addressed to the session user",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()
		me := requireUser(s.hub)

		ctx, cancel := commandContext()
		defer cancel()

		var reqs []socialhub.FriendRequest
		var err error
		if requestsSent {
			reqs, err = s.hub.GetSentRequests(ctx, me.ID)
		} else {
			reqs, err = s.hub.GetFriendRequests(ctx, me.ID)
		}
		warnSoft(err)

		if jsonOutput {
			return printJSON(reqs)
		}
		if len(reqs) == 0 {
			fmt.Println("No pending requests.")
			return nil
		}
		for _, r := range reqs {
			other := r.SenderID
			if requestsSent {
				other = r.ReceiverID
			}
			name := other
			if r.Sender != nil && r.Sender.Username != "" && !requestsSent {
				name = r.Sender.Username + " (" + other + ")"
			}
			fmt.Printf("%s  %s  %s\n", valueOrDefault(r.CreatedAt, "-"), name, r.Status)
		}
		return nil
	},
}

// friendCommand builds a subcommand that runs op against one other user.
func friendCommand(use, short, done string, op func(*socialhub.Hub) func(context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := openSession()
			defer s.Close()
			requireUser(s.hub)

			ctx, cancel := commandContext()
			defer cancel()

			if err := op(s.hub)(ctx, args[0]); err != nil {
				return fmt.Errorf("%s failed: %w", use, err)
			}
			fmt.Printf(done+"\n", args[0])
			return nil
		},
	}
}

// ============================================================================
// notifications
// ============================================================================

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List the session user's notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()
		me := requireUser(s.hub)

		ctx, cancel := commandContext()
		defer cancel()

		notes, err := s.hub.GetNotifications(ctx, me.ID)
		warnSoft(err)

		if jsonOutput {
			return printJSON(notes)
		}
		if len(notes) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		for _, n := range notes {
			from := n.SenderID
			if n.Sender != nil && n.Sender.Username != "" {
				from = n.Sender.Username
			}
			line := fmt.Sprintf("%s  %-8s from %s", valueOrDefault(n.CreatedAt, "-"), n.Type, from)
			if n.PostID != "" {
				line += " on " + n.PostID
			}
			if n.Message != "" {
				line += ": " + n.Message
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	requestsCmd.Flags().BoolVar(&requestsSent, "sent", false, "List requests the session user sent instead")

	requestsCmd.AddCommand(friendCommand("send", "Send a friend request", "Friend request sent to %s",
		func(h *socialhub.Hub) func(context.Context, string) error { return h.SendFriendRequest }))
	requestsCmd.AddCommand(friendCommand("accept", "Accept a friend request", "You are now friends with %s",
		func(h *socialhub.Hub) func(context.Context, string) error { return h.AcceptFriendRequest }))
	requestsCmd.AddCommand(friendCommand("cancel", "Withdraw a friend request you sent", "Request to %s withdrawn",
		func(h *socialhub.Hub) func(context.Context, string) error { return h.CancelFriendRequest }))
	requestsCmd.AddCommand(friendCommand("ignore", "Decline a friend request", "Request from %s ignored",
		func(h *socialhub.Hub) func(context.Context, string) error { return h.IgnoreFriendRequest }))

	friendsCmd := &cobra.Command{Use: "friends", Short: "Manage friendships"}
	friendsCmd.AddCommand(friendCommand("remove", "Remove a friend", "Removed %s from friends",
		func(h *socialhub.Hub) func(context.Context, string) error { return h.RemoveFriend }))

	rootCmd.AddCommand(requestsCmd)
	rootCmd.AddCommand(friendsCmd)
	rootCmd.AddCommand(notificationsCmd)
}
