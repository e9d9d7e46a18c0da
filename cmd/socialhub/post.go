package main

import (
	"fmt"

	socialhub "github.com/socialhub/socialhub"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	postImage      string
	postPrivate    bool
	postCaption    string
	postVisibility string
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Create, edit and delete posts",
}

// ============================================================================
// post add
// ============================================================================

var postAddCmd = &cobra.Command{
	Use:   "add <caption>",
	Short: "Publish a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()
		requireUser(s.hub)

		ctx, cancel := commandContext()
		defer cancel()

		vis := socialhub.VisibilityPublic
		if postPrivate {
			vis = socialhub.VisibilityPrivate
		}
		p, err := s.hub.AddPost(ctx, socialhub.NewPost{Image: postImage, Caption: args[0], Visibility: vis})
		if err != nil {
			return fmt.Errorf("failed to publish: %w", err)
		}
		if jsonOutput {
			return printJSON(p)
		}
		fmt.Printf("Published %s (%s)\n", p.ID, p.Visibility)
		return nil
	},
}

// ============================================================================
// post edit
// ============================================================================

var postEditCmd = &cobra.Command{
	Use:   "edit <post-id>",
	Short: "Change a post's caption or visibility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var upd socialhub.PostUpdate
		if cmd.Flags().Changed("caption") {
			upd.Caption = &postCaption
		}
		if postVisibility != "" {
			v := socialhub.Visibility(postVisibility)
			if v != socialhub.VisibilityPublic && v != socialhub.VisibilityPrivate {
				return fmt.Errorf("visibility must be public or private, got %q", postVisibility)
			}
			upd.Visibility = &v
		}
		if upd.Caption == nil && upd.Visibility == nil {
			return fmt.Errorf("nothing to change: pass --caption or --visibility")
		}

		s := openSession()
		defer s.Close()
		requireUser(s.hub)

		ctx, cancel := commandContext()
		defer cancel()

		if err := s.hub.UpdatePost(ctx, args[0], upd); err != nil {
			return fmt.Errorf("failed to update: %w", err)
		}
		fmt.Printf("Updated %s\n", args[0])
		return nil
	},
}

// ============================================================================
// post delete
// ============================================================================

var postDeleteCmd = &cobra.Command{
	Use:   "delete <post-id>",
	Short: "Delete a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()
		requireUser(s.hub)

		ctx, cancel := commandContext()
		defer cancel()

		if err := s.hub.DeletePost(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete: %w", err)
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	postAddCmd.Flags().StringVar(&postImage, "image", "", "Image URL")
	postAddCmd.Flags().BoolVar(&postPrivate, "private", false, "Only friends can see the post")
	postEditCmd.Flags().StringVar(&postCaption, "caption", "", "New caption")
	postEditCmd.Flags().StringVar(&postVisibility, "visibility", "", "public or private")

	postCmd.AddCommand(postAddCmd)
	postCmd.AddCommand(postEditCmd)
	postCmd.AddCommand(postDeleteCmd)
	rootCmd.AddCommand(postCmd)
}
