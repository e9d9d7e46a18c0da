package main

import (
	"fmt"

	socialhub "github.com/socialhub/socialhub"
	"github.com/spf13/cobra"
)

var (
	editUsername string
	editName     string
	editBio      string
	editAvatar   string
	deleteYes    bool
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Edit or delete the session user's account",
}

var accountEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Update profile fields of the session user",
	Long:  "Update profile fields of the session user. Only the flags given are changed.\nExample: socialhub account edit --bio \"hello\" --username ada",
	RunE: func(cmd *cobra.Command, args []string) error {
		var upd socialhub.ProfileUpdate
		flags := cmd.Flags()
		if flags.Changed("username") {
			upd.Username = &editUsername
		}
		if flags.Changed("name") {
			upd.Name = &editName
		}
		if flags.Changed("bio") {
			upd.Bio = &editBio
		}
		if flags.Changed("avatar") {
			upd.Avatar = &editAvatar
		}
		if upd == (socialhub.ProfileUpdate{}) {
			return fmt.Errorf("nothing to change; pass at least one of --username, --name, --bio, --avatar")
		}

		s := openSession()
		defer s.Close()
		requireUser(s.hub)

		ctx, cancel := commandContext()
		defer cancel()

		u, err := s.hub.UpdateProfile(ctx, upd)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(u)
		}
		fmt.Printf("Updated %s (%s)\n", valueOrDefault(u.Username, "(no username)"), u.ID)
		return nil
	},
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the session user's account and log out",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := openSession()
		defer s.Close()
		me := requireUser(s.hub)

		if !deleteYes {
			return fmt.Errorf("refusing to delete %s without --yes", valueOrDefault(me.Username, me.ID))
		}

		ctx, cancel := commandContext()
		defer cancel()

		if err := s.hub.DeleteAccount(ctx); err != nil {
			return err
		}
		fmt.Printf("Deleted account %s. Local cache cleared.\n", me.ID)
		return nil
	},
}

func init() {
	accountEditCmd.Flags().StringVar(&editUsername, "username", "", "New username (stored lowercase)")
	accountEditCmd.Flags().StringVar(&editName, "name", "", "New display name")
	accountEditCmd.Flags().StringVar(&editBio, "bio", "", "New bio")
	accountEditCmd.Flags().StringVar(&editAvatar, "avatar", "", "New avatar URL")
	accountDeleteCmd.Flags().BoolVar(&deleteYes, "yes", false, "Confirm the deletion")

	accountCmd.AddCommand(accountEditCmd)
	accountCmd.AddCommand(accountDeleteCmd)
	rootCmd.AddCommand(accountCmd)
}
