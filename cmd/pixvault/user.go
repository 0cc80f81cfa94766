package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newUserCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the account and session",
	}
	cmd.AddCommand(newRegisterCmd(o), newLoginCmd(o), newLogoutCmd(o), newWhoAmICmd(o))
	return cmd
}

func newRegisterCmd(o *rootOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = o.run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		pw, err := readPassword(cmd, password)
		if err != nil {
			return err
		}
		c, err := a.auth.Register(ctx, args[0], pw)
		if err != nil {
			return err
		}
		if o.json() {
			return printJSON(cmd.OutOrStdout(), map[string]any{"id": c.ID, "username": c.Username})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %s (id %d)\n", c.Username, c.ID)
		return nil
	})
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (read from stdin when empty)")
	return cmd
}

func newLoginCmd(o *rootOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Unlock the vault for the session timeout",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = o.run(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		pw, err := readPassword(cmd, password)
		if err != nil {
			return err
		}
		s, err := a.auth.Login(ctx, args[0], pw)
		if err != nil {
			return err
		}
		s.Wipe()
		if o.json() {
			return printJSON(cmd.OutOrStdout(), sessionView(s.UserID, s.Username, s.ExpiresAt))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s until %s\n", s.Username, s.ExpiresAt.Local().Format(time.DateTime))
		return nil
	})
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (read from stdin when empty)")
	return cmd
}

func newLogoutCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session and scrub the stored key",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = o.run(func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
		if err := a.auth.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "logged out")
		return nil
	})
	return cmd
}

func newWhoAmICmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = o.run(func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
		s, ok, err := a.auth.WhoAmI()
		if err != nil {
			return err
		}
		s.Wipe()
		if o.json() {
			if !ok {
				return printJSON(cmd.OutOrStdout(), map[string]any{"logged_in": false})
			}
			return printJSON(cmd.OutOrStdout(), sessionView(s.UserID, s.Username, s.ExpiresAt))
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (id %d), session ends in %s\n",
			s.Username, s.UserID, time.Until(s.ExpiresAt).Round(time.Second))
		return nil
	})
	return cmd
}

func sessionView(userID int64, username string, expires time.Time) map[string]any {
	return map[string]any{
		"logged_in":  true,
		"user_id":    userID,
		"username":   username,
		"expires_at": expires.UTC().Format(time.RFC3339),
	}
}
