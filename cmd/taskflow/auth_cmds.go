package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// passwordEnv supplies the login password when --password is not given.
const passwordEnv = "TASKFLOW_PASSWORD"

func (c *cli) loginCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Long: `Sign in with a username and password. The tokens and the user snapshot
are stored locally and reused by later commands.

Example:
  taskflow login --username ling --password secret
  TASKFLOW_PASSWORD=secret taskflow login -u ling`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (default: $"+passwordEnv+")")

	cmd.RunE = c.run(func(ctx context.Context, a *app) error {
		if password == "" {
			password = os.Getenv(passwordEnv)
		}
		if username == "" || password == "" {
			return invalid("--username and --password (or $%s) are required", passwordEnv)
		}

		user, err := a.svc.Login(ctx, username, password)
		if err != nil {
			return err
		}
		a.svc.Warmup(ctx)

		if c.jsonOutput {
			return printJSON(a.out, user)
		}
		fmt.Fprintf(a.out, "Welcome back, %s!\n", user.DisplayName())
		return nil
	})
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear local data",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.run(func(ctx context.Context, a *app) error {
		if err := a.svc.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Logged out.")
		return nil
	})
	return cmd
}

func (c *cli) whoamiCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Long: `Show the signed-in user and profile. The profile is served from the
local cache when fresh; --refresh fetches it again.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the profile cache")

	cmd.RunE = c.run(func(ctx context.Context, a *app) error {
		if _, ok := a.svc.CurrentUser(ctx); !ok {
			return invalid("not logged in; run `taskflow login`")
		}

		p, err := a.svc.Profile(ctx, refresh)
		if err != nil {
			return err
		}
		if c.jsonOutput {
			return printJSON(a.out, p)
		}

		fmt.Fprintf(a.out, "%s <%s>\n", p.User.DisplayName(), p.User.Email)
		if p.Nickname != "" {
			fmt.Fprintf(a.out, "Nickname: %s\n", p.Nickname)
		}
		fmt.Fprintf(a.out, "Tasks: %d (%d%% completed)\n", p.TaskCount, p.CompletionPercent())
		if p.Timezone != "" {
			fmt.Fprintf(a.out, "Timezone: %s\n", p.Timezone)
		}
		return nil
	})
	return cmd
}
