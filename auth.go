package main

import (
	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the catalog",
		Long: `Exchange the stored credentials (a one-line "username:password" file) for a
catalog token and cache it. Does nothing when a token is already cached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			client, err := cc.catalogClient()
			if err != nil {
				return err
			}

			if err := client.Login(cmd.Context()); err != nil {
				return err
			}

			cc.Statusf("Logged in to %s\n", client.BaseURL())

			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the cached catalog token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			client, err := cc.catalogClient()
			if err != nil {
				return err
			}

			if err := client.Logout(); err != nil {
				return err
			}

			cc.Statusf("Logged out of %s\n", client.BaseURL())

			return nil
		},
	}
}
