package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd(opts *options) *cobra.Command {
	var (
		server string
		verify bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Connect the wallet of the running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(server)
			if err != nil {
				return err
			}
			state, err := client.Login(cmd.Context(), verify)
			if err != nil {
				return err
			}
			if state.Verified != nil && !*state.Verified {
				return errors.New("wallet signature does not match the connected account")
			}
			if state.Address == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Logged in, but the wallet exposes no accounts.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", state.Address)
			if state.Verified != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Signature verified.")
			}
			return nil
		},
	}
	serverFlag(cmd, &server)
	cmd.Flags().BoolVar(&verify, "verify", false, "sign a challenge and check the signer")
	return cmd
}

func newLogoutCmd(opts *options) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Disconnect the wallet of the running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(server)
			if err != nil {
				return err
			}
			if _, err := client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
	serverFlag(cmd, &server)
	return cmd
}
