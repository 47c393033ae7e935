package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the auth token sent with replayed operations",
		Long: `The token is stored encrypted in the data directory under a key
derived from OFFLINE_MACHINE_ID. The daemon reads it before each submission.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <token>",
			Short: "Store the auth token",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.credentials().Save(args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "token saved")
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the stored token, masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				tok, err := a.credentials().Load()
				if err != nil {
					return err
				}
				if tok == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "no token stored")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), mask(tok))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the stored token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.credentials().Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "token cleared")
				return nil
			},
		},
	)
	return cmd
}

// mask keeps the last four characters of tok.
func mask(tok string) string {
	if len(tok) <= 4 {
		return strings.Repeat("*", len(tok))
	}
	return strings.Repeat("*", len(tok)-4) + tok[len(tok)-4:]
}
